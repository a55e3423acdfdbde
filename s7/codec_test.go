package s7

import "testing"

func TestBuildParseSetupComm(t *testing.T) {
	req := buildSetupCommRequest(7, 8, 480)
	h, err := parsePDUHeader(req)
	if err != nil {
		t.Fatalf("parsePDUHeader: %v", err)
	}
	if h.Rosctr != rosctrJob {
		t.Errorf("Rosctr = 0x%02X, want Job", h.Rosctr)
	}
	if h.PDURef != 7 {
		t.Errorf("PDURef = %d, want 7", h.PDURef)
	}

	// Build a matching AckData response by hand and parse it back.
	resp := []byte{protocolID, rosctrAckData, 0x00, 0x00, 0x00, 7, 0x00, 8, 0x00, 0x00, 0x00, 0x00}
	resp = append(resp, funcSetupComm, 0x00, 0x00, 0x08, 0x00, 0x08, 0x01, 0xE0)

	pduSize, maxAmq, err := parseSetupCommResponse(resp)
	if err != nil {
		t.Fatalf("parseSetupCommResponse: %v", err)
	}
	if pduSize != 480 {
		t.Errorf("pduSize = %d, want 480", pduSize)
	}
	if maxAmq != 8 {
		t.Errorf("maxAmq = %d, want 8", maxAmq)
	}
}

func TestPartToS7AnyEncoding(t *testing.T) {
	tests := []struct {
		name string
		part *readPart
	}{
		{"DB byte", &readPart{Area: AreaDB, DBNumber: 5, Transport: TransportByte, Address: 10, Count: 4}},
		{"DB bit", &readPart{Area: AreaDB, DBNumber: 1, Transport: TransportBit, Address: 2, BitNum: 3, Count: 1}},
		{"M word", &readPart{Area: AreaM, Transport: TransportWord, Address: 0, Count: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := partToS7Any(tt.part)
			if len(encoded) != 12 {
				t.Fatalf("S7-ANY descriptor length = %d, want 12", len(encoded))
			}
			if Area(encoded[8]) != tt.part.Area {
				t.Errorf("area byte = 0x%02X, want 0x%02X", encoded[8], tt.part.Area)
			}
			if Transport(encoded[3]) != tt.part.Transport {
				t.Errorf("transport byte = 0x%02X, want 0x%02X", encoded[3], tt.part.Transport)
			}
		})
	}
}

func TestBuildReadRequestAndParseResponse(t *testing.T) {
	parts := []*readPart{
		{Area: AreaDB, DBNumber: 1, Transport: TransportByte, Address: 0, Count: 4},
	}
	req := buildReadRequest(parts, 42)
	ref, err := PeekPDURef(req)
	if err != nil {
		t.Fatalf("PeekPDURef: %v", err)
	}
	if ref != 42 {
		t.Errorf("PeekPDURef = %d, want 42", ref)
	}

	resp := []byte{protocolID, rosctrAckData, 0x00, 0x00, 0x00, 42, 0x00, 2, 0x00, 8, 0x00, 0x00}
	resp = append(resp, funcReadVar, 0x01)
	resp = append(resp, ReturnOK, byte(TransportByte), 0x00, 0x20, 0xDE, 0xAD, 0xBE, 0xEF)

	results, err := parseReadResponse(resp, 1)
	if err != nil {
		t.Fatalf("parseReadResponse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err() != nil {
		t.Fatalf("unexpected item error: %v", results[0].Err())
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if len(results[0].Data) != len(want) {
		t.Fatalf("Data = %v, want %v", results[0].Data, want)
	}
	for i := range want {
		if results[0].Data[i] != want[i] {
			t.Errorf("Data[%d] = 0x%02X, want 0x%02X", i, results[0].Data[i], want[i])
		}
	}
}

func TestParseReadResponseItemError(t *testing.T) {
	resp := []byte{protocolID, rosctrAckData, 0x00, 0x00, 0x00, 1, 0x00, 2, 0x00, 1, 0x00, 0x00}
	resp = append(resp, funcReadVar, 0x01)
	resp = append(resp, 0x05) // ERR_ITEM_NOT_AVAILABLE-style return code

	results, err := parseReadResponse(resp, 1)
	if err != nil {
		t.Fatalf("parseReadResponse: %v", err)
	}
	if results[0].Err() == nil {
		t.Fatal("expected item error, got nil")
	}
}

func TestBuildWriteRequestAndParseResponse(t *testing.T) {
	items := []*writeItem{
		{Part: &readPart{Area: AreaM, Transport: TransportByte, Address: 0, Count: 1}, Data: []byte{0x2A}},
	}
	req := buildWriteRequest(items, 9)
	if _, err := PeekPDURef(req); err != nil {
		t.Fatalf("PeekPDURef: %v", err)
	}

	resp := []byte{protocolID, rosctrAckData, 0x00, 0x00, 0x00, 9, 0x00, 2, 0x00, 1, 0x00, 0x00}
	resp = append(resp, funcWriteVar, 0x01, ReturnOK)

	codes, err := parseWriteResponse(resp, 1)
	if err != nil {
		t.Fatalf("parseWriteResponse: %v", err)
	}
	if len(codes) != 1 || codes[0] != ReturnOK {
		t.Errorf("codes = %v, want [ReturnOK]", codes)
	}
}

func TestAddressToS7Any(t *testing.T) {
	addr, err := ParseAddress("DB1.DBW2")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	part := addressToS7Any(addr)
	if part.Transport != TransportWord {
		t.Errorf("Transport = %v, want TransportWord", part.Transport)
	}
	if part.Count != 1 {
		t.Errorf("Count = %d, want 1", part.Count)
	}
	if part.Address != 2 {
		t.Errorf("Address = %d, want 2", part.Address)
	}
}
