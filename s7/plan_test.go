package s7

import "testing"

func mustItem(t *testing.T, name, addr string) *Item {
	t.Helper()
	it, err := NewItem(name, addr)
	if err != nil {
		t.Fatalf("NewItem(%q, %q): %v", name, addr, err)
	}
	return it
}

func TestSortItemsForPlanning(t *testing.T) {
	items := []*Item{
		mustItem(t, "b", "DB1.DBW4"),
		mustItem(t, "a", "DB1.DBW0"),
		mustItem(t, "m", "MB0"),
	}
	sorted := sortItemsForPlanning(items)
	if sorted[0].Name != "m" {
		t.Errorf("first item = %q, want %q (AreaM sorts before AreaDB)", sorted[0].Name, "m")
	}
	if sorted[1].Name != "a" || sorted[2].Name != "b" {
		t.Errorf("DB items out of offset order: got %q, %q", sorted[1].Name, sorted[2].Name)
	}
}

func TestBuildPlanCoalescesAdjacentItems(t *testing.T) {
	items := []*Item{
		mustItem(t, "x", "DB1.DBW0"),
		mustItem(t, "y", "DB1.DBW2"),
	}
	p := buildPlan(items, 240, DefaultOptimizationGap)
	if len(p.packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(p.packets))
	}
	if len(p.packets[0].parts) != 1 {
		t.Fatalf("parts = %d, want 1 (adjacent words should coalesce)", len(p.packets[0].parts))
	}
	if p.packets[0].parts[0].length != 4 {
		t.Errorf("coalesced part length = %d, want 4", p.packets[0].parts[0].length)
	}
}

func TestBuildPlanRespectsGap(t *testing.T) {
	items := []*Item{
		mustItem(t, "x", "DB1.DBW0"),
		mustItem(t, "y", "DB1.DBW100"), // far beyond the optimization gap
	}
	p := buildPlan(items, 240, DefaultOptimizationGap)
	total := 0
	for _, pkt := range p.packets {
		total += len(pkt.parts)
	}
	if total != 2 {
		t.Errorf("parts across all packets = %d, want 2 (items too far apart to coalesce)", total)
	}
}

func TestBuildPlanSplitsAcrossPackets(t *testing.T) {
	items := make([]*Item, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, mustItem(t, string(rune('a'+i%26))+string(rune('0'+i/26)), addrAt(i)))
	}
	p := buildPlan(items, 40, DefaultOptimizationGap) // tiny PDU forces many packets
	if len(p.packets) < 2 {
		t.Fatalf("packets = %d, want >= 2 for a tiny PDU size", len(p.packets))
	}
	maxPayload := 40 - 18
	for _, pkt := range p.packets {
		respLen := readResponseHeaderOverhead
		for _, part := range pkt.parts {
			respLen += readResponsePartOverhead + part.length
		}
		if respLen > maxPayload {
			t.Errorf("packet response length %d exceeds budget %d", respLen, maxPayload)
		}
	}
}

func TestBuildPlanSplitsOversizedItem(t *testing.T) {
	it := mustItem(t, "big", "DB1.0[500]") // 500-byte array, far larger than a small PDU
	p := buildPlan([]*Item{it}, 64, DefaultOptimizationGap)
	if len(p.packets) < 2 {
		t.Fatalf("packets = %d, want >= 2 for an oversized item", len(p.packets))
	}
	var consumed int
	for _, pkt := range p.packets {
		for _, part := range pkt.parts {
			for _, m := range part.members {
				if m.item != it {
					continue
				}
				if m.destOffset != consumed {
					t.Errorf("destOffset = %d, want %d (running consumed total)", m.destOffset, consumed)
				}
				consumed += m.byteCount
			}
		}
	}
	if consumed != it.Addr.ByteLengthWithFill() {
		t.Errorf("total consumed = %d, want %d", consumed, it.Addr.ByteLengthWithFill())
	}
}

// TestBuildPlanNeverCoalescesAcrossDBs is boundary scenario 2: identical
// offsets in different data blocks always land in separate parts.
func TestBuildPlanNeverCoalescesAcrossDBs(t *testing.T) {
	items := []*Item{
		mustItem(t, "a", "DB1,BYTE0"),
		mustItem(t, "b", "DB2,BYTE0"),
	}
	p := buildPlan(items, 240, 1000) // absurd gap: the db boundary must still hold
	total := 0
	for _, pkt := range p.packets {
		total += len(pkt.parts)
	}
	if total != 2 {
		t.Errorf("parts = %d, want 2 (never coalesce across DBs)", total)
	}
}

// TestBuildPlanCoalescesAcrossGap is boundary scenario 1: DB1,BYTE0 and
// DB1,BYTE3 under the default gap become one part covering bytes 0..4.
func TestBuildPlanCoalescesAcrossGap(t *testing.T) {
	items := []*Item{
		mustItem(t, "a", "DB1,BYTE0"),
		mustItem(t, "b", "DB1,BYTE3"),
	}
	p := buildPlan(items, 240, DefaultOptimizationGap)
	if len(p.packets) != 1 || len(p.packets[0].parts) != 1 {
		t.Fatalf("plan = %d packets / %d parts, want 1/1", len(p.packets), len(p.packets[0].parts))
	}
	part := p.packets[0].parts[0]
	if part.start != 0 || part.length != 4 {
		t.Errorf("part window = [%d,%d), want [0,4)", part.start, part.start+part.length)
	}
	if len(part.members) != 2 {
		t.Errorf("members = %d, want 2", len(part.members))
	}
}

// TestBuildPlanSplitsOversizedFlagRun is boundary scenario 3: a 500-byte
// flags-area run against pduSize 240 becomes exactly three packets whose
// response lengths sum to 500 and whose windows together span M[0..500).
func TestBuildPlanSplitsOversizedFlagRun(t *testing.T) {
	it := mustItem(t, "big", "MB0.500")
	p := buildPlan([]*Item{it}, 240, DefaultOptimizationGap)
	if len(p.packets) != 3 {
		t.Fatalf("packets = %d, want 3", len(p.packets))
	}
	covered := 0
	for _, pkt := range p.packets {
		for _, part := range pkt.parts {
			if part.start != covered {
				t.Errorf("part starts at %d, want %d (contiguous spans)", part.start, covered)
			}
			covered += part.length
		}
	}
	if covered != 500 {
		t.Errorf("total span = %d, want 500", covered)
	}
}

// TestBuildPlanIsDeterministic is property P4: rebuilding from a shuffled
// snapshot yields a structurally identical plan.
func TestBuildPlanIsDeterministic(t *testing.T) {
	forward := []*Item{
		mustItem(t, "a", "DB1.DBW0"),
		mustItem(t, "b", "DB1.DBW4"),
		mustItem(t, "c", "MB2"),
		mustItem(t, "d", "DB2,REAL0"),
	}
	backward := []*Item{forward[3], forward[1], forward[2], forward[0]}

	p1 := buildPlan(forward, 240, DefaultOptimizationGap)
	p2 := buildPlan(backward, 240, DefaultOptimizationGap)
	if len(p1.packets) != len(p2.packets) {
		t.Fatalf("packet counts differ: %d vs %d", len(p1.packets), len(p2.packets))
	}
	for i := range p1.packets {
		a, b := p1.packets[i], p2.packets[i]
		if len(a.parts) != len(b.parts) {
			t.Fatalf("packet %d part counts differ: %d vs %d", i, len(a.parts), len(b.parts))
		}
		for j := range a.parts {
			pa, pb := a.parts[j], b.parts[j]
			if pa.area != pb.area || pa.dbNumber != pb.dbNumber || pa.start != pb.start || pa.length != pb.length {
				t.Errorf("packet %d part %d differ: %+v vs %+v", i, j, pa, pb)
			}
			if len(pa.members) != len(pb.members) {
				t.Fatalf("packet %d part %d member counts differ", i, j)
			}
			for k := range pa.members {
				if pa.members[k].item.Name != pb.members[k].item.Name {
					t.Errorf("packet %d part %d member %d differ: %q vs %q",
						i, j, k, pa.members[k].item.Name, pb.members[k].item.Name)
				}
			}
		}
	}
}

// TestBuildPlanSkipOptimization checks that a non-positive gap disables
// coalescing entirely, one part per item.
func TestBuildPlanSkipOptimization(t *testing.T) {
	items := []*Item{
		mustItem(t, "a", "DB1,BYTE0"),
		mustItem(t, "b", "DB1,BYTE1"),
	}
	p := buildPlan(items, 240, -1)
	total := 0
	for _, pkt := range p.packets {
		total += len(pkt.parts)
	}
	if total != 2 {
		t.Errorf("parts = %d, want 2 with optimization disabled", total)
	}
}

func addrAt(i int) string {
	// Spread items far enough apart that none coalesce, to force many parts.
	offsets := []int{0, 4, 8, 12, 16, 20, 24, 28, 32, 36}
	return "DB" + itoaPlan(i%10+1) + ".DBW" + itoaPlan(offsets[i%10])
}

func itoaPlan(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
