package s7

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TPKT (RFC 1006) and COTP (ISO 8073) framing constants.
const (
	tpktVersion    = 0x03
	tpktHeaderSize = 4

	cotpCR = 0xE0 // Connection Request
	cotpCC = 0xD0 // Connection Confirm
	cotpDT = 0xF0 // Data Transfer

	cotpParamSrcTSAP  = 0xC1
	cotpParamDstTSAP  = 0xC2
	cotpParamTPDUSize = 0xC0
	cotpTPDUSize1024  = 0x0A // 2^10 = 1024 bytes

	cotpDTHeaderLen = 3
)

var cotpDTHeaderBytes = []byte{0x02, cotpDT, 0x80}

// DefaultSrcTSAP is the source TSAP used when none is configured.
const DefaultSrcTSAP uint16 = 0x0100

// DstTSAPForRackSlot derives the destination TSAP from rack/slot the way
// S7 engineering tools do: 0x0100 | rack<<5 | slot.
func DstTSAPForRackSlot(rack, slot int) uint16 {
	return 0x0100 | uint16(rack)<<5 | uint16(slot)
}

// FrameTransport is the message-framed byte stream the connection drives
// (§6 "Transport contract"): each WriteFrame delivers exactly one S7 PDU to
// the peer, each ReadFrame yields exactly one, Close unblocks any pending
// read. Inject an alternative via WithTransportFactory to run the stack over
// something other than ISO-on-TCP.
type FrameTransport interface {
	Dial(address string, timeout time.Duration) error
	WriteFrame(s7Frame []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// TransportFactory builds a fresh FrameTransport for each connection attempt.
type TransportFactory func() FrameTransport

// isoTransport is the default FrameTransport: ISO-on-TCP (RFC 1006), one S7
// PDU per TPKT frame. Grounded on the teacher's TPKT/COTP handshake, with
// the S7 Setup Communication exchange itself moved up into Connection (§4.3
// names it as the first job the connection emits, not a transport concern).
type isoTransport struct {
	srcTSAP uint16
	dstTSAP uint16

	mu   sync.Mutex
	conn net.Conn
}

func newISOTransport(srcTSAP, dstTSAP uint16) *isoTransport {
	return &isoTransport{srcTSAP: srcTSAP, dstTSAP: dstTSAP}
}

// Dial opens the TCP connection and performs the COTP CR/CC handshake.
func (t *isoTransport) Dial(address string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		address = fmt.Sprintf("%s:%d", address, DefaultPort)
	} else if port == "" {
		address = fmt.Sprintf("%s:%d", host, DefaultPort)
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return wrapError(KindTimeout, "TCP connect failed", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return wrapError(KindIllegalState, "failed to set connect deadline", err)
	}
	if err := t.cotpConnect(conn); err != nil {
		conn.Close()
		return wrapError(KindNotConnected, "COTP connect failed", err)
	}
	return conn.SetDeadline(time.Time{})
}

func (t *isoTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// WriteFrame wraps one S7 PDU in a COTP DT header and TPKT frame and writes
// it in a single call, so "each write delivers exactly one TPDU" (§6).
func (t *isoTransport) WriteFrame(s7Frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return newError(KindNotConnected, "transport not connected")
	}
	payload := make([]byte, 0, cotpDTHeaderLen+len(s7Frame))
	payload = append(payload, cotpDTHeaderBytes...)
	payload = append(payload, s7Frame...)
	return sendTPKT(conn, payload)
}

// ReadFrame blocks until exactly one S7 PDU has arrived, stripping the TPKT
// and COTP DT envelope.
func (t *isoTransport) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, newError(KindNotConnected, "transport not connected")
	}
	response, err := recvTPKT(conn)
	if err != nil {
		return nil, err
	}
	if len(response) < cotpDTHeaderLen {
		return nil, newError(KindUnexpectedResponse, "frame shorter than COTP DT header")
	}
	if response[1] != cotpDT {
		return nil, wrapError(KindUnexpectedResponse, fmt.Sprintf("expected COTP DT (0x%02X), got 0x%02X", cotpDT, response[1]), nil)
	}
	return response[cotpDTHeaderLen:], nil
}

func sendTPKT(conn net.Conn, data []byte) error {
	length := len(data) + tpktHeaderSize
	packet := make([]byte, 0, length)
	packet = append(packet, tpktVersion, 0x00, byte(length>>8), byte(length))
	packet = append(packet, data...)
	_, err := conn.Write(packet)
	return err
}

func recvTPKT(conn net.Conn) ([]byte, error) {
	header := make([]byte, tpktHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	if header[0] != tpktVersion {
		return nil, wrapError(KindUnexpectedResponse, fmt.Sprintf("invalid TPKT version: %d", header[0]), nil)
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length < tpktHeaderSize {
		return nil, wrapError(KindUnexpectedResponse, fmt.Sprintf("invalid TPKT length: %d", length), nil)
	}
	payload := make([]byte, length-tpktHeaderSize)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// buildCOTPConnectionRequest builds the COTP CR TPDU for the given TSAP pair,
// shared by the connection handshake and discovery probes so the wire layout
// exists in exactly one place.
func buildCOTPConnectionRequest(srcTSAP, dstTSAP uint16) []byte {
	cr := []byte{0x00, cotpCR, 0x00, 0x00, 0x00, 0x01, 0x00}
	cr = append(cr, cotpParamSrcTSAP, 0x02, byte(srcTSAP>>8), byte(srcTSAP))
	cr = append(cr, cotpParamDstTSAP, 0x02, byte(dstTSAP>>8), byte(dstTSAP))
	cr = append(cr, cotpParamTPDUSize, 0x01, cotpTPDUSize1024)
	cr[0] = byte(len(cr) - 1)
	return cr
}

func (t *isoTransport) cotpConnect(conn net.Conn) error {
	cr := buildCOTPConnectionRequest(t.srcTSAP, t.dstTSAP)
	if err := sendTPKT(conn, cr); err != nil {
		return fmt.Errorf("failed to send COTP CR: %w", err)
	}
	cc, err := recvTPKT(conn)
	if err != nil {
		return fmt.Errorf("failed to receive COTP CC: %w", err)
	}
	if len(cc) < 2 {
		return fmt.Errorf("COTP CC too short")
	}
	if cc[1] != cotpCC {
		return fmt.Errorf("expected COTP CC (0x%02X), got 0x%02X", cotpCC, cc[1])
	}
	return nil
}
