package s7

import (
	"context"
	"fmt"
	"sync"
	"time"

	"s7link/logging"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// State is the Connection's lifecycle state (§4.3 "connection state
// machine").
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Connection owns one framed transport to a controller and multiplexes
// concurrent read/write/diagnostic requests over it. A dedicated reader
// goroutine and writer goroutine drive the transport; a semaphore bounds how
// many requests may be outstanding at once (§4.3 "concurrency window"),
// mirroring the sendChan/recvChan goroutine pair of
// Yobol-go-iec104/client.go, generalized from one pending exchange to many
// keyed by PDU reference.
type Connection struct {
	address     string
	srcTSAP     uint16
	dstTSAP     uint16
	tsapSet     bool
	rack        int
	slot        int
	timeout     time.Duration
	maxJobs     int
	proposedPDU int
	factory     TransportFactory

	log *logrus.Logger
	obs multiObserver

	transport FrameTransport

	mu       sync.Mutex
	state    State
	pduSize  int
	maxAmq   int
	jobs     map[uint16]*job
	refAlloc *pduRefAllocator

	sem *semaphore.Weighted

	writeChan chan []byte
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ConnectionOption configures a Connection at construction time.
type ConnectionOption func(*Connection)

// WithLogger injects a logrus logger, following the teacher's convention of
// threading *logrus.Logger through every component rather than using a
// package-level global.
func WithLogger(log *logrus.Logger) ConnectionOption {
	return func(c *Connection) { c.log = log }
}

// WithConnRackSlot sets the CPU rack/slot used to derive the destination
// TSAP.
func WithConnRackSlot(rack, slot int) ConnectionOption {
	return func(c *Connection) { c.rack, c.slot = rack, slot }
}

// WithConnTSAP overrides both TSAPs, bypassing the rack/slot derivation.
func WithConnTSAP(src, dst uint16) ConnectionOption {
	return func(c *Connection) { c.srcTSAP, c.dstTSAP, c.tsapSet = src, dst, true }
}

// WithConnTimeout sets the per-request timeout.
func WithConnTimeout(timeout time.Duration) ConnectionOption {
	return func(c *Connection) { c.timeout = timeout }
}

// WithConnMaxJobs bounds the number of requests the connection will keep
// outstanding at once, and is proposed as max AmQ during setup.
func WithConnMaxJobs(n int) ConnectionOption {
	return func(c *Connection) {
		c.maxJobs = n
		c.sem = semaphore.NewWeighted(int64(n))
	}
}

// WithConnMaxPDUSize sets the PDU size proposed during Setup Communication.
// The negotiated size is the minimum of both sides' proposals, never above
// MaxPDUSize.
func WithConnMaxPDUSize(n int) ConnectionOption {
	return func(c *Connection) { c.proposedPDU = n }
}

// WithTransportFactory injects a custom framed transport in place of the
// default ISO-on-TCP client (§6 "customTransport").
func WithTransportFactory(f TransportFactory) ConnectionOption {
	return func(c *Connection) { c.factory = f }
}

// WithObserver registers a lifecycle observer. May be called more than once.
func WithObserver(o Observer) ConnectionOption {
	return func(c *Connection) { c.obs.add(o) }
}

// NewConnection builds an unconnected Connection for address (host or
// host:port; DefaultPort is assumed when no port is given).
func NewConnection(address string, opts ...ConnectionOption) *Connection {
	c := &Connection{
		address:     address,
		rack:        DefaultRack,
		slot:        DefaultSlot,
		timeout:     DefaultTimeoutMillis * time.Millisecond,
		maxJobs:     DefaultMaxJobs,
		proposedPDU: DefaultProposedPDUSize,
		log:         logrus.StandardLogger(),
		state:       StateDisconnected,
		jobs:        make(map[uint16]*job),
		refAlloc:    newPDURefAllocator(),
		sem:         semaphore.NewWeighted(DefaultMaxJobs),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) newTransport() FrameTransport {
	if c.factory != nil {
		return c.factory()
	}
	src, dst := c.srcTSAP, c.dstTSAP
	if !c.tsapSet {
		src = DefaultSrcTSAP
		dst = DstTSAPForRackSlot(c.rack, c.slot)
	}
	return newISOTransport(src, dst)
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PDUSize returns the negotiated PDU size, valid once Connected.
func (c *Connection) PDUSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pduSize
}

// Connect dials the transport, performs the COTP handshake, and negotiates
// PDU size via Setup Communication, the first job every connection issues
// (§4.3). The connection stays in Connecting until the setup ack arrives.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return newError(KindIllegalState, "connect called while not disconnected")
	}
	c.state = StateConnecting
	c.transport = c.newTransport()
	c.mu.Unlock()

	if err := c.transport.Dial(c.address, c.timeout); err != nil {
		c.setState(StateDisconnected)
		c.obs.OnError(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.writeChan = make(chan []byte, c.maxJobs)

	c.wg.Add(2)
	go c.writeLoop(runCtx)
	go c.readLoop(runCtx)

	pduSize, maxAmq, err := c.setupComm(ctx)
	if err != nil {
		c.Close()
		return err
	}
	if pduSize > c.proposedPDU {
		pduSize = c.proposedPDU
	}
	if pduSize > MaxPDUSize {
		pduSize = MaxPDUSize
	}
	c.mu.Lock()
	c.pduSize = pduSize
	c.maxAmq = maxAmq
	c.state = StateConnected
	c.mu.Unlock()

	c.obs.OnConnect()
	c.obs.OnPDUSize(pduSize)
	c.log.WithFields(logrus.Fields{"pduSize": pduSize, "maxAmq": maxAmq}).Info("s7: connected")
	return nil
}

func (c *Connection) setupComm(ctx context.Context) (pduSize int, maxAmq int, err error) {
	raw, err := c.doRequest(ctx, func(ref uint16) []byte {
		return buildSetupCommRequest(ref, uint16(c.maxJobs), uint16(c.proposedPDU))
	}, 0)
	if err != nil {
		return 0, 0, err
	}
	return parseSetupCommResponse(raw)
}

// Close tears the connection down, failing any in-flight job with
// ErrInterrupted (§5 "Cancellation"). Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	err := c.transport.Close()
	c.wg.Wait()

	c.mu.Lock()
	for ref, j := range c.jobs {
		j.done <- jobResult{err: newError(KindInterrupted, "connection closed")}
		delete(c.jobs, ref)
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.obs.OnDisconnect(err)
	return err
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// teardown runs Close from its own goroutine so loop goroutines (which Close
// waits on) and request paths can poison the connection without deadlocking.
func (c *Connection) teardown() {
	go func() { _ = c.Close() }()
}

// writeLoop is the dedicated writer goroutine: every outgoing frame passes
// through writeChan so only one goroutine ever calls transport.WriteFrame,
// grounded on the sendChan pattern of Yobol-go-iec104/client.go.
func (c *Connection) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.writeChan:
			if !ok {
				return
			}
			logging.TraceTX(c.log, "s7", frame)
			if err := c.transport.WriteFrame(frame); err != nil {
				c.log.WithError(err).Error("s7: write failed")
				c.obs.OnError(err)
				c.failAllJobs(wrapError(KindNotConnected, "connection lost", err))
				c.teardown()
				return
			}
		}
	}
}

// readLoop is the dedicated reader goroutine: it owns transport.ReadFrame
// and routes each frame to the job awaiting its PDU reference. A transport
// error fails every outstanding job and tears the connection down, which is
// what lets the endpoint's reconnect timer fire (§4.4).
func (c *Connection) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := c.transport.ReadFrame()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.log.WithError(err).Warn("s7: read failed")
			c.obs.OnError(err)
			c.failAllJobs(wrapError(KindNotConnected, "connection lost", err))
			c.teardown()
			return
		}
		logging.TraceRX(c.log, "s7", frame)

		ref, err := PeekPDURef(frame)
		if err != nil {
			c.log.WithError(err).Warn("s7: dropping malformed frame")
			continue
		}

		c.mu.Lock()
		j, ok := c.jobs[ref]
		if ok {
			delete(c.jobs, ref)
		}
		c.mu.Unlock()

		if !ok {
			c.log.WithField("ref", ref).Warn("s7: frame for unknown PDU reference")
			continue
		}
		j.done <- jobResult{payload: frame}
	}
}

func (c *Connection) failAllJobs(err error) {
	c.mu.Lock()
	jobs := c.jobs
	c.jobs = make(map[uint16]*job)
	c.mu.Unlock()
	for _, j := range jobs {
		j.done <- jobResult{err: err}
	}
}

// doRequest allocates a PDU reference, hands the built frame to the writer
// goroutine, and waits for the reader goroutine to deliver the matching
// response (or for timeout/cancellation). count is threaded through for
// callers that need it to size a parse; it is not interpreted here. A timed
// out job poisons the connection: the PLC has no out-of-band cancel, so a
// stuck reference would corrupt every later exchange (§4.3).
func (c *Connection) doRequest(ctx context.Context, buildFrame func(ref uint16) []byte, count int) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, wrapError(KindInterrupted, "acquiring concurrency slot", err)
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	if c.state != StateConnected && c.state != StateConnecting {
		c.mu.Unlock()
		return nil, newError(KindNotConnected, "not connected")
	}
	ref := c.refAlloc.allocate(c.jobs)
	frame := buildFrame(ref)
	j := newJob(ref, frame, count, c.timeout)
	c.jobs[ref] = j
	c.mu.Unlock()

	select {
	case c.writeChan <- frame:
	case <-ctx.Done():
		c.removeJob(ref)
		return nil, wrapError(KindInterrupted, "request canceled before send", ctx.Err())
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-j.done:
		if res.err != nil {
			return nil, res.err
		}
		data, _ := res.payload.([]byte)
		return data, nil
	case <-timer.C:
		c.removeJob(ref)
		c.teardown()
		return nil, newError(KindTimeout, fmt.Sprintf("request timed out after %s", c.timeout))
	case <-ctx.Done():
		c.removeJob(ref)
		return nil, wrapError(KindInterrupted, "request canceled", ctx.Err())
	}
}

func (c *Connection) removeJob(ref uint16) {
	c.mu.Lock()
	delete(c.jobs, ref)
	c.mu.Unlock()
}

// --- Read / Write ---

// ReadItems issues one ReadVar job for parts and returns each item's result
// in order.
func (c *Connection) ReadItems(ctx context.Context, parts []*readPart) ([]ReadItemResult, error) {
	raw, err := c.doRequest(ctx, func(ref uint16) []byte {
		return buildReadRequest(parts, ref)
	}, len(parts))
	if err != nil {
		return nil, err
	}
	return parseReadResponse(raw, len(parts))
}

// WriteItems issues one WriteVar job and returns each item's per-item return
// code in order.
func (c *Connection) WriteItems(ctx context.Context, items []*writeItem) ([]byte, error) {
	raw, err := c.doRequest(ctx, func(ref uint16) []byte {
		return buildWriteRequest(items, ref)
	}, len(items))
	if err != nil {
		return nil, err
	}
	return parseWriteResponse(raw, len(items))
}

// --- User Data (SSL/SZL, block listing, clock) ---

// userDataResult is the reassembled outcome of a (possibly segmented) User
// Data exchange.
type userDataResult struct {
	Group       byte
	Subfunction byte
	Payload     []byte
}

// doUserData drives the request/continuation loop for a segmented User Data
// exchange. makeFrame builds one request given the allocated PDU reference
// and the 0-based fragment sequence number; it is called once per fragment
// until the server reports LastDataUnit. Fragment payloads are concatenated
// in sequence order (§4.3 "Dispatch", §9 "User-data reassembly").
func (c *Connection) doUserData(ctx context.Context, makeFrame func(ref uint16, seq byte) []byte) (*userDataResult, error) {
	var aggregate []byte
	var last *userDataResponse
	for seq := byte(0); ; seq++ {
		raw, err := c.doRequest(ctx, func(ref uint16) []byte {
			return makeFrame(ref, seq)
		}, 0)
		if err != nil {
			return nil, err
		}
		resp, err := parseUserDataResponse(raw)
		if err != nil {
			return nil, err
		}
		if resp.ErrorCode != 0 {
			return nil, wrapError(KindPLCError, fmt.Sprintf("user data error code 0x%04X", resp.ErrorCode), nil)
		}
		aggregate = append(aggregate, resp.Payload...)
		last = resp
		if resp.LastDataUnit {
			break
		}
	}
	return &userDataResult{Group: last.Group, Subfunction: last.Subfunction, Payload: aggregate}, nil
}

// SendUserData performs one (possibly multi-segment) User Data exchange for
// the given function group and subfunction, returning the concatenated data
// portion. The typed helpers below are built on it; it is exported for
// subfunctions the library has no wrapper for.
func (c *Connection) SendUserData(ctx context.Context, group, subfunction byte, payload []byte) ([]byte, error) {
	res, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return userDataRequest(ref, group, subfunction, seq, payload)
	})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// GetSSL reads one System Status List (SZL) identified by id/index (§4.4).
func (c *Connection) GetSSL(ctx context.Context, id, index uint16) (*SSLResult, error) {
	res, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return buildReadSZLRequest(ref, seq, id, index)
	})
	if err != nil {
		return nil, err
	}
	return parseSZLPayload(res.Payload)
}

// GetAvailableSSL reads the "available SZL IDs" list (SSL ID 0x0000).
func (c *Connection) GetAvailableSSL(ctx context.Context) (*SSLResult, error) {
	return c.GetSSL(ctx, sslAvailable, 0)
}

// GetModuleIdentification reads the module identification SZL (0x0011).
func (c *Connection) GetModuleIdentification(ctx context.Context) (*SSLResult, error) {
	return c.GetSSL(ctx, sslModuleIdnt, 0)
}

// GetComponentIdentification reads the component identification SZL (0x001C).
func (c *Connection) GetComponentIdentification(ctx context.Context) (*SSLResult, error) {
	return c.GetSSL(ctx, sslComponent, 0)
}

// --- Block enumeration / upload ---

// BlockCount reads the CPU's per-type program block counts (§4.3
// "blockCount").
func (c *Connection) BlockCount(ctx context.Context) (map[BlockType]int, error) {
	res, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return buildBlockCountRequest(ref, seq)
	})
	if err != nil {
		return nil, err
	}
	return parseBlockCountPayload(res.Payload), nil
}

// ListBlocks enumerates every program block of the given type (§4.3
// "listBlocks").
func (c *Connection) ListBlocks(ctx context.Context, blockType BlockType) ([]BlockInfo, error) {
	res, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return buildListBlocksOfRequest(ref, seq, blockType)
	})
	if err != nil {
		return nil, err
	}
	return parseListBlocksPayload(res.Payload, blockType), nil
}

// GetBlockInfo fetches descriptive metadata for one block (§4.3
// "getBlockInfo"). filesystem selects between the online/loaded ('A') and
// pending/offline ('B') copy of the block.
func (c *Connection) GetBlockInfo(ctx context.Context, blockType BlockType, number int, filesystem byte) ([]byte, error) {
	res, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return buildGetBlockInfoRequest(ref, seq, blockType, number, filesystem)
	})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// UploadBlock fetches the full byte content of a block via the
// start/continue/end upload handshake (0x1D/0x1E/0x1F), independent of the
// User Data wrapper (§4.1). Any intermediate failure aborts the upload with
// an End Upload carrying the error flag.
func (c *Connection) UploadBlock(ctx context.Context, filename string) ([]byte, error) {
	raw, err := c.doRequest(ctx, func(ref uint16) []byte {
		return buildStartUploadRequest(ref, filename)
	}, 0)
	if err != nil {
		return nil, err
	}
	uploadID, err := parseStartUploadResponse(raw)
	if err != nil {
		return nil, err
	}

	var content []byte
	for {
		raw, err := c.doRequest(ctx, func(ref uint16) []byte {
			return buildUploadRequest(ref, uploadID)
		}, 0)
		if err != nil {
			c.endUpload(ctx, uploadID, true)
			return nil, err
		}
		more, chunk, err := parseUploadResponse(raw)
		if err != nil {
			c.endUpload(ctx, uploadID, true)
			return nil, err
		}
		content = append(content, chunk...)
		if !more {
			break
		}
	}
	if err := c.endUpload(ctx, uploadID, false); err != nil {
		return nil, err
	}
	return content, nil
}

func (c *Connection) endUpload(ctx context.Context, uploadID uint32, errorFlag bool) error {
	raw, err := c.doRequest(ctx, func(ref uint16) []byte {
		return buildEndUploadRequest(ref, uploadID, errorFlag)
	}, 0)
	if err != nil {
		return err
	}
	return parseEndUploadResponse(raw)
}

// --- Clock ---

// GetClock reads the controller's real-time clock (§4.3).
func (c *Connection) GetClock(ctx context.Context) (time.Time, error) {
	res, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return buildReadClockRequest(ref, seq)
	})
	if err != nil {
		return time.Time{}, err
	}
	return decodeBCDClock(res.Payload)
}

// SetClock sets the controller's real-time clock.
func (c *Connection) SetClock(ctx context.Context, t time.Time) error {
	bcd := encodeBCDClock(t)
	_, err := c.doUserData(ctx, func(ref uint16, seq byte) []byte {
		return buildSetClockRequest(ref, seq, bcd)
	})
	return err
}
