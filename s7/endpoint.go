package s7

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Endpoint is the top-level handle applications hold: connection lifecycle,
// auto-reconnect, and the area-oriented convenience reads/writes (§4.4).
// Grounded on s7/client.go's Connect/Option/WithRackSlot/WithTimeout shape,
// now driving a Connection instead of github.com/robinson/gos7.
type Endpoint struct {
	address       string
	rack, slot    int
	srcTSAP       uint16
	dstTSAP       uint16
	tsapSet       bool
	timeout       time.Duration
	maxJobs       int
	maxPDUSize    int
	autoReconnect time.Duration
	factory       TransportFactory
	log           *logrus.Logger

	obsMu     sync.Mutex
	observers []Observer

	mu      sync.Mutex
	conn    *Connection
	groups  []*ItemGroup
	closing bool
	reconnT *time.Timer
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithRackSlot sets the CPU rack/slot used in the COTP connection request.
// Default is rack 0, slot 2 (S7-300/400); S7-1200/1500 typically use rack 0,
// slot 1.
func WithRackSlot(rack, slot int) Option {
	return func(e *Endpoint) { e.rack, e.slot = rack, slot }
}

// WithTimeout sets the per-job and connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.timeout = d }
}

// WithMaxJobs bounds the connection's concurrency window.
func WithMaxJobs(n int) Option {
	return func(e *Endpoint) { e.maxJobs = n }
}

// WithAutoReconnect enables reconnection after the transport is lost,
// waiting delay between attempts. delay <= 0 disables reconnection.
func WithAutoReconnect(delay time.Duration) Option {
	return func(e *Endpoint) { e.autoReconnect = delay }
}

// WithEndpointLogger injects a logrus logger.
func WithEndpointLogger(log *logrus.Logger) Option {
	return func(e *Endpoint) { e.log = log }
}

// WithEndpointTSAP overrides the source/destination TSAPs, bypassing the
// rack/slot derivation.
func WithEndpointTSAP(src, dst uint16) Option {
	return func(e *Endpoint) { e.srcTSAP, e.dstTSAP, e.tsapSet = src, dst, true }
}

// WithEndpointMaxPDUSize sets the PDU size proposed during setup.
func WithEndpointMaxPDUSize(n int) Option {
	return func(e *Endpoint) { e.maxPDUSize = n }
}

// WithEndpointTransport injects a custom framed-transport factory in place
// of the default ISO-on-TCP client.
func WithEndpointTransport(f TransportFactory) Option {
	return func(e *Endpoint) { e.factory = f }
}

// WithEndpointObserver registers o to receive lifecycle notifications.
func WithEndpointObserver(o Observer) Option {
	return func(e *Endpoint) { e.observers = append(e.observers, o) }
}

// AddObserver registers o after construction; it receives every event from
// the next delivery on.
func (e *Endpoint) AddObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

// NewEndpoint builds an unconnected Endpoint for address.
func NewEndpoint(address string, opts ...Option) *Endpoint {
	e := &Endpoint{
		address:       address,
		rack:          DefaultRack,
		slot:          DefaultSlot,
		timeout:       DefaultTimeoutMillis * time.Millisecond,
		maxJobs:       DefaultMaxJobs,
		maxPDUSize:    DefaultProposedPDUSize,
		autoReconnect: DefaultReconnectMillis * time.Millisecond,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect dials and negotiates the connection. Idempotent: calling it while
// already connected is a no-op.
func (e *Endpoint) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.conn != nil && e.conn.State() == StateConnected {
		e.mu.Unlock()
		return nil
	}
	e.closing = false
	e.mu.Unlock()
	return e.connectOnce(ctx)
}

func (e *Endpoint) connectOnce(ctx context.Context) error {
	connOpts := []ConnectionOption{
		WithConnRackSlot(e.rack, e.slot),
		WithConnTimeout(e.timeout),
		WithConnMaxJobs(e.maxJobs),
		WithConnMaxPDUSize(e.maxPDUSize),
		WithLogger(e.log),
		WithObserver(e),
	}
	if e.tsapSet {
		connOpts = append(connOpts, WithConnTSAP(e.srcTSAP, e.dstTSAP))
	}
	if e.factory != nil {
		connOpts = append(connOpts, WithTransportFactory(e.factory))
	}

	conn := NewConnection(e.address, connOpts...)
	if err := conn.Connect(ctx); err != nil {
		e.scheduleReconnect()
		return err
	}

	e.mu.Lock()
	e.conn = conn
	groups := append([]*ItemGroup(nil), e.groups...)
	e.mu.Unlock()
	for _, g := range groups {
		g.rebind(conn)
	}
	return nil
}

// Disconnect tears the connection down and cancels any pending reconnect.
func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	e.closing = true
	conn := e.conn
	if e.reconnT != nil {
		e.reconnT.Stop()
	}
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// OnConnect satisfies Observer; forwarded to registered observers.
func (e *Endpoint) OnConnect() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	for _, o := range e.observers {
		o.OnConnect()
	}
}

// OnDisconnect satisfies Observer; schedules a reconnect attempt unless the
// endpoint is being closed deliberately.
func (e *Endpoint) OnDisconnect(err error) {
	e.obsMu.Lock()
	for _, o := range e.observers {
		o.OnDisconnect(err)
	}
	e.obsMu.Unlock()

	e.mu.Lock()
	closing := e.closing
	e.mu.Unlock()
	if !closing {
		e.scheduleReconnect()
	}
}

// OnPDUSize satisfies Observer.
func (e *Endpoint) OnPDUSize(size int) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	for _, o := range e.observers {
		o.OnPDUSize(size)
	}
}

// OnError satisfies Observer.
func (e *Endpoint) OnError(err error) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	for _, o := range e.observers {
		o.OnError(err)
	}
}

func (e *Endpoint) scheduleReconnect() {
	if e.autoReconnect <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return
	}
	if e.reconnT != nil {
		e.reconnT.Stop()
	}
	e.reconnT = time.AfterFunc(e.autoReconnect, func() {
		e.mu.Lock()
		closing := e.closing
		e.mu.Unlock()
		if closing {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.connectOnce(ctx); err != nil {
			e.log.WithError(err).Warn("s7: reconnect attempt failed")
		}
	})
}

// Conn returns the underlying Connection, or nil if not connected.
func (e *Endpoint) Conn() *Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

func (e *Endpoint) requireConn() (*Connection, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil || conn.State() != StateConnected {
		return nil, newError(KindNotConnected, "endpoint not connected")
	}
	return conn, nil
}

// ReadArea reads length bytes from area starting at addr (db only
// meaningful for AreaDB/AreaDI), splitting into multiple ReadVar jobs when
// length exceeds pduSize-18 (§4.4).
func (e *Endpoint) ReadArea(ctx context.Context, area Area, db, addr, length int) ([]byte, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	maxPayload := conn.PDUSize() - 18
	if maxPayload <= 0 {
		maxPayload = DefaultProposedPDUSize - 18
	}

	out := make([]byte, 0, length)
	for off := 0; off < length; {
		chunk := length - off
		if chunk > maxPayload {
			chunk = maxPayload
		}
		part := &readPart{Area: area, DBNumber: db, Transport: TransportByte, Address: addr + off, Count: chunk}
		results, err := conn.ReadItems(ctx, []*readPart{part})
		if err != nil {
			return nil, err
		}
		if results[0].Err() != nil {
			return nil, results[0].Err()
		}
		out = append(out, results[0].Data...)
		off += chunk
	}
	return out, nil
}

// WriteArea writes buf to area starting at addr, splitting into multiple
// WriteVar jobs when len(buf) exceeds pduSize-28.
func (e *Endpoint) WriteArea(ctx context.Context, area Area, db, addr int, buf []byte) error {
	conn, err := e.requireConn()
	if err != nil {
		return err
	}
	maxPayload := conn.PDUSize() - 28
	if maxPayload <= 0 {
		maxPayload = DefaultProposedPDUSize - 28
	}

	for off := 0; off < len(buf); {
		chunk := len(buf) - off
		if chunk > maxPayload {
			chunk = maxPayload
		}
		part := &readPart{Area: area, DBNumber: db, Transport: TransportByte, Address: addr + off, Count: chunk}
		item := &writeItem{Part: part, Data: buf[off : off+chunk]}
		codes, err := conn.WriteItems(ctx, []*writeItem{item})
		if err != nil {
			return err
		}
		if codes[0] != ReturnOK {
			return itemError(codes[0])
		}
		off += chunk
	}
	return nil
}

// GetSSL reads one System Status List entry set.
func (e *Endpoint) GetSSL(ctx context.Context, id, index uint16) (*SSLResult, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.GetSSL(ctx, id, index)
}

// GetAvailableSSL lists the SZL IDs the CPU supports.
func (e *Endpoint) GetAvailableSSL(ctx context.Context) (*SSLResult, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.GetAvailableSSL(ctx)
}

// GetModuleIdentification reads SSL 0x0011.
func (e *Endpoint) GetModuleIdentification(ctx context.Context) (*SSLResult, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.GetModuleIdentification(ctx)
}

// ModuleIdentification reads SSL 0x0011 and returns the per-entry parsed
// view; each entry keeps its raw bytes for version-specific fields the
// decoder deliberately leaves alone.
func (e *Endpoint) ModuleIdentification(ctx context.Context) ([]ModuleIdent, error) {
	ssl, err := e.GetModuleIdentification(ctx)
	if err != nil {
		return nil, err
	}
	return parseModuleIdentEntries(ssl.Entries), nil
}

// GetComponentIdentification reads SSL 0x001C.
func (e *Endpoint) GetComponentIdentification(ctx context.Context) (*SSLResult, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.GetComponentIdentification(ctx)
}

// BlockCount reads the CPU's per-type program block counts.
func (e *Endpoint) BlockCount(ctx context.Context) (map[BlockType]int, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.BlockCount(ctx)
}

// ListBlocks enumerates the CPU's program blocks of one type.
func (e *Endpoint) ListBlocks(ctx context.Context, blockType BlockType) ([]BlockInfo, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.ListBlocks(ctx, blockType)
}

// GetBlockInfo fetches descriptive metadata for one block.
func (e *Endpoint) GetBlockInfo(ctx context.Context, blockType BlockType, number int, filesystem byte) ([]byte, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.GetBlockInfo(ctx, blockType, number, filesystem)
}

// UploadBlock fetches a block's full byte content by filename
// (e.g. "_0A00001A").
func (e *Endpoint) UploadBlock(ctx context.Context, filename string) ([]byte, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	return conn.UploadBlock(ctx, filename)
}

// GetClock reads the CPU's real-time clock.
func (e *Endpoint) GetClock(ctx context.Context) (time.Time, error) {
	conn, err := e.requireConn()
	if err != nil {
		return time.Time{}, err
	}
	return conn.GetClock(ctx)
}

// SetClock sets the CPU's real-time clock.
func (e *Endpoint) SetClock(ctx context.Context, t time.Time) error {
	conn, err := e.requireConn()
	if err != nil {
		return err
	}
	return conn.SetClock(ctx, t)
}

// NewItemGroup builds an ItemGroup bound to this endpoint's current
// connection. The endpoint must be connected; the group follows the
// endpoint across reconnects and is re-planned when the negotiated PDU size
// changes.
func (e *Endpoint) NewItemGroup() (*ItemGroup, error) {
	conn, err := e.requireConn()
	if err != nil {
		return nil, err
	}
	g := NewItemGroup(conn)
	e.mu.Lock()
	e.groups = append(e.groups, g)
	e.mu.Unlock()
	return g, nil
}
