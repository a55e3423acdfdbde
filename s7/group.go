package s7

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TranslationFunc rewrites a symbolic tag name into an address string before
// parsing, letting callers use names that don't match the address grammar
// directly (§4.6 "setTranslationCallback").
type TranslationFunc func(name string) string

func identityTranslation(name string) string { return name }

// ItemGroup holds a name->Item mapping and a plan cache invalidated by item
// mutation or a pdu-size change (§4.6).
type ItemGroup struct {
	conn            *Connection
	optimizationGap int
	translate       TranslationFunc

	mu      sync.Mutex
	items   map[string]*Item
	cached  *plan
	pduSize int
}

// NewItemGroup builds a group bound to conn, with the default
// optimization gap (5 bytes).
func NewItemGroup(conn *Connection) *ItemGroup {
	g := &ItemGroup{
		conn:            conn,
		optimizationGap: DefaultOptimizationGap,
		translate:       identityTranslation,
		items:           make(map[string]*Item),
		pduSize:         conn.PDUSize(),
	}
	conn.obs.add(g)
	return g
}

// rebind points the group at a replacement connection after a reconnect,
// dropping the cached plan since the negotiated PDU size may differ.
func (g *ItemGroup) rebind(conn *Connection) {
	g.mu.Lock()
	g.conn = conn
	g.pduSize = conn.PDUSize()
	g.cached = nil
	g.mu.Unlock()
	conn.obs.add(g)
}

// SetOptimizationGap overrides the default coalescing gap.
func (g *ItemGroup) SetOptimizationGap(gap int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.optimizationGap = gap
	g.cached = nil
}

// SetTranslationCallback installs fn as the name->address translator.
func (g *ItemGroup) SetTranslationCallback(fn TranslationFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fn == nil {
		fn = identityTranslation
	}
	g.translate = fn
}

// AddItems parses and inserts tags (name -> address string), invalidating
// the cached plan.
func (g *ItemGroup) AddItems(tags map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, addr := range tags {
		it, err := NewItem(name, g.translate(addr))
		if err != nil {
			return wrapError(KindParseAddr, "add item "+name, err)
		}
		g.items[name] = it
	}
	g.cached = nil
	return nil
}

// RemoveItems deletes tags from the group, invalidating the cached plan.
func (g *ItemGroup) RemoveItems(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range names {
		delete(g.items, n)
	}
	g.cached = nil
}

// Destroy empties the group and drops its cached plan.
func (g *ItemGroup) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items = make(map[string]*Item)
	g.cached = nil
}

// OnConnect is a no-op; ItemGroup only cares about PDU size.
func (g *ItemGroup) OnConnect() {}

// OnDisconnect is a no-op.
func (g *ItemGroup) OnDisconnect(error) {}

// OnPDUSize invalidates the cached plan whenever the negotiated PDU size
// changes (§4.6, §9 "any pdu-size event invalidates the plan").
func (g *ItemGroup) OnPDUSize(size int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pduSize = size
	g.cached = nil
}

// OnError is a no-op.
func (g *ItemGroup) OnError(error) {}

func (g *ItemGroup) ensurePlan() *plan {
	if g.cached != nil {
		return g.cached
	}
	items := make([]*Item, 0, len(g.items))
	for _, it := range g.items {
		items = append(items, it)
	}
	pduSize := g.pduSize
	if pduSize == 0 {
		pduSize = DefaultProposedPDUSize
	}
	p := buildPlan(items, pduSize, g.optimizationGap)
	g.cached = p
	return p
}

// ReadAllItems issues every packet of the current plan in parallel (via
// golang.org/x/sync/errgroup, per §4.6's Go implementation note), scatters
// each response into its items, and returns a fresh name->TagValue mapping.
func (g *ItemGroup) ReadAllItems(ctx context.Context) (map[string]*TagValue, error) {
	g.mu.Lock()
	p := g.ensurePlan()
	conn := g.conn
	g.mu.Unlock()

	grp, gctx := errgroup.WithContext(ctx)
	for _, packet := range p.packets {
		packet := packet
		grp.Go(func() error {
			parts := make([]*readPart, len(packet.parts))
			for i, part := range packet.parts {
				parts[i] = part.toReadPart()
			}
			results, err := conn.ReadItems(gctx, parts)
			if err != nil {
				return err
			}
			for i, part := range packet.parts {
				res := results[i]
				if err := res.Err(); err != nil {
					return wrapError(KindItemError,
						fmt.Sprintf("read %s db=%d addr=%d len=%d", part.area, part.dbNumber, part.start, part.length), err)
				}
				for _, m := range part.members {
					m.item.copyFromBuffer(res.Data, copyOffsets{
						sourceOffset: m.sourceOffset,
						destOffset:   m.destOffset,
						byteCount:    m.byteCount,
					})
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*TagValue, len(g.items))
	for name, it := range g.items {
		out[name] = it.updateValueFromBuffer()
	}
	return out, nil
}

// WriteItems writes name->value pairs. A name not already in the group is
// parsed as a one-off Item, written, and discarded without mutating the
// group (§9 Open Question (b): this is intended behavior, not a bug to fix).
// Writes are packed into packets (never split: an oversized item fails fast
// with ERR_ITEM_TOO_BIG) but are not coalesced across items.
func (g *ItemGroup) WriteItems(ctx context.Context, values map[string]interface{}) error {
	g.mu.Lock()
	conn := g.conn
	pduSize := g.pduSize
	if pduSize == 0 {
		pduSize = DefaultProposedPDUSize
	}
	items := make(map[string]*Item, len(values))
	for name := range values {
		if it, ok := g.items[name]; ok {
			items[name] = it
			continue
		}
		it, err := NewItem(name, g.translate(name))
		if err != nil {
			g.mu.Unlock()
			return wrapError(KindParseAddr, "write item "+name, err)
		}
		items[name] = it
	}
	g.mu.Unlock()

	maxPayload := pduSize - 12
	var packets [][]*writeItem
	var current []*writeItem
	curLen := 0
	const overheadPerItem = 16

	for name, it := range items {
		data, err := it.getWriteBuffer(values[name])
		if err != nil {
			return wrapError(KindInvalidArgument, "encode "+name, err)
		}
		if overheadPerItem+len(data) > maxPayload {
			return wrapError(KindItemTooBig, "item "+name+" exceeds max payload", nil)
		}
		if curLen+overheadPerItem+len(data) > maxPayload {
			packets = append(packets, current)
			current = nil
			curLen = 0
		}
		tr := it.writeTransportCode()
		part := &readPart{
			Area: it.Addr.Area, DBNumber: it.Addr.DBNumber,
			Transport: tr, Address: it.Addr.Offset,
			BitNum: maxInt(it.Addr.BitNum, 0), Count: len(data) / tr.ElementSize(),
		}
		if it.Addr.BitNum >= 0 {
			part.Count = 1
		}
		current = append(current, &writeItem{Part: part, Data: data})
		curLen += overheadPerItem + len(data)
	}
	if len(current) > 0 {
		packets = append(packets, current)
	}

	grp, gctx := errgroup.WithContext(ctx)
	for _, pkt := range packets {
		pkt := pkt
		grp.Go(func() error {
			codes, err := conn.WriteItems(gctx, pkt)
			if err != nil {
				return err
			}
			for _, code := range codes {
				if code != ReturnOK {
					return itemError(code)
				}
			}
			return nil
		})
	}
	return grp.Wait()
}
