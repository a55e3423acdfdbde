package s7

import "sort"

// planItemMember is one item's placement within a part's byte window:
// byteCount bytes starting at sourceOffset within the part's response window
// map to the item's own scratch buffer starting at destOffset (nonzero only
// when an oversized item has been split across packets).
type planItemMember struct {
	item         *Item
	sourceOffset int
	destOffset   int
	byteCount    int
}

// planPart is one S7-ANY read/write window covering one or more coalesced
// items. The planner always addresses parts as TransportByte: a single bit
// item promotes to a whole-byte read (the item decodes its own bit back out
// of the returned byte, per §4.6 "forces the whole part to transport BYTE").
type planPart struct {
	area     Area
	dbNumber int
	start    int // byte offset
	length   int // byte span
	members  []planItemMember
}

func (p *planPart) toReadPart() *readPart {
	return &readPart{Area: p.area, DBNumber: p.dbNumber, Transport: TransportByte, Address: p.start, Count: p.length}
}

// planPacket is one ReadVar/WriteVar PDU: a set of parts that together fit
// one pduSize budget.
type planPacket struct {
	parts []*planPart
}

// plan is the full packing of an item group's current members, rebuilt
// whenever the group is invalidated (item set change or pdu-size change).
type plan struct {
	packets []*planPacket
}

const (
	readRequestHeaderOverhead  = 12 // funcReadVar + item count + nothing else at packet level
	readResponseHeaderOverhead = 14
	readRequestPartOverhead    = 12 // one S7-ANY descriptor
	readResponsePartOverhead   = 4  // return code + transport + length
)

// sortItemsForPlanning orders items per §4.6 step 1: area ascending, db
// number ascending (within DB), byte offset ascending, bit offset ascending,
// byte length descending, with the item name as the final tie-break so the
// plan is deterministic regardless of map iteration order (property P4).
func sortItemsForPlanning(items []*Item) []*Item {
	sorted := make([]*Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Addr, sorted[j].Addr
		if a.Area != b.Area {
			return a.Area < b.Area
		}
		if a.Area == AreaDB && a.DBNumber != b.DBNumber {
			return a.DBNumber < b.DBNumber
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		if a.BitNum != b.BitNum {
			return a.BitNum < b.BitNum
		}
		if a.ByteLengthWithFill() != b.ByteLengthWithFill() {
			return a.ByteLengthWithFill() > b.ByteLengthWithFill()
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

// canCoalesce decides whether addr may join part, per §4.6 step 2: same
// optimizable area, same db, and the distance between the part's end and the
// item's start under the gap. The distance may be negative (the sort puts
// larger covering items first, so a later item can start inside the part's
// window); a non-positive gap setting disables coalescing entirely.
func canCoalesce(part *planPart, addr *Address, optimizationGap int) bool {
	if optimizationGap <= 0 {
		return false
	}
	if !addr.Area.Optimizable() {
		return false
	}
	if part.area != addr.Area {
		return false
	}
	if addr.Area == AreaDB && part.dbNumber != addr.DBNumber {
		return false
	}
	return addr.Offset-(part.start+part.length) < optimizationGap
}

// buildPlan packs items into packets bounded by pduSize, per §4.6 steps 2-4.
func buildPlan(items []*Item, pduSize int, optimizationGap int) *plan {
	maxPayload := pduSize - 18

	var packets []*planPacket
	curPacket := &planPacket{}
	var curPart *planPart
	reqLen := readRequestHeaderOverhead
	respLen := readResponseHeaderOverhead

	flushPart := func() {
		if curPart != nil {
			curPacket.parts = append(curPacket.parts, curPart)
			curPart = nil
		}
	}
	openPacket := func() {
		flushPart()
		packets = append(packets, curPacket)
		curPacket = &planPacket{}
		reqLen = readRequestHeaderOverhead
		respLen = readResponseHeaderOverhead
	}

	for _, it := range sortItemsForPlanning(items) {
		offset := it.Addr.Offset
		total := it.Addr.ByteLengthWithFill()
		consumed := 0 // bytes of this item already placed into earlier parts

		for consumed < total {
			remaining := total - consumed

			// Whole items may join the current part; split remainders never
			// coalesce (their window math is keyed to the original offset).
			if consumed == 0 && curPart != nil && canCoalesce(curPart, it.Addr, optimizationGap) {
				newEnd := offset + remaining
				if newEnd < curPart.start+curPart.length {
					newEnd = curPart.start + curPart.length
				}
				growth := newEnd - (curPart.start + curPart.length)
				if respLen+growth <= maxPayload {
					curPart.length = newEnd - curPart.start
					curPart.members = append(curPart.members, planItemMember{
						item: it, sourceOffset: offset - curPart.start, destOffset: 0, byteCount: remaining,
					})
					respLen += growth
					consumed = total
					continue
				}
			}

			reqCost := readRequestPartOverhead
			respCost := readResponsePartOverhead + remaining
			if reqLen+reqCost <= maxPayload && respLen+respCost <= maxPayload {
				flushPart()
				curPart = &planPart{area: it.Addr.Area, dbNumber: it.Addr.DBNumber, start: offset, length: remaining}
				curPart.members = append(curPart.members, planItemMember{
					item: it, sourceOffset: 0, destOffset: consumed, byteCount: remaining,
				})
				reqLen += reqCost
				respLen += respCost
				consumed = total
				continue
			}

			// Doesn't fit the current packet. If the packet already holds
			// anything, close it and retry against a fresh one.
			if curPart != nil || len(curPacket.parts) > 0 {
				openPacket()
				continue
			}

			// Doesn't fit even a fresh packet: split, consuming what the
			// packet can hold, and continue the remainder in the next one.
			chunk := maxPayload - respLen - readResponsePartOverhead
			if chunk < 1 {
				chunk = 1
			}
			if chunk > remaining {
				chunk = remaining
			}
			curPart = &planPart{area: it.Addr.Area, dbNumber: it.Addr.DBNumber, start: offset, length: chunk}
			curPart.members = append(curPart.members, planItemMember{
				item: it, sourceOffset: 0, destOffset: consumed, byteCount: chunk,
			})
			offset += chunk
			consumed += chunk
			openPacket()
		}
	}
	flushPart()
	if len(curPacket.parts) > 0 {
		packets = append(packets, curPacket)
	}

	return &plan{packets: packets}
}
