package s7

// Item holds one group member's parsed address and scratch decode buffer
// (§4.5). The scratch buffer is reused across reads so a group read never
// reallocates per tag.
type Item struct {
	Name string
	Addr *Address
	buf  []byte
}

// NewItem parses address and builds the Item, sizing its scratch buffer to
// the address's byte-length-with-fill.
func NewItem(name, address string) (*Item, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Item{Name: name, Addr: addr, buf: make([]byte, addr.ByteLengthWithFill())}, nil
}

// getReadItemRequest returns the part descriptor for reading this item in
// isolation (used when the planner does not coalesce it with neighbors).
func (it *Item) getReadItemRequest() *readPart {
	return addressToS7Any(it.Addr)
}

// copyOffsets identifies where this item's bytes live within a part response
// window starting at windowAddr spanning windowLen bytes. ok is false if the
// window does not cover the item.
type copyOffsets struct {
	sourceOffset int
	destOffset   int
	byteCount    int
}

func (it *Item) getCopyBufferOffsets(windowAddr, windowLen int) (copyOffsets, bool) {
	itemStart := it.Addr.Offset
	itemEnd := itemStart + it.Addr.ByteLengthWithFill()
	windowEnd := windowAddr + windowLen
	if itemStart < windowAddr || itemEnd > windowEnd {
		return copyOffsets{}, false
	}
	return copyOffsets{
		sourceOffset: itemStart - windowAddr,
		destOffset:   0,
		byteCount:    it.Addr.ByteLengthWithFill(),
	}, true
}

// copyFromBuffer scatters byteCount bytes from response[sourceOffset:] into
// the item's scratch buffer starting at destOffset.
func (it *Item) copyFromBuffer(response []byte, off copyOffsets) {
	if len(it.buf) < off.destOffset+off.byteCount {
		grown := make([]byte, off.destOffset+off.byteCount)
		copy(grown, it.buf)
		it.buf = grown
	}
	copy(it.buf[off.destOffset:off.destOffset+off.byteCount], response[off.sourceOffset:off.sourceOffset+off.byteCount])
}

// updateValueFromBuffer decodes the scratch buffer into a typed TagValue.
func (it *Item) updateValueFromBuffer() *TagValue {
	return &TagValue{
		Name:     it.Name,
		DataType: it.Addr.DataType,
		Bytes:    it.buf,
		BitNum:   it.Addr.BitNum,
		Count:    it.Addr.Count,
	}
}

// getWriteBuffer encodes value into a fresh buffer sized by
// byte-length-with-fill, ready to hand to a writeItem part.
func (it *Item) getWriteBuffer(value interface{}) ([]byte, error) {
	data, err := EncodeValue(it.Addr, value)
	if err != nil {
		return nil, err
	}
	if len(data) < it.Addr.ByteLengthWithFill() {
		padded := make([]byte, it.Addr.ByteLengthWithFill())
		copy(padded, data)
		data = padded
	}
	return data, nil
}

// writeTransportCode is the S7-ANY transport this item writes as: BIT for
// bit-addressed items, else the address's own Transport().
func (it *Item) writeTransportCode() Transport {
	if it.Addr.BitNum >= 0 {
		return TransportBit
	}
	return it.Addr.Transport()
}
