package featuresort

import (
	"encoding/binary"
	"math"
)

// packBuffer is a growable byte buffer reused across records, so a
// feature's value bytes are assembled without a fresh per-feature byte
// buffer (spec §4.B "Reusable pack buffer"). The geometry command stream
// is not covered: encodeCommands builds it in a new slice for each
// feature before copying it in.
type packBuffer struct {
	buf []byte
}

func newPackBuffer() *packBuffer {
	return &packBuffer{buf: make([]byte, 0, 256)}
}

func (b *packBuffer) reset() {
	b.buf = b.buf[:0]
}

func (b *packBuffer) bytes() []byte {
	return b.buf
}

// snapshot returns an independent copy of the current contents, for callers
// that need to retain a value across the next reset (e.g. last-value
// memoisation).
func (b *packBuffer) snapshot() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *packBuffer) putU8(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *packBuffer) putBool(v bool) {
	if v {
		b.putU8(1)
	} else {
		b.putU8(0)
	}
}

func (b *packBuffer) putVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	b.buf = append(b.buf, tmp[:n]...)
}

func (b *packBuffer) putUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.buf = append(b.buf, tmp[:n]...)
}

func (b *packBuffer) putF64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.buf = append(b.buf, tmp[:]...)
}

func (b *packBuffer) putString(s string) {
	b.putUvarint(uint64(len(s)))
	b.buf = append(b.buf, s...)
}

// cursor reads sequentially from a value byte slice.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() bool {
	return c.pos < len(c.buf)
}

func (c *cursor) getU8() uint8 {
	v := c.buf[c.pos]
	c.pos++
	return v
}

func (c *cursor) getBool() bool {
	return c.getU8() != 0
}

func (c *cursor) getVarint() int64 {
	v, n := binary.Varint(c.buf[c.pos:])
	c.pos += n
	return v
}

func (c *cursor) getUvarint() uint64 {
	v, n := binary.Uvarint(c.buf[c.pos:])
	c.pos += n
	return v
}

func (c *cursor) getF64() float64 {
	bits := binary.LittleEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return math.Float64frombits(bits)
}

func (c *cursor) getString() string {
	n := c.getUvarint()
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s
}
