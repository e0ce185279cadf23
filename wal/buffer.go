package wal

import "math"

// recordBuffer accumulates one record's payload before it's copied into the
// mmap'd event file in a single append, so the length patched into the
// frame's leading slot is computed from a plain Go slice rather than poked
// field-by-field into the mapping.
type recordBuffer struct {
	buf []byte
}

func (b *recordBuffer) putUint8(v uint8)     { b.buf = append(b.buf, v) }
func (b *recordBuffer) putBool(v bool) {
	if v {
		b.putUint8(1)
	} else {
		b.putUint8(0)
	}
}

func (b *recordBuffer) putInt32(v int32) {
	var tmp [4]byte
	putLE32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *recordBuffer) putInt64(v int64) {
	var tmp [8]byte
	putLE64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *recordBuffer) putFloat64(v float64) {
	b.putInt64(int64(math.Float64bits(v)))
}

func (b *recordBuffer) putStr(s string) {
	b.putInt32(int32(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *recordBuffer) putBytes(p []byte) {
	b.putInt32(int32(len(p)))
	b.buf = append(b.buf, p...)
}

// recordCursor reads a decoded record payload back out in the same order it
// was written.
type recordCursor struct {
	buf []byte
	pos int
}

func (c *recordCursor) uint8() uint8 {
	v := c.buf[c.pos]
	c.pos++
	return v
}

func (c *recordCursor) boolv() bool { return c.uint8() != 0 }

func (c *recordCursor) int32() int32 {
	v := le32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v
}

func (c *recordCursor) int64() int64 {
	v := le64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v
}

func (c *recordCursor) float64() float64 {
	return math.Float64frombits(uint64(c.int64()))
}

func (c *recordCursor) str() string {
	n := int(c.int32())
	s := string(c.buf[c.pos : c.pos+n])
	c.pos += n
	return s
}

func (c *recordCursor) bytes() []byte {
	n := int(c.int32())
	p := append([]byte(nil), c.buf[c.pos:c.pos+n]...)
	c.pos += n
	return p
}
