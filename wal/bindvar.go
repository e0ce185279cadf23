package wal

import "fmt"

// BindTag discriminates BindValue's payload. Serialization dispatches on
// this tag with one encoder function per case rather than virtual dispatch
// through a generic "function" interface, per spec.md §9's design note on
// bind-variable serialization.
type BindTag uint8

const (
	BindNull BindTag = iota
	BindBool
	BindInt64
	BindFloat64
	BindString
	BindBytes
)

// BindValue is one indexed (`$1`) or named (`:name`) bind variable snapshot
// taken at WAL-append time, so replay reproduces the exact value a
// non-deterministic bind-variable function produced originally.
type BindValue struct {
	Tag    BindTag
	Bool   bool
	Int64  int64
	Float64 float64
	Str    string
	Bytes  []byte
}

func encodeBindValue(buf *recordBuffer, v BindValue) {
	buf.putUint8(uint8(v.Tag))
	switch v.Tag {
	case BindNull:
		// no payload
	case BindBool:
		buf.putBool(v.Bool)
	case BindInt64:
		buf.putInt64(v.Int64)
	case BindFloat64:
		buf.putFloat64(v.Float64)
	case BindString:
		buf.putStr(v.Str)
	case BindBytes:
		buf.putBytes(v.Bytes)
	default:
		panic(fmt.Sprintf("wal: unsupported bind variable tag %d", v.Tag))
	}
}

func decodeBindValue(buf *recordCursor) BindValue {
	tag := BindTag(buf.uint8())
	v := BindValue{Tag: tag}
	switch tag {
	case BindNull:
	case BindBool:
		v.Bool = buf.boolv()
	case BindInt64:
		v.Int64 = buf.int64()
	case BindFloat64:
		v.Float64 = buf.float64()
	case BindString:
		v.Str = buf.str()
	case BindBytes:
		v.Bytes = buf.bytes()
	default:
		panic(fmt.Sprintf("wal: unsupported bind variable tag %d", tag))
	}
	return v
}

func encodeIndexedBindVars(buf *recordBuffer, vars []BindValue) {
	buf.putInt32(int32(len(vars)))
	for _, v := range vars {
		encodeBindValue(buf, v)
	}
}

func encodeNamedBindVars(buf *recordBuffer, vars []NamedBindVar) {
	buf.putInt32(int32(len(vars)))
	for _, nv := range vars {
		buf.putStr(nv.Name)
		encodeBindValue(buf, nv.Value)
	}
}

func decodeIndexedBindVars(buf *recordCursor) []BindValue {
	n := buf.int32()
	if n == 0 {
		return nil
	}
	vars := make([]BindValue, n)
	for i := range vars {
		vars[i] = decodeBindValue(buf)
	}
	return vars
}

func decodeNamedBindVars(buf *recordCursor) []NamedBindVar {
	n := buf.int32()
	if n == 0 {
		return nil
	}
	vars := make([]NamedBindVar, n)
	for i := range vars {
		vars[i].Name = buf.str()
		vars[i].Value = decodeBindValue(buf)
	}
	return vars
}
