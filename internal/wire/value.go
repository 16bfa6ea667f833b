// Package wire implements the protobuf-wire-format encoding of the service's
// request/response schema by hand, using protowire's low level primitives
// directly rather than generated code. Field numbers below are load-bearing:
// changing one breaks compatibility with any client built against this
// schema.
package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates the Value oneof.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindBytes
	KindInt
	KindFloat
	KindBool
)

// Value field numbers within its oneof.
const (
	fieldValueString = 1
	fieldValueBytes  = 2
	fieldValueInt    = 3
	fieldValueFloat  = 4
	fieldValueBool   = 5
)

// Value is a tagged union over the five representable scalar types plus an
// explicit "none" variant, used as the prior-value placeholder for commands
// on a missing key.
type Value struct {
	Kind  Kind
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	Bool  bool
}

func NoneValue() Value           { return Value{Kind: KindNone} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BytesValue(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

// AppendValue appends v's wire encoding to dst. A None value contributes no
// bytes at all, matching protobuf's "unset field" convention.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindNone:
		return dst
	case KindString:
		dst = protowire.AppendTag(dst, fieldValueString, protowire.BytesType)
		return protowire.AppendString(dst, v.Str)
	case KindBytes:
		dst = protowire.AppendTag(dst, fieldValueBytes, protowire.BytesType)
		return protowire.AppendBytes(dst, v.Bytes)
	case KindInt:
		dst = protowire.AppendTag(dst, fieldValueInt, protowire.VarintType)
		return protowire.AppendVarint(dst, uint64(v.Int))
	case KindFloat:
		dst = protowire.AppendTag(dst, fieldValueFloat, protowire.Fixed64Type)
		return protowire.AppendFixed64(dst, math.Float64bits(v.Float))
	case KindBool:
		dst = protowire.AppendTag(dst, fieldValueBool, protowire.VarintType)
		b := uint64(0)
		if v.Bool {
			b = 1
		}
		return protowire.AppendVarint(dst, b)
	default:
		return dst
	}
}

// ConsumeValueField parses a single field belonging to a Value message, given
// its field number, wire type, and remaining buffer. It returns the updated
// Value and bytes consumed. Unknown fields are skipped. Callers drive the
// outer field loop; Value is always embedded inside another message, never
// top-level.
func ConsumeValueField(v Value, num protowire.Number, typ protowire.Type, b []byte) (Value, int) {
	switch num {
	case fieldValueString:
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return v, n
		}
		return StringValue(s), n
	case fieldValueBytes:
		bs, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return v, n
		}
		cp := make([]byte, len(bs))
		copy(cp, bs)
		return BytesValue(cp), n
	case fieldValueInt:
		i, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return v, n
		}
		return IntValue(int64(i)), n
	case fieldValueFloat:
		f, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return v, n
		}
		return FloatValue(math.Float64frombits(f)), n
	case fieldValueBool:
		bv, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return v, n
		}
		return BoolValue(bv != 0), n
	default:
		n := protowire.ConsumeFieldValue(num, typ, b)
		return v, n
	}
}
