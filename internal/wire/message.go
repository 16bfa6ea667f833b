package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a buffer cannot be parsed as the expected
// message type.
var ErrMalformed = errors.New("wire: malformed message")

// Kvpair field numbers.
const (
	fieldKvpairKey   = 1
	fieldKvpairValue = 2
)

// Kvpair is a (key, value) pair as carried in Hgetall responses and Hmset
// requests.
type Kvpair struct {
	Key   string
	Value Value
}

func AppendKvpair(dst []byte, p Kvpair) []byte {
	dst = protowire.AppendTag(dst, fieldKvpairKey, protowire.BytesType)
	dst = protowire.AppendString(dst, p.Key)
	if p.Value.Kind != KindNone {
		dst = appendEmbeddedValue(dst, fieldKvpairValue, p.Value)
	}
	return dst
}

func ConsumeKvpair(b []byte) (Kvpair, int) {
	var p Kvpair
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return p, n
		}
		off += n
		switch num {
		case fieldKvpairKey:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return p, n
			}
			p.Key = s
			off += n
		case fieldKvpairValue:
			v, n := consumeEmbeddedValue(b[off:])
			if n < 0 {
				return p, n
			}
			p.Value = v
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return p, n
			}
			off += n
		}
	}
	return p, off
}

// appendEmbeddedValue writes v as a length-delimited submessage under field
// number num (used wherever a Value is nested inside another message).
func appendEmbeddedValue(dst []byte, num protowire.Number, v Value) []byte {
	inner := AppendValue(nil, v)
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, inner)
}

func consumeEmbeddedValue(b []byte) (Value, int) {
	inner, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return Value{}, n
	}
	v := NoneValue()
	off := 0
	for off < len(inner) {
		num, typ, tn := protowire.ConsumeTag(inner[off:])
		if tn < 0 {
			return v, tn
		}
		off += tn
		nv, fn := ConsumeValueField(v, num, typ, inner[off:])
		if fn < 0 {
			return v, fn
		}
		v = nv
		off += fn
	}
	return v, n
}
