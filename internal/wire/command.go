package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// CommandKind enumerates the twelve request variants the service accepts.
type CommandKind uint8

const (
	CmdHget CommandKind = iota + 1
	CmdHgetall
	CmdHmget
	CmdHset
	CmdHmset
	CmdHdel
	CmdHmdel
	CmdHexist
	CmdHmexist
	CmdSubscribe
	CmdUnsubscribe
	CmdPublish
)

var commandNames = map[CommandKind]string{
	CmdHget:        "hget",
	CmdHgetall:     "hgetall",
	CmdHmget:       "hmget",
	CmdHset:        "hset",
	CmdHmset:       "hmset",
	CmdHdel:        "hdel",
	CmdHmdel:       "hmdel",
	CmdHexist:      "hexist",
	CmdHmexist:     "hmexist",
	CmdSubscribe:   "subscribe",
	CmdUnsubscribe: "unsubscribe",
	CmdPublish:     "publish",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// CommandRequest field numbers.
const (
	fieldReqTable          = 1
	fieldReqKind           = 2
	fieldReqKey            = 3
	fieldReqValue          = 4
	fieldReqKeys           = 5
	fieldReqPairs          = 6
	fieldReqTopic          = 7
	fieldReqSubscriptionID = 8
	fieldReqValues         = 9
)

// CommandRequest is the decoded form of a frame body sent by a client.
// Not every field is meaningful for every Kind; see internal/dispatch for
// the per-command contract.
type CommandRequest struct {
	Table          string
	Kind           CommandKind
	Key            string
	Value          Value
	Keys           []string
	Pairs          []Kvpair
	Topic          string
	SubscriptionID uint32
	Values         []Value
}

func (r CommandRequest) Marshal() []byte {
	var dst []byte
	dst = protowire.AppendTag(dst, fieldReqTable, protowire.BytesType)
	dst = protowire.AppendString(dst, r.Table)

	dst = protowire.AppendTag(dst, fieldReqKind, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(r.Kind))

	if r.Key != "" {
		dst = protowire.AppendTag(dst, fieldReqKey, protowire.BytesType)
		dst = protowire.AppendString(dst, r.Key)
	}
	if r.Value.Kind != KindNone {
		dst = appendEmbeddedValue(dst, fieldReqValue, r.Value)
	}
	for _, k := range r.Keys {
		dst = protowire.AppendTag(dst, fieldReqKeys, protowire.BytesType)
		dst = protowire.AppendString(dst, k)
	}
	for _, p := range r.Pairs {
		inner := AppendKvpair(nil, p)
		dst = protowire.AppendTag(dst, fieldReqPairs, protowire.BytesType)
		dst = protowire.AppendBytes(dst, inner)
	}
	if r.Topic != "" {
		dst = protowire.AppendTag(dst, fieldReqTopic, protowire.BytesType)
		dst = protowire.AppendString(dst, r.Topic)
	}
	if r.SubscriptionID != 0 {
		dst = protowire.AppendTag(dst, fieldReqSubscriptionID, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.SubscriptionID))
	}
	for _, v := range r.Values {
		dst = appendEmbeddedValue(dst, fieldReqValues, v)
	}
	return dst
}

func UnmarshalCommandRequest(b []byte) (CommandRequest, error) {
	var r CommandRequest
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return r, ErrMalformed
		}
		off += n
		switch num {
		case fieldReqTable:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Table = s
			off += n
		case fieldReqKind:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Kind = CommandKind(v)
			off += n
		case fieldReqKey:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Key = s
			off += n
		case fieldReqValue:
			v, n := consumeEmbeddedValue(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Value = v
			off += n
		case fieldReqKeys:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Keys = append(r.Keys, s)
			off += n
		case fieldReqPairs:
			inner, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			p, pn := ConsumeKvpair(inner)
			if pn < 0 {
				return r, ErrMalformed
			}
			r.Pairs = append(r.Pairs, p)
			off += n
		case fieldReqTopic:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Topic = s
			off += n
		case fieldReqSubscriptionID:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.SubscriptionID = uint32(v)
			off += n
		case fieldReqValues:
			v, n := consumeEmbeddedValue(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Values = append(r.Values, v)
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			off += n
		}
	}
	return r, nil
}

// Status codes carried in CommandResponse.Status.
const (
	StatusOK                  = 200
	StatusUnprocessableEntity = 422
	StatusNotFound            = 404
	StatusInternalError       = 500
)

// CommandResponse field numbers.
const (
	fieldRespStatus         = 1
	fieldRespMessage        = 2
	fieldRespValues         = 3
	fieldRespPairs          = 4
	fieldRespSubscriptionID = 5
)

// CommandResponse is the decoded form of a frame body sent back to a client.
// A Subscribe call's welcome response carries SubscriptionID; everything
// else leaves it zero.
type CommandResponse struct {
	Status         uint16
	Message        string
	Values         []Value
	Pairs          []Kvpair
	SubscriptionID uint32
}

func (r CommandResponse) Marshal() []byte {
	var dst []byte
	dst = protowire.AppendTag(dst, fieldRespStatus, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(r.Status))

	if r.Message != "" {
		dst = protowire.AppendTag(dst, fieldRespMessage, protowire.BytesType)
		dst = protowire.AppendString(dst, r.Message)
	}
	for _, v := range r.Values {
		dst = appendEmbeddedValue(dst, fieldRespValues, v)
	}
	for _, p := range r.Pairs {
		inner := AppendKvpair(nil, p)
		dst = protowire.AppendTag(dst, fieldRespPairs, protowire.BytesType)
		dst = protowire.AppendBytes(dst, inner)
	}
	if r.SubscriptionID != 0 {
		dst = protowire.AppendTag(dst, fieldRespSubscriptionID, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.SubscriptionID))
	}
	return dst
}

func UnmarshalCommandResponse(b []byte) (CommandResponse, error) {
	var r CommandResponse
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return r, ErrMalformed
		}
		off += n
		switch num {
		case fieldRespStatus:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Status = uint16(v)
			off += n
		case fieldRespMessage:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Message = s
			off += n
		case fieldRespValues:
			v, n := consumeEmbeddedValue(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.Values = append(r.Values, v)
			off += n
		case fieldRespPairs:
			inner, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			p, pn := ConsumeKvpair(inner)
			if pn < 0 {
				return r, ErrMalformed
			}
			r.Pairs = append(r.Pairs, p)
			off += n
		case fieldRespSubscriptionID:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			r.SubscriptionID = uint32(v)
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return r, ErrMalformed
			}
			off += n
		}
	}
	return r, nil
}
