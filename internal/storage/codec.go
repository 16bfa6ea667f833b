package storage

import "kvserver/internal/wire"

// encodeValue/decodeValue let the disk-backed Backends reuse the wire
// package's Value encoding for on-disk bytes instead of inventing a second
// serialization format.
func encodeValue(v wire.Value) []byte {
	if v.Kind == wire.KindNone {
		return nil
	}
	return wire.AppendKvpair(nil, wire.Kvpair{Value: v})
}

func decodeValue(b []byte) wire.Value {
	if len(b) == 0 {
		return wire.NoneValue()
	}
	kv, n := wire.ConsumeKvpair(b)
	if n < 0 {
		return wire.NoneValue()
	}
	return kv.Value
}
