// Package dump describes codec streams without decoding them. A Dump is built
// from the raw records of a stream (see codec.Scanner), so streams whose
// types are unknown, denied by a filter or simply broken can still be looked
// at.
//
// Key Components:
//
//   - Dump: the record tree of a stream together with statistics (record
//     kinds, type histogram, record sizes, nesting depth) and a BLAKE3
//     fingerprint of the stream bytes.
//
//   - IDumpSerializer: interface for rendering dumps. Implementations exist
//     for JSON, CBOR, MessagePack, gob and a human-readable text layout. All
//     but the text layout can read a dump back.
//
// Thread Safety:
//
//	Building a dump reads its input sequentially. Serializers are stateless
//	and safe for concurrent use.
//
// Usage:
//
//	d, err := dump.Build(r, codec.FilterPolicy{MaxBytes: 1 << 20}, dump.WithRegistry(reg))
//	s, _ := dump.NewSerializer("json")
//	data, err := s.Serialize(d)
package dump
