// Package codec implements a binary object-graph codec. It converts an
// arbitrary, possibly cyclic, graph of registered objects into a byte stream
// and back while preserving reference identity.
//
// The package focuses on:
//   - Identity and cycle preservation through stream-local handles
//   - Versioned field schemas that are decoupled from the in-memory layout
//   - Object substitution on the write and the read path (proxies, singletons)
//   - A security filter that bounds type, depth, handle count and size of
//     untrusted input before any object is materialized
//
// Key Components:
//
//   - Registry: Maps a TypeID to its TypeDescriptor and SubstitutionRule. It is
//     populated once at startup and is read-only afterward (see Registry.Seal).
//
//   - TypeDescriptor / FieldSchema: The persisted form of a type. Only fields
//     listed in the descriptor travel over the wire; omitting a field is how a
//     type excludes transient state.
//
//   - Serializable: Implemented by every persisted type. WriteFields fills a
//     Fields map by name, ReadFields reads it back. Reference fields are read
//     with ReadRef, which defers assignment until the target is final.
//
//   - Encoder: Walks a graph depth-first. The record header and its handle are
//     emitted before the fields, so a field pointing back to an ancestor is
//     written as a back-reference instead of recursing forever.
//
//   - Decoder: Reads records, evaluates the FilterPolicy before a record is
//     interpreted, registers a blank instance under its handle before reading
//     fields and applies migrations, resolve hooks and validation.
//
//   - FilterPolicy: Ordered allow/deny patterns (first match wins, default
//     deny) plus ceilings for depth, handle count and stream size.
//
// Wire Format:
//
//	Stream          := Header Record*
//	Header          := magic:u32 format_version:u16
//	ObjectRecord    := 0x01 type_tag:u32 type_version:u32 handle:u32 field_count:u16 Field*
//	BackReference   := 0x02 handle:u32
//	NullRecord      := 0x03
//	ResetMarker     := 0x04
//	PrimitiveRecord := 0x05 kind:u8 payload
//	Field           := name_len:u16 name kind:u8 payload
//
// All integers are big-endian. Fields carry their name ahead of the kind, so
// a reader can drop fields a newer writer added and default the ones it
// removed without knowing the writer's schema. A reference field carries a
// nested record (object, back-reference or null) rather than a bare handle:
// the first occurrence of an object is written in place and later ones as
// back-references. Handles of tracked objects are assigned from 0 in write
// order and start over after a reset marker; untracked objects carry
// 0xFFFFFFFF.
//
// Thread Safety:
//
//	Encoder and Decoder instances are not safe for concurrent use. Independent
//	instances may run concurrently as long as they only share a sealed Registry.
//
// Usage:
//
//	reg := codec.NewRegistry()
//	_ = reg.RegisterType(nodeDescriptor)
//	reg.Seal()
//
//	data, err := codec.Marshal(reg, root)
//	// ...
//	obj, err := codec.Unmarshal(reg, data, codec.AllowAll())
package codec
