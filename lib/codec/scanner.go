package codec

import (
	"errors"
	"io"
)

// RawRecord is a record as it appears on the wire, without any type
// information applied. Scanners produce them for inspection tools.
type RawRecord struct {
	Offset  int64
	Tag     RecordTag
	TypeTag TypeID
	Version uint32
	Handle  Handle
	Fields  []RawField
	// Value holds the payload of a primitive record
	Value Value
}

// RawField is one field of a raw object record. Record is set for reference
// fields and describes the nested record (object, back-reference or null).
type RawField struct {
	Name   string
	Kind   Kind
	Value  Value
	Record *RawRecord
}

// Scanner walks the records of a stream without a registry. It checks the
// structure of the stream but never instantiates objects, so it can be used
// on streams whose types are unknown.
type Scanner struct {
	in     *wireReader
	limits FilterPolicy
	header bool
	err    error
}

// NewScanner creates a scanner. Only the depth and byte limits of the policy
// apply; type rules are ignored.
func NewScanner(r io.Reader, limits FilterPolicy) *Scanner {
	return &Scanner{in: newWireReader(r, limits.MaxBytes), limits: limits}
}

// Offset returns the number of bytes consumed so far
func (s *Scanner) Offset() int64 {
	return s.in.off
}

// Next returns the next top-level record including reset markers, or io.EOF
func (s *Scanner) Next() (*RawRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, err := s.next()
	if err != nil && !errors.Is(err, io.EOF) {
		var de *DecodeError
		if !errors.As(err, &de) {
			err = &DecodeError{Err: err, Offset: s.in.off, Handle: NoHandle}
		}
		s.err = err
	}
	return rec, err
}

func (s *Scanner) next() (*RawRecord, error) {
	if eof, err := s.in.atEOF(); err != nil {
		return nil, err
	} else if eof {
		return nil, io.EOF
	}
	if !s.header {
		if err := s.in.header(); err != nil {
			return nil, err
		}
		s.header = true
		if eof, err := s.in.atEOF(); err != nil {
			return nil, err
		} else if eof {
			return nil, io.EOF
		}
	}
	return s.record(0)
}

// record reads one record including its tag
func (s *Scanner) record(depth int) (*RawRecord, error) {
	rec := &RawRecord{Offset: s.in.off, Handle: NoHandle}
	tag, err := s.in.u8()
	if err != nil {
		return nil, err
	}
	rec.Tag = RecordTag(tag)

	switch rec.Tag {
	case TagNull, TagReset:
		return rec, nil
	case TagBackRef:
		h, err := s.in.u32()
		if err != nil {
			return nil, err
		}
		rec.Handle = Handle(h)
		return rec, nil
	case TagPrimitive:
		if depth > 0 {
			return nil, corrupt("primitive record inside object")
		}
		kind, err := s.in.u8()
		if err != nil {
			return nil, err
		}
		if Kind(kind) == KindRef || !Kind(kind).valid() {
			return nil, corrupt("invalid primitive kind %d", kind)
		}
		if rec.Value, err = s.in.primitive(Kind(kind)); err != nil {
			return nil, err
		}
		return rec, nil
	case TagObject:
	default:
		return nil, corrupt("unexpected record tag %s", rec.Tag)
	}

	if err := s.limits.checkDepth(depth + 1); err != nil {
		return nil, err
	}
	typeTag, err := s.in.u32()
	if err != nil {
		return nil, err
	}
	if rec.Version, err = s.in.u32(); err != nil {
		return nil, err
	}
	h, err := s.in.u32()
	if err != nil {
		return nil, err
	}
	rec.TypeTag, rec.Handle = TypeID(typeTag), Handle(h)

	count, err := s.in.u16()
	if err != nil {
		return nil, err
	}
	rec.Fields = make([]RawField, 0, min(int(count), 64))
	for i := 0; i < int(count); i++ {
		var f RawField
		if f.Name, err = s.in.name(); err != nil {
			return nil, err
		}
		kind, err := s.in.u8()
		if err != nil {
			return nil, err
		}
		f.Kind = Kind(kind)
		switch {
		case f.Kind == KindRef:
			if f.Record, err = s.record(depth + 1); err != nil {
				return nil, err
			}
			if f.Record.Tag == TagReset {
				return nil, corrupt("reset marker inside object")
			}
		case f.Kind.valid():
			if f.Value, err = s.in.primitive(f.Kind); err != nil {
				return nil, err
			}
		default:
			return nil, corrupt("invalid field kind %d", kind)
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec, nil
}
