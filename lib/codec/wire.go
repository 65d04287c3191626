package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// --------------------------------------------------------------------------
// Protocol constants
// --------------------------------------------------------------------------

const (
	// StreamMagic opens every stream ("OGC1")
	StreamMagic uint32 = 0x4F474331
	// FormatVersion is the version of the record layout
	FormatVersion uint16 = 1
	// HeaderSize is the size of the stream header in bytes
	HeaderSize = 6
)

// RecordTag is the first byte of every record
type RecordTag uint8

const (
	TagObject    RecordTag = 0x01 // Full object record
	TagBackRef   RecordTag = 0x02 // Reference to a handle written earlier
	TagNull      RecordTag = 0x03 // Null reference
	TagReset     RecordTag = 0x04 // Both handle tables are cleared
	TagPrimitive RecordTag = 0x05 // Top-level primitive value
)

// String returns the string representation of a RecordTag.
func (t RecordTag) String() string {
	switch t {
	case TagObject:
		return "object"
	case TagBackRef:
		return "backref"
	case TagNull:
		return "null"
	case TagReset:
		return "reset"
	case TagPrimitive:
		return "primitive"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

const (
	maxFieldNameLen = 255
	maxFieldCount   = 1<<16 - 1

	// blobs above this size are read incrementally, so a forged length
	// prefix cannot force a large allocation up front
	blobChunk = 64 * 1024
)

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// wireWriter appends big-endian encoded values to a buffer
type wireWriter struct {
	buf bytes.Buffer
}

func (w *wireWriter) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *wireWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *wireWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *wireWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// blob writes a u32 length prefix followed by the data
func (w *wireWriter) blob(p []byte) {
	w.u32(uint32(len(p)))
	w.buf.Write(p)
}

func (w *wireWriter) header() {
	w.u32(StreamMagic)
	w.u16(FormatVersion)
}

// primitive writes the payload of a primitive value
func (w *wireWriter) primitive(v Value) error {
	switch v.Kind {
	case KindNull:
	case KindInt:
		w.u64(uint64(v.i))
	case KindFloat:
		w.u64(floatBits(v.f))
	case KindBool:
		if v.b {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case KindBytes:
		if uint64(len(v.raw)) > 1<<32-1 {
			return fmt.Errorf("%w: byte field too large", ErrInvalidObjectState)
		}
		w.blob(v.raw)
	case KindString:
		if uint64(len(v.s)) > 1<<32-1 {
			return fmt.Errorf("%w: string field too large", ErrInvalidObjectState)
		}
		w.u32(uint32(len(v.s)))
		w.buf.WriteString(v.s)
	default:
		return fmt.Errorf("%w: %s is not a primitive kind", ErrInvalidObjectState, v.Kind)
	}
	return nil
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// errByteLimit is returned by wireReader when a read would cross the byte limit
var errByteLimit = errors.New("byte limit reached")

// wireReader reads big-endian values and keeps track of the stream offset.
// With a non-zero limit it refuses to read past limit bytes.
type wireReader struct {
	r       *bufio.Reader
	off     int64
	limit   uint64
	scratch [8]byte
}

func newWireReader(r io.Reader, limit uint64) *wireReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &wireReader{r: br, limit: limit}
}

// need checks that n more bytes fit under the limit
func (r *wireReader) need(n uint64) error {
	if r.limit > 0 && uint64(r.off)+n > r.limit {
		return fmt.Errorf("%w: %w (max %d bytes)", ErrFilterLimitExceeded, errByteLimit, r.limit)
	}
	return nil
}

func (r *wireReader) full(p []byte) error {
	if err := r.need(uint64(len(p))); err != nil {
		return err
	}
	n, err := io.ReadFull(r.r, p)
	r.off += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return corrupt("unexpected end of stream")
		}
		return err
	}
	return nil
}

// atEOF reports whether the stream ended cleanly at the current offset
func (r *wireReader) atEOF() (bool, error) {
	_, err := r.r.Peek(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

func (r *wireReader) u8() (uint8, error) {
	if err := r.full(r.scratch[:1]); err != nil {
		return 0, err
	}
	return r.scratch[0], nil
}

func (r *wireReader) u16() (uint16, error) {
	if err := r.full(r.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.scratch[:2]), nil
}

func (r *wireReader) u32() (uint32, error) {
	if err := r.full(r.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.scratch[:4]), nil
}

func (r *wireReader) u64() (uint64, error) {
	if err := r.full(r.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.scratch[:8]), nil
}

// blob reads a u32 length prefix and the data behind it
func (r *wireReader) blob() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(uint64(n)); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n <= blobChunk {
		p := make([]byte, n)
		return p, r.full(p)
	}
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, r.r, int64(n))
	r.off += copied
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, corrupt("unexpected end of stream")
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// name reads a field name (u16 length prefix)
func (r *wireReader) name() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if n == 0 || n > maxFieldNameLen {
		return "", corrupt("invalid field name length %d", n)
	}
	p := make([]byte, n)
	if err := r.full(p); err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", corrupt("field name is not valid UTF-8")
	}
	return string(p), nil
}

func (r *wireReader) header() error {
	magic, err := r.u32()
	if err != nil {
		return err
	}
	if magic != StreamMagic {
		return corrupt("bad magic 0x%08x", magic)
	}
	version, err := r.u16()
	if err != nil {
		return err
	}
	if version != FormatVersion {
		return corrupt("unsupported format version %d", version)
	}
	return nil
}

// primitive reads the payload of a primitive value of kind k
func (r *wireReader) primitive(k Kind) (Value, error) {
	switch k {
	case KindNull:
		return Null(), nil
	case KindInt:
		v, err := r.u64()
		return Int(int64(v)), err
	case KindFloat:
		v, err := r.u64()
		return Float(floatFrom(v)), err
	case KindBool:
		v, err := r.u8()
		if err != nil {
			return Value{}, err
		}
		if v > 1 {
			return Value{}, corrupt("invalid bool byte 0x%02x", v)
		}
		return Bool(v == 1), nil
	case KindBytes:
		p, err := r.blob()
		return Bytes(p), err
	case KindString:
		p, err := r.blob()
		if err != nil {
			return Value{}, err
		}
		if !utf8.Valid(p) {
			return Value{}, corrupt("string is not valid UTF-8")
		}
		return String(string(p)), nil
	default:
		return Value{}, corrupt("invalid primitive kind %d", uint8(k))
	}
}
