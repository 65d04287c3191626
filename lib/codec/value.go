package codec

import (
	"fmt"
	"math"
	"strconv"
)

// --------------------------------------------------------------------------
// Field Kinds
// --------------------------------------------------------------------------

// Kind is the wire kind of a value. The numeric values are protocol constants.
type Kind uint8

const (
	KindNull   Kind = iota // No value (a null reference)
	KindInt                // Signed 64 bit integer
	KindFloat              // IEEE 754 64 bit float
	KindBool               // Boolean
	KindBytes              // Opaque byte slice
	KindString             // UTF-8 string
	KindRef                // Reference to another object (nested record)
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindRef:
		return "ref"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind converts the name of a kind back to a Kind.
func ParseKind(name string) (Kind, error) {
	for k := KindNull; k <= KindRef; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind: %s", name)
}

// valid reports whether k is one of the defined kinds
func (k Kind) valid() bool {
	return k <= KindRef
}

// --------------------------------------------------------------------------
// Value (tagged union)
// --------------------------------------------------------------------------

// Value is a single field value: a primitive, a reference or null.
// The zero Value is null.
type Value struct {
	Kind Kind

	i   int64
	f   float64
	b   bool
	raw []byte
	s   string

	// ref is set on the encode side and for resolved references. handle is
	// set for references read from a stream and is NoHandle otherwise.
	ref    Serializable
	handle Handle
}

// Null returns the null value
func Null() Value { return Value{Kind: KindNull, handle: NoHandle} }

// Int returns an integer value
func Int(v int64) Value { return Value{Kind: KindInt, i: v, handle: NoHandle} }

// Float returns a float value
func Float(v float64) Value { return Value{Kind: KindFloat, f: v, handle: NoHandle} }

// Bool returns a boolean value
func Bool(v bool) Value { return Value{Kind: KindBool, b: v, handle: NoHandle} }

// Bytes returns a byte slice value. The slice is not copied.
func Bytes(v []byte) Value { return Value{Kind: KindBytes, raw: v, handle: NoHandle} }

// String returns a string value
func String(v string) Value { return Value{Kind: KindString, s: v, handle: NoHandle} }

// Ref returns a reference to obj, or null if obj is nil.
func Ref(obj Serializable) Value {
	if isNil(obj) {
		return Null()
	}
	return Value{Kind: KindRef, ref: obj, handle: NoHandle}
}

// refHandle returns a reference to a handle of the decode-side table
func refHandle(h Handle) Value {
	return Value{Kind: KindRef, handle: h}
}

// AsInt returns the integer payload
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload
func (v Value) AsFloat() float64 { return v.f }

// AsBool returns the boolean payload
func (v Value) AsBool() bool { return v.b }

// AsBytes returns the byte slice payload
func (v Value) AsBytes() []byte { return v.raw }

// AsString returns the string payload
func (v Value) AsString() string { return v.s }

// AsRef returns the referenced object. For references read from a stream it is
// only set once the reference has been resolved.
func (v Value) AsRef() Serializable { return v.ref }

// IsNull reports whether v is the null value
func (v Value) IsNull() bool { return v.Kind == KindNull }

// RefHandle returns the stream handle of a reference read from a stream, or
// NoHandle.
func (v Value) RefHandle() Handle { return v.handle }

// fits reports whether v may be stored in a field of kind k. Reference fields
// accept null.
func (v Value) fits(k Kind) bool {
	return v.Kind == k || (k == KindRef && v.Kind == KindNull)
}

// String renders the value for diagnostics and the CLI. Byte slices are
// abbreviated to their length.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.raw))
	case KindString:
		return strconv.Quote(v.s)
	case KindRef:
		if v.handle != NoHandle {
			return "ref(" + v.handle.String() + ")"
		}
		if v.ref != nil {
			return fmt.Sprintf("ref(%T)", v.ref)
		}
		return "ref(?)"
	default:
		return v.Kind.String()
	}
}

// zeroValue returns the zero value for a kind
func zeroValue(k Kind) Value {
	switch k {
	case KindInt:
		return Int(0)
	case KindFloat:
		return Float(0)
	case KindBool:
		return Bool(false)
	case KindBytes:
		return Bytes(nil)
	case KindString:
		return String("")
	default:
		return Null()
	}
}

// floatBits and floatFrom convert between a float and its wire bits
func floatBits(f float64) uint64 { return math.Float64bits(f) }
func floatFrom(bits uint64) float64 { return math.Float64frombits(bits) }
