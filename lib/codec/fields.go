package codec

import (
	"fmt"
	"reflect"
)

// --------------------------------------------------------------------------
// Object Contract
// --------------------------------------------------------------------------

// Serializable is implemented by every type that travels through the codec.
// Implementations must use pointer receivers: object identity is pointer
// identity.
type Serializable interface {
	// TypeID returns the registered type of the object
	TypeID() TypeID
	// WriteFields stores the persisted state of the object in f
	WriteFields(f *Fields) error
	// ReadFields restores the object from f. Reference fields must be read
	// with ReadRef because their targets may not be final yet.
	ReadFields(f *Fields) error
}

// Validator is implemented by types that check their invariants after a
// graph has been completely decoded. A failing validation aborts the decode
// with ErrInvalidObjectState.
type Validator interface {
	Validate() error
}

// isNil reports whether obj is nil or a typed nil pointer
func isNil(obj Serializable) bool {
	if obj == nil {
		return true
	}
	rv := reflect.ValueOf(obj)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// --------------------------------------------------------------------------
// Fields (ordered name -> value map)
// --------------------------------------------------------------------------

// refBinder resolves reference fields against the decode-side handle table
type refBinder interface {
	bind(h Handle, assign func(Serializable) error) error
}

// Fields is the persisted state of one object: an ordered map from field name
// to Value. An encoder hands an empty Fields bound to the type's descriptor to
// WriteFields; a decoder hands a Fields that has been migrated and projected
// onto the current descriptor to ReadFields. Migrations work on an unbound
// Fields holding exactly what the stream contained.
//
// Put and get methods do not return errors. The first misuse (unknown field,
// wrong kind) is remembered and fails the enclosing encode or decode.
type Fields struct {
	desc    *TypeDescriptor
	order   []string
	values  map[string]Value
	present map[string]bool
	binder  refBinder
	err     error
}

// newFields creates an empty Fields. desc may be nil for the unbound form.
func newFields(desc *TypeDescriptor) *Fields {
	return &Fields{
		desc:    desc,
		values:  make(map[string]Value),
		present: make(map[string]bool),
	}
}

// Err returns the first misuse recorded on f
func (f *Fields) Err() error { return f.err }

// Len returns the number of fields
func (f *Fields) Len() int { return len(f.order) }

// Names returns the field names in order
func (f *Fields) Names() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)
	return names
}

func (f *Fields) fail(format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s", ErrInvalidObjectState, fmt.Sprintf(format, args...))
	}
}

// schema returns the schema of a field, recording an error if the bound
// descriptor has no such field
func (f *Fields) schema(name string) (FieldSchema, bool) {
	if f.desc == nil {
		return FieldSchema{Name: name}, true
	}
	s, ok := f.desc.field(name)
	if !ok {
		f.fail("%s has no persistent field %q", f.desc.Name, name)
	}
	return s, ok
}

// --------------------------------------------------------------------------
// Write side
// --------------------------------------------------------------------------

// Put stores v under name. Bound fields check the name and the kind against
// the descriptor.
func (f *Fields) Put(name string, v Value) {
	s, ok := f.schema(name)
	if !ok {
		return
	}
	if f.desc != nil && !v.fits(s.Kind) {
		f.fail("field %s.%s is %s, got %s", f.desc.Name, name, s.Kind, v.Kind)
		return
	}
	if _, exists := f.values[name]; !exists {
		f.order = append(f.order, name)
	}
	f.values[name] = v
	f.present[name] = true
}

// PutInt stores an integer field
func (f *Fields) PutInt(name string, v int64) { f.Put(name, Int(v)) }

// PutFloat stores a float field
func (f *Fields) PutFloat(name string, v float64) { f.Put(name, Float(v)) }

// PutBool stores a boolean field
func (f *Fields) PutBool(name string, v bool) { f.Put(name, Bool(v)) }

// PutBytes stores a byte slice field
func (f *Fields) PutBytes(name string, v []byte) { f.Put(name, Bytes(v)) }

// PutString stores a string field
func (f *Fields) PutString(name string, v string) { f.Put(name, String(v)) }

// PutRef stores a reference field. A nil obj (including a typed nil pointer)
// is stored as null.
func (f *Fields) PutRef(name string, obj Serializable) { f.Put(name, Ref(obj)) }

// --------------------------------------------------------------------------
// Read side
// --------------------------------------------------------------------------

// Get returns the value of a field. On a bound Fields a field that was absent
// from the stream holds its declared default.
func (f *Fields) Get(name string) Value {
	if _, ok := f.schema(name); !ok {
		return Null()
	}
	v, ok := f.values[name]
	if !ok {
		return Null()
	}
	return v
}

// Lookup returns a field and whether it exists
func (f *Fields) Lookup(name string) (Value, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Defaulted reports whether a field was absent from the stream and therefore
// carries its declared default (GetField.defaulted in other runtimes).
func (f *Fields) Defaulted(name string) bool {
	return !f.present[name]
}

// typed fetches a field and checks its kind
func (f *Fields) typed(name string, k Kind) (Value, bool) {
	v := f.Get(name)
	if f.err != nil {
		return v, false
	}
	if !v.fits(k) {
		f.fail("field %q is %s, read as %s", name, v.Kind, k)
		return v, false
	}
	return v, true
}

// Int returns an integer field
func (f *Fields) Int(name string) int64 {
	v, _ := f.typed(name, KindInt)
	return v.i
}

// Float returns a float field
func (f *Fields) Float(name string) float64 {
	v, _ := f.typed(name, KindFloat)
	return v.f
}

// Bool returns a boolean field
func (f *Fields) Bool(name string) bool {
	v, _ := f.typed(name, KindBool)
	return v.b
}

// Bytes returns a byte slice field
func (f *Fields) Bytes(name string) []byte {
	v, _ := f.typed(name, KindBytes)
	return v.raw
}

// String returns a string field
func (f *Fields) String(name string) string {
	v, _ := f.typed(name, KindString)
	return v.s
}

// ReadRef reads the reference field name into dst. If the target is still
// being decoded (a cycle) or has not been read yet (a forward reference), dst
// is assigned as soon as the target exists and assigned again if a resolve
// hook replaces it, so dst always ends up pointing at the final object.
func ReadRef[T Serializable](f *Fields, name string, dst *T) {
	v, ok := f.typed(name, KindRef)
	if !ok {
		return
	}
	assign := func(obj Serializable) error {
		if obj == nil {
			var zero T
			*dst = zero
			return nil
		}
		t, ok := obj.(T)
		if !ok {
			return fmt.Errorf("%w: field %q cannot hold %T", ErrInvalidObjectState, name, obj)
		}
		*dst = t
		return nil
	}

	var err error
	switch {
	case v.Kind == KindNull:
		err = assign(nil)
	case v.handle != NoHandle && f.binder != nil:
		err = f.binder.bind(v.handle, assign)
	default:
		err = assign(v.ref)
	}
	if err != nil && f.err == nil {
		f.err = err
	}
}

// --------------------------------------------------------------------------
// Migration helpers (unbound Fields)
// --------------------------------------------------------------------------

// Set stores v under name without descriptor checks. Meant for migrations.
func (f *Fields) Set(name string, v Value) {
	if _, exists := f.values[name]; !exists {
		f.order = append(f.order, name)
	}
	f.values[name] = v
	f.present[name] = true
}

// Delete removes a field
func (f *Fields) Delete(name string) {
	if _, exists := f.values[name]; !exists {
		return
	}
	delete(f.values, name)
	delete(f.present, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Rename moves a field to a new name, keeping its position
func (f *Fields) Rename(from, to string) {
	v, ok := f.values[from]
	if !ok || from == to {
		return
	}
	if _, exists := f.values[to]; exists {
		f.Delete(to)
	}
	delete(f.values, from)
	delete(f.present, from)
	for i, n := range f.order {
		if n == from {
			f.order[i] = to
			break
		}
	}
	f.values[to] = v
	f.present[to] = true
}
