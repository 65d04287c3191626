package codec

import (
	"errors"
	"fmt"
	"io"
)

// Diagnostic is a non-fatal notice produced while decoding, e.g. a stream
// field that the current descriptor no longer knows.
type Diagnostic struct {
	Offset  int64
	Handle  Handle
	Type    string
	Field   string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("offset %d (handle %s) %s.%s: %s", d.Offset, d.Handle, d.Type, d.Field, d.Message)
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithDiagnostics installs a callback for non-fatal decode notices
func WithDiagnostics(fn func(Diagnostic)) DecoderOption {
	return func(d *Decoder) {
		d.diagnostics = fn
	}
}

// Decoder reconstructs object graphs from a stream. It is the trust boundary:
// the filter policy is evaluated before a record is interpreted and every
// failure aborts the current call without returning a partial graph. After
// a failure the decoder keeps returning the same error.
type Decoder struct {
	in     *wireReader
	reg    *Registry
	filter FilterPolicy
	table  *decodeTable

	header  bool
	handles uint64
	err     error

	// objects decoded for the current root that want validation
	validate []validation

	diagnostics func(Diagnostic)
}

type validation struct {
	obj    Validator
	handle Handle
	offset int64
}

// NewDecoder creates a decoder reading from r. The filter is copied and stays
// fixed for the lifetime of the decoder.
func NewDecoder(r io.Reader, reg *Registry, filter FilterPolicy, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		in:     newWireReader(r, filter.MaxBytes),
		reg:    reg,
		filter: filter.clone(),
		table:  newDecodeTable(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Offset returns the number of bytes consumed so far
func (d *Decoder) Offset() int64 {
	return d.in.off
}

// Decode returns the next root object of the stream, nil for a null record,
// or io.EOF at the end of the stream.
func (d *Decoder) Decode() (Serializable, error) {
	v, err := d.DecodeValue()
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case KindRef:
		return v.ref, nil
	case KindNull:
		return nil, nil
	default:
		return nil, d.abort(NoHandle, corrupt("expected object record, found %s primitive", v.Kind))
	}
}

// DecodeValue returns the next top-level record as a Value. References are
// returned resolved (AsRef). Reset markers are consumed transparently.
func (d *Decoder) DecodeValue() (Value, error) {
	if d.err != nil {
		return Value{}, d.err
	}
	if !d.header {
		if eof, err := d.in.atEOF(); err != nil {
			return Value{}, d.abort(NoHandle, err)
		} else if eof {
			return Value{}, io.EOF
		}
		if err := d.in.header(); err != nil {
			return Value{}, d.abort(NoHandle, err)
		}
		d.header = true
	}

	for {
		eof, err := d.in.atEOF()
		if err != nil {
			return Value{}, d.abort(NoHandle, err)
		}
		if eof {
			return Value{}, io.EOF
		}
		tag, err := d.in.u8()
		if err != nil {
			return Value{}, d.abort(NoHandle, err)
		}
		if RecordTag(tag) != TagReset {
			return d.decodeRoot(RecordTag(tag))
		}
		if h, ok := d.table.unresolved(); ok {
			return Value{}, d.abort(h, corrupt("reset with unresolved forward reference"))
		}
		d.table.reset()
		Logger.Debugf("reset marker at offset %d", d.in.off-1)
	}
}

// decodeRoot reads one top-level record whose tag has been consumed
func (d *Decoder) decodeRoot(tag RecordTag) (Value, error) {
	d.validate = d.validate[:0]

	var v Value
	if tag == TagPrimitive {
		kind, err := d.in.u8()
		if err != nil {
			return Value{}, d.abort(NoHandle, err)
		}
		if Kind(kind) == KindRef || !Kind(kind).valid() {
			return Value{}, d.abort(NoHandle, corrupt("invalid primitive kind %d", kind))
		}
		if v, err = d.in.primitive(Kind(kind)); err != nil {
			return Value{}, d.abort(NoHandle, err)
		}
		return v, nil
	}

	v, err := d.readRecord(tag, 0)
	if err != nil {
		return Value{}, d.abort(NoHandle, err)
	}

	// a forward reference that no record defined is a broken stream
	if h, ok := d.table.unresolved(); ok {
		return Value{}, d.abort(h, corrupt("forward reference to handle %s never defined", h))
	}

	// validation runs once the whole graph is in place
	for _, val := range d.validate {
		if err := val.obj.Validate(); err != nil {
			return Value{}, d.abortAt(val.offset, val.handle, fmt.Errorf("%w: %T: %w", ErrInvalidObjectState, val.obj, err))
		}
	}
	d.validate = d.validate[:0]

	if v.Kind == KindRef {
		if v.handle != NoHandle {
			obj, _ := d.table.lookup(v.handle)
			v.ref = obj
		}
		if v.ref == nil {
			return Value{}, d.abort(v.handle, corrupt("top-level back-reference to unknown handle %s", v.handle))
		}
	}
	return v, nil
}

// abort makes err sticky and converts it into a DecodeError at the current offset
func (d *Decoder) abort(h Handle, err error) error {
	return d.abortAt(d.in.off, h, err)
}

func (d *Decoder) abortAt(offset int64, h Handle, err error) error {
	var de *DecodeError
	if !errors.As(err, &de) {
		de = &DecodeError{Err: err, Offset: offset, Handle: h}
	}
	d.err = de
	decodeError(de)
	Logger.Infof("decode aborted: %v", de)
	return de
}

// readRecord reads the record behind tag at nesting depth depth. References
// are returned as handle references (tracked objects) or direct references
// (untracked objects).
func (d *Decoder) readRecord(tag RecordTag, depth int) (Value, error) {
	switch tag {
	case TagNull:
		return Null(), nil
	case TagBackRef:
		h, err := d.in.u32()
		if err != nil {
			return Value{}, err
		}
		if Handle(h) == NoHandle {
			return Value{}, &DecodeError{Err: corrupt("back-reference to reserved handle"), Offset: d.in.off, Handle: NoHandle}
		}
		// a forward reference needs every handle up to it, so it counts
		// against the handle limit now
		if next := d.table.next; Handle(h) >= next {
			if err := d.filter.checkHandles(d.handles + uint64(Handle(h)-next) + 1); err != nil {
				filterRejected("handles")
				return Value{}, &DecodeError{Err: err, Offset: d.in.off, Handle: Handle(h)}
			}
		}
		backRefsRead.Inc()
		return refHandle(Handle(h)), nil
	case TagObject:
		return d.readObject(depth + 1)
	default:
		return Value{}, corrupt("unexpected record tag %s", tag)
	}
}

// readObject reads an object record whose tag has been consumed
func (d *Decoder) readObject(depth int) (Value, error) {
	start := d.in.off - 1
	failAt := func(h Handle, err error) error {
		return &DecodeError{Err: err, Offset: d.in.off, Handle: h}
	}

	// 1. filter: type, depth and handle count are checked before the record
	// is interpreted any further
	rawTag, err := d.in.u32()
	if err != nil {
		return Value{}, err
	}
	tag := TypeID(rawTag)
	name, known := d.reg.Name(tag)
	if err := d.filter.checkType(tag, name); err != nil {
		filterRejected("type")
		return Value{}, failAt(NoHandle, err)
	}
	if !known {
		return Value{}, failAt(NoHandle, fmt.Errorf("%w: %s", ErrUnknownType, tag))
	}
	if err := d.filter.checkDepth(depth); err != nil {
		filterRejected("depth")
		return Value{}, failAt(NoHandle, err)
	}
	version, err := d.in.u32()
	if err != nil {
		return Value{}, err
	}
	rawHandle, err := d.in.u32()
	if err != nil {
		return Value{}, err
	}
	handle := Handle(rawHandle)
	if handle != NoHandle {
		if err := d.filter.checkHandles(d.handles + 1); err != nil {
			filterRejected("handles")
			return Value{}, failAt(handle, err)
		}
		// handles are assigned in write order; lower ones are caught as
		// duplicates by the table
		if handle > d.table.next {
			return Value{}, failAt(handle, corrupt("handle %s out of order, expected %s", handle, d.table.next))
		}
	}

	rule := d.reg.Rule(tag)
	if rule != nil && rule.ProxyOnly {
		return Value{}, failAt(handle, fmt.Errorf("%w: %s cannot be decoded directly", ErrProxyRequired, name))
	}
	desc, migrations, err := d.reg.ResolveForDecode(tag, version)
	if err != nil {
		return Value{}, failAt(handle, err)
	}
	if desc.Untracked != (handle == NoHandle) {
		return Value{}, failAt(handle, corrupt("handle presence does not match tracking of %s", desc.Name))
	}

	// 2. allocate and publish the blank instance before any field is read
	obj := desc.New()
	if isNil(obj) || obj.TypeID() != desc.ID {
		return Value{}, failAt(handle, fmt.Errorf("%w: constructor of %s returned %T", ErrInvalidObjectState, desc.Name, obj))
	}
	if handle != NoHandle {
		if err := d.table.register(handle, obj); err != nil {
			return Value{}, failAt(handle, err)
		}
		d.handles++
	}
	objectsRead.Inc()

	// 3. fields as written, then migrated and projected onto the descriptor
	count, err := d.in.u16()
	if err != nil {
		return Value{}, err
	}
	raw := newFields(nil)
	for i := 0; i < int(count); i++ {
		fieldName, err := d.in.name()
		if err != nil {
			return Value{}, err
		}
		if _, dup := raw.values[fieldName]; dup {
			return Value{}, failAt(handle, corrupt("field written twice in %s", desc.Name))
		}
		kind, err := d.in.u8()
		if err != nil {
			return Value{}, err
		}
		var v Value
		switch k := Kind(kind); {
		case k == KindRef:
			refTag, err := d.in.u8()
			if err != nil {
				return Value{}, err
			}
			if v, err = d.readRecord(RecordTag(refTag), depth); err != nil {
				return Value{}, err
			}
		case k.valid():
			if v, err = d.in.primitive(k); err != nil {
				return Value{}, err
			}
		default:
			return Value{}, failAt(handle, corrupt("invalid field kind %d in %s", kind, desc.Name))
		}
		raw.Set(fieldName, v)
	}

	for _, m := range migrations {
		Logger.Debugf("migrating %s from version %d", desc.Name, m.From)
		if m.Apply == nil {
			continue
		}
		if err := m.Apply(raw); err != nil {
			return Value{}, failAt(handle, fmt.Errorf("%w: migrate %s from version %d: %w", ErrUnsupportedVersion, desc.Name, m.From, err))
		}
	}

	fields, err := d.project(desc, raw, start, handle)
	if err != nil {
		return Value{}, failAt(handle, err)
	}
	fields.binder = d.table
	if err := obj.ReadFields(fields); err != nil {
		return Value{}, failAt(handle, fmt.Errorf("%w: read fields of %s: %w", ErrInvalidObjectState, desc.Name, err))
	}
	if fields.err != nil {
		return Value{}, failAt(handle, fields.err)
	}

	// 4. resolve hook; the final object replaces the handle table entry
	final, err := d.reg.resolve(rule, obj)
	if err != nil {
		return Value{}, failAt(handle, err)
	}

	// 5. validation is deferred until the whole graph is complete
	if val, ok := final.(Validator); ok {
		d.validate = append(d.validate, validation{obj: val, handle: handle, offset: start})
	}

	if handle == NoHandle {
		return Ref(final), nil
	}
	if err := d.table.finalize(handle, final); err != nil {
		return Value{}, failAt(handle, err)
	}
	return refHandle(handle), nil
}

// project maps the (migrated) stream fields onto the current descriptor.
// Unknown fields are dropped with a diagnostic, missing fields take their
// declared default.
func (d *Decoder) project(desc *TypeDescriptor, raw *Fields, offset int64, h Handle) (*Fields, error) {
	fields := newFields(desc)
	for _, name := range raw.order {
		v := raw.values[name]
		schema, ok := desc.field(name)
		if !ok {
			d.diagnose(Diagnostic{
				Offset:  offset,
				Handle:  h,
				Type:    desc.Name,
				Field:   truncate(name, 64),
				Message: "field not in current descriptor, dropped",
			})
			continue
		}
		if !v.fits(schema.Kind) {
			return nil, corrupt("field kind %s does not match %s.%s (%s)", v.Kind, desc.Name, schema.Name, schema.Kind)
		}
		fields.values[name] = v
		fields.present[name] = true
	}
	for _, schema := range desc.Fields {
		fields.order = append(fields.order, schema.Name)
		if _, ok := fields.values[schema.Name]; !ok {
			fields.values[schema.Name] = schema.defaultValue()
		}
	}
	return fields, nil
}

func (d *Decoder) diagnose(diag Diagnostic) {
	droppedFields.Inc()
	Logger.Warningf("%s", diag)
	if d.diagnostics != nil {
		d.diagnostics(diag)
	}
}

// truncate shortens s to at most n bytes for diagnostics
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
