package codec

import (
	"fmt"
	"io"
)

// Encoder writes object graphs to a stream. Every object gets a handle the
// first time it is written; later occurrences in the same stream, in the same
// or a later Encode call, are written as back-references until Reset.
//
// Each call writes one complete record or nothing: records are assembled in
// memory and only handed to the underlying writer on success.
type Encoder struct {
	w      io.Writer
	reg    *Registry
	table  *encodeTable
	out    wireWriter
	header bool

	// path is the handle chain from the root to the object being written
	path []Handle
	// active holds untracked objects on the current path
	active map[any]struct{}
}

// NewEncoder creates an encoder writing to w. The stream header is written
// together with the first record.
func NewEncoder(w io.Writer, reg *Registry) *Encoder {
	return &Encoder{
		w:      w,
		reg:    reg,
		table:  newEncodeTable(),
		active: make(map[any]struct{}),
	}
}

// Handles returns the number of handles assigned since the last reset
func (e *Encoder) Handles() int {
	return e.table.size()
}

// Encode writes root and everything reachable from it. A nil root is written
// as a null record.
func (e *Encoder) Encode(root Serializable) error {
	return e.write(func() error { return e.writeObject(root) })
}

// EncodeValue writes a top-level value. References are written like Encode,
// primitives as a primitive record.
func (e *Encoder) EncodeValue(v Value) error {
	switch v.Kind {
	case KindRef:
		return e.Encode(v.ref)
	case KindNull:
		return e.Encode(nil)
	}
	if !v.Kind.valid() {
		return &EncodeError{Err: fmt.Errorf("%w: invalid kind %s", ErrInvalidObjectState, v.Kind)}
	}
	return e.write(func() error {
		e.out.u8(uint8(TagPrimitive))
		e.out.u8(uint8(v.Kind))
		if err := e.out.primitive(v); err != nil {
			return &EncodeError{Err: err}
		}
		return nil
	})
}

// Reset clears the handle table: objects written afterward are treated as
// unseen. A reset marker is written so the decoder clears its table in step.
func (e *Encoder) Reset() error {
	err := e.write(func() error {
		e.out.u8(uint8(TagReset))
		return nil
	})
	if err != nil {
		return err
	}
	e.table.reset()
	resetsWritten.Inc()
	return nil
}

// write runs fn against a fresh buffer and flushes the buffer to the writer if
// fn succeeds. On failure the handles assigned by fn are rolled back.
func (e *Encoder) write(fn func() error) error {
	e.out.buf.Reset()
	if !e.header {
		e.out.header()
	}
	e.path = e.path[:0]
	clear(e.active)

	mark := e.table.mark()
	if err := fn(); err != nil {
		e.table.rollback(mark)
		encodeErrors.Inc()
		return err
	}
	n, err := e.w.Write(e.out.buf.Bytes())
	if err != nil {
		e.table.rollback(mark)
		encodeErrors.Inc()
		return &EncodeError{Err: fmt.Errorf("write stream: %w", err)}
	}
	e.header = true
	bytesWritten.Add(n)
	return nil
}

// fail wraps err with the current path and the type name of obj
func (e *Encoder) fail(obj Serializable, err error) error {
	if _, ok := err.(*EncodeError); ok {
		return err
	}
	path := make([]Handle, len(e.path))
	copy(path, e.path)
	typeName := ""
	if obj != nil {
		typeName = fmt.Sprintf("%s (%T)", e.reg.displayName(obj.TypeID()), obj)
	}
	return &EncodeError{Err: err, Type: typeName, Path: path}
}

// writeObject writes one reference: a null record, a back-reference or a
// full object record followed by its fields
func (e *Encoder) writeObject(obj Serializable) error {
	if isNil(obj) {
		e.out.u8(uint8(TagNull))
		return nil
	}

	// 1. substitution (an original maps to the same substitute for the whole stream)
	id, err := identityOf(obj)
	if err != nil {
		return e.fail(obj, err)
	}
	if sub, ok := e.table.replacement(id); ok {
		obj = sub
	} else {
		sub, err := e.reg.replace(obj)
		if err != nil {
			return e.fail(obj, err)
		}
		if sub != obj {
			e.table.remember(id, sub)
		}
		obj = sub
	}
	if isNil(obj) {
		e.out.u8(uint8(TagNull))
		return nil
	}
	if id, err = identityOf(obj); err != nil {
		return e.fail(obj, err)
	}

	desc, ok := e.reg.Descriptor(obj.TypeID())
	if !ok {
		return e.fail(obj, fmt.Errorf("%w: no descriptor for %s", ErrUnregisteredType, obj.TypeID()))
	}
	if rule := e.reg.Rule(desc.ID); rule != nil && rule.ProxyOnly && rule.Replace != nil {
		return e.fail(obj, fmt.Errorf("%w: %s must be replaced by its proxy before writing", ErrProxyRequired, desc.Name))
	}

	// 2. + 3. handle assignment; a known object terminates as back-reference
	handle := NoHandle
	if desc.Untracked {
		if _, onPath := e.active[id]; onPath {
			return e.fail(obj, fmt.Errorf("%w: %s", ErrCycleWithoutHandleSupport, desc.Name))
		}
		e.active[id] = struct{}{}
		defer delete(e.active, id)
	} else {
		h, isNew, err := e.table.lookupOrAssign(id)
		if err != nil {
			return e.fail(obj, err)
		}
		if !isNew {
			e.out.u8(uint8(TagBackRef))
			e.out.u32(uint32(h))
			backRefsWritten.Inc()
			return nil
		}
		handle = h
	}

	// 4. header first, then the fields
	fields := newFields(desc)
	if err := obj.WriteFields(fields); err != nil {
		return e.fail(obj, fmt.Errorf("%w: write fields: %w", ErrInvalidObjectState, err))
	}
	if fields.err != nil {
		return e.fail(obj, fields.err)
	}

	e.out.u8(uint8(TagObject))
	e.out.u32(uint32(desc.ID))
	e.out.u32(desc.Version)
	e.out.u32(uint32(handle))
	e.out.u16(uint16(len(desc.Fields)))
	objectsWritten.Inc()

	e.path = append(e.path, handle)
	defer func() { e.path = e.path[:len(e.path)-1] }()

	for _, schema := range desc.Fields {
		v, ok := fields.values[schema.Name]
		if !ok {
			v = schema.defaultValue()
		}
		e.out.u16(uint16(len(schema.Name)))
		e.out.buf.WriteString(schema.Name)
		e.out.u8(uint8(schema.Kind))

		if schema.Kind == KindRef {
			if err := e.writeObject(v.ref); err != nil {
				return err
			}
			continue
		}
		if err := e.out.primitive(v); err != nil {
			return e.fail(obj, err)
		}
	}
	return nil
}
