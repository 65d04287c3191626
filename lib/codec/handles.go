package codec

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Handle is a stream-local identifier of one object instance. Handles are
// assigned in first-seen order starting at zero and restart after a reset.
type Handle uint32

// NoHandle marks records of untracked types and errors without a handle
const NoHandle Handle = math.MaxUint32

// String renders a handle, "-" for NoHandle
func (h Handle) String() string {
	if h == NoHandle {
		return "-"
	}
	return strconv.FormatUint(uint64(h), 10)
}

// identityOf returns the map key that represents the identity of obj.
// Identity is pointer identity, so non-pointer implementations are rejected:
// they would silently fall back to value equality.
func identityOf(obj Serializable) (any, error) {
	if reflect.ValueOf(obj).Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%w: %T is not a pointer, object identity cannot be tracked", ErrUnregisteredType, obj)
	}
	return obj, nil
}

// --------------------------------------------------------------------------
// Encode side
// --------------------------------------------------------------------------

// encodeTable maps object identity to handles. It also remembers which
// substitute an original was replaced with so that an original written twice
// yields one record and one back-reference.
type encodeTable struct {
	handles  map[any]Handle
	replaced map[any]Serializable
	next     Handle

	// journals of the keys added since the last mark, for rollback
	handleJournal  []any
	replaceJournal []any
}

// tableMark is a rollback point of an encodeTable
type tableMark struct {
	next Handle
}

func newEncodeTable() *encodeTable {
	return &encodeTable{
		handles:  make(map[any]Handle),
		replaced: make(map[any]Serializable),
	}
}

// lookupOrAssign returns the handle of an identity and whether it was newly
// assigned. The same identity always yields the same handle until reset.
func (t *encodeTable) lookupOrAssign(id any) (Handle, bool, error) {
	if h, ok := t.handles[id]; ok {
		return h, false, nil
	}
	if t.next == NoHandle {
		return NoHandle, false, fmt.Errorf("%w: handle space exhausted", ErrInvalidObjectState)
	}
	h := t.next
	t.next++
	t.handles[id] = h
	t.handleJournal = append(t.handleJournal, id)
	return h, true, nil
}

// replacement returns the substitute already chosen for an original
func (t *encodeTable) replacement(id any) (Serializable, bool) {
	sub, ok := t.replaced[id]
	return sub, ok
}

// remember records that original id was replaced by sub
func (t *encodeTable) remember(id any, sub Serializable) {
	t.replaced[id] = sub
	t.replaceJournal = append(t.replaceJournal, id)
}

// mark starts a new journal and returns the rollback point
func (t *encodeTable) mark() tableMark {
	t.handleJournal = t.handleJournal[:0]
	t.replaceJournal = t.replaceJournal[:0]
	return tableMark{next: t.next}
}

// rollback forgets everything assigned since m, so a failed Encode call does
// not leave handles behind that were never written
func (t *encodeTable) rollback(m tableMark) {
	for _, id := range t.handleJournal {
		delete(t.handles, id)
	}
	for _, id := range t.replaceJournal {
		delete(t.replaced, id)
	}
	t.next = m.next
	t.handleJournal = t.handleJournal[:0]
	t.replaceJournal = t.replaceJournal[:0]
}

// reset clears all mappings; every identity is unseen afterward
func (t *encodeTable) reset() {
	clear(t.handles)
	clear(t.replaced)
	t.next = 0
	t.handleJournal = t.handleJournal[:0]
	t.replaceJournal = t.replaceJournal[:0]
}

// size returns the number of assigned handles
func (t *encodeTable) size() int {
	return len(t.handles)
}

// --------------------------------------------------------------------------
// Decode side
// --------------------------------------------------------------------------

// slot is one decode-side handle table entry. obj is nil while only forward
// references to the handle have been seen.
type slot struct {
	obj    Serializable
	final  bool
	fixups []func(Serializable) error
}

// decodeTable maps handles to decoded objects and keeps the assignments of
// reference fields that must be repeated when the object behind a handle
// changes (resolve hooks) or appears (forward references).
type decodeTable struct {
	slots map[Handle]*slot
	// next is the handle the next new object must carry
	next Handle
	// pending counts slots created by forward references and not yet registered
	pending int
}

func newDecodeTable() *decodeTable {
	return &decodeTable{slots: make(map[Handle]*slot)}
}

// register publishes a freshly allocated object under h before its fields are
// read. Pending forward references to h are assigned now.
func (t *decodeTable) register(h Handle, obj Serializable) error {
	s, ok := t.slots[h]
	if ok && s.obj != nil {
		return fmt.Errorf("%w: handle %s registered twice", ErrDuplicateHandle, h)
	}
	t.next = max(t.next, h+1)
	if !ok {
		t.slots[h] = &slot{obj: obj}
		return nil
	}
	s.obj = obj
	t.pending--
	for _, fix := range s.fixups {
		if err := fix(obj); err != nil {
			return err
		}
	}
	return nil
}

// bind assigns the object behind h through assign. If h is not final yet the
// assignment is kept and replayed by finalize or register.
func (t *decodeTable) bind(h Handle, assign func(Serializable) error) error {
	s, ok := t.slots[h]
	if !ok {
		s = &slot{}
		t.slots[h] = s
		t.pending++
	}
	if s.final {
		return assign(s.obj)
	}
	s.fixups = append(s.fixups, assign)
	if s.obj != nil {
		return assign(s.obj)
	}
	return nil
}

// finalize marks h as complete. If a resolve hook returned a different
// object, every reference bound so far is re-pointed to it, and so are all
// later ones.
func (t *decodeTable) finalize(h Handle, final Serializable) error {
	s, ok := t.slots[h]
	if !ok || s.obj == nil {
		return fmt.Errorf("%w: handle %s finalized before registration", ErrStreamCorrupted, h)
	}
	replaced := s.obj != final
	s.obj = final
	s.final = true
	if replaced {
		for _, fix := range s.fixups {
			if err := fix(final); err != nil {
				return err
			}
		}
	}
	s.fixups = nil
	return nil
}

// lookup returns the object currently registered under h
func (t *decodeTable) lookup(h Handle) (Serializable, bool) {
	s, ok := t.slots[h]
	if !ok || s.obj == nil {
		return nil, false
	}
	return s.obj, true
}

// unresolved returns a handle that is referenced but was never defined
func (t *decodeTable) unresolved() (Handle, bool) {
	if t.pending == 0 {
		return NoHandle, false
	}
	for h, s := range t.slots {
		if s.obj == nil {
			return h, true
		}
	}
	return NoHandle, false
}

// reset clears the table, mirroring a reset on the encode side
func (t *decodeTable) reset() {
	clear(t.slots)
	t.next, t.pending = 0, 0
}

// size returns the number of registered objects
func (t *decodeTable) size() int {
	return len(t.slots)
}
