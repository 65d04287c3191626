package codec

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ValentinKolb/objgraph/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// TypeID identifies a type on the wire
type TypeID uint32

// TypeIDOf derives a stable TypeID from a type name by folding the 64 bit
// FNV-1a hash of the name to 32 bits.
func TypeIDOf(name string) TypeID {
	h := uint64(util.HashString(name, 0))
	return TypeID(uint32(h>>32) ^ uint32(h))
}

// String renders a TypeID the way filter patterns address it (#1234)
func (t TypeID) String() string {
	return fmt.Sprintf("#%d", uint32(t))
}

// --------------------------------------------------------------------------
// Type Descriptor
// --------------------------------------------------------------------------

// FieldSchema describes one persisted field
type FieldSchema struct {
	Name string
	Kind Kind
	// Default is used when the field is absent from a stream. A null Default
	// on a primitive field means the zero value of its kind.
	Default Value
}

// defaultValue returns the value used for a field missing from a stream
func (s FieldSchema) defaultValue() Value {
	if s.Default.Kind == KindNull && s.Kind != KindRef {
		return zeroValue(s.Kind)
	}
	return s.Default
}

// Migration upgrades the fields of a stream record from version From to
// version From+1. Apply may be nil for purely additive changes where declared
// defaults are enough.
type Migration struct {
	From  uint32
	Apply func(f *Fields) error
}

// TypeDescriptor is the only contract between wire bytes and a type. It is
// independent of the Go struct layout: fields not listed here are not
// persisted.
type TypeDescriptor struct {
	// ID is the wire tag. If zero it is derived from Name with TypeIDOf.
	ID TypeID
	// Name is the unique type name used by filter patterns and diagnostics
	Name string
	// Version is the current schema version written by encoders
	Version uint32
	// Fields lists the persisted fields in wire order
	Fields []FieldSchema
	// New allocates a blank instance for the decoder
	New func() Serializable
	// Untracked types get no handle: every occurrence is written in full and
	// a cycle through such an object is an error.
	Untracked bool
	// Migrations upgrade older stream versions one step at a time
	Migrations []Migration

	index map[string]int
}

// field returns the schema of the named field
func (d *TypeDescriptor) field(name string) (FieldSchema, bool) {
	i, ok := d.index[name]
	if !ok {
		return FieldSchema{}, false
	}
	return d.Fields[i], true
}

// migration returns the migration starting at version from
func (d *TypeDescriptor) migration(from uint32) (Migration, bool) {
	for _, m := range d.Migrations {
		if m.From == from {
			return m, true
		}
	}
	return Migration{}, false
}

// prepare validates the descriptor and builds the field index
func (d *TypeDescriptor) prepare() error {
	if d.Name == "" {
		return fmt.Errorf("codec: type descriptor without name")
	}
	if d.ID == 0 {
		d.ID = TypeIDOf(d.Name)
	}
	if d.New == nil {
		return fmt.Errorf("codec: type %s has no constructor", d.Name)
	}
	if len(d.Fields) > maxFieldCount {
		return fmt.Errorf("codec: type %s has %d fields (max %d)", d.Name, len(d.Fields), maxFieldCount)
	}
	d.index = make(map[string]int, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" || len(f.Name) > maxFieldNameLen {
			return fmt.Errorf("codec: type %s: invalid field name %q", d.Name, f.Name)
		}
		if _, dup := d.index[f.Name]; dup {
			return fmt.Errorf("codec: type %s: field %q declared twice", d.Name, f.Name)
		}
		if f.Kind == KindNull || !f.Kind.valid() {
			return fmt.Errorf("codec: type %s: field %q has invalid kind %s", d.Name, f.Name, f.Kind)
		}
		if !f.Default.fits(f.Kind) && f.Default.Kind != KindNull {
			return fmt.Errorf("codec: type %s: default of field %q is %s, want %s", d.Name, f.Name, f.Default.Kind, f.Kind)
		}
		if f.Kind == KindRef && f.Default.Kind == KindRef {
			return fmt.Errorf("codec: type %s: reference field %q can only default to null", d.Name, f.Name)
		}
		d.index[f.Name] = i
	}
	for _, m := range d.Migrations {
		if m.From >= d.Version {
			return fmt.Errorf("codec: type %s: migration from version %d is not below current version %d", d.Name, m.From, d.Version)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry resolves TypeIDs to descriptors and substitution rules for both
// directions. Register everything before the registry is shared by
// concurrently running encoders and decoders; Seal enforces that.
type Registry struct {
	types  *xsync.MapOf[TypeID, *TypeDescriptor]
	names  *xsync.MapOf[string, TypeID]
	rules  *xsync.MapOf[TypeID, *SubstitutionRule]
	sealed atomic.Bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types: xsync.NewMapOf[TypeID, *TypeDescriptor](),
		names: xsync.NewMapOf[string, TypeID](),
		rules: xsync.NewMapOf[TypeID, *SubstitutionRule](),
	}
}

// Seal makes the registry read-only. Later registrations fail with
// ErrRegistrySealed.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Sealed reports whether Seal was called
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// RegisterType adds a descriptor. Registering the same type again with the
// same version is a no-op, with a different version it fails with
// ErrDuplicateType.
func (r *Registry) RegisterType(desc TypeDescriptor) error {
	if r.Sealed() {
		return fmt.Errorf("%w: cannot register type %s", ErrRegistrySealed, desc.Name)
	}

	// the registry keeps its own copy so later changes by the caller do not leak in
	d := desc
	d.Fields = append([]FieldSchema(nil), desc.Fields...)
	d.Migrations = append([]Migration(nil), desc.Migrations...)
	if err := d.prepare(); err != nil {
		return err
	}

	existing, loaded := r.types.LoadOrStore(d.ID, &d)
	if loaded {
		if existing.Name != d.Name {
			return fmt.Errorf("%w: type id %s of %s collides with %s", ErrDuplicateType, d.ID, d.Name, existing.Name)
		}
		if existing.Version != d.Version {
			return fmt.Errorf("%w: %s registered with version %d, got version %d", ErrDuplicateType, d.Name, existing.Version, d.Version)
		}
		return nil
	}
	if id, loaded := r.names.LoadOrStore(d.Name, d.ID); loaded && id != d.ID {
		r.types.Delete(d.ID)
		return fmt.Errorf("%w: name %s already registered as %s", ErrDuplicateType, d.Name, id)
	}
	Logger.Debugf("registered type %s (id=%s, version=%d, fields=%d)", d.Name, d.ID, d.Version, len(d.Fields))
	return nil
}

// RegisterSubstitution adds a substitution rule for rule.Source. The source
// type does not need a descriptor if its Replace hook always yields a
// registered type.
func (r *Registry) RegisterSubstitution(rule SubstitutionRule) error {
	if r.Sealed() {
		return fmt.Errorf("%w: cannot register substitution for %s", ErrRegistrySealed, rule.Source)
	}
	if err := rule.validate(); err != nil {
		return err
	}
	rc := rule
	if _, loaded := r.rules.LoadOrStore(rule.Source, &rc); loaded {
		return fmt.Errorf("%w: substitution for %s already registered", ErrDuplicateType, r.displayName(rule.Source))
	}
	return nil
}

// Descriptor returns the current descriptor of a type
func (r *Registry) Descriptor(id TypeID) (*TypeDescriptor, bool) {
	return r.types.Load(id)
}

// Rule returns the substitution rule of a type, or nil
func (r *Registry) Rule(id TypeID) *SubstitutionRule {
	rule, _ := r.rules.Load(id)
	return rule
}

// Name returns the registered name of a type
func (r *Registry) Name(id TypeID) (string, bool) {
	d, ok := r.types.Load(id)
	if !ok {
		return "", false
	}
	return d.Name, true
}

// Lookup returns the TypeID registered for name
func (r *Registry) Lookup(name string) (TypeID, bool) {
	return r.names.Load(name)
}

// Names returns all registered type names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, r.names.Size())
	r.names.Range(func(name string, _ TypeID) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// ResolveForDecode returns the current descriptor of a type together with
// the chain of migrations that lifts a record written with version up to the
// current version. A missing link in the chain, or a version newer than the
// registered one, is ErrUnsupportedVersion.
func (r *Registry) ResolveForDecode(id TypeID, version uint32) (*TypeDescriptor, []Migration, error) {
	d, ok := r.types.Load(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, id)
	}
	if version == d.Version {
		return d, nil, nil
	}
	if version > d.Version {
		return nil, nil, fmt.Errorf("%w: %s version %d is newer than registered version %d", ErrUnsupportedVersion, d.Name, version, d.Version)
	}

	chain := make([]Migration, 0, len(d.Migrations))
	for v := version; v < d.Version; v++ {
		m, ok := d.migration(v)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s has no migration from version %d", ErrUnsupportedVersion, d.Name, v)
		}
		chain = append(chain, m)
	}
	return d, chain, nil
}

// displayName returns the name of a type or its numeric tag
func (r *Registry) displayName(id TypeID) string {
	if name, ok := r.Name(id); ok {
		return name
	}
	return id.String()
}
