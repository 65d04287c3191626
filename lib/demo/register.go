package demo

import (
	"github.com/ValentinKolb/objgraph/lib/codec"
)

// --------------------------------------------------------------------------
// Descriptors
// --------------------------------------------------------------------------

// PersonVersion is the current schema version of Person
const PersonVersion = 2

func personDescriptor() codec.TypeDescriptor {
	return codec.TypeDescriptor{
		Name:    PersonName,
		Version: PersonVersion,
		Fields: []codec.FieldSchema{
			{Name: "id", Kind: codec.KindInt},
			{Name: "name", Kind: codec.KindString},
			{Name: "email", Kind: codec.KindString, Default: codec.String("")},
		},
		New: func() codec.Serializable { return &Person{} },
		Migrations: []codec.Migration{
			{From: 1, Apply: func(f *codec.Fields) error {
				f.Rename("fullName", "name")
				return nil
			}},
		},
	}
}

// PersonV1Descriptor describes Person as version 1 wrote it
func PersonV1Descriptor() codec.TypeDescriptor {
	return codec.TypeDescriptor{
		Name:    PersonName,
		Version: 1,
		Fields: []codec.FieldSchema{
			{Name: "id", Kind: codec.KindInt},
			{Name: "fullName", Kind: codec.KindString},
			{Name: "age", Kind: codec.KindInt},
		},
		New: func() codec.Serializable { return &PersonV1{} },
	}
}

func descriptors() []codec.TypeDescriptor {
	return []codec.TypeDescriptor{
		personDescriptor(),
		{
			Name:    NodeName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "value", Kind: codec.KindInt},
				{Name: "next", Kind: codec.KindRef},
			},
			New: func() codec.Serializable { return &Node{} },
		},
		{
			Name:    EmployeeName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "name", Kind: codec.KindString},
				{Name: "manager", Kind: codec.KindRef},
				{Name: "department", Kind: codec.KindRef},
			},
			New: func() codec.Serializable { return &Employee{} },
		},
		{
			Name:    DepartmentName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "name", Kind: codec.KindString},
				{Name: "head", Kind: codec.KindRef},
			},
			New: func() codec.Serializable { return &Department{} },
		},
		{
			Name:    AccountName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "user", Kind: codec.KindString},
			},
			New: func() codec.Serializable { return &Account{} },
		},
		{
			Name:    GlobalSettingsName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "profile", Kind: codec.KindString, Default: codec.String(DefaultProfile)},
				{Name: "theme", Kind: codec.KindString},
			},
			New: func() codec.Serializable { return &GlobalSettings{} },
		},
		// Period is registered so that a forged record carrying its tag is
		// recognized and refused; encoders always write the proxy.
		{
			Name:    PeriodName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "start", Kind: codec.KindInt},
				{Name: "end", Kind: codec.KindInt},
			},
			New: func() codec.Serializable { return &Period{} },
		},
		{
			Name:    PeriodProxyName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "start", Kind: codec.KindInt},
				{Name: "end", Kind: codec.KindInt},
			},
			New: func() codec.Serializable { return &periodProxy{} },
		},
		{
			Name:    SecretName,
			Version: 1,
			Fields: []codec.FieldSchema{
				{Name: "token", Kind: codec.KindString},
			},
			New: func() codec.Serializable { return &Secret{} },
		},
		{
			Name:      LabelName,
			Version:   1,
			Untracked: true,
			Fields: []codec.FieldSchema{
				{Name: "text", Kind: codec.KindString},
				{Name: "parent", Kind: codec.KindRef},
			},
			New: func() codec.Serializable { return &Label{} },
		},
	}
}

func substitutions() []codec.SubstitutionRule {
	return []codec.SubstitutionRule{
		{Source: GlobalSettingsType, Resolve: resolveSettings},
		{Source: PeriodType, Replace: replacePeriod, ProxyOnly: true},
		{Source: PeriodProxyType, Resolve: resolvePeriod},
	}
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// Register adds all demo types and their substitution rules to reg
func Register(reg *codec.Registry) error {
	for _, d := range descriptors() {
		if err := reg.RegisterType(d); err != nil {
			return err
		}
	}
	for _, r := range substitutions() {
		if err := reg.RegisterSubstitution(r); err != nil {
			return err
		}
	}
	return nil
}

// RegisterLegacy is Register with Person at version 1, as an old writer
// would have it
func RegisterLegacy(reg *codec.Registry) error {
	for _, d := range descriptors() {
		if d.Name == PersonName {
			d = PersonV1Descriptor()
		}
		if err := reg.RegisterType(d); err != nil {
			return err
		}
	}
	for _, r := range substitutions() {
		if err := reg.RegisterSubstitution(r); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a sealed registry with all demo types
func NewRegistry() (*codec.Registry, error) {
	reg := codec.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}

// NewLegacyRegistry returns a sealed registry with Person at version 1
func NewLegacyRegistry() (*codec.Registry, error) {
	reg := codec.NewRegistry()
	if err := RegisterLegacy(reg); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}

// DefaultFilter admits every demo type except Secret
const DefaultFilter = "!demo.Secret;demo.*;maxdepth=64;maxhandles=100000"
