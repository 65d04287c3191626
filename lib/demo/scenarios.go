package demo

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/objgraph/lib/codec"
)

// Scenario writes a small graph that shows one feature of the codec
type Scenario struct {
	Name        string
	Description string
	// Legacy scenarios are written with the registry of an old release
	Legacy bool
	Write  func(enc *codec.Encoder) error
}

var scenarios = map[string]Scenario{
	"cycle": {
		Name:        "cycle",
		Description: "three nodes in a ring (3 object records, 1 back-reference)",
		Write: func(enc *codec.Encoder) error {
			return enc.Encode(Ring(3))
		},
	},
	"self": {
		Name:        "self",
		Description: "a node whose next field points to itself",
		Write: func(enc *codec.Encoder) error {
			n := &Node{Value: 42}
			n.Next = n
			return enc.Encode(n)
		},
	},
	"shared": {
		Name:        "shared",
		Description: "three employees in a management chain sharing one department",
		Write: func(enc *codec.Encoder) error {
			return enc.Encode(Team())
		},
	},
	"person": {
		Name:        "person",
		Description: "a person at the current schema version",
		Write: func(enc *codec.Encoder) error {
			return enc.Encode(&Person{ID: 1, Name: "Ada Lovelace", Email: "ada@example.com"})
		},
	},
	"person-v1": {
		Name:        "person-v1",
		Description: "a person as version 1 wrote it (read back with migration)",
		Legacy:      true,
		Write: func(enc *codec.Encoder) error {
			return enc.Encode(&PersonV1{ID: 1, FullName: "Ada Lovelace", Age: 36})
		},
	},
	"singleton": {
		Name:        "singleton",
		Description: "the default settings twice and the ops settings once",
		Write: func(enc *codec.Encoder) error {
			for _, s := range []*GlobalSettings{Instance(), Instance(), SettingsFor("ops")} {
				if err := enc.Encode(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
	"period": {
		Name:        "period",
		Description: "a period written through its serialization proxy",
		Write: func(enc *codec.Encoder) error {
			p, err := NewPeriod(0, 3600)
			if err != nil {
				return err
			}
			return enc.Encode(p)
		},
	},
	"reset": {
		Name:        "reset",
		Description: "the same node written twice with a reset in between",
		Write: func(enc *codec.Encoder) error {
			n := &Node{Value: 7}
			if err := enc.Encode(n); err != nil {
				return err
			}
			if err := enc.Reset(); err != nil {
				return err
			}
			return enc.Encode(n)
		},
	},
	"secret": {
		Name:        "secret",
		Description: "an account and a secret (the secret is denied by the default filter)",
		Write: func(enc *codec.Encoder) error {
			if err := enc.Encode(&Account{User: "ada", Password: "not persisted"}); err != nil {
				return err
			}
			return enc.Encode(&Secret{Token: "s3cr3t"})
		},
	},
	"labels": {
		Name:        "labels",
		Description: "untracked labels, each occurrence written in full",
		Write: func(enc *codec.Encoder) error {
			root := &Label{Text: "root"}
			for _, text := range []string{"a", "b"} {
				if err := enc.Encode(&Label{Text: text, Parent: root}); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Team returns the newest member of a department of three: Edsger reports
// to Alan, Alan to Grace, and Grace heads the department. All three share the
// department.
func Team() *Employee {
	dept := &Department{Name: "Engineering"}
	grace := &Employee{Name: "Grace", Department: dept}
	dept.Head = grace
	alan := &Employee{Name: "Alan", Manager: grace, Department: dept}
	return &Employee{Name: "Edsger", Manager: alan, Department: dept}
}

// LookupScenario returns the scenario with the given name
func LookupScenario(name string) (Scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q (available: %v)", name, ScenarioNames())
	}
	return s, nil
}

// ScenarioNames returns the names of all scenarios, sorted
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
