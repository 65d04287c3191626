package demo

import (
	"fmt"

	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/puzpuzpuz/xsync/v3"
)

// Type names as they appear in filter patterns
const (
	PersonName         = "demo.Person"
	NodeName           = "demo.Node"
	EmployeeName       = "demo.Employee"
	DepartmentName     = "demo.Department"
	AccountName        = "demo.Account"
	GlobalSettingsName = "demo.GlobalSettings"
	PeriodName         = "demo.Period"
	PeriodProxyName    = "demo.PeriodProxy"
	SecretName         = "demo.Secret"
	LabelName          = "demo.Label"
)

// Wire tags of the demo types
var (
	PersonType         = codec.TypeIDOf(PersonName)
	NodeType           = codec.TypeIDOf(NodeName)
	EmployeeType       = codec.TypeIDOf(EmployeeName)
	DepartmentType     = codec.TypeIDOf(DepartmentName)
	AccountType        = codec.TypeIDOf(AccountName)
	GlobalSettingsType = codec.TypeIDOf(GlobalSettingsName)
	PeriodType         = codec.TypeIDOf(PeriodName)
	PeriodProxyType    = codec.TypeIDOf(PeriodProxyName)
	SecretType         = codec.TypeIDOf(SecretName)
	LabelType          = codec.TypeIDOf(LabelName)
)

// --------------------------------------------------------------------------
// Person (versioned)
// --------------------------------------------------------------------------

// Person is at schema version 2. Version 1 stored the name as "fullName" and
// had an "age" field; version 2 renamed the former, dropped the latter and
// added "email".
type Person struct {
	ID    int64
	Name  string
	Email string
}

func (p *Person) TypeID() codec.TypeID { return PersonType }

func (p *Person) WriteFields(f *codec.Fields) error {
	f.PutInt("id", p.ID)
	f.PutString("name", p.Name)
	f.PutString("email", p.Email)
	return nil
}

func (p *Person) ReadFields(f *codec.Fields) error {
	p.ID = f.Int("id")
	p.Name = f.String("name")
	p.Email = f.String("email")
	return f.Err()
}

// PersonV1 is Person as an old release wrote it. It shares the wire tag of
// Person and is only registered by writers that emulate that release.
type PersonV1 struct {
	ID       int64
	FullName string
	Age      int64
}

func (p *PersonV1) TypeID() codec.TypeID { return PersonType }

func (p *PersonV1) WriteFields(f *codec.Fields) error {
	f.PutInt("id", p.ID)
	f.PutString("fullName", p.FullName)
	f.PutInt("age", p.Age)
	return nil
}

func (p *PersonV1) ReadFields(f *codec.Fields) error {
	p.ID = f.Int("id")
	p.FullName = f.String("fullName")
	p.Age = f.Int("age")
	return f.Err()
}

// --------------------------------------------------------------------------
// Node (cycles)
// --------------------------------------------------------------------------

// Node is a singly linked list element. Next may point back into the list.
type Node struct {
	Value int64
	Next  *Node
}

func (n *Node) TypeID() codec.TypeID { return NodeType }

func (n *Node) WriteFields(f *codec.Fields) error {
	f.PutInt("value", n.Value)
	f.PutRef("next", n.Next)
	return nil
}

func (n *Node) ReadFields(f *codec.Fields) error {
	n.Value = f.Int("value")
	codec.ReadRef(f, "next", &n.Next)
	return f.Err()
}

// Ring builds a cycle of n nodes with values 1..n and returns its first node
func Ring(n int) *Node {
	if n <= 0 {
		return nil
	}
	head := &Node{Value: 1}
	cur := head
	for i := 2; i <= n; i++ {
		cur.Next = &Node{Value: int64(i)}
		cur = cur.Next
	}
	cur.Next = head
	return head
}

// --------------------------------------------------------------------------
// Employee / Department (shared references)
// --------------------------------------------------------------------------

// Employee belongs to a department and optionally reports to a manager
type Employee struct {
	Name       string
	Manager    *Employee
	Department *Department
}

func (e *Employee) TypeID() codec.TypeID { return EmployeeType }

func (e *Employee) WriteFields(f *codec.Fields) error {
	f.PutString("name", e.Name)
	f.PutRef("manager", e.Manager)
	f.PutRef("department", e.Department)
	return nil
}

func (e *Employee) ReadFields(f *codec.Fields) error {
	e.Name = f.String("name")
	codec.ReadRef(f, "manager", &e.Manager)
	codec.ReadRef(f, "department", &e.Department)
	return f.Err()
}

// Department is headed by one of its own employees
type Department struct {
	Name string
	Head *Employee
}

func (d *Department) TypeID() codec.TypeID { return DepartmentType }

func (d *Department) WriteFields(f *codec.Fields) error {
	f.PutString("name", d.Name)
	f.PutRef("head", d.Head)
	return nil
}

func (d *Department) ReadFields(f *codec.Fields) error {
	d.Name = f.String("name")
	codec.ReadRef(f, "head", &d.Head)
	return f.Err()
}

// Validate checks that the head works in the department. It only holds
// once the whole graph is decoded.
func (d *Department) Validate() error {
	if d.Head != nil && d.Head.Department != d {
		return fmt.Errorf("head %q of %q belongs to another department", d.Head.Name, d.Name)
	}
	return nil
}

// --------------------------------------------------------------------------
// Account (transient field)
// --------------------------------------------------------------------------

// Account keeps its password in memory only; the descriptor does not list it.
type Account struct {
	User     string
	Password string
}

func (a *Account) TypeID() codec.TypeID { return AccountType }

func (a *Account) WriteFields(f *codec.Fields) error {
	f.PutString("user", a.User)
	return nil
}

func (a *Account) ReadFields(f *codec.Fields) error {
	a.User = f.String("user")
	return f.Err()
}

// --------------------------------------------------------------------------
// GlobalSettings (canonical instances)
// --------------------------------------------------------------------------

// DefaultProfile is the profile of the process wide settings
const DefaultProfile = "default"

var settings = xsync.NewMapOf[string, *GlobalSettings]()

// GlobalSettings has one canonical instance per profile. Decoding yields the
// canonical instance, never a copy.
type GlobalSettings struct {
	Profile string
	Theme   string
}

// Instance returns the canonical settings of the default profile
func Instance() *GlobalSettings {
	return SettingsFor(DefaultProfile)
}

// SettingsFor returns the canonical settings of a profile, creating them on
// first use. Decoding only resolves to profiles created here.
func SettingsFor(profile string) *GlobalSettings {
	s, _ := settings.LoadOrCompute(profile, func() *GlobalSettings {
		return &GlobalSettings{Profile: profile, Theme: "light"}
	})
	return s
}

func (s *GlobalSettings) TypeID() codec.TypeID { return GlobalSettingsType }

func (s *GlobalSettings) WriteFields(f *codec.Fields) error {
	f.PutString("profile", s.Profile)
	f.PutString("theme", s.Theme)
	return nil
}

func (s *GlobalSettings) ReadFields(f *codec.Fields) error {
	s.Profile = f.String("profile")
	s.Theme = f.String("theme")
	return f.Err()
}

// resolveSettings swaps a decoded copy for the canonical instance. Only
// profiles this process already knows are accepted; a stream never creates
// one.
func resolveSettings(obj codec.Serializable) (codec.Serializable, error) {
	s, ok := obj.(*GlobalSettings)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", obj)
	}
	if s.Profile == DefaultProfile {
		return Instance(), nil
	}
	canonical, ok := settings.Load(s.Profile)
	if !ok {
		return nil, fmt.Errorf("settings profile is not defined in this process")
	}
	return canonical, nil
}

// --------------------------------------------------------------------------
// Period (serialization proxy)
// --------------------------------------------------------------------------

// Period is an immutable time span in unix seconds. It is always written as
// a periodProxy and rebuilt through NewPeriod, so a stream cannot produce a
// Period with Start after End.
type Period struct {
	start int64
	end   int64
}

// NewPeriod creates a period and checks start <= end
func NewPeriod(start, end int64) (*Period, error) {
	if start > end {
		return nil, fmt.Errorf("period start %d after end %d", start, end)
	}
	return &Period{start: start, end: end}, nil
}

func (p *Period) Start() int64 { return p.start }
func (p *Period) End() int64   { return p.end }

func (p *Period) TypeID() codec.TypeID { return PeriodType }

func (p *Period) WriteFields(f *codec.Fields) error {
	f.PutInt("start", p.start)
	f.PutInt("end", p.end)
	return nil
}

func (p *Period) ReadFields(f *codec.Fields) error {
	p.start = f.Int("start")
	p.end = f.Int("end")
	return f.Err()
}

// periodProxy is the wire form of a Period
type periodProxy struct {
	start int64
	end   int64
}

func (p *periodProxy) TypeID() codec.TypeID { return PeriodProxyType }

func (p *periodProxy) WriteFields(f *codec.Fields) error {
	f.PutInt("start", p.start)
	f.PutInt("end", p.end)
	return nil
}

func (p *periodProxy) ReadFields(f *codec.Fields) error {
	p.start = f.Int("start")
	p.end = f.Int("end")
	return f.Err()
}

func replacePeriod(obj codec.Serializable) (codec.Serializable, error) {
	p, ok := obj.(*Period)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", obj)
	}
	return &periodProxy{start: p.start, end: p.end}, nil
}

func resolvePeriod(obj codec.Serializable) (codec.Serializable, error) {
	p, ok := obj.(*periodProxy)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", obj)
	}
	return NewPeriod(p.start, p.end)
}

// --------------------------------------------------------------------------
// Secret (filtered)
// --------------------------------------------------------------------------

// Secret is registered so it can be written, but default filters deny it
type Secret struct {
	Token string
}

func (s *Secret) TypeID() codec.TypeID { return SecretType }

func (s *Secret) WriteFields(f *codec.Fields) error {
	f.PutString("token", s.Token)
	return nil
}

func (s *Secret) ReadFields(f *codec.Fields) error {
	s.Token = f.String("token")
	return f.Err()
}

// --------------------------------------------------------------------------
// Label (untracked)
// --------------------------------------------------------------------------

// Label is a value object without identity: every occurrence is written in
// full and decodes to a separate instance. Labels must not form cycles.
type Label struct {
	Text   string
	Parent *Label
}

func (l *Label) TypeID() codec.TypeID { return LabelType }

func (l *Label) WriteFields(f *codec.Fields) error {
	f.PutString("text", l.Text)
	f.PutRef("parent", l.Parent)
	return nil
}

func (l *Label) ReadFields(f *codec.Fields) error {
	l.Text = f.String("text")
	codec.ReadRef(f, "parent", &l.Parent)
	return f.Err()
}
