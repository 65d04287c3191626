package codec

import (
	"errors"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    FilterPolicy
		wantErr bool
	}{
		{
			in: "!demo.Secret;demo.*;maxdepth=16;maxhandles=1000;maxbytes=1048576",
			want: FilterPolicy{
				Rules: []FilterRule{
					{Pattern: "demo.Secret", Action: FilterDeny},
					{Pattern: "demo.*", Action: FilterAllow},
				},
				MaxDepth:   16,
				MaxHandles: 1000,
				MaxBytes:   1048576,
			},
		},
		{
			in:   " #42 ; maxrefs = 3 ;; ",
			want: FilterPolicy{Rules: []FilterRule{{Pattern: "#42", Action: FilterAllow}}, MaxHandles: 3},
		},
		{in: "", want: FilterPolicy{}},
		{in: "demo.[", wantErr: true},
		{in: "#abc", wantErr: true},
		{in: "!", wantErr: true},
		{in: "maxdepth=-1", wantErr: true},
		{in: "maxdepth=4294967296", wantErr: true},
		{in: "maxfoo=1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFilter(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFilter(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFilter(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want.String() {
			t.Errorf("ParseFilter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterStringRoundTrip(t *testing.T) {
	in := "maxdepth=8;maxhandles=10;maxbytes=99;!demo.Secret;demo.*;#7"
	p, err := ParseFilter(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.String() != in {
		t.Errorf("String() = %q, want %q", p.String(), in)
	}
}

func TestFilterFirstMatchWins(t *testing.T) {
	p, err := ParseFilter("!demo.Secret;demo.*;#77")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		tag  TypeID
		name string
		want bool
	}{
		{1, "demo.Person", true},
		{2, "demo.Secret", false},
		{3, "other.Person", false}, // default deny
		{77, "", true},             // numeric tag of an unregistered type
		{78, "", false},
		{4, "demo.sub.Type", true}, // '*' does not stop at dots
	}

	for _, tt := range tests {
		if got := p.Allows(tt.tag, tt.name); got != tt.want {
			t.Errorf("Allows(%s, %q) = %v, want %v", tt.tag, tt.name, got, tt.want)
		}
	}

	// swapping the rules lets demo.* shadow the deny entry
	shadowed, _ := ParseFilter("demo.*;!demo.Secret")
	if !shadowed.Allows(2, "demo.Secret") {
		t.Errorf("first matching rule must decide")
	}
}

func TestFilterLimitChecks(t *testing.T) {
	p := FilterPolicy{MaxDepth: 2, MaxHandles: 3}

	if err := p.checkDepth(2); err != nil {
		t.Errorf("depth 2: unexpected error: %v", err)
	}
	if err := p.checkDepth(3); !errors.Is(err, ErrFilterLimitExceeded) {
		t.Errorf("depth 3: got %v, want ErrFilterLimitExceeded", err)
	}
	if err := p.checkHandles(3); err != nil {
		t.Errorf("3 handles: unexpected error: %v", err)
	}
	if err := p.checkHandles(4); !errors.Is(err, ErrFilterLimitExceeded) {
		t.Errorf("4 handles: got %v, want ErrFilterLimitExceeded", err)
	}

	unlimited := FilterPolicy{}
	if unlimited.checkDepth(1<<20) != nil || unlimited.checkHandles(1<<40) != nil {
		t.Errorf("zero limits must mean unlimited")
	}
	if err := unlimited.checkType(1, "demo.Person"); !errors.Is(err, ErrFilteredType) {
		t.Errorf("empty rule list must deny, got %v", err)
	}
}

func TestFilterPolicyIsCopied(t *testing.T) {
	p := AllowAll()
	c := p.clone()
	p.Rules[0].Action = FilterDeny
	if !c.Allows(1, "x") {
		t.Errorf("clone shares its rules with the original")
	}
}
