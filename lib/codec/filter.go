package codec

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Filter Policy
// --------------------------------------------------------------------------

// FilterAction is the outcome of a matching filter rule
type FilterAction uint8

const (
	FilterDeny FilterAction = iota
	FilterAllow
)

// String returns the string representation of a FilterAction.
func (a FilterAction) String() string {
	if a == FilterAllow {
		return "allow"
	}
	return "deny"
}

// FilterRule matches type names with a shell glob (path.Match syntax, e.g.
// "demo.*") or a single numeric tag written as "#1234".
type FilterRule struct {
	Pattern string
	Action  FilterAction
}

// matches reports whether the rule applies to a type. name is empty for
// types that are not registered.
func (r FilterRule) matches(tag TypeID, name string) bool {
	if strings.HasPrefix(r.Pattern, "#") {
		return r.Pattern == tag.String()
	}
	ok, err := path.Match(r.Pattern, name)
	return err == nil && ok
}

// FilterPolicy bounds what a Decoder accepts. Rules are evaluated in order,
// the first match wins and a type no rule matches is denied. A zero limit
// means unlimited.
//
// A policy is a closed-form allow-list plus ceilings: it never runs code on
// behalf of the stream.
type FilterPolicy struct {
	Rules      []FilterRule
	MaxDepth   uint32
	MaxHandles uint32
	MaxBytes   uint64
}

// AllowAll returns a policy that accepts every type without limits. Only use
// it for trusted input such as DeepCopy.
func AllowAll() FilterPolicy {
	return FilterPolicy{Rules: []FilterRule{{Pattern: "*", Action: FilterAllow}}}
}

// clone returns a copy that does not share the rule slice
func (p FilterPolicy) clone() FilterPolicy {
	p.Rules = append([]FilterRule(nil), p.Rules...)
	return p
}

// Allows reports whether a type passes the allow-list
func (p FilterPolicy) Allows(tag TypeID, name string) bool {
	for _, r := range p.Rules {
		if r.matches(tag, name) {
			return r.Action == FilterAllow
		}
	}
	return false
}

// checkType is evaluated before a record of type tag is interpreted
func (p FilterPolicy) checkType(tag TypeID, name string) error {
	if p.Allows(tag, name) {
		return nil
	}
	if name == "" {
		return fmt.Errorf("%w: %s", ErrFilteredType, tag)
	}
	return fmt.Errorf("%w: %s (%s)", ErrFilteredType, name, tag)
}

// checkDepth is evaluated before a nested record is interpreted
func (p FilterPolicy) checkDepth(depth int) error {
	if p.MaxDepth > 0 && depth > int(p.MaxDepth) {
		return fmt.Errorf("%w: depth %d > max depth %d", ErrFilterLimitExceeded, depth, p.MaxDepth)
	}
	return nil
}

// checkHandles is evaluated before a new handle is registered
func (p FilterPolicy) checkHandles(count uint64) error {
	if p.MaxHandles > 0 && count > uint64(p.MaxHandles) {
		return fmt.Errorf("%w: %d handles > max handles %d", ErrFilterLimitExceeded, count, p.MaxHandles)
	}
	return nil
}

// String renders the policy in the syntax accepted by ParseFilter
func (p FilterPolicy) String() string {
	parts := make([]string, 0, len(p.Rules)+3)
	if p.MaxDepth > 0 {
		parts = append(parts, "maxdepth="+strconv.FormatUint(uint64(p.MaxDepth), 10))
	}
	if p.MaxHandles > 0 {
		parts = append(parts, "maxhandles="+strconv.FormatUint(uint64(p.MaxHandles), 10))
	}
	if p.MaxBytes > 0 {
		parts = append(parts, "maxbytes="+strconv.FormatUint(p.MaxBytes, 10))
	}
	for _, r := range p.Rules {
		if r.Action == FilterDeny {
			parts = append(parts, "!"+r.Pattern)
		} else {
			parts = append(parts, r.Pattern)
		}
	}
	return strings.Join(parts, ";")
}

// ParseFilter parses a policy from a semicolon separated list of entries:
//
//	demo.*            allow types matching the glob
//	!demo.Secret      deny types matching the glob
//	#1234             allow the numeric tag 1234
//	maxdepth=16       limit nesting depth
//	maxhandles=1000   limit the number of handles in the stream
//	maxbytes=1048576  limit the stream size
//
// Entries are evaluated in order. Everything no entry allows is denied.
func ParseFilter(s string) (FilterPolicy, error) {
	var p FilterPolicy
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if key, value, ok := strings.Cut(entry, "="); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return FilterPolicy{}, fmt.Errorf("invalid filter limit %q: %w", entry, err)
			}
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "maxdepth":
				if n > 1<<32-1 {
					return FilterPolicy{}, fmt.Errorf("invalid filter limit %q: out of range", entry)
				}
				p.MaxDepth = uint32(n)
			case "maxhandles", "maxrefs":
				if n > 1<<32-1 {
					return FilterPolicy{}, fmt.Errorf("invalid filter limit %q: out of range", entry)
				}
				p.MaxHandles = uint32(n)
			case "maxbytes":
				p.MaxBytes = n
			default:
				return FilterPolicy{}, fmt.Errorf("unknown filter limit %q", key)
			}
			continue
		}

		rule := FilterRule{Pattern: entry, Action: FilterAllow}
		if strings.HasPrefix(entry, "!") {
			rule = FilterRule{Pattern: strings.TrimSpace(entry[1:]), Action: FilterDeny}
		}
		if err := validatePattern(rule.Pattern); err != nil {
			return FilterPolicy{}, err
		}
		p.Rules = append(p.Rules, rule)
	}
	return p, nil
}

// validatePattern rejects malformed globs and numeric tags
func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty filter pattern")
	}
	if strings.HasPrefix(pattern, "#") {
		if _, err := strconv.ParseUint(pattern[1:], 10, 32); err != nil {
			return fmt.Errorf("invalid type tag pattern %q", pattern)
		}
		return nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}
	return nil
}
