package codec

import (
	"fmt"
)

// maxReplaceChain bounds how often Replace hooks may hand an object on to
// the rule of another type before the encoder gives up
const maxReplaceChain = 8

// SubstitutionRule swaps objects of type Source on the way out and/or in.
//
//	Original --Replace--> Substitute --wire--> Reconstructed --Resolve--> Final
//
// Replace runs before the object is assigned a handle, so the substitute's
// identity is what gets written. Resolve runs after the reconstructed object's
// fields are read; if it returns a different object every reference to that
// handle ends up pointing at the returned one.
type SubstitutionRule struct {
	Source TypeID
	// Replace is the write-side hook (nil: write the object itself)
	Replace func(obj Serializable) (Serializable, error)
	// Resolve is the read-side hook (nil: keep the reconstructed object)
	Resolve func(obj Serializable) (Serializable, error)
	// ProxyOnly blocks direct decoding of Source: a record carrying its tag
	// fails with ErrProxyRequired. Requires Replace.
	ProxyOnly bool
}

func (r SubstitutionRule) validate() error {
	if r.Source == 0 {
		return fmt.Errorf("codec: substitution rule without source type")
	}
	if r.Replace == nil && r.Resolve == nil {
		return fmt.Errorf("codec: substitution rule for %s has no hooks", r.Source)
	}
	if r.ProxyOnly && r.Replace == nil {
		return fmt.Errorf("codec: proxy-only substitution for %s needs a Replace hook", r.Source)
	}
	return nil
}

// replace applies Replace hooks until the object's type has no rule or a hook
// returns an object of the same type. It returns nil if a hook replaced the
// object with nil.
func (r *Registry) replace(obj Serializable) (Serializable, error) {
	for i := 0; ; i++ {
		rule := r.Rule(obj.TypeID())
		if rule == nil || rule.Replace == nil {
			return obj, nil
		}
		if i == maxReplaceChain {
			return nil, fmt.Errorf("%w: replace chain of %s longer than %d", ErrInvalidObjectState, r.displayName(obj.TypeID()), maxReplaceChain)
		}
		next, err := rule.Replace(obj)
		if err != nil {
			return nil, fmt.Errorf("%w: replace %s: %w", ErrInvalidObjectState, r.displayName(obj.TypeID()), err)
		}
		if isNil(next) {
			return nil, nil
		}
		if next.TypeID() == obj.TypeID() {
			return next, nil
		}
		obj = next
	}
}

// resolve applies the Resolve hook of a decoded object's type
func (r *Registry) resolve(rule *SubstitutionRule, obj Serializable) (Serializable, error) {
	if rule == nil || rule.Resolve == nil {
		return obj, nil
	}
	final, err := rule.Resolve(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrInvalidObjectState, r.displayName(rule.Source), err)
	}
	if isNil(final) {
		return nil, fmt.Errorf("%w: resolve %s returned nil", ErrInvalidObjectState, r.displayName(rule.Source))
	}
	return final, nil
}
