// Package selector parses and matches declarative target-method selectors.
//
// Accepted string forms:
//
//	name                  bare method name (descriptor unconstrained)
//	name(I)V              name plus exact method descriptor
//	(I)V                  descriptor only, any name
//	name:I                field name plus field type (for FIELD points)
//	Lpkg/Owner;name(I)V   owner override prefix on any of the above
//	pkg/Owner.name        alternative owner form (owner must contain '/')
//	get*                  glob pattern over the name ('*' alone matches any)
package selector

import (
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Selector is an immutable, normalized target description.
type Selector struct {
	raw        string
	owner      string
	name       string
	pattern    bool
	params     []string
	hasParams  bool
	ret        string
	hasRet     bool
	field      bool
	structured bool
}

// Raw returns the input the selector was parsed from.
func (s *Selector) Raw() string { return s.raw }

// Owner returns the internal name of the owner override, or "".
func (s *Selector) Owner() string { return s.owner }

// Name returns the name constraint, or "" when unconstrained.
func (s *Selector) Name() string { return s.name }

// IsPattern reports whether Name is a glob pattern.
func (s *Selector) IsPattern() bool { return s.pattern }

// Params returns a copy of the parameter descriptors, or nil when
// parameters are unconstrained.
func (s *Selector) Params() []string {
	if !s.hasParams {
		return nil
	}
	return slices.Clone(s.params)
}

// Return returns the return (or field type) descriptor, or "".
func (s *Selector) Return() string { return s.ret }

// IsExplicitDescriptor reports whether both parameters and return type are
// constrained.
func (s *Selector) IsExplicitDescriptor() bool { return s.hasParams && s.hasRet }

// HasDescriptor reports whether any part of the descriptor is constrained.
func (s *Selector) HasDescriptor() bool { return s.hasParams || s.hasRet }

// IsField reports whether the selector carries a field type rather than a
// method descriptor.
func (s *Selector) IsField() bool { return s.field }

// IsStructured reports whether the selector came from a descriptor record.
func (s *Selector) IsStructured() bool { return s.structured }

// Desc renders the constrained descriptor, or "" when unconstrained.
func (s *Selector) Desc() string {
	switch {
	case s.field:
		return s.ret
	case s.IsExplicitDescriptor():
		return bytecode.MethodDesc(s.params, s.ret)
	}
	return ""
}

func (s *Selector) String() string {
	var b strings.Builder
	if s.owner != "" {
		b.WriteString(bytecode.ClassDesc(s.owner))
	}
	b.WriteString(s.name)
	if s.field {
		b.WriteString(":" + s.ret)
	} else if s.IsExplicitDescriptor() {
		b.WriteString(bytecode.MethodDesc(s.params, s.ret))
	}
	return b.String()
}

// EffectiveOwner returns the class the selector targets: the owner override
// resolved through lookup, or base. ok is false when an override is present
// but unknown.
func (s *Selector) EffectiveOwner(base *bytecode.ClassNode, lookup bytecode.ClassLookup) (*bytecode.ClassNode, bool) {
	if s.owner == "" || (base != nil && s.owner == base.Name) {
		return base, base != nil
	}
	if lookup == nil {
		return nil, false
	}
	return lookup.LookupClass(s.owner)
}

func (s *Selector) matchName(name string) bool {
	if s.name == "" {
		return true
	}
	if !s.pattern {
		return s.name == name
	}
	ok, err := doublestar.Match(s.name, name)
	return err == nil && ok
}

// Matches reports whether method, declared in owningClass, satisfies the
// selector. Names compare exactly and case-sensitively; constrained
// descriptor parts must be equal, with no widening.
func (s *Selector) Matches(method *bytecode.MethodNode, owningClass *bytecode.ClassNode) bool {
	if method == nil || s.field {
		return false
	}
	if s.owner != "" && owningClass != nil && owningClass.Name != s.owner {
		return false
	}
	if !s.matchName(method.Name) {
		return false
	}
	if !s.HasDescriptor() {
		return true
	}
	params, ret, err := bytecode.ParseMethodDesc(method.Desc)
	if err != nil {
		return false
	}
	if s.hasParams && !slices.Equal(s.params, params) {
		return false
	}
	if s.hasRet && s.ret != ret {
		return false
	}
	return true
}

// MatchesReference reports whether a member reference (as carried by invoke
// and field instructions) satisfies the selector.
func (s *Selector) MatchesReference(owner, name, desc string) bool {
	if s.owner != "" && s.owner != owner {
		return false
	}
	if !s.matchName(name) {
		return false
	}
	if s.field {
		return desc == s.ret
	}
	if !s.HasDescriptor() {
		return true
	}
	params, ret, err := bytecode.ParseMethodDesc(desc)
	if err != nil {
		// Field reference against a method-shaped selector.
		return false
	}
	if s.hasParams && !slices.Equal(s.params, params) {
		return false
	}
	return !s.hasRet || s.ret == ret
}
