package injectpoint

import (
	"context"
	"fmt"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Messages reported by the site checks.
const (
	DuplicateTargetMessage = "Duplicate target is redundant"
	ambiguousFormat        = "Ambiguous reference to method '%s' in target class"
)

// Ambiguity is a name-only selector that matches more than one method of
// its owner. Only the first match becomes a target.
type Ambiguity struct {
	Selector   string   `json:"selector" yaml:"selector"`
	Class      string   `json:"class" yaml:"class"`
	Candidates []string `json:"candidates" yaml:"candidates"`
	Message    string   `json:"message" yaml:"message"`
}

// Duplicate is a target class entry whose class already appears elsewhere
// in the same site.
type Duplicate struct {
	Index   int    `json:"index" yaml:"index"`
	Target  string `json:"target" yaml:"target"`
	Message string `json:"message" yaml:"message"`
}

// AmbiguousSelectors reports name-only selectors of a site that match
// several overloads. Patterns and selectors with a descriptor are never
// ambiguous.
func (e *Engine) AmbiguousSelectors(ctx context.Context, id SiteID) ([]Ambiguity, error) {
	ctx, span := e.startSpan(ctx, "AmbiguousSelectors", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	var out []Ambiguity
	for _, cls := range e.targetClasses(entry) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, sel := range entry.selectors.Selectors {
			if sel.HasDescriptor() || sel.IsPattern() || sel.IsField() || sel.Name() == "" {
				continue
			}
			owner, ok := sel.EffectiveOwner(cls, e.lookup)
			if !ok {
				continue
			}
			var candidates []string
			for _, m := range owner.Methods {
				if sel.Matches(m, owner) {
					candidates = append(candidates, m.Key())
				}
			}
			if len(candidates) > 1 {
				out = append(out, Ambiguity{
					Selector:   sel.Raw(),
					Class:      owner.DottedName(),
					Candidates: candidates,
					Message:    fmt.Sprintf(ambiguousFormat, sel.Name()),
				})
			}
		}
	}
	return out, nil
}

// DuplicateTargets flags every target entry that resolves to the same class
// as another entry. Entries that do not resolve are never duplicates.
func (e *Engine) DuplicateTargets(id SiteID) ([]Duplicate, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	resolved := make([]string, len(entry.site.Targets))
	count := make(map[string]int)
	for i, name := range entry.site.Targets {
		cls, ok := e.lookup.LookupClassForSourceType(bytecode.SourceTypeRef{QualifiedName: name})
		if !ok {
			continue
		}
		resolved[i] = cls.Name
		count[cls.Name]++
	}
	var out []Duplicate
	for i, name := range resolved {
		if name != "" && count[name] > 1 {
			out = append(out, Duplicate{Index: i, Target: entry.site.Targets[i], Message: DuplicateTargetMessage})
		}
	}
	return out, nil
}
