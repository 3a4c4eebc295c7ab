package injectpoint

import (
	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/point"
	"github.com/jward/injectpoint/internal/selector"
)

// Site is one injector declaration: a handler method annotated with an
// injector kind, the classes its enclosing mixin applies to, and the raw
// selector and descriptor values extracted from its annotation.
type Site struct {
	// Name identifies the declaration in reports, e.g. "FooMixin.onTick".
	Name string `yaml:"name" json:"name"`
	// Handler is the injector kind tag: inject, redirect, modifyarg,
	// modifyvariable, modifyconstant, wrapoperation. Unknown tags use the
	// soft default handler.
	Handler string `yaml:"handler" json:"handler"`
	// Targets are the classes the declaration applies to, internal or
	// dotted names.
	Targets []string `yaml:"targets" json:"targets"`
	// Method holds string selectors; Desc holds structured ones.
	Method []string              `yaml:"method,omitempty" json:"method,omitempty"`
	Desc   []selector.DescRecord `yaml:"desc,omitempty" json:"desc,omitempty"`
	// At holds the instruction-point descriptors of most handlers.
	At []*point.Descriptor `yaml:"at,omitempty" json:"at,omitempty"`
	// Constant holds the descriptors of modifyconstant. An empty kind tag
	// means CONSTANT.
	Constant []*point.Descriptor `yaml:"constant,omitempty" json:"constant,omitempty"`
	// Index selects the call argument for modifyarg.
	Index *int `yaml:"index,omitempty" json:"index,omitempty"`
}

// Target is a resolved method target: a method and the class declaring it.
type Target struct {
	Class    *bytecode.ClassNode
	Method   *bytecode.MethodNode
	Selector *selector.Selector
}

func (t Target) String() string {
	return t.Class.DottedName() + "." + t.Method.Key()
}

// siteEntry is an arena slot. Selectors are parsed once when the site is
// registered and never change afterwards.
type siteEntry struct {
	site      Site
	selectors selector.Set
	handler   Handler
	// generation counts Updates of the site; it is part of every result key.
	generation int
}

func newSiteEntry(site Site) *siteEntry {
	return &siteEntry{
		site:      site,
		selectors: selector.ParseAll(site.Method, site.Desc),
		handler:   HandlerFor(site.Handler),
	}
}

// descriptors returns the site's descriptors under key.
func (s *Site) descriptors(key string) []*point.Descriptor {
	if key != constantKey {
		return s.At
	}
	out := make([]*point.Descriptor, len(s.Constant))
	for i, d := range s.Constant {
		if d != nil && d.Value == "" {
			c := *d
			c.Value = point.KindConstant.String()
			d = &c
		}
		out[i] = d
	}
	return out
}
