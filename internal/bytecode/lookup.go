package bytecode

import (
	"strings"
	"sync"
)

// SourceTypeRef is a source-level reference to a class, e.g.
// "com.example.Outer.Inner". Nested classes may be written with '.'.
type SourceTypeRef struct {
	QualifiedName string
}

// ClassLookup resolves class names to compiled representations. The
// returned classes are shared and must not be mutated.
type ClassLookup interface {
	LookupClass(name string) (*ClassNode, bool)
	LookupClassForSourceType(ref SourceTypeRef) (*ClassNode, bool)
}

// LookupSourceType resolves a source-level reference through lookup by
// trying the plain name first and then progressively treating trailing
// segments as nested classes.
func LookupSourceType(lookup func(string) (*ClassNode, bool), ref SourceTypeRef) (*ClassNode, bool) {
	name := strings.TrimSpace(ref.QualifiedName)
	if name == "" {
		return nil, false
	}
	internal := InternalName(name)
	if c, ok := lookup(internal); ok {
		return c, true
	}
	// a/b/Outer/Inner -> a/b/Outer$Inner -> a/b$Outer$Inner ...
	for {
		i := strings.LastIndexByte(internal, '/')
		if i < 0 {
			return nil, false
		}
		internal = internal[:i] + "$" + internal[i+1:]
		if c, ok := lookup(internal); ok {
			return c, true
		}
	}
}

// Classes is an in-memory ClassLookup. Safe for concurrent use.
type Classes struct {
	mu     sync.RWMutex
	byName map[string]*ClassNode
}

var _ ClassLookup = (*Classes)(nil)

// NewClasses builds a lookup over the given classes.
func NewClasses(classes ...*ClassNode) *Classes {
	c := &Classes{byName: make(map[string]*ClassNode, len(classes))}
	for _, cls := range classes {
		c.byName[cls.Name] = cls
	}
	return c
}

// Add registers (or replaces) a class.
func (c *Classes) Add(cls *ClassNode) {
	c.mu.Lock()
	c.byName[cls.Name] = cls
	c.mu.Unlock()
}

// LookupClass accepts internal or dotted names.
func (c *Classes) LookupClass(name string) (*ClassNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cls, ok := c.byName[InternalName(name)]
	return cls, ok
}

func (c *Classes) LookupClassForSourceType(ref SourceTypeRef) (*ClassNode, bool) {
	return LookupSourceType(c.LookupClass, ref)
}
