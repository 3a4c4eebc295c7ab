package store

import (
	"sync"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Batch buffers classes in memory so parallel loaders can stage work
// without touching SQLite. CommitBatch writes it in one transaction.
//
// Thread safety: the mutex protects the buffer. A later Add for the same
// class name replaces the earlier one.
type Batch struct {
	mu      sync.Mutex
	classes []*bytecode.ClassNode
	byName  map[string]int
}

// NewBatch creates an empty Batch.
func NewBatch() *Batch {
	return &Batch{byName: make(map[string]int)}
}

// Add stages cls for commit.
func (b *Batch) Add(cls *bytecode.ClassNode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.byName[cls.Name]; ok {
		b.classes[i] = cls
		return
	}
	b.byName[cls.Name] = len(b.classes)
	b.classes = append(b.classes, cls)
}

// Len returns the number of staged classes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.classes)
}

// Classes returns the staged classes in insertion order.
func (b *Batch) Classes() []*bytecode.ClassNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*bytecode.ClassNode, len(b.classes))
	copy(out, b.classes)
	return out
}
