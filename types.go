package injectpoint

import (
	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/cache"
	"github.com/jward/injectpoint/internal/failure"
	"github.com/jward/injectpoint/internal/point"
	"github.com/jward/injectpoint/internal/selector"
	"github.com/jward/injectpoint/internal/source"
	"github.com/jward/injectpoint/internal/store"
)

// Public type aliases for internal types used in the Engine API. These are
// Go type aliases (=), identical to the internal types at compile time.

type ClassNode = bytecode.ClassNode
type MethodNode = bytecode.MethodNode
type Insn = bytecode.Insn
type ClassLookup = bytecode.ClassLookup
type Selector = selector.Selector
type SelectorSet = selector.Set
type DescRecord = selector.DescRecord
type Descriptor = point.Descriptor
type Result = point.Result
type Mode = point.Mode
type Failure = failure.Failure
type Element = source.Element
type SiteID = cache.SiteID

// Collect modes.
const (
	MatchAll   = point.MatchAll
	MatchFirst = point.MatchFirst
	MatchLast  = point.MatchLast
)

type Store = store.Store
type CommitResult = store.CommitResult
