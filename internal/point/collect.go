package point

import (
	"context"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Mode is the collect cardinality.
type Mode int

const (
	MatchAll Mode = iota
	MatchFirst
	MatchLast
)

func (m Mode) String() string {
	switch m {
	case MatchFirst:
		return "MATCH_FIRST"
	case MatchLast:
		return "MATCH_LAST"
	default:
		return "MATCH_ALL"
	}
}

// ParseMode accepts "first", "last", "all" and the MATCH_* forms.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "all", "ALL", "MATCH_ALL", "":
		return MatchAll, true
	case "first", "FIRST", "MATCH_FIRST":
		return MatchFirst, true
	case "last", "LAST", "MATCH_LAST":
		return MatchLast, true
	}
	return MatchAll, false
}

// Position says on which side of Result.Insn code is inserted.
type Position int

const (
	Before Position = iota
	After
)

func (p Position) String() string {
	if p == After {
		return "after"
	}
	return "before"
}

// Result is one resolved injection point. Matched is the instruction the
// kind's predicate accepted; Insn is the insertion anchor after shifting.
type Result struct {
	Insn     *bytecode.Insn
	Matched  *bytecode.Insn
	Position Position
}

// Index returns the ordinal of the insertion anchor.
func (r Result) Index() int { return r.Insn.Index() }

// Predicate is a structural test over one instruction. Predicates may keep
// per-traversal state and are built fresh for each traversal.
type Predicate func(insn *bytecode.Insn) bool

// ctxCheckInterval is how many instructions are visited between
// cancellation checks.
const ctxCheckInterval = 256

// Visitor walks a method's instruction sequence collecting accepted
// instructions. A Visitor holds no state between Collect calls.
type Visitor struct {
	Accepts Predicate
	Mode    Mode
	// From and End bound the scan to ordinals [From, End). End <= 0 means
	// the end of the method, so the zero Visitor scans everything.
	From, End int
}

// Collect performs one linear pass over method. MatchFirst stops at the
// first accepted instruction; MatchLast keeps the most recent one; MatchAll
// returns every accepted instruction in ascending ordinal order.
func (v Visitor) Collect(ctx context.Context, method *bytecode.MethodNode) ([]*bytecode.Insn, error) {
	insns := method.Insns
	lo, hi := max(v.From, 0), len(insns)-1
	if v.End > 0 && v.End-1 < hi {
		hi = v.End - 1
	}

	var out []*bytecode.Insn
	var last *bytecode.Insn
	for i := lo; i <= hi; i++ {
		if (i-lo)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		insn := insns[i]
		if !v.Accepts(insn) {
			continue
		}
		switch v.Mode {
		case MatchFirst:
			return []*bytecode.Insn{insn}, nil
		case MatchLast:
			last = insn
		default:
			out = append(out, insn)
		}
	}
	if v.Mode == MatchLast && last != nil {
		return []*bytecode.Insn{last}, nil
	}
	return out, nil
}

// Collect is a convenience for a full-method Visitor.
func Collect(ctx context.Context, method *bytecode.MethodNode, accepts Predicate, mode Mode) ([]*bytecode.Insn, error) {
	return Visitor{Accepts: accepts, Mode: mode}.Collect(ctx, method)
}
