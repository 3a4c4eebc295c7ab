// Package point resolves injection-point descriptors against a method's
// instruction sequence.
package point

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/failure"
)

// Resolver dispatches descriptors to kind matchers. A Resolver is safe for
// concurrent use; all traversal state is per call.
type Resolver struct {
	scripts ScriptRunner
	logger  *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScripts sets the runner used by SCRIPT descriptors.
func WithScripts(s ScriptRunner) Option {
	return func(r *Resolver) { r.scripts = s }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// outcome is the full result of one resolution run.
type outcome struct {
	results []Result
	// matched are the accepted instructions after ordinal refinement,
	// before shifting.
	matched []*bytecode.Insn
	fail    *failure.Failure
}

// Resolve returns the injection points d denotes in method, ordered by
// ascending ordinal. MatchLast yields only the highest-ordinal point. A
// descriptor that does not resolve yields no results; use IsUnresolved
// for the reason.
func (r *Resolver) Resolve(ctx context.Context, d *Descriptor, class *bytecode.ClassNode, method *bytecode.MethodNode, mode Mode) ([]Result, error) {
	out, err := r.run(ctx, d, class, method, mode)
	if err != nil {
		return nil, err
	}
	return out.results, nil
}

// IsUnresolved returns nil when d resolves to at least one point in method.
func (r *Resolver) IsUnresolved(ctx context.Context, d *Descriptor, class *bytecode.ClassNode, method *bytecode.MethodNode) (*failure.Failure, error) {
	out, err := r.run(ctx, d, class, method, MatchFirst)
	if err != nil {
		return nil, err
	}
	return out.fail, nil
}

// NavigationTargets returns the structurally matched instructions, before
// any shift. It tolerates partial results: a shift that falls outside the
// method does not remove the match.
func (r *Resolver) NavigationTargets(ctx context.Context, d *Descriptor, class *bytecode.ClassNode, method *bytecode.MethodNode) ([]*bytecode.Insn, error) {
	out, err := r.run(ctx, d, class, method, MatchAll)
	if err != nil {
		return nil, err
	}
	return out.matched, nil
}

func (r *Resolver) run(ctx context.Context, d *Descriptor, class *bytecode.ClassNode, method *bytecode.MethodNode, mode Mode) (outcome, error) {
	if d == nil || method == nil {
		return outcome{fail: failure.Generic()}, nil
	}
	kind, ok := ParseKind(d.Value)
	if !ok {
		r.logger.Debug("unknown injection point kind", zap.String("kind", d.Value))
		return outcome{fail: failure.NewSoft(fmt.Sprintf("Unknown injection point %q", d.Value))}, nil
	}
	spec := kinds[kind]

	mc := &matchContext{
		ctx:     ctx,
		class:   class,
		method:  method,
		desc:    d,
		args:    d.ArgMap(),
		scripts: r.scripts,
	}
	if spec.nested {
		nested, err := d.NestedSelector()
		if err != nil {
			return outcome{fail: descriptorFailure("%s: %v", kind, err)}, nil
		}
		mc.nested = nested
	}

	ordinal := d.Ordinal
	if ordinal == nil {
		if raw, ok := mc.args["ordinal"]; ok {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return outcome{fail: descriptorFailure("invalid ordinal %q", raw)}, nil
			}
			ordinal = &n
		}
	}

	lo, hi := 0, -1
	if d.Slice != nil {
		var fail *failure.Failure
		var err error
		if lo, hi, fail, err = r.sliceBounds(ctx, d.Slice, class, method); err != nil || fail != nil {
			return outcome{fail: fail}, err
		}
	}

	accepts, fail, err := spec.build(mc)
	if err != nil {
		return outcome{}, fmt.Errorf("point: %s: %w", kind, err)
	}
	if fail != nil {
		return outcome{fail: fail}, nil
	}

	offset := d.offset()
	refine := ordinal != nil || offset != 0
	collectMode := mode
	if refine {
		collectMode = MatchAll
	}
	matched, err := Visitor{Accepts: accepts, Mode: collectMode, From: lo, End: hi + 1}.Collect(ctx, method)
	if err != nil {
		return outcome{}, err
	}

	if ordinal != nil {
		if *ordinal >= 0 && *ordinal < len(matched) {
			matched = matched[*ordinal : *ordinal+1]
		} else {
			matched = nil
		}
	}

	results := make([]Result, 0, len(matched))
	for _, m := range matched {
		at := m.Index() + offset
		if at < 0 || at >= len(method.Insns) {
			continue
		}
		results = append(results, Result{Insn: method.Insns[at], Matched: m, Position: spec.position})
	}
	if refine && len(results) > 1 {
		switch mode {
		case MatchFirst:
			results = results[:1]
		case MatchLast:
			results = results[len(results)-1:]
		}
	}

	out := outcome{results: results, matched: matched}
	if len(results) == 0 {
		out.fail = failure.New(
			fmt.Sprintf("Cannot resolve %s in %s", describe(kind, d), methodName(class, method)),
			failure.SpecificityInstruction,
		)
	}
	return out, nil
}

// sliceBounds resolves the From (first match) and To (last match) bounds.
func (r *Resolver) sliceBounds(ctx context.Context, s *Slice, class *bytecode.ClassNode, method *bytecode.MethodNode) (int, int, *failure.Failure, error) {
	lo, hi := 0, -1
	if s.From != nil {
		res, err := r.Resolve(ctx, s.From, class, method, MatchFirst)
		if err != nil {
			return 0, 0, nil, err
		}
		if len(res) == 0 {
			return 0, 0, descriptorFailure("Cannot resolve slice start %s", s.From), nil
		}
		lo = res[0].Index()
	}
	if s.To != nil {
		res, err := r.Resolve(ctx, s.To, class, method, MatchLast)
		if err != nil {
			return 0, 0, nil, err
		}
		if len(res) == 0 {
			return 0, 0, descriptorFailure("Cannot resolve slice end %s", s.To), nil
		}
		hi = res[0].Index()
	}
	if hi >= 0 && hi < lo {
		return 0, 0, descriptorFailure("Empty slice %d..%d", lo, hi), nil
	}
	return lo, hi, nil, nil
}

func describe(kind Kind, d *Descriptor) string {
	if d.Target != "" {
		return kind.String() + " " + d.Target
	}
	if d.Desc != nil {
		return kind.String() + " " + d.Desc.String()
	}
	return kind.String()
}

func methodName(class *bytecode.ClassNode, method *bytecode.MethodNode) string {
	if class == nil {
		return method.Key()
	}
	return class.DottedName() + "." + method.Key()
}
