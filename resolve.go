package injectpoint

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/failure"
	"github.com/jward/injectpoint/internal/point"
	"github.com/jward/injectpoint/internal/selector"
	"github.com/jward/injectpoint/internal/source"
)

// InsnResult is one resolved injection point in a target method.
type InsnResult struct {
	Target Target
	Result point.Result
	// Allowed reports whether the site's handler can act on the matched
	// instruction.
	Allowed bool
}

// TargetSignatures lists the handler shapes acceptable for one target. Any
// is set when the shape cannot be determined and every signature passes.
type TargetSignatures struct {
	Target     Target
	Signatures []Signature
	Any        bool
}

func (e *Engine) startSpan(ctx context.Context, name string, id SiteID) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "injectpoint.Engine."+name,
		trace.WithAttributes(attribute.Int("site", int(id))))
}

// ResolveTargets returns the target methods of a site across all of its
// target classes, in class then selector order.
func (e *Engine) ResolveTargets(ctx context.Context, id SiteID) ([]Target, error) {
	ctx, span := e.startSpan(ctx, "ResolveTargets", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, cls := range e.targetClasses(entry) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, entry.handler.resolveTargets(e, entry.selectors, cls)...)
	}
	span.SetAttributes(attribute.Int("targets", len(out)))
	return out, nil
}

// ResolveTargetsIn returns the target methods of a site within cls.
func (e *Engine) ResolveTargetsIn(id SiteID, cls *bytecode.ClassNode) ([]Target, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	return entry.handler.resolveTargets(e, entry.selectors, cls), nil
}

// IsUnresolved reports why a site does not resolve, or nil if at least one
// target in one target class resolves. Sites whose selectors are dynamic
// cannot be checked statically and always report nil.
func (e *Engine) IsUnresolved(ctx context.Context, id SiteID) (*failure.Failure, error) {
	ctx, span := e.startSpan(ctx, "IsUnresolved", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	if e.dynamic(entry) {
		span.SetAttributes(attribute.Bool("dynamic", true))
		return nil, nil
	}
	classes := e.targetClasses(entry)
	fails := make([]*failure.Failure, 0, len(classes))
	for _, cls := range classes {
		f, err := e.isUnresolvedIn(ctx, entry, cls)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, nil
		}
		fails = append(fails, f)
	}
	f := failure.Reduce(fails)
	span.SetAttributes(attribute.String("failure", f.String()))
	return f, nil
}

// IsUnresolvedIn is IsUnresolved restricted to one target class.
func (e *Engine) IsUnresolvedIn(ctx context.Context, id SiteID, cls *bytecode.ClassNode) (*failure.Failure, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	if e.dynamic(entry) {
		return nil, nil
	}
	return e.isUnresolvedIn(ctx, entry, cls)
}

func (e *Engine) dynamic(entry *siteEntry) bool {
	for _, raw := range entry.site.Method {
		if selector.IsDynamic(raw, e.dynamicPrefixes...) {
			return true
		}
	}
	return false
}

func (e *Engine) isUnresolvedIn(ctx context.Context, entry *siteEntry, cls *bytecode.ClassNode) (*failure.Failure, error) {
	targets := entry.handler.resolveTargets(e, entry.selectors, cls)
	fails := make([]*failure.Failure, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := entry.handler.isUnresolved(ctx, e, &entry.site, t)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, nil
		}
		fails = append(fails, f)
	}
	return failure.Reduce(fails), nil
}

// ResolveInstructions returns the injection points of a site in one target
// method. Results are cached per site for the current modification stamp;
// the returned slice shares the cached elements and must not be modified.
func (e *Engine) ResolveInstructions(ctx context.Context, id SiteID, t Target, mode point.Mode) ([]point.Result, error) {
	ctx, span := e.startSpan(ctx, "ResolveInstructions", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	key := resultKey{generation: entry.generation, class: t.Class.Name, method: t.Method.Key(), mode: mode}
	span.SetAttributes(attribute.String("target", key.CacheKey()))
	res, err := e.results.Get(ctx, id, key, func(ctx context.Context) ([]point.Result, error) {
		return entry.handler.resolveInstructions(ctx, e, &entry.site, t, mode)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clip(res), nil
}

// ResolveInstructionsIn resolves every injection point of a site in one
// target class.
func (e *Engine) ResolveInstructionsIn(ctx context.Context, id SiteID, cls *bytecode.ClassNode, mode point.Mode) ([]InsnResult, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	var out []InsnResult
	for _, t := range entry.handler.resolveTargets(e, entry.selectors, cls) {
		res, err := e.ResolveInstructions(ctx, id, t, mode)
		if err != nil {
			return nil, err
		}
		for _, r := range res {
			out = append(out, InsnResult{
				Target:  t,
				Result:  r,
				Allowed: entry.handler.AllowsInstruction(r.Matched),
			})
		}
	}
	return out, nil
}

// ResolveForNavigation returns source elements for the instructions a site
// matches, before any shift is applied. Without a source provider, or when
// the source cannot be located, bytecode-level fallback elements are
// returned instead.
func (e *Engine) ResolveForNavigation(ctx context.Context, id SiteID) ([]source.Element, error) {
	ctx, span := e.startSpan(ctx, "ResolveForNavigation", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	var out []source.Element
	for _, cls := range e.targetClasses(entry) {
		for _, t := range entry.handler.resolveTargets(e, entry.selectors, cls) {
			insns, err := entry.handler.navigationTargets(ctx, e, &entry.site, t)
			if err != nil {
				return nil, err
			}
			for _, insn := range insns {
				el, err := e.element(ctx, t, insn)
				if err != nil {
					return nil, err
				}
				out = append(out, el)
			}
		}
	}
	span.SetAttributes(attribute.Int("elements", len(out)))
	return out, nil
}

func (e *Engine) element(ctx context.Context, t Target, insn *bytecode.Insn) (source.Element, error) {
	if e.navigator == nil {
		return source.Fallback(t.Class, t.Method, insn), nil
	}
	el, err := e.navigator.InstructionElement(ctx, t.Class, t.Method, insn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return source.Element{}, ctxErr
		}
		e.logger.Warn("source navigation failed",
			zap.String("target", t.String()), zap.Error(err))
	}
	if el == nil {
		return source.Fallback(t.Class, t.Method, insn), nil
	}
	return *el, nil
}

// ExpectedSignature returns the handler shapes acceptable for each target
// of a site.
func (e *Engine) ExpectedSignature(ctx context.Context, id SiteID) ([]TargetSignatures, error) {
	ctx, span := e.startSpan(ctx, "ExpectedSignature", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	var out []TargetSignatures
	for _, cls := range e.targetClasses(entry) {
		for _, t := range entry.handler.resolveTargets(e, entry.selectors, cls) {
			res, err := e.ResolveInstructions(ctx, id, t, point.MatchAll)
			if err != nil {
				return nil, err
			}
			matched := make([]*bytecode.Insn, len(res))
			for i, r := range res {
				matched[i] = r.Matched
			}
			sigs, ok := entry.handler.expectedSignature(&entry.site, t, matched)
			out = append(out, TargetSignatures{Target: t, Signatures: sigs, Any: !ok})
		}
	}
	return out, nil
}
