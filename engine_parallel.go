package injectpoint

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/failure"
	"github.com/jward/injectpoint/internal/point"
)

// ResolveAllInstructions resolves a site's injection points in every target
// class. Classes are resolved by a worker pool; results keep target class
// order.
func (e *Engine) ResolveAllInstructions(ctx context.Context, id SiteID, mode point.Mode) ([]InsnResult, error) {
	ctx, span := e.startSpan(ctx, "ResolveAllInstructions", id)
	defer span.End()

	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	classes := e.targetClasses(entry)
	if len(classes) == 0 {
		return nil, nil
	}

	type work struct {
		slot int
		cls  *bytecode.ClassNode
	}
	workCh := make(chan work, len(classes))
	for i, cls := range classes {
		workCh <- work{slot: i, cls: cls}
	}
	close(workCh)

	type result struct {
		slot int
		res  []InsnResult
		err  error
	}
	resultCh := make(chan result, len(classes))

	var wg sync.WaitGroup
	for range min(e.workers, len(classes)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.ResolveInstructionsIn(ctx, id, w.cls, mode)
				resultCh <- result{slot: w.slot, res: res, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	slots := make([][]InsnResult, len(classes))
	var errs []error
	for r := range resultCh {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", classes[r.slot].DottedName(), r.err))
			continue
		}
		slots[r.slot] = r.res
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("resolving instructions had %d error(s): %w", len(errs), errs[0])
	}

	var out []InsnResult
	for _, s := range slots {
		out = append(out, s...)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Report is the outcome of checking one site.
type Report struct {
	Site    SiteID `json:"site" yaml:"site"`
	Name    string `json:"name" yaml:"name"`
	Handler string `json:"handler" yaml:"handler"`
	// Failure is nil when the site resolves.
	Failure *failure.Failure `json:"failure,omitempty" yaml:"failure,omitempty"`
	// Soft is set when the failure should not be shown as an error, either
	// because the handler is soft or the failure itself is.
	Soft bool `json:"soft,omitempty" yaml:"soft,omitempty"`
	// NothingParseable is set when the site has selectors but none parse.
	NothingParseable bool        `json:"nothing_parseable,omitempty" yaml:"nothing_parseable,omitempty"`
	Dropped          []string    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	Ambiguities      []Ambiguity `json:"ambiguities,omitempty" yaml:"ambiguities,omitempty"`
	Duplicates       []Duplicate `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
}

// OK reports whether the site resolved with nothing to flag.
func (r Report) OK() bool {
	return (r.Failure == nil || r.Soft) && !r.NothingParseable &&
		len(r.Ambiguities) == 0 && len(r.Duplicates) == 0
}

// CheckSites checks every site in ids concurrently and returns one Report
// per site, in input order. A nil ids checks all registered sites.
func (e *Engine) CheckSites(ctx context.Context, ids []SiteID) ([]Report, error) {
	ctx, span := e.tracer.Start(ctx, "injectpoint.Engine.CheckSites")
	defer span.End()

	if ids == nil {
		ids = e.Sites()
	}
	span.SetAttributes(attribute.Int("sites", len(ids)))

	reports := make([]Report, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range ids {
		g.Go(func() error {
			r, err := e.checkSite(gctx, id)
			if err != nil {
				return fmt.Errorf("check site %d: %w", id, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	e.logger.Debug("checked sites", zap.Int("sites", len(ids)), zap.Int("flagged", failed))
	return reports, nil
}

func (e *Engine) checkSite(ctx context.Context, id SiteID) (Report, error) {
	entry, err := e.entry(id)
	if err != nil {
		return Report{}, err
	}
	r := Report{
		Site:             id,
		Name:             entry.site.Name,
		Handler:          entry.handler.String(),
		NothingParseable: entry.selectors.NothingParseable(),
		Dropped:          entry.selectors.Dropped,
	}
	if r.Failure, err = e.IsUnresolved(ctx, id); err != nil {
		return Report{}, err
	}
	if r.Failure != nil {
		r.Soft = entry.handler.Soft() || r.Failure.Soft
	}
	if r.Ambiguities, err = e.AmbiguousSelectors(ctx, id); err != nil {
		return Report{}, err
	}
	if r.Duplicates, err = e.DuplicateTargets(id); err != nil {
		return Report{}, err
	}
	return r, nil
}
