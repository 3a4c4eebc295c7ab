package injectpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	goruntime "runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/cache"
	"github.com/jward/injectpoint/internal/point"
	"github.com/jward/injectpoint/internal/runtime"
	"github.com/jward/injectpoint/internal/selector"
	"github.com/jward/injectpoint/internal/source"
	"github.com/jward/injectpoint/internal/store"
)

const tracerName = "github.com/jward/injectpoint"

// ErrUnknownSite is returned for a SiteID the Engine did not issue.
var ErrUnknownSite = errors.New("injectpoint: unknown site")

// ModificationTracker is a host-advanced modification counter. Advance it
// whenever something the engine cannot observe changes, such as a class in
// an in-memory lookup or a site's declaration.
type ModificationTracker struct {
	count atomic.Int64
}

// Stamp returns the current count.
func (t *ModificationTracker) Stamp() int64 { return t.count.Load() }

// Advance increments the count and returns the new value.
func (t *ModificationTracker) Advance() int64 { return t.count.Add(1) }

// Engine resolves injector sites against a class lookup. It is safe for
// concurrent use; the result cache is its only mutable shared state besides
// the site arena.
type Engine struct {
	lookup   bytecode.ClassLookup
	store    *store.Store
	tracker  ModificationTracker
	stamp    cache.StampFunc
	resolver *point.Resolver

	scripts    point.ScriptRunner
	scriptsDir string
	scriptsFS  fs.FS

	sources   source.Provider
	navigator *source.Navigator

	dynamicPrefixes []string
	workers         int

	logger *zap.Logger
	tracer trace.Tracer

	results *cache.Cache[resultKey, []point.Result]

	mu    sync.RWMutex
	sites []*siteEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the zap logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracerProvider sets the OpenTelemetry provider for engine spans. The
// default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithStamp replaces the modification stamp source. The function must be
// monotonic. By default the stamp combines the class store's stamp with the
// Engine's own ModificationTracker.
func WithStamp(fn func() int64) Option {
	return func(e *Engine) { e.stamp = fn }
}

// WithScripts sets the runner for SCRIPT injection points directly.
func WithScripts(r point.ScriptRunner) Option {
	return func(e *Engine) { e.scripts = r }
}

// WithScriptsFS loads matcher scripts from fsys, typically the embedded
// scripts.FS.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) { e.scriptsFS = fsys }
}

// WithScriptsDir loads matcher scripts from a directory on disk.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) { e.scriptsDir = dir }
}

// WithSources enables source navigation through provider.
func WithSources(p source.Provider) Option {
	return func(e *Engine) { e.sources = p }
}

// WithDynamicPrefixes adds selector prefixes treated as dynamic, in
// addition to the built-in "@Id:" and "@Id(" forms.
func WithDynamicPrefixes(prefixes ...string) Option {
	return func(e *Engine) { e.dynamicPrefixes = append(e.dynamicPrefixes, prefixes...) }
}

// WithWorkers bounds the worker pools of the fan-out operations. Values
// below one mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

func withStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// New creates an Engine over lookup.
func New(lookup bytecode.ClassLookup, opts ...Option) *Engine {
	e := &Engine{lookup: lookup, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.workers < 1 {
		e.workers = goruntime.NumCPU()
	}

	// Build the script Runtime once options are known, since it needs the
	// logger and the class lookup.
	if e.scripts == nil && (e.scriptsFS != nil || e.scriptsDir != "") {
		rtOpts := []runtime.RuntimeOption{
			runtime.WithRuntimeLogger(e.logger),
			runtime.WithClassLookup(lookup),
		}
		if e.scriptsFS != nil {
			rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
		}
		e.scripts = runtime.NewRuntime(e.scriptsDir, rtOpts...)
	}
	e.resolver = point.NewResolver(point.WithScripts(e.scripts), point.WithLogger(e.logger))

	if e.sources != nil {
		e.navigator = source.NewNavigator(e.sources, e.logger)
	}
	if e.stamp == nil {
		e.stamp = e.defaultStamp
	}
	e.results = cache.New[resultKey, []point.Result]("instructions", e.stamp)
	return e
}

// Open creates an Engine backed by a SQLite class index at dbPath.
func Open(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("injectpoint: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("injectpoint: migrate: %w", err)
	}
	return New(s, append([]Option{withStore(s)}, opts...)...), nil
}

// Close releases the class store, if any.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Store returns the SQLite class index, or nil for lookup-backed engines.
func (e *Engine) Store() *Store {
	return e.store
}

func (e *Engine) defaultStamp() int64 {
	stamp := e.tracker.Stamp()
	if e.store != nil {
		stamp += e.store.Stamp()
	}
	return stamp
}

// Stamp returns the current modification stamp.
func (e *Engine) Stamp() int64 { return e.stamp() }

// Invalidate advances the Engine's modification tracker, discarding every
// cached result. With WithStamp the caller's stamp source is authoritative
// and Invalidate has no effect on it.
func (e *Engine) Invalidate() { e.tracker.Advance() }

// CacheStats reports the instruction cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.results.Stats() }

// Matchers lists the script matchers SCRIPT descriptors can name. It is
// empty when no scripts are configured or the runner cannot enumerate them.
func (e *Engine) Matchers() ([]string, error) {
	lister, ok := e.scripts.(interface{ Matchers() ([]string, error) })
	if !ok {
		return nil, nil
	}
	return lister.Matchers()
}

// Index stores classes in the SQLite index, advancing the stamp when any
// class content changed. It requires an Engine created with Open.
func (e *Engine) Index(ctx context.Context, classes []*bytecode.ClassNode) (CommitResult, error) {
	ctx, span := e.tracer.Start(ctx, "injectpoint.Engine.Index",
		trace.WithAttributes(attribute.Int("classes", len(classes))))
	defer span.End()

	if e.store == nil {
		return CommitResult{}, errors.New("injectpoint: index: engine has no class store")
	}
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	batch := store.NewBatch()
	for _, c := range classes {
		batch.Add(c)
	}
	res, err := e.store.CommitBatch(batch)
	if err != nil {
		return res, fmt.Errorf("injectpoint: index: %w", err)
	}
	span.SetAttributes(attribute.Int("changed", len(res.Changed)), attribute.Int64("stamp", res.Stamp))
	e.logger.Debug("indexed classes",
		zap.Int("changed", len(res.Changed)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int64("stamp", res.Stamp))
	return res, nil
}

// Prune removes every indexed class whose internal name is not in keep and
// returns the removed names. Each removal advances the stamp.
func (e *Engine) Prune(ctx context.Context, keep []string) ([]string, error) {
	if e.store == nil {
		return nil, errors.New("injectpoint: prune: engine has no class store")
	}
	names, err := e.store.ClassNames()
	if err != nil {
		return nil, fmt.Errorf("injectpoint: prune: %w", err)
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[bytecode.InternalName(k)] = true
	}
	var removed []string
	for _, name := range names {
		if kept[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		ok, err := e.store.DeleteClass(name)
		if err != nil {
			return removed, fmt.Errorf("injectpoint: prune: %w", err)
		}
		if ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		e.logger.Debug("pruned classes", zap.Strings("classes", removed), zap.Int64("stamp", e.store.Stamp()))
	}
	return removed, nil
}

// Register adds site to the arena and returns its identity. Selectors are
// parsed here, once.
func (e *Engine) Register(site Site) SiteID {
	entry := newSiteEntry(site)
	if dropped := entry.selectors.Dropped; len(dropped) > 0 {
		e.logger.Debug("dropped unparseable selectors",
			zap.String("site", site.Name), zap.Strings("selectors", dropped))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sites = append(e.sites, entry)
	return SiteID(len(e.sites) - 1)
}

// Update replaces the declaration behind id. The site's cached results are
// dropped and later lookups use a new generation of keys, so no result
// computed from the old declaration survives even under WithStamp.
func (e *Engine) Update(id SiteID, site Site) error {
	entry := newSiteEntry(site)
	e.mu.Lock()
	if int(id) < 0 || int(id) >= len(e.sites) {
		e.mu.Unlock()
		return ErrUnknownSite
	}
	entry.generation = e.sites[id].generation + 1
	e.sites[id] = entry
	e.mu.Unlock()
	e.results.Drop(id)
	e.tracker.Advance()
	return nil
}

// Site returns the declaration registered under id.
func (e *Engine) Site(id SiteID) (Site, bool) {
	entry, err := e.entry(id)
	if err != nil {
		return Site{}, false
	}
	return entry.site, true
}

// Selectors returns the parse outcome of a site's selectors. Callers use
// it to tell "nothing parseable" apart from "parsed but unmatched".
func (e *Engine) Selectors(id SiteID) (selector.Set, bool) {
	entry, err := e.entry(id)
	if err != nil {
		return selector.Set{}, false
	}
	return entry.selectors, true
}

// Sites returns every registered SiteID in registration order.
func (e *Engine) Sites() []SiteID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]SiteID, len(e.sites))
	for i := range ids {
		ids[i] = SiteID(i)
	}
	return ids
}

func (e *Engine) entry(id SiteID) (*siteEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(e.sites) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSite, id)
	}
	return e.sites[id], nil
}

// targetClasses resolves a site's target class names. Unknown names are
// skipped.
func (e *Engine) targetClasses(entry *siteEntry) []*bytecode.ClassNode {
	out := make([]*bytecode.ClassNode, 0, len(entry.site.Targets))
	for _, name := range entry.site.Targets {
		cls, ok := e.lookup.LookupClassForSourceType(bytecode.SourceTypeRef{QualifiedName: name})
		if !ok {
			e.logger.Debug("target class not found",
				zap.String("site", entry.site.Name), zap.String("class", name))
			continue
		}
		out = append(out, cls)
	}
	return out
}

// resultKey identifies cached instruction results within a site.
type resultKey struct {
	generation int
	class      string
	method     string
	mode       point.Mode
}

func (k resultKey) CacheKey() string {
	return strconv.Itoa(k.generation) + ":" + k.class + "." + k.method + "#" + k.mode.String()
}
