// Package injectpoint resolves declarative bytecode injection points. Given
// an injector declaration (a [Site]: its target classes, method selectors
// and instruction-point descriptors) it finds the target methods in the
// compiled classes and the concrete instructions the descriptors denote, or
// explains without failing why they do not resolve.
//
// # Pipeline
//
// Resolution runs in two stages:
//
//  1. Targets: each method selector is parsed once at registration and
//     matched against the effective owner's methods in declaration order.
//     The first matching method per selector becomes a [Target].
//
//  2. Instructions: for every target, each descriptor of the site's handler
//     is dispatched by kind (HEAD, INVOKE, FIELD, ...) to a matcher that
//     walks the method's instruction sequence with a collecting visitor
//     (first, last or all matches), then applies ordinal, slice and shift
//     refinement.
//
// # Usage
//
// Create an Engine over a class index, register sites, and query:
//
//	e, err := injectpoint.Open("index.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	id := e.Register(injectpoint.Site{
//		Handler: "inject",
//		Targets: []string{"com.example.Target"},
//		Method:  []string{"tick"},
//		At:      []*injectpoint.Descriptor{{Value: "HEAD"}},
//	})
//	fail, err := e.IsUnresolved(ctx, id)
//
// # Failures
//
// Resolution outcomes are values: a nil [Failure] means resolved. Failures
// from several targets combine so that one resolvable target masks the
// others, and the most specific failure is surfaced otherwise. Go errors are
// reserved for cancellation, storage and script evaluation.
//
// # Caching
//
// [Engine.ResolveInstructions] results are cached per site and (class,
// method, mode) for the lifetime of the modification stamp. Indexing a
// changed class or calling [Engine.Invalidate] advances the stamp, which
// discards every cached entry at once.
//
// # Scripts
//
// The SCRIPT kind delegates matching to Risor scripts under
// matchers/{name}.risor, loaded from [WithScriptsFS] or [WithScriptsDir].
// Scripts receive the instruction list and call match(i) for each accepted
// ordinal. See the internal/runtime package for the globals they can use.
package injectpoint
