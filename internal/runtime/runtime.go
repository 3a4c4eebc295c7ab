// Package runtime hosts script-defined injection-point matchers. A matcher
// is a Risor script that walks the insns global and calls match(i) for every
// accepted instruction ordinal.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/point"
)

// Runtime runs matcher scripts against compiled methods. Scripts and their
// imports are read from a single filesystem.
type Runtime struct {
	fsys    fs.FS
	logger  *zap.Logger
	classes bytecode.ClassLookup
}

var _ point.ScriptRunner = (*Runtime)(nil)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS reads scripts from fsys instead of the scripts directory.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger routes the scripts' log object to l.
func WithRuntimeLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClassLookup exposes lookup_class(name) to scripts.
func WithClassLookup(lookup bytecode.ClassLookup) RuntimeOption {
	return func(r *Runtime) {
		r.classes = lookup
	}
}

// NewRuntime creates a Runtime reading scripts from scriptsDir. An empty
// scriptsDir without WithRuntimeFS leaves only inline matchers usable.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.fsys == nil && scriptsDir != "" {
		r.fsys = os.DirFS(scriptsDir)
	}
	return r
}

// MatchScript runs the named matcher against method and returns the
// ordinals the script passed to match(), ascending and deduplicated.
func (r *Runtime) MatchScript(ctx context.Context, name string, class *bytecode.ClassNode, method *bytecode.MethodNode, args map[string]string) ([]int, error) {
	src, err := r.LoadScript(MatcherScriptPath(name))
	if err != nil {
		return nil, err
	}
	return r.match(ctx, name, src, class, method, args)
}

// MatchSource runs matcher source that is not backed by a file.
func (r *Runtime) MatchSource(ctx context.Context, src string, class *bytecode.ClassNode, method *bytecode.MethodNode, args map[string]string) ([]int, error) {
	return r.match(ctx, "<inline>", src, class, method, args)
}

func (r *Runtime) match(ctx context.Context, label, src string, class *bytecode.ClassNode, method *bytecode.MethodNode, args map[string]string) ([]int, error) {
	var hits []int
	cls := object.Object(object.Nil)
	if class != nil {
		cls = classObject(class)
	}
	globals := r.globals()
	globals["insns"] = insnsObject(method)
	globals["args"] = argsObject(args)
	globals["method"] = methodObject(method)
	globals["class"] = cls
	globals["match"] = makeMatchFn(len(method.Insns), &hits)

	opts := make([]risor.Option, 0, len(globals)+1)
	names := make([]string, 0, len(globals))
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
		names = append(names, name)
	}
	if r.fsys != nil {
		opts = append(opts, risor.WithImporter(importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: names,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})))
	}
	if _, err := risor.Eval(ctx, src, opts...); err != nil {
		return nil, fmt.Errorf("runtime: matcher %s: %w", label, err)
	}
	slices.Sort(hits)
	return slices.Compact(hits), nil
}

// LoadScript returns the source of the script at p, a slash-separated path
// relative to the scripts root.
func (r *Runtime) LoadScript(p string) (string, error) {
	if r.fsys == nil {
		return "", fmt.Errorf("runtime: load %s: no scripts configured", p)
	}
	data, err := fs.ReadFile(r.fsys, strings.TrimPrefix(p, "/"))
	if err != nil {
		return "", fmt.Errorf("runtime: load %s: %w", p, err)
	}
	return string(data), nil
}

// Matchers lists the names of the matcher scripts available to SCRIPT
// descriptors.
func (r *Runtime) Matchers() ([]string, error) {
	if r.fsys == nil {
		return nil, nil
	}
	files, err := fs.Glob(r.fsys, "matchers/*.risor")
	if err != nil {
		return nil, fmt.Errorf("runtime: list matchers: %w", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = strings.TrimSuffix(path.Base(f), ".risor")
	}
	return names, nil
}

// MatcherScriptPath maps a matcher name to its script path. A name that
// already ends in .risor is used as a path.
func MatcherScriptPath(name string) string {
	if strings.HasSuffix(name, ".risor") {
		return name
	}
	return path.Join("matchers", name+".risor")
}

func (r *Runtime) globals() map[string]any {
	g := map[string]any{
		"log":    mustProxy(&logObject{logger: r.logger.Named("script")}),
		"opcode": makeOpcodeFn(),
	}
	if r.classes != nil {
		g["lookup_class"] = makeLookupClassFn(r.classes)
	}
	return g
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy %T: %v", v, err))
	}
	return p
}
