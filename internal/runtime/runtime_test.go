package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	bc "github.com/jward/injectpoint/internal/bytecode"
)

// throwingMethod builds:
//
//	0 LINE 7
//	1 ALOAD 1
//	2 IFNONNULL 0
//	3 NEW java/lang/IllegalArgumentException
//	4 DUP
//	5 INVOKESPECIAL java/lang/IllegalArgumentException.<init>()V
//	6 ATHROW
//	7 LABEL 0
//	8 RETURN
func throwingMethod() (*bc.ClassNode, *bc.MethodNode) {
	m := bc.NewMethod("check", "(Ljava/lang/Object;)V", bc.AccPublic,
		bc.LineNumber(7),
		bc.Var(bc.ALOAD, 1),
		bc.Jump(bc.IFNONNULL, 0),
		bc.TypeOp(bc.NEW, "java/lang/IllegalArgumentException"),
		bc.Op(bc.DUP),
		bc.Invoke(bc.INVOKESPECIAL, "java/lang/IllegalArgumentException", "<init>", "()V"),
		bc.Op(bc.ATHROW),
		bc.Label(0),
		bc.Op(bc.RETURN),
	)
	m.LocalVariables = []bc.LocalVariable{{Index: 0, Name: "this"}, {Index: 1, Name: "value"}}
	return &bc.ClassNode{Name: "com/example/Guard", SuperName: "java/lang/Object", Methods: []*bc.MethodNode{m}}, m
}

func scriptFS(scripts map[string]string) fstest.MapFS {
	fs := fstest.MapFS{}
	for name, src := range scripts {
		fs["matchers/"+name+".risor"] = &fstest.MapFile{Data: []byte(src)}
	}
	return fs
}

// =============================================================================
// MatchScript
// =============================================================================

func TestMatchScript_OpcodeScan(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(scriptFS(map[string]string{
		"throw": `
for i, insn := range insns {
    if insn["op"] == "ATHROW" {
        match(i)
    }
}
`,
	})))
	cls, m := throwingMethod()
	got, err := rt.MatchScript(context.Background(), "throw", cls, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, got)
}

func TestMatchScript_ArgsAndDedupe(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(scriptFS(map[string]string{
		"new_of": `
want := args.get("class", "")
for i, insn := range insns {
    if insn["opcode"] == opcode("NEW") && insn["type"] == want {
        match(i)
        match(i)
    }
}
match(0)
`,
	})))
	cls, m := throwingMethod()
	got, err := rt.MatchScript(context.Background(), "new_of", cls, m,
		map[string]string{"class": "java/lang/IllegalArgumentException"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, got)
}

func TestMatchScript_ClassAndMethodGlobals(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(scriptFS(map[string]string{
		"ctx": `
assert(class["name"] == "com/example/Guard", "class name")
assert(method["name"] == "check", "method name")
assert(method["locals"]["value"] == 1, "local slot")
assert(insns[1]["line"] == 7, "line tracking")
`,
	})))
	cls, m := throwingMethod()
	got, err := rt.MatchScript(context.Background(), "ctx", cls, m, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchScript_LookupClass(t *testing.T) {
	t.Parallel()

	ex := &bc.ClassNode{Name: "java/lang/IllegalArgumentException", SuperName: "java/lang/RuntimeException"}
	rt := NewRuntime("",
		WithRuntimeFS(scriptFS(map[string]string{
			"runtime_throw": `
for i, insn := range insns {
    if insn["op"] == "NEW" {
        c := lookup_class(insn["type"])
        if c != nil && c["super"] == "java/lang/RuntimeException" {
            match(i)
        }
    }
}
`,
		})),
		WithClassLookup(bc.NewClasses(ex)),
	)
	cls, m := throwingMethod()
	got, err := rt.MatchScript(context.Background(), "runtime_throw", cls, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got)
}

func TestMatchScript_Errors(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(scriptFS(map[string]string{
		"oob": `match(99)`,
	})))
	cls, m := throwingMethod()

	_, err := rt.MatchScript(context.Background(), "oob", cls, m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = rt.MatchScript(context.Background(), "missing", cls, m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matchers/missing.risor")
}

// =============================================================================
// MatchSource and logging
// =============================================================================

func TestMatchSource_Inline(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("")
	cls, m := throwingMethod()
	got, err := rt.MatchSource(context.Background(), `
for i, insn := range insns {
    if insn["op"] == "IFNONNULL" || insn["op"] == "RETURN" {
        match(i)
    }
}
`, cls, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8}, got)

	_, err = rt.MatchSource(context.Background(), `assert(false, "boom")`, cls, m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<inline>")
}

func TestMatchSource_LogForwardsToZap(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	rt := NewRuntime("", WithRuntimeLogger(zap.New(core)))
	cls, m := throwingMethod()
	_, err := rt.MatchSource(context.Background(), `log.Info("hello from script")`, cls, m, nil)
	require.NoError(t, err)

	entries := logs.FilterMessage("hello from script").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "script", entries[0].LoggerName)
}

// =============================================================================
// Script loading
// =============================================================================

func TestMatchScript_FromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "matchers"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "matchers", "first.risor"), []byte(`match(0)`), 0o644))

	rt := NewRuntime(dir)
	cls, m := throwingMethod()
	got, err := rt.MatchScript(context.Background(), "first", cls, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got)

	src, err := rt.LoadScript(MatcherScriptPath("first"))
	require.NoError(t, err)
	assert.Equal(t, `match(0)`, src)
}

func TestMatchScript_Import(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(fstest.MapFS{
		"matchers/athrow.risor": {Data: []byte(`
import util
for i, insn := range insns {
    if util.is_throw(insn) {
        match(i)
    }
}
`)},
		"util.risor": {Data: []byte(`
func is_throw(insn) {
    return insn["op"] == "ATHROW"
}
`)},
	}))
	cls, m := throwingMethod()
	got, err := rt.MatchScript(context.Background(), "athrow", cls, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, got)
}

func TestLoadScript_NotConfigured(t *testing.T) {
	t.Parallel()

	_, err := NewRuntime("").LoadScript("matchers/x.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scripts configured")

	_, err = NewRuntime("", WithRuntimeFS(fstest.MapFS{})).LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent.risor")
}

func TestMatchers(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(scriptFS(map[string]string{"b": "", "a": ""})))
	names, err := rt.Matchers()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = NewRuntime("").Matchers()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMatcherScriptPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "matchers/throw.risor", MatcherScriptPath("throw"))
	assert.Equal(t, "custom/x.risor", MatcherScriptPath("custom/x.risor"))
}
