package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/injectpoint/internal/bytecode"
)

const classesYAML = `classes:
  - name: com/example/Target
    source_file: Target.java
    methods:
      - name: tick
        desc: (I)V
        locals:
          - {index: 0, name: this}
          - {index: 1, name: amount, desc: I}
        insns:
          - LINE 10
          - ALOAD 0
          - ILOAD 1
          - INVOKEVIRTUAL com/example/Target.helper (I)V
          - RETURN
      - name: helper
        desc: (I)V
        insns:
          - RETURN
      - name: create
        desc: ()Lcom/example/Target;
        static: true
        insns:
          - NEW com/example/Target
          - DUP
          - INVOKESPECIAL com/example/Target.<init> ()V
          - ARETURN
`

const sitesYAML = `sites:
  - name: TargetMixin.onTick
    handler: inject
    targets: [com.example.Target]
    method: [tick]
    at:
      - value: INVOKE
        target: Lcom/example/Target;helper(I)V
  - name: TargetMixin.missing
    handler: inject
    targets: [com.example.Target]
    method: [tick]
    at:
      - value: INVOKE
        target: Lcom/example/Target;missing()V
`

// ============================================================================
// Input parsing
// ============================================================================

func TestParseInsn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line  string
		check func(t *testing.T, insn *bytecode.Insn)
	}{
		{"INVOKEINTERFACE java/util/List.size ()I", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, bytecode.INVOKEINTERFACE, insn.Op)
			assert.Equal(t, "java/util/List", insn.Owner)
			assert.Equal(t, "size", insn.Name)
			assert.Equal(t, "()I", insn.Desc)
			assert.True(t, insn.Itf)
		}},
		{"getfield com/example/Target.count I", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, bytecode.GETFIELD, insn.Op)
			assert.Equal(t, "count", insn.Name)
			assert.False(t, insn.Itf)
		}},
		{"NEW java/lang/Object", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, "java/lang/Object", insn.Type)
		}},
		{"ISTORE 3", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, 3, insn.Var)
		}},
		{"IINC 2 1", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, 2, insn.Var)
		}},
		{"BIPUSH 42", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, 42, insn.IntOperand)
		}},
		{"LDC string:hello world", func(t *testing.T, insn *bytecode.Insn) {
			require.NotNil(t, insn.Const)
			assert.Equal(t, bytecode.ConstString, insn.Const.Kind)
			assert.Equal(t, "hello world", insn.Const.Value)
		}},
		{"IFNULL 4", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, 4, insn.Label)
		}},
		{"LABEL 4", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, bytecode.OpLabel, insn.Op)
			assert.Equal(t, 4, insn.Label)
		}},
		{"LINE 27", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, 27, insn.Line)
		}},
		{"  RETURN  ", func(t *testing.T, insn *bytecode.Insn) {
			assert.Equal(t, bytecode.RETURN, insn.Op)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			insn, err := parseInsn(tt.line)
			require.NoError(t, err)
			tt.check(t, insn)
		})
	}
}

func TestParseInsn_Errors(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"FROB 1",
		"ALOAD",
		"ALOAD x",
		"INVOKEVIRTUAL com/example/Target.helper",
		"NEW",
		"LDC 12",
		"GOTO end",
	} {
		_, err := parseInsn(line)
		assert.Error(t, err, line)
	}
}

func TestReadClasses(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "classes.yaml", classesYAML)

	classes, err := readClasses(path)
	require.NoError(t, err)
	require.Len(t, classes, 1)

	cls := classes[0]
	assert.Equal(t, "com/example/Target", cls.Name)
	assert.Equal(t, "Target.java", cls.SourceFile)
	require.Len(t, cls.Methods, 3)

	tick := cls.Method("tick", "(I)V")
	require.NotNil(t, tick)
	require.Len(t, tick.Insns, 5)
	assert.Equal(t, 3, tick.Insns[3].Index())
	name, ok := tick.LocalName(1)
	assert.True(t, ok)
	assert.Equal(t, "amount", name)

	create := cls.Method("create", "()Lcom/example/Target;")
	require.NotNil(t, create)
	assert.True(t, create.IsStatic())
}

func TestReadClasses_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := readClasses(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "classes:\n  - name: a/B\n    methods:\n      - name: m\n        desc: ()V\n        insns: [FROB]\n")
	_, err = readClasses(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a/B")
	assert.Contains(t, err.Error(), "FROB")

	unnamed := writeFile(t, dir, "unnamed.yaml", "classes:\n  - methods: []\n")
	_, err = readClasses(unnamed)
	assert.Error(t, err)
}

func TestReadSites(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "sites.yaml", sitesYAML)

	sites, err := readSites(path)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "TargetMixin.onTick", sites[0].Name)
	assert.Equal(t, "inject", sites[0].Handler)
	assert.Equal(t, []string{"tick"}, sites[0].Method)
	require.Len(t, sites[0].At, 1)
	assert.Equal(t, "INVOKE", sites[0].At[0].Value)
	assert.Equal(t, "Lcom/example/Target;helper(I)V", sites[0].At[0].Target)
}

// ============================================================================
// Commands
// ============================================================================

type cliEnv struct {
	dir    string
	config string
}

func newCLIEnv(t *testing.T, format string) cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := "db: " + filepath.Join(dir, "index", "index.db") + "\nformat: " + format + "\nlog:\n  level: error\n"
	env := cliEnv{dir: dir, config: writeFile(t, dir, "injectpoint.yaml", cfg)}
	writeFile(t, dir, "classes.yaml", classesYAML)
	writeFile(t, dir, "sites.yaml", sitesYAML)
	return env
}

func (env cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", env.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (env cliEnv) path(name string) string { return filepath.Join(env.dir, name) }

func TestCLI_IndexAndTargets(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "json")

	out, err := env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)
	var idx struct {
		Command string   `json:"command"`
		Results CLIIndex `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &idx))
	assert.Equal(t, "index", idx.Command)
	assert.Len(t, idx.Results.Changed, 1)
	assert.Positive(t, idx.Results.Stamp)

	out, err = env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &idx))
	assert.Empty(t, idx.Results.Changed)
	assert.Equal(t, 1, idx.Results.Unchanged)

	out, err = env.run(t, "targets", env.path("sites.yaml"))
	require.NoError(t, err)
	var targets struct {
		Results    []CLITarget `json:"results"`
		TotalCount int         `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &targets))
	assert.Equal(t, 2, targets.TotalCount)
	assert.Equal(t, "TargetMixin.onTick", targets.Results[0].Site)
	assert.Equal(t, "com.example.Target", targets.Results[0].Class)
	assert.Equal(t, "tick(I)V", targets.Results[0].Method)
}

func TestCLI_Check(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "json")
	_, err := env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)

	out, err := env.run(t, "check", env.path("sites.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 site(s) flagged")

	var res struct {
		Results []CLIReport `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, statusOK, res.Results[0].Status)
	assert.Equal(t, statusUnresolved, res.Results[1].Status)
	assert.NotEmpty(t, res.Results[1].Failure)
}

func TestCLI_ResolveText(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "text")
	_, err := env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)

	out, err := env.run(t, "resolve", env.path("sites.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "SITE")
	assert.Contains(t, out, "TargetMixin.onTick")
	assert.Contains(t, out, "INVOKEVIRTUAL com/example/Target.helper (I)V")
	assert.NotContains(t, out, "TargetMixin.missing")
}

func TestCLI_SignatureYAML(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "json")
	_, err := env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)

	out, err := env.run(t, "--format", "yaml", "signature", env.path("sites.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "command: signature")
	assert.Contains(t, out, "CallbackInfo")
}

func TestCLI_Navigate_NoSources(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "json")
	_, err := env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)

	out, err := env.run(t, "navigate", env.path("sites.yaml"))
	require.NoError(t, err)
	var res struct {
		Results []CLIElement `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "TargetMixin.onTick", res.Results[0].Site)
	assert.Equal(t, 10, res.Results[0].Line)
}

func TestCLI_Errors(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "json")

	_, err := env.run(t, "--format", "xml", "targets", env.path("sites.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")

	out, err := env.run(t, "targets", env.path("nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, `"error"`)

	_, err = env.run(t, "resolve", "--mode", "sometimes", env.path("sites.yaml"))
	assert.Error(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCLI_Matchers(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "text")

	out, err := env.run(t, "matchers")
	require.NoError(t, err)
	assert.Equal(t, "expression\nnull_check\nthrow\n", out)
}

func TestCLI_IndexPrune(t *testing.T) {
	t.Parallel()
	env := newCLIEnv(t, "json")
	_, err := env.run(t, "index", env.path("classes.yaml"))
	require.NoError(t, err)

	other := writeFile(t, env.dir, "other.yaml", "classes:\n  - name: com/example/Other\n    methods: []\n")
	out, err := env.run(t, "index", "--prune", other)
	require.NoError(t, err)
	var idx struct {
		Results CLIIndex `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &idx))
	assert.Equal(t, []string{"com/example/Other"}, idx.Results.Changed)
	assert.Equal(t, []string{"com/example/Target"}, idx.Results.Removed)

	_, err = env.run(t, "check", env.path("sites.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 site(s) flagged")
}
