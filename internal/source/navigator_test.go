package source

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "github.com/jward/injectpoint/internal/bytecode"
)

const targetJava = `package com.example;

public class Target {
    private int count;

    public Target() {
        this.count = 0;
    }

    public void foo() {
        System.out.println("foo");
    }

    public void foo(int x) {
        count = x;
        helper(new StringBuilder());
    }

    private void helper(Object o) {
        return;
    }

    static class Inner {
        void run() {
            int y = 1;
        }
    }
}
`

func newTestNavigator() *Navigator {
	fsys := fstest.MapFS{
		"com/example/Target.java": &fstest.MapFile{Data: []byte(targetJava)},
	}
	return NewNavigator(FSProvider{FS: fsys}, nil)
}

func targetClass(methods ...*bc.MethodNode) *bc.ClassNode {
	return &bc.ClassNode{Name: "com/example/Target", SourceFile: "Target.java", Methods: methods}
}

// fooInt mirrors the compiled form of foo(int):
//
//	0 LINE 15
//	1 ALOAD 0
//	2 ILOAD 1
//	3 PUTFIELD count
//	4 LINE 16
//	5 ALOAD 0
//	6 NEW java/lang/StringBuilder
//	7 DUP
//	8 INVOKESPECIAL StringBuilder.<init>
//	9 INVOKEVIRTUAL helper
//	10 RETURN
func fooInt() *bc.MethodNode {
	return bc.NewMethod("foo", "(I)V", bc.AccPublic,
		bc.LineNumber(15),
		bc.Var(bc.ALOAD, 0),
		bc.Var(bc.ILOAD, 1),
		bc.Field(bc.PUTFIELD, "com/example/Target", "count", "I"),
		bc.LineNumber(16),
		bc.Var(bc.ALOAD, 0),
		bc.TypeOp(bc.NEW, "java/lang/StringBuilder"),
		bc.Op(bc.DUP),
		bc.Invoke(bc.INVOKESPECIAL, "java/lang/StringBuilder", "<init>", "()V"),
		bc.Invoke(bc.INVOKEVIRTUAL, "com/example/Target", "helper", "(Ljava/lang/Object;)V"),
		bc.Op(bc.RETURN),
	)
}

// =============================================================================
// Languages
// =============================================================================

func TestLanguageForFile(t *testing.T) {
	t.Parallel()

	lang, ok := LanguageForFile("com/example/Target.java")
	require.True(t, ok)
	assert.Equal(t, "java", lang)

	_, ok = LanguageForFile("Target.kt")
	assert.False(t, ok)

	l, ok := ParserForLanguage("java")
	require.True(t, ok)
	assert.NotNil(t, l)
}

func TestSourcePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "com/example/Target.java", SourcePath(&bc.ClassNode{Name: "com/example/Target$Inner"}))
	assert.Equal(t, "com/example/Other.java",
		SourcePath(&bc.ClassNode{Name: "com/example/Target", SourceFile: "Other.java"}))
	assert.Equal(t, "Top.java", SourcePath(&bc.ClassNode{Name: "Top"}))
}

// =============================================================================
// MethodElement
// =============================================================================

func TestMethodElement_Overloads(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()
	ctx := context.Background()

	noArg := bc.NewMethod("foo", "()V", bc.AccPublic)
	cls := targetClass(noArg, fooInt())

	el, err := nav.MethodElement(ctx, cls, noArg)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, KindMethod, el.Kind)
	assert.Equal(t, "foo", el.Name)
	assert.Equal(t, 10, el.Line)
	assert.Equal(t, 12, el.EndLine)
	assert.Equal(t, "com/example/Target.java", el.File)

	el, err = nav.MethodElement(ctx, cls, cls.Methods[1])
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, 14, el.Line)
}

func TestMethodElement_Constructor(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()

	ctor := bc.NewMethod("<init>", "()V", bc.AccPublic)
	el, err := nav.MethodElement(context.Background(), targetClass(ctor), ctor)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, KindConstructor, el.Kind)
	assert.Equal(t, "Target", el.Name)
	assert.Equal(t, 6, el.Line)
}

func TestMethodElement_NestedClass(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()

	run := bc.NewMethod("run", "()V", 0)
	inner := &bc.ClassNode{Name: "com/example/Target$Inner", Methods: []*bc.MethodNode{run}}
	el, err := nav.MethodElement(context.Background(), inner, run)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, 24, el.Line)

	// run is not declared directly in Target.
	el, err = nav.MethodElement(context.Background(), targetClass(run), run)
	require.NoError(t, err)
	assert.Nil(t, el)
}

func TestMethodElement_MissingSource(t *testing.T) {
	t.Parallel()
	nav := NewNavigator(FSProvider{FS: fstest.MapFS{}}, nil)

	m := bc.NewMethod("foo", "()V", bc.AccPublic)
	el, err := nav.MethodElement(context.Background(), targetClass(m), m)
	require.NoError(t, err)
	assert.Nil(t, el)
}

// =============================================================================
// InstructionElement
// =============================================================================

func TestInstructionElement(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()
	m := fooInt()
	cls := targetClass(m)

	tests := []struct {
		name     string
		index    int
		wantKind string
		wantName string
		wantLine int
		wantText string
	}{
		{"field write", 3, KindField, "count", 15, "count"},
		{"allocation", 6, KindNew, "java/lang/StringBuilder", 16, "new StringBuilder()"},
		{"constructor call", 8, KindNew, "<init>", 16, "new StringBuilder()"},
		{"method call", 9, KindCall, "helper", 16, "helper(new StringBuilder())"},
		{"statement fallback", 10, KindStatement, "", 16, "helper(new StringBuilder());"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, err := nav.InstructionElement(context.Background(), cls, m, m.Insns[tt.index])
			require.NoError(t, err)
			require.NotNil(t, el)
			assert.Equal(t, tt.wantKind, el.Kind)
			assert.Equal(t, tt.wantName, el.Name)
			assert.Equal(t, tt.wantLine, el.Line)
			assert.Equal(t, tt.wantText, el.Text)
		})
	}
}

func TestInstructionElement_NoLineInfo(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()

	m := bc.NewMethod("helper", "(Ljava/lang/Object;)V", bc.AccPrivate, bc.Op(bc.RETURN))
	el, err := nav.InstructionElement(context.Background(), targetClass(m), m, m.Insns[0])
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, KindMethod, el.Kind)
	assert.Equal(t, 19, el.Line)
}

func TestInstructionElement_ForeignInstruction(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()

	m := fooInt()
	other := fooInt()
	_, err := nav.InstructionElement(context.Background(), targetClass(m), m, other.Insns[3])
	require.Error(t, err)
}

func TestInstructionElement_Cancelled(t *testing.T) {
	t.Parallel()
	nav := newTestNavigator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := fooInt()
	_, err := nav.InstructionElement(ctx, targetClass(m), m, m.Insns[3])
	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Parse cache
// =============================================================================

func TestNavigator_ReparsesOnlyOnChange(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"com/example/Target.java": &fstest.MapFile{Data: []byte(targetJava)},
	}
	nav := NewNavigator(FSProvider{FS: fsys}, nil)
	m := fooInt()
	cls := targetClass(m)
	ctx := context.Background()

	_, err := nav.MethodElement(ctx, cls, m)
	require.NoError(t, err)
	first := nav.files["com/example/Target.java"]
	require.NotNil(t, first)

	_, err = nav.MethodElement(ctx, cls, m)
	require.NoError(t, err)
	assert.Same(t, first, nav.files["com/example/Target.java"])

	// Shift everything down one line.
	fsys["com/example/Target.java"] = &fstest.MapFile{Data: []byte("\n" + targetJava)}
	el, err := nav.MethodElement(ctx, cls, m)
	require.NoError(t, err)
	assert.NotSame(t, first, nav.files["com/example/Target.java"])
	assert.Equal(t, 15, el.Line)
}

func TestFallback(t *testing.T) {
	t.Parallel()

	m := fooInt()
	el := Fallback(targetClass(m), m, m.Insns[9])
	assert.Equal(t, KindInsn, el.Kind)
	assert.Equal(t, "com/example/Target.java", el.File)
	assert.Equal(t, "foo(I)V#9", el.Name)
	assert.Equal(t, 16, el.Line)
	assert.Equal(t, m.Insns[9].String(), el.Text)
}
