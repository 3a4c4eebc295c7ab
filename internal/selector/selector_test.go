package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/injectpoint/internal/bytecode"
)

func ptr[T any](v T) *T { return &v }

func overloads() *bytecode.ClassNode {
	return &bytecode.ClassNode{
		Name: "com/example/Target",
		Methods: []*bytecode.MethodNode{
			bytecode.NewMethod("foo", "()V", bytecode.AccPublic),
			bytecode.NewMethod("foo", "(I)V", bytecode.AccPublic),
			bytecode.NewMethod("getName", "()Ljava/lang/String;", bytecode.AccPublic),
		},
	}
}

// =============================================================================
// Parsing
// =============================================================================

func TestParse_Forms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		owner    string
		name     string
		desc     string
		explicit bool
		field    bool
	}{
		{raw: "foo", name: "foo"},
		{raw: "foo(I)V", name: "foo", desc: "(I)V", explicit: true},
		{raw: "(I)V", desc: "(I)V", explicit: true},
		{raw: "<init>()V", name: "<init>", desc: "()V", explicit: true},
		{raw: "Lcom/example/Other;foo", owner: "com/example/Other", name: "foo"},
		{raw: "Lcom/example/Other;foo(J)Z", owner: "com/example/Other", name: "foo", desc: "(J)Z", explicit: true},
		{raw: "com/example/Other.foo", owner: "com/example/Other", name: "foo"},
		{raw: "Lcom/example/Other;count:I", owner: "com/example/Other", name: "count", desc: "I", field: true},
		{raw: "*", name: ""},
		{raw: "  foo  ", name: "foo"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sel := Parse(tt.raw)
			require.NotNil(t, sel)
			assert.Equal(t, tt.owner, sel.Owner())
			assert.Equal(t, tt.name, sel.Name())
			assert.Equal(t, tt.desc, sel.Desc())
			assert.Equal(t, tt.explicit, sel.IsExplicitDescriptor())
			assert.Equal(t, tt.field, sel.IsField())
			assert.Equal(t, tt.raw, sel.Raw())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"   ",
		"foo(",
		"foo(Q)V",
		"foo(I",
		"foo bar",
		"a.b",
		"foo:Q",
		"foo()",
	} {
		assert.Nil(t, Parse(raw), "%q should not parse", raw)
	}
}

func TestParse_Immutable(t *testing.T) {
	t.Parallel()

	sel := Parse("foo(ILjava/lang/String;)V")
	require.NotNil(t, sel)
	params := sel.Params()
	params[0] = "J"
	assert.Equal(t, []string{"I", "Ljava/lang/String;"}, sel.Params())
}

func TestParseRecord(t *testing.T) {
	t.Parallel()

	sel := ParseRecord(DescRecord{
		Owner: ptr("com.example.Other"),
		Value: ptr("foo"),
		Args:  &[]string{"int", "java.lang.String"},
		Ret:   ptr("void"),
	})
	require.NotNil(t, sel)
	assert.True(t, sel.IsStructured())
	assert.Equal(t, "com/example/Other", sel.Owner())
	assert.Equal(t, "(ILjava/lang/String;)V", sel.Desc())

	// Nil fields are unconstrained.
	open := ParseRecord(DescRecord{Value: ptr("foo")})
	require.NotNil(t, open)
	assert.False(t, open.HasDescriptor())
	assert.Nil(t, open.Params())

	// Empty args constrain to zero parameters; return stays open.
	noArgs := ParseRecord(DescRecord{Value: ptr("foo"), Args: &[]string{}})
	require.NotNil(t, noArgs)
	assert.Equal(t, []string{}, noArgs.Params())
	assert.False(t, noArgs.IsExplicitDescriptor())

	assert.Nil(t, ParseRecord(DescRecord{Args: &[]string{"List<String>"}}))
	assert.Nil(t, ParseRecord(DescRecord{Args: &[]string{"void"}}))
	assert.Nil(t, ParseRecord(DescRecord{Value: ptr("")}))
}

func TestParseAll_KeepsOrderAndCountsDrops(t *testing.T) {
	t.Parallel()

	set := ParseAll(
		[]string{"foo", "bad(", "bar()V"},
		[]DescRecord{{Value: ptr("baz")}, {Ret: ptr("Map<K,V>")}},
	)
	assert.Equal(t, 5, set.Raw)
	assert.Equal(t, 3, set.Parsed())
	assert.Equal(t, []string{"bad(", "@Desc(ret=Map<K,V>)"}, set.Dropped)
	require.Len(t, set.Selectors, 3)
	assert.Equal(t, "foo", set.Selectors[0].Name())
	assert.Equal(t, "bar", set.Selectors[1].Name())
	assert.Equal(t, "baz", set.Selectors[2].Name())
	assert.False(t, set.NothingParseable())

	bad := ParseAll([]string{"(", ")"}, nil)
	assert.True(t, bad.NothingParseable())
	assert.False(t, ParseAll(nil, nil).NothingParseable())
}

// =============================================================================
// Matching
// =============================================================================

func TestMatches_Overloads(t *testing.T) {
	t.Parallel()

	cls := overloads()
	noArg, intArg := cls.Methods[0], cls.Methods[1]

	bare := Parse("foo")
	assert.True(t, bare.Matches(noArg, cls))
	assert.True(t, bare.Matches(intArg, cls))

	exact := Parse("foo(I)V")
	assert.False(t, exact.Matches(noArg, cls))
	assert.True(t, exact.Matches(intArg, cls))

	descOnly := Parse("()Ljava/lang/String;")
	assert.True(t, descOnly.Matches(cls.Methods[2], cls))
	assert.False(t, descOnly.Matches(noArg, cls))
}

func TestMatches_CaseSensitiveNoWidening(t *testing.T) {
	t.Parallel()

	cls := overloads()
	assert.False(t, Parse("Foo").Matches(cls.Methods[0], cls))
	assert.False(t, Parse("foo(J)V").Matches(cls.Methods[1], cls))
	assert.False(t, Parse("getName()Ljava/lang/Object;").Matches(cls.Methods[2], cls))
}

func TestMatches_Pattern(t *testing.T) {
	t.Parallel()

	cls := overloads()
	sel := Parse("get*")
	require.NotNil(t, sel)
	assert.True(t, sel.IsPattern())
	assert.True(t, sel.Matches(cls.Methods[2], cls))
	assert.False(t, sel.Matches(cls.Methods[0], cls))

	wildcard := Parse("*")
	for _, m := range cls.Methods {
		assert.True(t, wildcard.Matches(m, cls))
	}
}

func TestMatches_OwnerOverride(t *testing.T) {
	t.Parallel()

	cls := overloads()
	sel := Parse("Lcom/example/Other;foo")
	assert.False(t, sel.Matches(cls.Methods[0], cls))

	other := &bytecode.ClassNode{Name: "com/example/Other"}
	owner, ok := sel.EffectiveOwner(cls, bytecode.NewClasses(other))
	require.True(t, ok)
	assert.Same(t, other, owner)

	_, ok = sel.EffectiveOwner(cls, bytecode.NewClasses())
	assert.False(t, ok)

	owner, ok = Parse("foo").EffectiveOwner(cls, nil)
	require.True(t, ok)
	assert.Same(t, cls, owner)
}

func TestMatchesReference(t *testing.T) {
	t.Parallel()

	call := Parse("Ljava/io/PrintStream;println(Ljava/lang/String;)V")
	assert.True(t, call.MatchesReference("java/io/PrintStream", "println", "(Ljava/lang/String;)V"))
	assert.False(t, call.MatchesReference("java/io/PrintStream", "println", "(I)V"))
	assert.False(t, call.MatchesReference("java/io/Writer", "println", "(Ljava/lang/String;)V"))

	field := Parse("Lcom/example/Target;count:I")
	assert.True(t, field.MatchesReference("com/example/Target", "count", "I"))
	assert.False(t, field.MatchesReference("com/example/Target", "count", "J"))

	methodShaped := Parse("count()I")
	assert.False(t, methodShaped.MatchesReference("com/example/Target", "count", "I"))
	assert.True(t, Parse("count").MatchesReference("com/example/Target", "count", "I"))
}

func TestIsDynamic(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDynamic("@MixinSquared:Handler"))
	assert.True(t, IsDynamic("@Desc(foo)"))
	assert.False(t, IsDynamic("foo"))
	assert.False(t, IsDynamic("@"))
	assert.True(t, IsDynamic("${target}", "${"))
	assert.False(t, IsDynamic("foo", ""))
}
