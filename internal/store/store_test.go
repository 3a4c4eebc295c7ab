package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "github.com/jward/injectpoint/internal/bytecode"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// testClass builds a small class with two overloads and a local table.
func testClass(name string) *bc.ClassNode {
	run := bc.NewMethod("run", "(I)V", bc.AccPublic,
		bc.Label(0),
		bc.LineNumber(12),
		bc.Var(bc.ALOAD, 0),
		bc.Ldc(bc.ConstString, "hi"),
		bc.Invoke(bc.INVOKEINTERFACE, "java/util/List", "add", "(Ljava/lang/Object;)Z"),
		bc.Op(bc.POP),
		bc.Push(bc.BIPUSH, 42),
		bc.Op(bc.RETURN),
	)
	run.LocalVariables = []bc.LocalVariable{
		{Index: 0, Name: "this", Desc: bc.ClassDesc(name)},
		{Index: 1, Name: "count", Desc: "I"},
	}
	return &bc.ClassNode{
		Name:       name,
		Access:     bc.AccPublic,
		SuperName:  "java/lang/Object",
		Interfaces: []string{"java/lang/Runnable"},
		SourceFile: "Target.java",
		Methods: []*bc.MethodNode{
			bc.NewMethod("run", "()V", bc.AccPublic, bc.Op(bc.RETURN)),
			run,
		},
	}
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"classes", "methods", "insns", "local_variables", "metadata"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
	assert.Equal(t, int64(0), s.Stamp())
}

// =============================================================================
// Round trip
// =============================================================================

func TestPutClass_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	want := testClass("com/example/Target")

	changed, err := s.PutClass(want)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.Class("com.example.Target")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.SuperName, got.SuperName)
	assert.Equal(t, want.Interfaces, got.Interfaces)
	assert.Equal(t, want.SourceFile, got.SourceFile)
	require.Len(t, got.Methods, 2)
	assert.Equal(t, "()V", got.Methods[0].Desc)

	run := got.Methods[1]
	require.Len(t, run.Insns, len(want.Methods[1].Insns))
	for i, insn := range run.Insns {
		assert.Equal(t, i, insn.Index())
		assert.Equal(t, want.Methods[1].Insns[i].String(), insn.String())
	}
	assert.True(t, run.Insns[4].Itf)
	assert.Equal(t, 42, run.Insns[6].IntOperand)
	assert.Equal(t, 12, run.LineFor(run.Insns[4]))
	name, ok := run.LocalName(1)
	require.True(t, ok)
	assert.Equal(t, "count", name)

	assert.Equal(t, ComputeClassHash(want), ComputeClassHash(got))
}

func TestClass_Missing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	cls, err := s.Class("com/example/Nope")
	require.NoError(t, err)
	assert.Nil(t, cls)

	_, ok := s.LookupClass("com/example/Nope")
	assert.False(t, ok)
}

func TestClass_Memoized(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.PutClass(testClass("com/example/Target"))
	require.NoError(t, err)

	a, ok := s.LookupClass("com/example/Target")
	require.True(t, ok)
	b, ok := s.LookupClass("com/example/Target")
	require.True(t, ok)
	assert.Same(t, a, b)

	changed := testClass("com/example/Target")
	changed.Methods = changed.Methods[:1]
	_, err = s.PutClass(changed)
	require.NoError(t, err)

	c, ok := s.LookupClass("com/example/Target")
	require.True(t, ok)
	assert.NotSame(t, a, c)
	assert.Len(t, c.Methods, 1)
}

func TestLookupClassForSourceType_NestedClass(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.PutClass(&bc.ClassNode{Name: "com/example/Outer$Inner"})
	require.NoError(t, err)

	cls, ok := s.LookupClassForSourceType(bc.SourceTypeRef{QualifiedName: "com.example.Outer.Inner"})
	require.True(t, ok)
	assert.Equal(t, "com/example/Outer$Inner", cls.Name)
}

// =============================================================================
// Stamp
// =============================================================================

func TestCommitBatch_StampAdvancesOnlyOnChange(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	b := NewBatch()
	b.Add(testClass("com/example/A"))
	b.Add(testClass("com/example/B"))
	res, err := s.CommitBatch(b)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"com/example/A", "com/example/B"}, res.Changed)
	assert.Equal(t, int64(1), res.Stamp)
	assert.Equal(t, int64(1), s.Stamp())

	// Identical content: no stamp change.
	res, err = s.CommitBatch(b)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, int64(1), s.Stamp())

	edited := testClass("com/example/A")
	edited.Methods[0].Insns = append([]*bc.Insn{bc.Op(bc.NOP)}, edited.Methods[0].Insns...)
	edited.Methods[0].Renumber()
	changed, err := s.PutClass(edited)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(2), s.Stamp())
}

func TestStamp_Persisted(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "stamp.db")

	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	_, err = s.PutClass(testClass("com/example/A"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	require.NoError(t, reopened.Migrate())
	assert.Equal(t, int64(1), reopened.Stamp())
}

func TestDeleteClass(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.PutClass(testClass("com/example/A"))
	require.NoError(t, err)

	ok, err := s.DeleteClass("com.example.A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), s.Stamp())

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM insns").Scan(&n))
	assert.Zero(t, n, "instructions cascade with their class")

	ok, err = s.DeleteClass("com.example.A")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), s.Stamp())
}

// =============================================================================
// Batch
// =============================================================================

func TestBatch_ConcurrentAddLastWins(t *testing.T) {
	t.Parallel()

	b := NewBatch()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add(&bc.ClassNode{Name: fmt.Sprintf("com/example/C%d", i%10)})
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, b.Len())

	s := newTestStore(t)
	res, err := s.CommitBatch(b)
	require.NoError(t, err)
	assert.Len(t, res.Changed, 10)

	names, err := s.ClassNames()
	require.NoError(t, err)
	assert.Len(t, names, 10)
	assert.IsNonDecreasing(t, names)
}

func TestCommitBatch_Empty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	res, err := s.CommitBatch(NewBatch())
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Equal(t, int64(0), res.Stamp)
}

func TestComputeClassHash_InterfaceOrderInsensitive(t *testing.T) {
	t.Parallel()

	a := testClass("com/example/A")
	b := testClass("com/example/A")
	b.Interfaces = []string{"java/lang/Runnable"}
	a.Interfaces = []string{"java/lang/Runnable"}
	assert.Equal(t, ComputeClassHash(a), ComputeClassHash(b))

	a.Interfaces = []string{"x/A", "x/B"}
	b.Interfaces = []string{"x/B", "x/A"}
	assert.Equal(t, ComputeClassHash(a), ComputeClassHash(b))

	b.Methods[0], b.Methods[1] = b.Methods[1], b.Methods[0]
	assert.NotEqual(t, ComputeClassHash(a), ComputeClassHash(b))
}

// =============================================================================
// Row iteration
// =============================================================================

type fakeRows struct {
	n, next int
	err     error
	closed  int
}

func (r *fakeRows) Next() bool {
	if r.next >= r.n {
		return false
	}
	r.next++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*int)) = r.next
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Close() error {
	r.closed++
	return nil
}

func TestEachRow_ReportsIterationError(t *testing.T) {
	t.Parallel()

	broken := errors.New("disk I/O error")
	rows := &fakeRows{n: 2, err: broken}
	var seen []int
	err := eachRow(rows, func(r rowIter) error {
		var v int
		require.NoError(t, r.Scan(&v))
		seen = append(seen, v)
		return nil
	})
	require.ErrorIs(t, err, broken)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Positive(t, rows.closed)
}

func TestEachRow_StopsOnCallbackError(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	rows := &fakeRows{n: 5}
	calls := 0
	err := eachRow(rows, func(rowIter) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Positive(t, rows.closed)
}

func TestEachRow_Complete(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{n: 3}
	calls := 0
	require.NoError(t, eachRow(rows, func(rowIter) error {
		calls++
		return nil
	}))
	assert.Equal(t, 3, calls)
	assert.Positive(t, rows.closed)
}
