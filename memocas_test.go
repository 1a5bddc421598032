package memocas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unkn0wn-root/memocas/backend/sqlite"
	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/code"
	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/identity"
)

type box struct{ N int }

const fibSource = `func fib(n int) int {
	if n < 0 {
		return 0
	}
	if n < 2 {
		return 1
	}
	return fib(n-1) + fib(n-2)
}`

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Extractor == nil {
		opts.Extractor = code.SourceExtractor{}
	}
	e, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func define(ns *code.MapNamespace, name, src string) *code.Func {
	return ns.Define(&code.Func{Name: name, Module: "main", Code: code.NewCode(name, src)})
}

func mustCall(t *testing.T, m *Memoized, args ...any) any {
	t.Helper()
	v, err := m.Call(context.Background(), args...)
	if err != nil {
		t.Fatalf("%s%v: %v", m.Func().QualifiedName(), args, err)
	}
	return v
}

func mustStale(t *testing.T, e *Engine, v any, depth int) bool {
	t.Helper()
	stale, err := e.IsValueStale(context.Background(), v, depth)
	if err != nil {
		t.Fatalf("IsValueStale: %v", err)
	}
	return stale
}

func memoFib(e *Engine, calls *int) *Memoized {
	ns := code.NewNamespace()
	var fib *Memoized
	fib = e.Memoize(define(ns, "fib", fibSource), func(ctx context.Context, args []any, _ map[string]any) (any, error) {
		*calls++
		n := args[0].(int)
		if n < 0 {
			return 0, nil
		}
		if n < 2 {
			return 1, nil
		}
		a, err := fib.Call(ctx, n-1)
		if err != nil {
			return nil, err
		}
		b, err := fib.Call(ctx, n-2)
		if err != nil {
			return nil, err
		}
		return a.(int) + b.(int), nil
	})
	return fib
}

// memoOffset memoizes offset, which boxes the global x plus its argument.
func memoOffset(e *Engine, ns *code.MapNamespace, calls *int) *Memoized {
	fn := define(ns, "offset", "func offset(d int) *box { return newBox(x + d) }")
	return e.Memoize(fn, func(_ context.Context, args []any, _ map[string]any) (any, error) {
		*calls++
		x, _ := ns.Get("x")
		return &box{N: x.(int) + args[0].(int)}, nil
	})
}

func memoOuter(e *Engine, ns *code.MapNamespace) *Memoized {
	fn := define(ns, "outer", "func outer(b *box) *box { return newBox(b.N + 1) }")
	return e.Memoize(fn, func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return &box{N: args[0].(*box).N + 1}, nil
	})
}

func TestMemoizedFib(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	calls := 0
	fib := memoFib(e, &calls)

	if got := mustCall(t, fib, 8); got != 34 {
		t.Fatalf("fib(8): got=%v want=34", got)
	}
	if calls != 9 {
		t.Fatalf("computations: got=%d want=9", calls)
	}

	a, err := e.IdentifyCall(fib.Func(), []any{8}, nil)
	if err != nil {
		t.Fatalf("IdentifyCall: %v", err)
	}
	b, _ := e.IdentifyCall(fib.Func(), []any{8}, nil)
	if a.Key() != b.Key() {
		t.Fatalf("identity not deterministic: %s vs %s", a.Key(), b.Key())
	}
	if stale, err := e.IsStale(ctx, a, -1); err != nil || stale {
		t.Fatalf("fresh fib(8) reported stale=%v err=%v", stale, err)
	}

	ids, _ := e.Identities(ctx, false)
	if len(ids) != 9 {
		t.Fatalf("online identities: got=%d want=9", len(ids))
	}
	e.FlushOnline()
	if ids, _ := e.Identities(ctx, false); len(ids) != 0 {
		t.Fatalf("online identities after flush: got=%d want=0", len(ids))
	}
	if ids, _ := e.Identities(ctx, true); len(ids) != 9 {
		t.Fatalf("persisted identities: got=%d want=9", len(ids))
	}

	if got := mustCall(t, fib, 8); got != 34 {
		t.Fatalf("fib(8) after flush: got=%v want=34", got)
	}
	if calls != 9 {
		t.Fatalf("flushed results must be reloaded, not recomputed: computations=%d", calls)
	}
}

func TestGlobalChangeMakesResultStale(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	ns.Set("x", 1)
	calls := 0
	offset := memoOffset(e, ns, &calls)

	if cached, _ := offset.IsCached(ctx, 5); cached {
		t.Fatalf("nothing computed yet")
	}
	if stale, _ := offset.IsStale(ctx, 5); !stale {
		t.Fatalf("an uncached call is stale")
	}

	old := mustCall(t, offset, 5).(*box)
	if old.N != 6 {
		t.Fatalf("offset(5): got=%d want=6", old.N)
	}
	if cached, _ := offset.IsCached(ctx, 5); !cached {
		t.Fatalf("offset(5) should be cached")
	}
	if stale, _ := offset.IsStale(ctx, 5); stale {
		t.Fatalf("fresh result reported stale")
	}

	ns.Set("x", 2)
	if stale, _ := offset.IsStale(ctx, 5); !stale {
		t.Fatalf("changing a global must make the result stale")
	}
	if !mustStale(t, e, old, -1) {
		t.Fatalf("old value should be stale")
	}
	if again := mustCall(t, offset, 5); again != old || calls != 1 {
		t.Fatalf("CachedOnly must reuse the stale result: calls=%d", calls)
	}

	if removed, err := offset.Forget(ctx, 5); err != nil || !removed {
		t.Fatalf("Forget: removed=%v err=%v", removed, err)
	}
	fresh := mustCall(t, offset, 5).(*box)
	if fresh.N != 7 || calls != 2 {
		t.Fatalf("recompute: got=%d calls=%d", fresh.N, calls)
	}
	if mustStale(t, e, fresh, -1) {
		t.Fatalf("recomputed value reported stale")
	}
	if !mustStale(t, e, old, -1) {
		t.Fatalf("forgotten value must stay stale")
	}
}

func TestStaleDepthFollowsArguments(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	ns.Set("x", 1)
	calls := 0
	offset := memoOffset(e, ns, &calls)
	outer := memoOuter(e, ns)

	inner := mustCall(t, offset, 1)
	out := mustCall(t, outer, inner)

	id, err := e.Identify(out)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	cid, ok := id.(identity.CallID)
	if !ok || len(cid.Args) != 1 {
		t.Fatalf("outer result identity: %s", id.Key())
	}
	if _, ok := cid.Args[0].(identity.CallID); !ok {
		t.Fatalf("argument should be identified by its computation, got %s", cid.Args[0].Key())
	}

	ns.Set("x", 2)
	if mustStale(t, e, out, 0) {
		t.Fatalf("depth 0 must only compare outer's own inputs")
	}
	if !mustStale(t, e, out, 1) || !mustStale(t, e, out, -1) {
		t.Fatalf("deeper checks must see the changed global")
	}

	if _, err := e.ForgetValue(ctx, inner); err != nil {
		t.Fatalf("ForgetValue: %v", err)
	}
	renewed := mustCall(t, offset, 1)
	if mustStale(t, e, renewed, -1) {
		t.Fatalf("recomputed argument reported stale")
	}
	if !mustStale(t, e, out, 0) {
		t.Fatalf("outer result was computed from the old argument")
	}

	if _, err := e.ForgetValue(ctx, out); err != nil {
		t.Fatalf("ForgetValue: %v", err)
	}
	if mustStale(t, e, mustCall(t, outer, renewed), -1) {
		t.Fatalf("recomputed chain reported stale")
	}
}

func TestRecomputeStalePolicy(t *testing.T) {
	e := newEngine(t, Options{Policy: RecomputeStale{Depth: -1}})
	ns := code.NewNamespace()
	ns.Set("x", 10)
	calls := 0
	offset := memoOffset(e, ns, &calls)

	first := mustCall(t, offset, 1)
	if mustCall(t, offset, 1) != first || calls != 1 {
		t.Fatalf("fresh result must be reused: calls=%d", calls)
	}
	ns.Set("x", 20)
	second := mustCall(t, offset, 1).(*box)
	if second.N != 21 || calls != 2 {
		t.Fatalf("stale result must be recomputed: got=%d calls=%d", second.N, calls)
	}
	if !mustStale(t, e, first, -1) {
		t.Fatalf("superseded value must be stale")
	}
}

func TestAliasingRejected(t *testing.T) {
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	shared := &box{N: 1}
	same := e.Memoize(define(ns, "same", "func same(i int) *box { return shared }"),
		func(context.Context, []any, map[string]any) (any, error) { return shared, nil })

	mustCall(t, same, 1)
	_, err := same.Call(context.Background(), 2)
	var ae *AliasingError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AliasingError, got %v", err)
	}
	id, _ := e.Identify(shared)
	if id.Key() != ae.Existing.Key() {
		t.Fatalf("value must stay linked to its first identity: got=%s want=%s", id.Key(), ae.Existing.Key())
	}
}

func TestUnfingerprintableArgument(t *testing.T) {
	e := newEngine(t, Options{})
	calls := 0
	fib := memoFib(e, &calls)
	_, err := fib.Call(context.Background(), make(chan int))
	var ue *UnfingerprintableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnfingerprintableError, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("nothing should run: calls=%d", calls)
	}
}

func TestRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.db")

	open := func() *Engine {
		be, err := sqlite.Open(path)
		if err != nil {
			t.Fatalf("sqlite.Open: %v", err)
		}
		e, err := New(ctx, Options{Backend: be, ExternalDir: filepath.Join(dir, "ext"), Extractor: code.SourceExtractor{}})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return e
	}

	ns := code.NewNamespace()
	ns.Set("x", 40)
	calls := 0
	first := open()
	v := mustCall(t, memoOffset(first, ns, &calls), 2).(*box)
	id, _ := first.Identify(v)
	if err := first.Tag(ctx, "answer", v); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := open()
	t.Cleanup(func() { _ = second.Close(ctx) })
	second.Extensions().RegisterType((*box)(nil))

	got, ok, err := second.Resolve(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Resolve after reopen: ok=%v err=%v", ok, err)
	}
	if b, isBox := got.(*box); !isBox || b.N != 42 {
		t.Fatalf("reloaded value: got=%#v", got)
	}
	if stale, _ := second.IsStale(ctx, id, -1); !stale {
		t.Fatalf("a function unknown to this process cannot vouch for its result")
	}
	memoOffset(second, ns, &calls)
	if stale, err := second.IsStale(ctx, id, -1); err != nil || stale {
		t.Fatalf("same code and globals must be fresh: stale=%v err=%v", stale, err)
	}

	tagged, ok, err := second.Tagged(ctx, "answer")
	if err != nil || !ok || tagged != got {
		t.Fatalf("Tagged: got=%v ok=%v err=%v", tagged, ok, err)
	}
	md, ok, err := second.Metadata(ctx, id)
	if err != nil || !ok || md.StoredSize == 0 || md.SavedAt.IsZero() {
		t.Fatalf("Metadata: %+v ok=%v err=%v", md, ok, err)
	}
}

func TestTuplesGetItemIdentities(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	split := e.Memoize(define(ns, "split", "func split(n int) (*box, *box) { return newBox(n), newBox(-n) }"),
		func(_ context.Context, args []any, _ map[string]any) (any, error) {
			n := args[0].(int)
			return extension.Tuple{&box{N: n}, &box{N: -n}}, nil
		})
	neg := e.Memoize(define(ns, "neg", "func neg(b *box) *box { return newBox(-b.N) }"),
		func(_ context.Context, args []any, _ map[string]any) (any, error) {
			return &box{N: -args[0].(*box).N}, nil
		})

	parts := mustCall(t, split, 3).(extension.Tuple)
	parent, _ := e.IdentifyCall(split.Func(), []any{3}, nil)
	id, err := e.Identify(parts[1])
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	want := identity.ItemID{Parent: parent, Index: 1}
	if id.Key() != want.Key() {
		t.Fatalf("item identity: got=%s want=%s", id.Key(), want.Key())
	}

	back := mustCall(t, neg, parts[1])
	if mustStale(t, e, back, -1) {
		t.Fatalf("result of a fresh item reported stale")
	}

	e.FlushOnline()
	got, ok, err := e.Resolve(ctx, identity.ItemID{Parent: parent, Index: 0})
	if err != nil || !ok || got != parts[0] {
		t.Fatalf("live item must resolve to itself: got=%v ok=%v err=%v", got, ok, err)
	}
	if _, err := e.Forget(ctx, parent); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if !mustStale(t, e, parts[0], -1) || !mustStale(t, e, back, -1) {
		t.Fatalf("forgetting the tuple must make items and dependants stale")
	}
}

func TestForgetUnlinksEveryLiveItem(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	split := e.Memoize(define(ns, "split", "func split(n int) (*box, *box, *box) { return newBox(n), newBox(0), newBox(-n) }"),
		func(_ context.Context, args []any, _ map[string]any) (any, error) {
			n := args[0].(int)
			return extension.Tuple{&box{N: n}, &box{N: 0}, &box{N: -n}}, nil
		})
	parts := mustCall(t, split, 5).(extension.Tuple)
	parent, _ := e.IdentifyCall(split.Func(), []any{5}, nil)

	// item 0 goes away first, as if it had been collected
	if _, err := e.results.Remove(ctx, identity.ItemID{Parent: parent, Index: 0}); err != nil {
		t.Fatalf("Remove item 0: %v", err)
	}
	if _, err := e.Forget(ctx, parent); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	for i := 1; i < len(parts); i++ {
		if e.results.HasID(identity.ItemID{Parent: parent, Index: i}) {
			t.Fatalf("item %d still linked after Forget", i)
		}
		if !e.results.Staleness().IsStale(parts[i]) {
			t.Fatalf("item %d not marked stale", i)
		}
	}
}

func TestLargeResultsGoToExternalFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := newEngine(t, Options{ExternalDir: dir, InlineThreshold: 64, Plugins: []extension.Plugin{extension.NewBytes()}})
	ns := code.NewNamespace()
	blob := e.Memoize(define(ns, "blob", "func blob(n int) []byte { return make([]byte, n) }"),
		func(_ context.Context, args []any, _ map[string]any) (any, error) {
			return make([]byte, args[0].(int)), nil
		})

	stored := func(n int) cached.Value {
		t.Helper()
		mustCall(t, blob, n)
		id, _ := e.IdentifyCall(blob.Func(), []any{n}, nil)
		en, ok, err := e.Store().Entry(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Entry(%d): ok=%v err=%v", n, ok, err)
		}
		return en.Value
	}

	if _, ok := stored(16).(cached.Inline); !ok {
		t.Fatalf("small value must stay inline")
	}
	large := stored(4096)
	ext, ok := large.(cached.External)
	if !ok {
		t.Fatalf("large value must go to a file, got %T", large)
	}
	name := filepath.Base(ext.Path)
	if !strings.HasPrefix(name, "main.blob_") || !strings.HasSuffix(name, "_0000000000.bin") {
		t.Fatalf("file name: %s", name)
	}
	if fi, err := os.Stat(ext.Path); err != nil || fi.Size() != 4096 {
		t.Fatalf("external file: %v", err)
	}

	e.FlushOnline()
	got := mustCall(t, blob, 4096).([]byte)
	if len(got) != 4096 {
		t.Fatalf("reload from file: got %d bytes", len(got))
	}
}

func TestRunCellReusesFreshOutputs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	ns.Set("boxed", &box{N: 3})
	cell := &code.Cell{Name: "double", Code: code.NewCode("double", "v = twice(boxed)"), Namespace: ns}
	runs := 0
	run := func(_ context.Context, ns Namespace) error {
		runs++
		b, _ := ns.Lookup("boxed")
		ns.Set("v", &box{N: b.(*box).N * 2})
		return nil
	}

	ran, err := e.RunCell(ctx, cell, run)
	if err != nil || !ran {
		t.Fatalf("first run: ran=%v err=%v", ran, err)
	}
	first, _ := ns.Get("v")
	if first.(*box).N != 6 {
		t.Fatalf("v: got=%v", first)
	}

	ns.Set("v", nil)
	ran, err = e.RunCell(ctx, cell, run)
	if err != nil || ran || runs != 1 {
		t.Fatalf("fresh outputs must be reused: ran=%v runs=%d err=%v", ran, runs, err)
	}
	if again, _ := ns.Get("v"); again != first {
		t.Fatalf("reused output must be the cached object")
	}

	id := e.IdentifyCellResult(cell, "v")
	if stale, _ := e.IsStale(ctx, id, -1); stale {
		t.Fatalf("cell output reported stale")
	}
	ns.Set("boxed", &box{N: 4})
	if stale, _ := e.IsStale(ctx, id, -1); !stale {
		t.Fatalf("new input must make the output stale")
	}
	if ran, _ := e.RunCell(ctx, cell, run); !ran || runs != 2 {
		t.Fatalf("stale cell must run: runs=%d", runs)
	}
	if v, _ := ns.Get("v"); v.(*box).N != 8 {
		t.Fatalf("v after rerun: got=%v", v)
	}
	if !mustStale(t, e, first, -1) {
		t.Fatalf("replaced output must be stale")
	}
}

func TestRunCellSeesSwappedGlobals(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	ns.Set("a", 1)
	ns.Set("b", 2)
	cell := &code.Cell{Name: "diff", Code: code.NewCode("diff", "v = a - b"), Namespace: ns}
	runs := 0
	run := func(_ context.Context, ns Namespace) error {
		runs++
		a, _ := ns.Lookup("a")
		b, _ := ns.Lookup("b")
		ns.Set("v", a.(int)-b.(int))
		return nil
	}

	if ran, err := e.RunCell(ctx, cell, run); err != nil || !ran {
		t.Fatalf("first run: ran=%v err=%v", ran, err)
	}
	ns.Set("a", 2)
	ns.Set("b", 1)

	id := e.IdentifyCellResult(cell, "v")
	if stale, err := e.IsStale(ctx, id, -1); err != nil || !stale {
		t.Fatalf("swapped globals: stale=%v err=%v", stale, err)
	}
	ran, err := e.RunCell(ctx, cell, run)
	if err != nil || !ran || runs != 2 {
		t.Fatalf("swapped globals must rerun: ran=%v runs=%d err=%v", ran, runs, err)
	}
	if v, _ := ns.Get("v"); v != 1 {
		t.Fatalf("v got=%v want=1", v)
	}
}

func TestRunCellNeedsWritableNamespace(t *testing.T) {
	e := newEngine(t, Options{})
	cell := &code.Cell{Code: code.NewCode("anon", "v = 1"), Namespace: readOnly{}}
	if _, err := e.RunCell(context.Background(), cell, nil); !errors.Is(err, ErrReadOnlyNamespace) {
		t.Fatalf("expected ErrReadOnlyNamespace, got %v", err)
	}
}

type readOnly struct{}

func (readOnly) Lookup(string) (any, bool) { return nil, false }

func TestExternalValues(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	data := &box{N: 15}
	if err := e.RegisterExternal(ctx, "magic", data); err != nil {
		t.Fatalf("RegisterExternal: %v", err)
	}
	if got, ok := e.External("magic"); !ok || got != data {
		t.Fatalf("External: got=%v ok=%v", got, ok)
	}

	ns := code.NewNamespace()
	outer := memoOuter(e, ns)
	mustCall(t, outer, data)
	id, _ := e.IdentifyCall(outer.Func(), []any{data}, nil)
	if n, ok := id.Args[0].(identity.NamedID); !ok || n.Name != "magic" {
		t.Fatalf("argument identity: got=%s", id.Args[0].Key())
	}

	if err := e.RegisterExternal(ctx, "magic", nil); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := e.External("magic"); ok {
		t.Fatalf("nil must remove the name")
	}
	if stale, _ := e.IsStale(ctx, id, 0); !stale {
		t.Fatalf("a result whose named input is gone is stale")
	}
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	ns := code.NewNamespace()
	ns.Set("x", 0)
	calls := 0
	offset := memoOffset(e, ns, &calls)
	v := mustCall(t, offset, 10)

	if err := e.Tag(ctx, "duck", v); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	e.FlushOnline()
	if got, ok, err := e.Tagged(ctx, "duck"); err != nil || !ok || got != v {
		t.Fatalf("Tagged: got=%v ok=%v err=%v", got, ok, err)
	}
	if err := e.Tag(ctx, "duck", nil); err != nil {
		t.Fatalf("untag: %v", err)
	}
	if _, ok, _ := e.Tagged(ctx, "duck"); ok {
		t.Fatalf("tag should be gone")
	}
	if err := e.Tag(ctx, "loose", &box{}); !errors.Is(err, ErrNotCached) {
		t.Fatalf("tagging an untracked value: got %v", err)
	}
}
