package code

import (
	"reflect"
	"testing"
)

func mustExtract(t *testing.T, src string) Dependencies {
	t.Helper()
	deps, err := SourceExtractor{}.Extract(NewCode("t", src))
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	return deps
}

func TestExtractFunctionGlobalsAndCalls(t *testing.T) {
	deps := mustExtract(t, `func g(n int) int {
	y := helper(n) + len(table)
	return y * x + strings.Count(label, "a") + math.MaxInt8
}`)
	if want := []string{"label", "math.MaxInt8", "table", "x"}; !reflect.DeepEqual(deps.GlobalLoads, want) {
		t.Fatalf("loads: got=%v want=%v", deps.GlobalLoads, want)
	}
	if want := []string{"helper", "strings.Count"}; !reflect.DeepEqual(deps.Calls, want) {
		t.Fatalf("calls: got=%v want=%v", deps.Calls, want)
	}
	if len(deps.GlobalStores) != 0 {
		t.Fatalf("functions store no globals, got %v", deps.GlobalStores)
	}
}

func TestExtractRecursionIsACall(t *testing.T) {
	deps := mustExtract(t, `func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}`)
	if want := []string{"fib"}; !reflect.DeepEqual(deps.Calls, want) {
		t.Fatalf("calls: got=%v want=%v", deps.Calls, want)
	}
	if len(deps.GlobalLoads) != 0 {
		t.Fatalf("loads: got=%v want none", deps.GlobalLoads)
	}
}

func TestExtractCellStatements(t *testing.T) {
	deps := mustExtract(t, `y := scale(x)
var z = y + offset
total = z`)
	if want := []string{"offset", "x"}; !reflect.DeepEqual(deps.GlobalLoads, want) {
		t.Fatalf("loads: got=%v want=%v", deps.GlobalLoads, want)
	}
	if want := []string{"total", "y", "z"}; !reflect.DeepEqual(deps.GlobalStores, want) {
		t.Fatalf("stores: got=%v want=%v", deps.GlobalStores, want)
	}
	if want := []string{"scale"}; !reflect.DeepEqual(deps.Calls, want) {
		t.Fatalf("calls: got=%v want=%v", deps.Calls, want)
	}
}

func TestExtractCellReadsBeforeAssignment(t *testing.T) {
	deps := mustExtract(t, `x = x + 1
y = 1
z = y
n += step`)
	if want := []string{"n", "step", "x"}; !reflect.DeepEqual(deps.GlobalLoads, want) {
		t.Fatalf("loads: got=%v want=%v", deps.GlobalLoads, want)
	}
	if want := []string{"n", "x", "y", "z"}; !reflect.DeepEqual(deps.GlobalStores, want) {
		t.Fatalf("stores: got=%v want=%v", deps.GlobalStores, want)
	}
}

func TestExtractParseError(t *testing.T) {
	if _, err := (SourceExtractor{}).Extract(NewCode("bad", "func (")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNopExtractor(t *testing.T) {
	deps, err := NopExtractor{}.Extract(NewCode("x", "func f() { g() }"))
	if err != nil || len(deps.Calls)+len(deps.GlobalLoads)+len(deps.GlobalStores) != 0 {
		t.Fatalf("nop extractor must report nothing, got %+v %v", deps, err)
	}
}

func TestCodeDigestDependsOnSourceOnly(t *testing.T) {
	a := NewCode("a", "func f() {}")
	b := NewCode("b", "func f() {}")
	c := NewCode("a", "func f() { }")
	if a.Digest() != b.Digest() {
		t.Fatalf("same source must share digest")
	}
	if a.Digest() == c.Digest() {
		t.Fatalf("different source must differ")
	}
}

func TestNamespaceDottedLookup(t *testing.T) {
	root := NewNamespace()
	pkg := NewNamespace()
	pkg.Set("Pi", 3.14)
	root.Set("math", pkg)
	root.Set("x", 1)

	if v, ok := root.Lookup("x"); !ok || v != 1 {
		t.Fatalf("x: got=%v,%v", v, ok)
	}
	if v, ok := root.Lookup("math.Pi"); !ok || v != 3.14 {
		t.Fatalf("math.Pi: got=%v,%v", v, ok)
	}
	if _, ok := root.Lookup("math.E"); ok {
		t.Fatalf("math.E must not resolve")
	}
	if _, ok := root.Lookup("x.y"); ok {
		t.Fatalf("x.y must not resolve through a non-namespace")
	}
	root.Delete("x")
	if _, ok := root.Lookup("x"); ok {
		t.Fatalf("x must be gone after Delete")
	}
}

func TestDefineBindsGlobals(t *testing.T) {
	ns := NewNamespace()
	f := ns.Define(&Func{Name: "g", Module: "main", Code: NewCode("g", "func g() {}")})
	if f.Globals != ns {
		t.Fatalf("Define must bind the namespace")
	}
	if got, _ := ns.Lookup("g"); got != f {
		t.Fatalf("Define must register the func")
	}
	if f.QualifiedName() != "main.g" {
		t.Fatalf("qualified name: got=%q", f.QualifiedName())
	}
}
