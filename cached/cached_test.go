package cached

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeLoader struct{}

func (fakeLoader) Decode(plugin, typeName string, data []byte) (any, error) {
	return plugin + ":" + typeName + ":" + string(data), nil
}
func (fakeLoader) ReadExternal(path string) ([]byte, error) { return os.ReadFile(path) }
func (fakeLoader) MakeTuple(items []any) any               { return items }

func TestBuildPathNaming(t *testing.T) {
	p := &FilePath{Dir: "/cache", ExternalID: FormatExternalID(42), Hint: "main.load_frame"}
	got := p.Build("*main.Frame", "cbor")
	want := filepath.Join("/cache", "main.load_frame__main.Frame_0000000042.cbor")
	if got != want {
		t.Fatalf("path: got=%q want=%q", got, want)
	}
}

func TestBuildPathTruncates(t *testing.T) {
	p := &FilePath{Dir: "d", ExternalID: FormatExternalID(1), Hint: strings.Repeat("h", 400)}
	name := filepath.Base(p.Build("T", "bin"))
	if len(name) > maxFileName {
		t.Fatalf("name too long: %d", len(name))
	}
	if !strings.HasSuffix(name, "_0000000001.bin") {
		t.Fatalf("suffix must survive truncation: %q", name)
	}
}

func TestForItemSuffix(t *testing.T) {
	p := &FilePath{Dir: "d", ExternalID: "0000000007", Hint: "h"}
	if got := p.ForItem(2).ExternalID; got != "0000000007_2" {
		t.Fatalf("item id: got=%q", got)
	}
	if p.ExternalID != "0000000007" {
		t.Fatalf("ForItem must not mutate the receiver")
	}
	var nilPath *FilePath
	if nilPath.ForItem(1) != nil {
		t.Fatalf("nil path stays nil")
	}
}

func TestSaveInlineAndExternal(t *testing.T) {
	dir := t.TempDir()
	in, err := Save("cbor", "int", []byte("small"), nil, "cbor")
	if err != nil {
		t.Fatalf("save inline: %v", err)
	}
	if _, ok := in.(Inline); !ok {
		t.Fatalf("nil path must store inline, got %T", in)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("inline save must not create files")
	}

	p := &FilePath{Dir: dir, ExternalID: FormatExternalID(3), Hint: "big"}
	ex, err := Save("cbor", "[]float64", []byte("payload"), p, "cbor")
	if err != nil {
		t.Fatalf("save external: %v", err)
	}
	ext, ok := ex.(External)
	if !ok {
		t.Fatalf("expected External, got %T", ex)
	}
	got, err := ext.Load(fakeLoader{})
	if err != nil || got != "cbor:[]float64:payload" {
		t.Fatalf("load: got=%v err=%v", got, err)
	}

	if err := ext.Unlink(); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if _, err := os.Stat(ext.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("original file must be gone")
	}
	if _, err := os.Stat(ext.Path + UnlinkedSuffix); err != nil {
		t.Fatalf("unlinked file must exist: %v", err)
	}
	// second unlink: file already moved
	if err := ext.Unlink(); err != nil {
		t.Fatalf("unlink of missing file must be a no-op: %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	v := Tuple{Items: []Value{
		Inline{Plugin: "cbor", Type: "int", Data: []byte{1}},
		External{Plugin: "bytes", Type: "[]uint8", Path: "/x/y.bin", Size: 2048},
	}}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tup, ok := got.(Tuple)
	if !ok || len(tup.Items) != 2 {
		t.Fatalf("tuple shape lost: %#v", got)
	}
	if in := tup.Items[0].(Inline); !bytes.Equal(in.Data, []byte{1}) || in.Plugin != "cbor" {
		t.Fatalf("inline mismatch: %#v", in)
	}
	if ex := tup.Items[1].(External); ex.Path != "/x/y.bin" || ex.Size != 2048 {
		t.Fatalf("external mismatch: %#v", ex)
	}
	if got.StoredSize() != 2049 {
		t.Fatalf("stored size: got=%d want=2049", got.StoredSize())
	}
	if paths := Paths(got); len(paths) != 1 || paths[0] != "/x/y.bin" {
		t.Fatalf("paths: %v", paths)
	}
}

func TestRelativeAndResolvePaths(t *testing.T) {
	dir := filepath.Join(string(filepath.Separator), "data", "ext")
	other := filepath.Join(string(filepath.Separator), "elsewhere", "x.bin")
	v := Tuple{Items: []Value{
		External{Path: filepath.Join(dir, "a_0000000001_0.bin")},
		Inline{Data: []byte("x")},
		External{Path: other},
	}}

	rel := Relative(v, dir).(Tuple)
	if got := rel.Items[0].(External).Path; got != "a_0000000001_0.bin" {
		t.Fatalf("relative path got=%q", got)
	}
	if got := rel.Items[2].(External).Path; got != other {
		t.Fatalf("path outside dir got=%q want=%q", got, other)
	}

	moved := filepath.Join(string(filepath.Separator), "moved")
	back := Resolve(rel, moved).(Tuple)
	if got := back.Items[0].(External).Path; got != filepath.Join(moved, "a_0000000001_0.bin") {
		t.Fatalf("resolved path got=%q", got)
	}
	if got := back.Items[2].(External).Path; got != other {
		t.Fatalf("absolute path must be kept, got=%q", got)
	}
	if Relative(v, "").(Tuple).Items[0].(External).Path != filepath.Join(dir, "a_0000000001_0.bin") {
		t.Fatalf("empty dir must keep paths")
	}
}
