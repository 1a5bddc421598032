package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unkn0wn-root/memocas/backend/sqlite"
	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/store"
)

type fixture struct {
	db  string
	ext string
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", f.db, "--external-dir", f.ext}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func call(name string) identity.CallID {
	return identity.CallID{Function: identity.FunctionID{QualifiedName: "main." + name}}
}

// seed writes one inline and one external result; the external one is tagged
// "baseline".
func seed(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{db: filepath.Join(dir, "memo.db"), ext: filepath.Join(dir, "ext")}

	ctx := context.Background()
	be, err := sqlite.Open(f.db)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	ser, err := extension.NewRegistry(extension.Options{Plugins: []extension.Plugin{extension.NewBytes()}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	st, err := store.Open(ctx, store.Options{Backend: be, Serializer: ser, ExternalDir: f.ext, InlineThreshold: 64})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	fp := identity.Literal{Type: "string", Repr: "v1"}
	if err := st.Add(ctx, call("small"), make([]byte, 16), fp); err != nil {
		t.Fatalf("Add small: %v", err)
	}
	if err := st.Add(ctx, call("big"), make([]byte, 4096), fp); err != nil {
		t.Fatalf("Add big: %v", err)
	}
	if err := st.Tag(ctx, "baseline", call("big")); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if err := st.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return f
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status got=%q want=ok", resp.Status)
	}
	return resp.Data
}

func extFiles(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, d := range des {
		names = append(names, d.Name())
	}
	return names
}

func TestInvalidFormat(t *testing.T) {
	f := seed(t)
	_, err := f.run(t, "info", "--format", "yaml")
	if err == nil {
		t.Fatalf("want error for unknown format")
	}
	if got := GetExitCode(err); got != ExitCommandError {
		t.Fatalf("exit code got=%d want=%d", got, ExitCommandError)
	}
}

func TestMissingDatabase(t *testing.T) {
	f := fixture{db: filepath.Join(t.TempDir(), "nope.db"), ext: t.TempDir()}
	_, err := f.run(t, "ls")
	if got := GetExitCode(err); got != ExitCommandError {
		t.Fatalf("exit code got=%d want=%d (err=%v)", got, ExitCommandError, err)
	}
	if _, statErr := os.Stat(f.db); !os.IsNotExist(statErr) {
		t.Fatalf("ls must not create the database")
	}
}

func TestListJSON(t *testing.T) {
	f := seed(t)
	out, err := f.run(t, "ls", "--format", "json")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	entries := decode[[]EntryInfo](t, out)
	if len(entries) != 2 {
		t.Fatalf("entries got=%d want=2", len(entries))
	}
	byKey := map[string]EntryInfo{}
	for _, e := range entries {
		byKey[e.Key] = e
	}
	small, big := byKey[call("small").Key()], byKey[call("big").Key()]
	if small.Storage != "inline" || small.StoredSize != 16 || len(small.Files) != 0 {
		t.Fatalf("small got=%+v", small)
	}
	if big.Storage != "external" || big.StoredSize != 4096 || len(big.Files) != 1 || big.Tag != "baseline" {
		t.Fatalf("big got=%+v", big)
	}
}

func TestListText(t *testing.T) {
	f := seed(t)
	out, err := f.run(t, "ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	for _, want := range []string{"RESULT", "inline", "external", "baseline"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTags(t *testing.T) {
	f := seed(t)
	out, err := f.run(t, "tags", "--format", "json")
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	tags := decode[[]TagInfo](t, out)
	if len(tags) != 1 || tags[0].Name != "baseline" || tags[0].Key != call("big").Key() {
		t.Fatalf("tags got=%+v", tags)
	}
}

func TestInfo(t *testing.T) {
	f := seed(t)
	out, err := f.run(t, "info", "--format", "json")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	info := decode[StoreInfo](t, out)
	if info.ID == "" {
		t.Fatalf("store id is empty")
	}
	if info.Entries != 2 || info.Inline != 1 || info.External != 1 || info.Tags != 1 {
		t.Fatalf("info got=%+v", info)
	}
	if info.StoredBytes != 16+4096 || info.ExternalBytes != 4096 {
		t.Fatalf("bytes got=%d/%d want=%d/%d", info.StoredBytes, info.ExternalBytes, 16+4096, 4096)
	}
}

func TestForgetThenPrune(t *testing.T) {
	f := seed(t)
	if _, err := f.run(t, "forget", "--tag", "baseline"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	names := extFiles(t, f.ext)
	if len(names) != 1 || !strings.HasSuffix(names[0], ".unlinked") {
		t.Fatalf("after forget got=%v want one .unlinked file", names)
	}

	out, err := f.run(t, "prune", "--dry-run", "--format", "json")
	if err != nil {
		t.Fatalf("prune --dry-run: %v", err)
	}
	if res := decode[PruneResult](t, out); len(res.Files) != 1 || res.Bytes != 4096 || !res.DryRun {
		t.Fatalf("dry run got=%+v", res)
	}
	if got := extFiles(t, f.ext); len(got) != 1 {
		t.Fatalf("dry run deleted files: %v", got)
	}

	if _, err := f.run(t, "prune"); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if got := extFiles(t, f.ext); len(got) != 0 {
		t.Fatalf("after prune got=%v want none", got)
	}

	out, err = f.run(t, "info", "--format", "json")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info := decode[StoreInfo](t, out); info.Entries != 1 || info.Tags != 0 {
		t.Fatalf("info got=%+v", info)
	}
}

func TestForgetUnknownTag(t *testing.T) {
	f := seed(t)
	_, err := f.run(t, "forget", "--tag", "nope")
	if got := GetExitCode(err); got != ExitFailure {
		t.Fatalf("exit code got=%d want=%d (err=%v)", got, ExitFailure, err)
	}
}

func TestForgetNeedsTarget(t *testing.T) {
	f := seed(t)
	if _, err := f.run(t, "forget"); err == nil {
		t.Fatalf("want error without --tag or --all")
	}
}

func TestForgetAll(t *testing.T) {
	f := seed(t)
	out, err := f.run(t, "forget", "--all", "--format", "json")
	if err != nil {
		t.Fatalf("forget --all: %v", err)
	}
	if res := decode[ForgetResult](t, out); len(res.Removed) != 2 {
		t.Fatalf("removed got=%v want 2", res.Removed)
	}
}

func TestPruneOrphans(t *testing.T) {
	f := seed(t)
	stray := filepath.Join(f.ext, "main.stray_bytes_0000000099.bin")
	if err := os.WriteFile(stray, []byte("left over"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := f.run(t, "prune"); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("prune without --orphans removed %s: %v", stray, err)
	}

	if _, err := f.run(t, "prune", "--orphans"); err != nil {
		t.Fatalf("prune --orphans: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatalf("orphan %s still present", stray)
	}
	if got := extFiles(t, f.ext); len(got) != 1 {
		t.Fatalf("live file removed, left=%v", got)
	}
}

func TestGetExitCode(t *testing.T) {
	if got := GetExitCode(nil); got != ExitSuccess {
		t.Fatalf("nil got=%d", got)
	}
	if got := GetExitCode(os.ErrNotExist); got != ExitFailure {
		t.Fatalf("plain error got=%d", got)
	}
	wrapped := WrapExitError(ExitCommandError, "open store", os.ErrNotExist)
	if got := GetExitCode(wrapped); got != ExitCommandError {
		t.Fatalf("exit error got=%d", got)
	}
	if wrapped.Error() != "open store: file does not exist" {
		t.Fatalf("message got=%q", wrapped.Error())
	}
}

func TestExecuteReportsErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "nope.db")

	var out, errOut bytes.Buffer
	code := Execute([]string{"info", "--db", db}, &out, &errOut)
	if code != ExitCommandError {
		t.Fatalf("exit code got=%d want=%d", code, ExitCommandError)
	}
	if !strings.Contains(errOut.String(), "no store at") || out.Len() != 0 {
		t.Fatalf("text error: stdout=%q stderr=%q", out.String(), errOut.String())
	}

	out.Reset()
	errOut.Reset()
	code = Execute([]string{"info", "--db", db, "--format", "json"}, &out, &errOut)
	if code != ExitCommandError {
		t.Fatalf("exit code got=%d want=%d", code, ExitCommandError)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if resp.Status != "error" || resp.Error == nil || resp.Error.Code != ExitCommandError {
		t.Fatalf("json error got=%+v", resp)
	}
}

func TestPruneOrphansWithRelativeExternalDir(t *testing.T) {
	f := seed(t)
	t.Chdir(filepath.Dir(f.ext))
	rel := fixture{db: f.db, ext: filepath.Base(f.ext)}

	out, err := rel.run(t, "prune", "--orphans", "--format", "json")
	if err != nil {
		t.Fatalf("prune --orphans: %v", err)
	}
	if res := decode[PruneResult](t, out); len(res.Files) != 0 {
		t.Fatalf("pruned live files: %v", res.Files)
	}
	if got := extFiles(t, f.ext); len(got) != 1 {
		t.Fatalf("external files got=%v want the live one", got)
	}

	out, err = rel.run(t, "ls", "--format", "json")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	for _, e := range decode[[]EntryInfo](t, out) {
		for _, p := range e.Files {
			if _, err := os.Stat(p); err != nil {
				t.Fatalf("listed file %s: %v", p, err)
			}
		}
	}
}
