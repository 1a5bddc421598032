package sloghooks

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newHooks(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestEvictionsAreSampled(t *testing.T) {
	h, buf := newHooks(Options{EvictedEvery: 4})
	for i := 0; i < 8; i++ {
		h.ValueEvicted("call:main.fib(3)")
	}
	if got := strings.Count(buf.String(), "memocas.value_evicted"); got != 2 {
		t.Fatalf("records got=%d want=2", got)
	}
}

func TestIdentityKeysAreRedacted(t *testing.T) {
	h, buf := newHooks(Options{})
	h.AliasingRejected("call:main.fib(3)", "call:main.fib(4)")
	out := buf.String()
	if strings.Contains(out, "main.fib") {
		t.Fatalf("raw identity key logged: %s", out)
	}
	if !strings.Contains(out, "memocas.aliasing_rejected") {
		t.Fatalf("missing record: %s", out)
	}
}

func TestCustomRedactor(t *testing.T) {
	h, buf := newHooks(Options{Redact: func(string) string { return "<id>" }})
	h.PersistSkipped("call:main.fib(3)", nil)
	if !strings.Contains(buf.String(), "id=<id>") {
		t.Fatalf("redactor not used: %s", buf.String())
	}
}

func TestNilLoggerIsQuiet(t *testing.T) {
	h := New(nil, Options{})
	h.ValueEvicted("k")
	h.ExternalWritten("/p", 1)
	h.CachedValueUnlinked("/p")
	h.SerializationFallback("T", "p", nil)
}
