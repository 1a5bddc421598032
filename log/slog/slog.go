package slog

import (
	"context"
	"io"
	stdslog "log/slog"

	"github.com/unkn0wn-root/memocas/log"
)

var _ log.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New logs JSON records to w at level. Unknown levels fall back to info.
func New(level string, w io.Writer) Logger {
	return Logger{L: stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: ParseLevel(level)}))}
}

func ParseLevel(level string) stdslog.Level {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return stdslog.LevelInfo
	}
	return lvl
}

func (s Logger) Debug(msg string, f log.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelDebug, msg, attrs(f)...)
}
func (s Logger) Info(msg string, f log.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelInfo, msg, attrs(f)...)
}
func (s Logger) Warn(msg string, f log.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelWarn, msg, attrs(f)...)
}
func (s Logger) Error(msg string, f log.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelError, msg, attrs(f)...)
}

func attrs(f log.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, stdslog.Any(k, v))
	}
	return out
}
