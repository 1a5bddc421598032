package zerolog

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/unkn0wn-root/memocas/log"
)

var _ log.Logger = Logger{}

// Logger adapts a zerolog.Logger. Fields are attached with Fields(map).
type Logger struct{ L zerolog.Logger }

// New logs JSON lines to w at level. Unknown levels fall back to info.
func New(level string, w io.Writer) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return Logger{L: zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "memocas").Logger()}
}

func (z Logger) Debug(msg string, f log.Fields) { z.emit(z.L.Debug(), msg, f) }
func (z Logger) Info(msg string, f log.Fields)  { z.emit(z.L.Info(), msg, f) }
func (z Logger) Warn(msg string, f log.Fields)  { z.emit(z.L.Warn(), msg, f) }
func (z Logger) Error(msg string, f log.Fields) { z.emit(z.L.Error(), msg, f) }

func (Logger) emit(e *zerolog.Event, msg string, f log.Fields) {
	if e == nil { // level disabled
		return
	}
	if len(f) > 0 {
		e = e.Fields(map[string]any(f))
	}
	e.Msg(msg)
}
