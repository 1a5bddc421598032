package zap

import (
	"github.com/unkn0wn-root/memocas/log"
	"go.uber.org/zap"
)

var _ log.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

func (z ZapLogger) Debug(msg string, f log.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f log.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f log.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f log.Fields) { z.L.Error(msg, zf(f)...) }

// New builds a production zap logger at the given level ("debug", "info", ...).
// Unknown levels fall back to info.
func New(level string) (ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err == nil {
		cfg.Level = lvl
	}
	l, err := cfg.Build()
	if err != nil {
		return ZapLogger{}, err
	}
	return ZapLogger{L: l.Named("memocas")}, nil
}

func zf(f log.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
