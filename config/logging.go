package config

import (
	"fmt"
	"io"
	stdslog "log/slog"

	"github.com/unkn0wn-root/memocas/hooks"
	asynchook "github.com/unkn0wn-root/memocas/hooks/async"
	"github.com/unkn0wn-root/memocas/log"
	logrusadapter "github.com/unkn0wn-root/memocas/log/logrus"
	slogadapter "github.com/unkn0wn-root/memocas/log/slog"
	logzap "github.com/unkn0wn-root/memocas/log/zap"
	logzl "github.com/unkn0wn-root/memocas/log/zerolog"
	"github.com/unkn0wn-root/memocas/sloghooks"
)

const (
	LogZap     = "zap"
	LogLogrus  = "logrus"
	LogZerolog = "zerolog"
	LogSlog    = "slog"
)

// NewLogger builds the configured logger. zap writes to stderr; the other
// formats write JSON lines to w.
func (c Config) NewLogger(w io.Writer) (log.Logger, error) {
	switch c.LogFormat {
	case "", LogZap:
		l, err := logzap.New(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("config: zap logger: %w", err)
		}
		return l, nil
	case LogLogrus:
		return logrusadapter.New(c.LogLevel, w), nil
	case LogZerolog:
		return logzl.New(c.LogLevel, w), nil
	case LogSlog:
		return slogadapter.New(c.LogLevel, w), nil
	default:
		return nil, fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
}

// NewHooks returns the event log when EventLog is set and nil otherwise.
// Close the returned hooks, or the engine using them, to flush the queue.
func (c Config) NewHooks(w io.Writer) hooks.Hooks {
	if !c.EventLog {
		return nil
	}
	l := stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: slogadapter.ParseLevel(c.LogLevel)}))
	raw := sloghooks.New(l, sloghooks.Options{EvictedEvery: c.EventSample, FallbackEvery: c.EventSample})
	return asynchook.New(raw, 1, c.EventQueue)
}
