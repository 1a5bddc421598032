package memocas

import (
	"github.com/unkn0wn-root/memocas/hooks"
	"github.com/unkn0wn-root/memocas/log"
)

// Fields is a minimal structured field map for logs.
type Fields = log.Fields

// Logger is the leveled logger every component accepts. See log/zap,
// log/logrus, log/slog and log/zerolog for adapters.
type Logger = log.Logger

type NopLogger = log.Nop

// Hooks observes engine events. Callbacks must not block.
type Hooks = hooks.Hooks

type NopHooks = hooks.Nop
