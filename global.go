package memocas

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/unkn0wn-root/memocas/code"
	"github.com/unkn0wn-root/memocas/config"
)

var (
	defaultOnce sync.Once
	defaultEng  *Engine
	defaultErr  error
)

// Default returns the process-wide engine, built on first use from the
// MEMOCAS_* environment. It logs to stderr in MEMOCAS_LOG_FORMAT and
// extracts dependencies from Go source. Libraries should take an *Engine instead.
func Default() (*Engine, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			defaultErr = err
			return
		}
		lg, err := cfg.NewLogger(os.Stderr)
		if err != nil {
			defaultErr = fmt.Errorf("memocas: %w", err)
			return
		}
		defaultEng, defaultErr = NewFromConfig(context.Background(), cfg, Options{
			Extractor: code.SourceExtractor{},
			Logger:    lg,
			Hooks:     cfg.NewHooks(os.Stderr),
		})
	})
	return defaultEng, defaultErr
}

// NewFromConfig opens the backend and blob cache cfg selects and builds an
// engine with them. Fields set in opts win over cfg.
func NewFromConfig(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	if opts.Backend == nil {
		be, err := cfg.OpenBackend(ctx)
		if err != nil {
			return nil, err
		}
		opts.Backend = be
	}
	if opts.BlobCache == nil {
		bc, err := cfg.OpenBlobCache()
		if err != nil {
			_ = opts.Backend.Close()
			return nil, err
		}
		opts.BlobCache = bc
	}
	opts.ExternalDir = coalesce(opts.ExternalDir, cfg.ExternalDir)
	opts.InlineThreshold = coalesce(opts.InlineThreshold, cfg.InlineThreshold)
	opts.BlobTTL = coalesce(opts.BlobTTL, cfg.BlobTTL)
	opts.LocalPrefix = coalesce(opts.LocalPrefix, cfg.LocalPrefix)
	opts.DisableDeep = opts.DisableDeep || cfg.DisableDeep
	return New(ctx, opts)
}
