// Package config reads engine settings from MEMOCAS_* environment variables
// and opens the backend and blob cache they select.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/memocas/backend"
	"github.com/unkn0wn-root/memocas/backend/memdb"
	redisbe "github.com/unkn0wn-root/memocas/backend/redis"
	"github.com/unkn0wn-root/memocas/backend/sqlite"
	"github.com/unkn0wn-root/memocas/provider"
	bcp "github.com/unkn0wn-root/memocas/provider/bigcache"
	redisp "github.com/unkn0wn-root/memocas/provider/redis"
	rp "github.com/unkn0wn-root/memocas/provider/ristretto"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	BlobCacheNone      = "none"
	BlobCacheRistretto = "ristretto"
	BlobCacheBigcache  = "bigcache"
	BlobCacheRedis     = "redis"
)

type Config struct {
	Backend        string `env:"MEMOCAS_BACKEND"         envDefault:"memory"`
	Path           string `env:"MEMOCAS_PATH"            envDefault:".memocas/memo.db"`
	RedisAddr      string `env:"MEMOCAS_REDIS_ADDR"      envDefault:"localhost:6379"`
	RedisNamespace string `env:"MEMOCAS_REDIS_NAMESPACE" envDefault:"memocas"`

	// ExternalDir receives large values; empty keeps everything inline.
	ExternalDir     string `env:"MEMOCAS_EXTERNAL_DIR"`
	InlineThreshold int64  `env:"MEMOCAS_INLINE_THRESHOLD" envDefault:"1024"`

	LocalPrefix string `env:"MEMOCAS_LOCAL_PREFIX"`
	DisableDeep bool   `env:"MEMOCAS_DISABLE_DEEP"`

	BlobCache      string        `env:"MEMOCAS_BLOB_CACHE"       envDefault:"none"`
	BlobCacheBytes int64         `env:"MEMOCAS_BLOB_CACHE_BYTES" envDefault:"67108864"`
	BlobTTL        time.Duration `env:"MEMOCAS_BLOB_TTL"         envDefault:"1h"`

	LogLevel  string `env:"MEMOCAS_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"MEMOCAS_LOG_FORMAT" envDefault:"zap"`

	// EventLog reports engine events (evictions, external writes, rejected
	// aliasing) as slog records delivered off the engine's goroutines.
	EventLog    bool   `env:"MEMOCAS_EVENT_LOG"`
	EventQueue  int    `env:"MEMOCAS_EVENT_QUEUE"  envDefault:"1024"`
	EventSample uint64 `env:"MEMOCAS_EVENT_SAMPLE" envDefault:"100"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// OpenBackend opens the configured backend.
func (c Config) OpenBackend(ctx context.Context) (backend.Backend, error) {
	switch c.Backend {
	case "", BackendMemory:
		return asBackend(memdb.New())
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		return asBackend(sqlite.Open(c.Path))
	case BackendRedis:
		return asBackend(redisbe.Open(ctx, c.RedisAddr, c.RedisNamespace))
	default:
		return nil, fmt.Errorf("config: unknown backend %q", c.Backend)
	}
}

// OpenBlobCache opens the configured external-file cache. It returns nil
// when none is configured.
func (c Config) OpenBlobCache() (provider.Provider, error) {
	switch c.BlobCache {
	case "", BlobCacheNone:
		return nil, nil
	case BlobCacheRistretto:
		return asProvider(rp.New(rp.ForBytes(c.BlobCacheBytes)))
	case BlobCacheBigcache:
		return asProvider(bcp.New(bcp.Config{
			LifeWindow:         c.BlobTTL,
			HardMaxCacheSizeMB: int(c.BlobCacheBytes >> 20),
		}))
	case BlobCacheRedis:
		return asProvider(redisp.New(redisp.Config{
			Client:      goredis.NewClient(&goredis.Options{Addr: c.RedisAddr}),
			Prefix:      c.RedisNamespace + ":blob:",
			CloseClient: true,
		}))
	default:
		return nil, fmt.Errorf("config: unknown blob cache %q", c.BlobCache)
	}
}

// asBackend and asProvider keep a failed constructor from returning a
// non-nil interface holding a nil pointer.
func asBackend[B backend.Backend](b B, err error) (backend.Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}

func asProvider[P provider.Provider](p P, err error) (provider.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
