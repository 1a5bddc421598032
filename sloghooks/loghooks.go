package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/memocas/hooks"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictedEvery  uint64
	FallbackEvery uint64
	// Optional identity key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	evictedCtr  atomic.Uint64
	fallbackCtr atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ValueEvicted(identityKey string) {
	if h.l == nil || !sample(h.opts.EvictedEvery, &h.evictedCtr) {
		return
	}
	h.l.Debug("memocas.value_evicted",
		"id", h.redact(identityKey))
}

func (h *Hooks) SerializationFallback(typeName, plugin string, err error) {
	if h.l == nil || !sample(h.opts.FallbackEvery, &h.fallbackCtr) {
		return
	}
	h.l.Info("memocas.serialization_fallback",
		"type", typeName,
		"plugin", plugin,
		"err", err)
}

func (h *Hooks) PersistSkipped(identityKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memocas.persist_skipped",
		"id", h.redact(identityKey),
		"err", err)
}

func (h *Hooks) ExternalWritten(path string, size int64) {
	if h.l == nil {
		return
	}
	h.l.Debug("memocas.external_written",
		"path", path,
		"size", size)
}

func (h *Hooks) CachedValueUnlinked(path string) {
	if h.l == nil {
		return
	}
	h.l.Debug("memocas.cached_value_unlinked",
		"path", path)
}

func (h *Hooks) AliasingRejected(existingKey, requestedKey string) {
	if h.l == nil {
		return
	}
	h.l.Error("memocas.aliasing_rejected",
		"existing", h.redact(existingKey),
		"requested", h.redact(requestedKey))
}
