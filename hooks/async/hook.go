// Package asynchook moves hook delivery off the engine's goroutines. Events
// are queued to a fixed set of workers and dropped when the queue is full or
// the hooks are closed.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{EvictedEvery: 100})
//	h := asynchook.New(raw, 1, 1000)
//	eng, _ := memocas.New(ctx, memocas.Options{Hooks: h})
//	defer eng.Close(ctx) // closes h after the store
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/memocas/hooks"
)

type Hooks struct {
	inner   hooks.Hooks
	q       chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

func New(inner hooks.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: hooks.OrNop(inner), q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers the queued events and stops the workers. Events raised
// afterwards are dropped; eviction events can still arrive from the runtime.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) ValueEvicted(k string)             { h.try(func() { h.inner.ValueEvicted(k) }) }
func (h *Hooks) CachedValueUnlinked(p string)      { h.try(func() { h.inner.CachedValueUnlinked(p) }) }
func (h *Hooks) ExternalWritten(p string, n int64) { h.try(func() { h.inner.ExternalWritten(p, n) }) }
func (h *Hooks) PersistSkipped(k string, err error) {
	h.try(func() { h.inner.PersistSkipped(k, err) })
}
func (h *Hooks) SerializationFallback(t, p string, err error) {
	h.try(func() { h.inner.SerializationFallback(t, p, err) })
}
func (h *Hooks) AliasingRejected(existing, requested string) {
	h.try(func() { h.inner.AliasingRejected(existing, requested) })
}
