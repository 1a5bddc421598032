package memocas

import (
	"context"

	"github.com/unkn0wn-root/memocas/identity"
)

// Policy decides whether a cached result is recomputed instead of reused.
// It is only consulted for identities that resolve to a cached value.
type Policy interface {
	ShouldRecompute(ctx context.Context, e *Engine, id identity.ID) (bool, error)
}

// CachedOnly reuses every cached result, stale or not.
type CachedOnly struct{}

func (CachedOnly) ShouldRecompute(context.Context, *Engine, identity.ID) (bool, error) {
	return false, nil
}

// RecomputeStale recomputes results that are stale at Depth (-1 unbounded).
type RecomputeStale struct {
	Depth int
}

func (p RecomputeStale) ShouldRecompute(ctx context.Context, e *Engine, id identity.ID) (bool, error) {
	return e.IsStale(ctx, id, p.Depth)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, e *Engine, id identity.ID) (bool, error)

func (f PolicyFunc) ShouldRecompute(ctx context.Context, e *Engine, id identity.ID) (bool, error) {
	return f(ctx, e, id)
}
