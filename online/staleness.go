package online

import "github.com/unkn0wn-root/memocas/internal/weakref"

// StalenessRegistry remembers live values that were superseded, forgotten or
// invalidated, so they can be reported stale while the caller still holds
// them. Membership never keeps a value alive.
type StalenessRegistry struct {
	set *weakref.Set
}

func NewStalenessRegistry() *StalenessRegistry {
	return &StalenessRegistry{set: weakref.NewSet()}
}

// MarkStale records v. Untrackable values are ignored.
func (r *StalenessRegistry) MarkStale(v any) { r.set.Add(v) }

// MarkUsed clears v, e.g. when it is linked to an identity again.
func (r *StalenessRegistry) MarkUsed(v any) { r.set.Remove(v) }

func (r *StalenessRegistry) IsStale(v any) bool { return r.set.Has(v) }

func (r *StalenessRegistry) Len() int { return r.set.Len() }
