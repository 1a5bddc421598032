package registry

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/memocas/hooks"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/log"
	"github.com/unkn0wn-root/memocas/online"
)

// AliasingError is returned when a live value already linked to one identity
// is registered under another. Each computation must produce its own result
// object for invalidation tracking to stay sound.
type AliasingError struct {
	Existing  identity.ID
	Requested identity.ID
}

func (e *AliasingError) Error() string {
	return fmt.Sprintf("value of %s is already linked to %s: each computation must return a distinct result",
		e.Requested.Key(), e.Existing.Key())
}

// Mediator answers value questions from the external names first and the
// memoized results second.
type Mediator struct {
	external *External
	results  *online.Layer
	log      log.Logger
	hooks    hooks.Hooks
}

func NewMediator(external *External, results *online.Layer, l log.Logger, h hooks.Hooks) *Mediator {
	return &Mediator{external: external, results: results, log: log.OrNop(l), hooks: hooks.OrNop(h)}
}

func (m *Mediator) External() *External     { return m.external }
func (m *Mediator) Results() *online.Layer { return m.results }

func (m *Mediator) TrackedIdentity(v any) (identity.ID, bool) {
	if id, ok := m.external.IdentifyValue(v); ok {
		return id, true
	}
	return m.results.IdentifyValue(v)
}

func (m *Mediator) TrackedFingerprint(v any) (identity.Fingerprint, bool) {
	if fp, ok := m.external.FingerprintValue(v); ok {
		return fp, true
	}
	return m.results.FingerprintValue(v)
}

// ResolveValue returns the value of id. Fingerprint identities name content,
// not a stored value, and never resolve.
func (m *Mediator) ResolveValue(ctx context.Context, id identity.ID) (any, bool, error) {
	if identity.IsComputed(id) {
		return m.results.ResolveValue(ctx, id)
	}
	if n, ok := id.(identity.NamedID); ok {
		v, ok := m.external.Resolve(n.Name)
		return v, ok, nil
	}
	return nil, false, nil
}

func (m *Mediator) ResolveFingerprint(ctx context.Context, id identity.ID) (identity.Fingerprint, bool, error) {
	switch x := id.(type) {
	case identity.NamedID:
		fp, ok := m.external.Fingerprint(x.Name)
		return fp, ok, nil
	case identity.FingerprintID:
		return x.Fingerprint, true, nil
	}
	return m.results.ResolveFingerprint(ctx, id)
}

// CheckAlias fails when v is already linked to an identity other than id.
func (m *Mediator) CheckAlias(id identity.ID, v any) error {
	if v == nil {
		return nil
	}
	if existing, ok := m.TrackedIdentity(v); ok && existing.Key() != id.Key() {
		m.hooks.AliasingRejected(existing.Key(), id.Key())
		m.log.Debug("aliasing rejected", log.Fields{"existing": existing.Key(), "requested": id.Key()})
		return &AliasingError{Existing: existing, Requested: id}
	}
	return nil
}

// Register links v to id. An aliasing violation is reported before anything
// changes.
func (m *Mediator) Register(ctx context.Context, id identity.ID, v any, fp identity.Fingerprint) error {
	if err := m.CheckAlias(id, v); err != nil {
		return err
	}
	switch x := id.(type) {
	case identity.NamedID:
		m.external.Set(x.Name, v, fp)
		return nil
	case identity.CallID, identity.CellResultID, identity.ItemID:
		return m.results.Register(ctx, id, v, fp)
	}
	return fmt.Errorf("registry: cannot register a value under %s", id.Key())
}

// Invalidate unlinks v from whichever side holds it.
func (m *Mediator) Invalidate(v any) bool {
	if m.external.Invalidate(v) {
		return true
	}
	return m.results.Invalidate(v)
}

// IDs lists external names and result identities.
func (m *Mediator) IDs(ctx context.Context, persisted bool) ([]identity.ID, error) {
	ids, err := m.results.IDs(ctx, persisted)
	if err != nil {
		return nil, err
	}
	names := m.external.Names()
	out := make([]identity.ID, 0, len(names)+len(ids))
	for _, n := range names {
		out = append(out, identity.NamedID{Name: n})
	}
	return append(out, ids...), nil
}
