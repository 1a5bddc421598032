package memocas

import (
	"context"
	"fmt"
	"sort"

	"github.com/unkn0wn-root/memocas/identity"
)

// IsStale reports whether recomputing the result named by id now would use
// different inputs than the cached one did.
//
// The current fingerprint of id's inputs is recomputed and compared with the
// stored one. When they agree and depth is not 0, the check continues into
// the computed inputs (call arguments, globals a cell loaded, the parent of a
// tuple item) with depth-1. A negative depth is unbounded. Results without a
// stored fingerprint, or whose function or cell was not identified in this
// process, are stale. External and content identities never are.
func (e *Engine) IsStale(ctx context.Context, id identity.ID, depth int) (bool, error) {
	switch x := id.(type) {
	case identity.CallID:
		return e.callStale(ctx, x, depth)
	case identity.CellResultID:
		return e.cellStale(ctx, x, depth)
	case identity.ItemID:
		_, ok, err := e.resolveFingerprint(ctx, x)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return e.IsStale(ctx, x.Parent, depth)
	}
	return false, nil
}

// IsValueStale is IsStale for the identity v is linked to. Values that were
// superseded or forgotten are stale as well.
func (e *Engine) IsValueStale(ctx context.Context, v any, depth int) (bool, error) {
	if e.results.Staleness().IsStale(v) {
		return true, nil
	}
	id, ok := e.mediator.TrackedIdentity(v)
	if !ok || !identity.IsComputed(id) {
		return false, nil
	}
	return e.IsStale(ctx, id, depth)
}

func (e *Engine) callStale(ctx context.Context, id identity.CallID, depth int) (bool, error) {
	stored, ok, err := e.mediator.ResolveFingerprint(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	fn, ok := e.ids.ResolveFunction(id.Function)
	if !ok {
		e.log.Debug("function not identified in this process", Fields{"function": id.Function.Name()})
		return true, nil
	}

	ffp, err := e.fp.FingerprintFunction(fn, true)
	if err != nil {
		return false, fmt.Errorf("memocas: fingerprint %s: %w", id.Function.Name(), err)
	}
	cur := identity.CallFingerprint{Function: ffp}
	inputs := make([]identity.ID, 0, len(id.Args)+len(id.Kwargs))
	if len(id.Args) > 0 {
		cur.Args = make([]identity.Fingerprint, len(id.Args))
		for i, a := range id.Args {
			fp, ok, err := e.resolveFingerprint(ctx, a)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
			cur.Args[i] = fp
			inputs = append(inputs, a)
		}
	}
	if len(id.Kwargs) > 0 {
		cur.Kwargs = make(map[string]identity.Fingerprint, len(id.Kwargs))
		for _, k := range sortedKeys(id.Kwargs) {
			a := id.Kwargs[k]
			fp, ok, err := e.resolveFingerprint(ctx, a)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
			cur.Kwargs[k] = fp
			inputs = append(inputs, a)
		}
	}

	if !identity.SameFingerprint(cur, stored) {
		return true, nil
	}
	if depth == 0 {
		return false, nil
	}
	return e.anyStale(ctx, inputs, next(depth))
}

func (e *Engine) cellStale(ctx context.Context, id identity.CellResultID, depth int) (bool, error) {
	stored, ok, err := e.mediator.ResolveFingerprint(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	want, ok := stored.(identity.CellResultFingerprint)
	if !ok {
		return true, nil
	}
	cell, ok := e.ids.ResolveCell(id.Cell)
	if !ok {
		e.log.Debug("cell not identified in this process", Fields{"cell": id.Cell.Name()})
		return true, nil
	}
	cur, err := e.fp.FingerprintCell(cell)
	if err != nil {
		return false, fmt.Errorf("memocas: fingerprint cell %s: %w", id.Cell.Name(), err)
	}
	if cur.Key() != want.Cell.Key() {
		return true, nil
	}
	if depth == 0 {
		return false, nil
	}
	inputs := make([]identity.ID, 0, len(cur.Globals))
	for _, g := range cur.Globals {
		inputs = append(inputs, g.ID)
	}
	return e.anyStale(ctx, inputs, next(depth))
}

func (e *Engine) anyStale(ctx context.Context, ids []identity.ID, depth int) (bool, error) {
	for _, id := range ids {
		if !identity.IsComputed(id) {
			continue
		}
		stale, err := e.IsStale(ctx, id, depth)
		if err != nil || stale {
			return stale, err
		}
	}
	return false, nil
}

// next is the depth for inputs; unbounded stays unbounded.
func next(depth int) int {
	if depth < 0 {
		return depth
	}
	return depth - 1
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
