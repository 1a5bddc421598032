package memocas

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/memocas/code"
	"github.com/unkn0wn-root/memocas/identity"
)

// Impl is the Go implementation behind a memoized code.Func.
type Impl func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Memoized caches the results of one function by call identity.
type Memoized struct {
	e    *Engine
	fn   *code.Func
	impl Impl
}

// Memoize wraps impl, described to the fingerprint engine by fn. fn.Code
// should be the source of impl and fn.Globals the namespace it reads, so
// that edits and global changes make cached results stale.
func (e *Engine) Memoize(fn *code.Func, impl Impl) *Memoized {
	e.ids.IdentifyFunction(fn)
	return &Memoized{e: e, fn: fn, impl: impl}
}

func (m *Memoized) Func() *code.Func { return m.fn }

// Call is CallKw without keyword arguments.
func (m *Memoized) Call(ctx context.Context, args ...any) (any, error) {
	return m.CallKw(ctx, args, nil)
}

// CallKw returns the cached result of the call when there is one and the
// engine's policy keeps it, and computes and registers it otherwise.
func (m *Memoized) CallKw(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	id, err := m.e.IdentifyCall(m.fn, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, ok, err := m.e.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		again, err := m.e.policy.ShouldRecompute(ctx, m.e, id)
		if err != nil {
			return nil, err
		}
		if !again {
			return v, nil
		}
		m.e.log.Debug("recomputing cached result", Fields{"id": id.Hint()})
	}

	// inputs are fingerprinted before the computation can touch them
	fp, err := m.e.FingerprintCall(m.fn, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, err = m.impl(ctx, args, kwargs)
	if err != nil {
		return nil, &CallError{Function: m.fn.QualifiedName(), RunErr: err}
	}
	v = m.e.ext.WrapReturnValue(v)
	if err := m.e.RegisterCallResult(ctx, id, v, fp); err != nil {
		return v, &CallError{Function: m.fn.QualifiedName(), RegisterErr: err}
	}
	return v, nil
}

// IsCached reports whether a result for args is held online or stored.
func (m *Memoized) IsCached(ctx context.Context, args ...any) (bool, error) {
	id, err := m.e.IdentifyCall(m.fn, args, nil)
	if err != nil {
		return false, err
	}
	if m.e.results.HasID(id) {
		return true, nil
	}
	return m.e.store.Has(ctx, id)
}

// IsStale reports whether the result for args is stale at any depth. A call
// that was never cached is stale.
func (m *Memoized) IsStale(ctx context.Context, args ...any) (bool, error) {
	id, err := m.e.IdentifyCall(m.fn, args, nil)
	if err != nil {
		return false, err
	}
	return m.e.IsStale(ctx, id, -1)
}

// Forget drops the cached result for args.
func (m *Memoized) Forget(ctx context.Context, args ...any) (bool, error) {
	id, err := m.e.IdentifyCall(m.fn, args, nil)
	if err != nil {
		return false, err
	}
	return m.e.Forget(ctx, id)
}

// Namespace is a cell namespace RunCell can write outputs to.
// *code.MapNamespace implements it.
type Namespace interface {
	code.Namespace
	Set(name string, v any)
}

// CellFunc runs a cell body against its namespace.
type CellFunc func(ctx context.Context, ns Namespace) error

// RunCell runs cell unless every output it assigns is cached under the
// cell's current fingerprint and the policy keeps them, in which case the
// cached outputs are written to the namespace instead. It reports whether the
// body ran.
func (e *Engine) RunCell(ctx context.Context, cell *code.Cell, run CellFunc) (bool, error) {
	ns, ok := cell.Namespace.(Namespace)
	if !ok {
		return false, ErrReadOnlyNamespace
	}
	fid := e.ids.IdentifyCell(cell)
	fp, err := e.fp.FingerprintCell(cell)
	if err != nil {
		return false, err
	}

	if len(fp.Outputs) > 0 {
		cached, err := e.cachedOutputs(ctx, fid, fp)
		if err != nil {
			return false, err
		}
		if cached != nil {
			for name, v := range cached {
				ns.Set(name, v)
			}
			e.log.Debug("cell outputs reused", Fields{"cell": fid.Name(), "outputs": len(cached)})
			return false, nil
		}
	}

	if err := run(ctx, ns); err != nil {
		return true, &CallError{Function: fid.Name(), RunErr: err}
	}
	for _, out := range fp.Outputs {
		v, ok := ns.Lookup(out)
		if !ok {
			continue
		}
		id := e.ids.IdentifyCellResult(fid, out)
		rfp := identity.CellResultFingerprint{Cell: fp, Output: out}
		if err := e.RegisterCallResult(ctx, id, v, rfp); err != nil {
			return true, &CallError{Function: fid.Name(), RegisterErr: fmt.Errorf("output %s: %w", out, err)}
		}
	}
	return true, nil
}

// cachedOutputs returns every output of the cell when all of them were
// computed under fp and the policy keeps them, nil otherwise.
func (e *Engine) cachedOutputs(ctx context.Context, fid identity.FunctionID, fp identity.CellFingerprint) (map[string]any, error) {
	vals := make(map[string]any, len(fp.Outputs))
	for _, out := range fp.Outputs {
		id := e.ids.IdentifyCellResult(fid, out)
		stored, ok, err := e.mediator.ResolveFingerprint(ctx, id)
		if err != nil || !ok {
			return nil, err
		}
		if !identity.SameFingerprint(stored, identity.CellResultFingerprint{Cell: fp, Output: out}) {
			return nil, nil
		}
		v, ok, err := e.Resolve(ctx, id)
		if err != nil || !ok {
			return nil, err
		}
		again, err := e.policy.ShouldRecompute(ctx, e, id)
		if err != nil || again {
			return nil, err
		}
		vals[out] = v
	}
	return vals, nil
}
