package registry

import (
	"fmt"
	"sync"

	"github.com/unkn0wn-root/memocas/code"
	"github.com/unkn0wn-root/memocas/fingerprint"
	"github.com/unkn0wn-root/memocas/identity"
)

// Identities derives identities for values, functions, cells and calls, and
// remembers which function or cell each FunctionID stands for in this
// process.
type Identities struct {
	fp *fingerprint.Factory

	mu    sync.RWMutex
	funcs map[string]*code.Func
	cells map[string]*code.Cell
}

func NewIdentities(fp *fingerprint.Factory) *Identities {
	return &Identities{
		fp:    fp,
		funcs: make(map[string]*code.Func),
		cells: make(map[string]*code.Cell),
	}
}

// IdentifyValue returns the tracked identity of v or its fingerprint identity.
func (r *Identities) IdentifyValue(v any) (identity.ID, error) {
	return r.fp.IdentifyValue(v)
}

// IdentifyFunction names fn by its qualified name and registers it.
func (r *Identities) IdentifyFunction(fn *code.Func) identity.FunctionID {
	fid := identity.FunctionID{QualifiedName: fn.QualifiedName()}
	r.mu.Lock()
	r.funcs[fid.Key()] = fn
	r.mu.Unlock()
	return fid
}

// IdentifyCell names a cell by its name, or by its code when anonymous.
func (r *Identities) IdentifyCell(cell *code.Cell) identity.FunctionID {
	fid := identity.FunctionID{QualifiedName: cell.Name}
	if cell.Name == "" && cell.Code != nil {
		fid.Code = identity.FuncFingerprint{Code: cell.Code.Digest()}
	}
	r.mu.Lock()
	r.cells[fid.Key()] = cell
	r.mu.Unlock()
	return fid
}

func (r *Identities) ResolveFunction(fid identity.FunctionID) (*code.Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[fid.Key()]
	return fn, ok
}

func (r *Identities) ResolveCell(fid identity.FunctionID) (*code.Cell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cells[fid.Key()]
	return c, ok
}

// IdentifyCall identifies the result of calling fid with args and kwargs.
func (r *Identities) IdentifyCall(fid identity.FunctionID, args []any, kwargs map[string]any) (identity.CallID, error) {
	cid := identity.CallID{Function: fid}
	if len(args) > 0 {
		cid.Args = make([]identity.ID, len(args))
		for i, a := range args {
			id, err := r.IdentifyValue(a)
			if err != nil {
				return identity.CallID{}, fmt.Errorf("argument %d: %w", i, err)
			}
			cid.Args[i] = id
		}
	}
	if len(kwargs) > 0 {
		cid.Kwargs = make(map[string]identity.ID, len(kwargs))
		for k, a := range kwargs {
			id, err := r.IdentifyValue(a)
			if err != nil {
				return identity.CallID{}, fmt.Errorf("argument %s: %w", k, err)
			}
			cid.Kwargs[k] = id
		}
	}
	return cid, nil
}

func (r *Identities) IdentifyCellResult(cell identity.FunctionID, output string) identity.CellResultID {
	return identity.CellResultID{Cell: cell, Output: output}
}
