// Package fingerprint derives the fingerprints that decide whether a cached
// result is still valid: of plain values, of functions (shallow or deep), of
// calls, and of cells.
package fingerprint

import (
	"fmt"
	"slices"
	"strings"

	"github.com/unkn0wn-root/memocas/code"
	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/internal/weakref"
	"github.com/unkn0wn-root/memocas/log"
)

// Tracker knows the identities and fingerprints of values already linked to
// an identity (external names and memoized results).
type Tracker interface {
	TrackedIdentity(v any) (identity.ID, bool)
	TrackedFingerprint(v any) (identity.Fingerprint, bool)
}

// Digester derives content fingerprints. *extension.Registry implements it.
type Digester interface {
	Fingerprint(v any) (identity.Fingerprint, error)
}

// UnfingerprintableError is returned for a value that is neither tracked nor
// digestible by any plugin.
type UnfingerprintableError struct {
	TypeName string
	Err      error
}

func (e *UnfingerprintableError) Error() string {
	return fmt.Sprintf("cannot fingerprint %s: register it by name or add a plugin for it: %v", e.TypeName, e.Err)
}

func (e *UnfingerprintableError) Unwrap() error { return e.Err }

type Options struct {
	Digester  Digester       // required
	Extractor code.Extractor // default code.NopExtractor
	Tracker   Tracker        // may be set later with SetTracker
	// LocalPrefix selects the modules whose functions are fingerprinted
	// deeply. Empty means every function with code.
	LocalPrefix string
	DisableDeep bool
	Logger      log.Logger
}

type Factory struct {
	dig     Digester
	ext     code.Extractor
	tracker Tracker
	local   string
	deep    bool
	log     log.Logger

	deps *weakref.Map[code.Dependencies]   // keyed by *code.Code
	objs *weakref.Map[identity.Fingerprint] // content digests by object
}

func New(opts Options) (*Factory, error) {
	if opts.Digester == nil {
		return nil, fmt.Errorf("fingerprint: digester is required")
	}
	f := &Factory{
		dig:     opts.Digester,
		ext:     opts.Extractor,
		tracker: opts.Tracker,
		local:   opts.LocalPrefix,
		deep:    !opts.DisableDeep,
		log:     log.OrNop(opts.Logger),
		deps:    weakref.NewMap[code.Dependencies](nil),
		objs:    weakref.NewMap[identity.Fingerprint](nil),
	}
	if f.ext == nil {
		f.ext = code.NopExtractor{}
	}
	return f, nil
}

// SetTracker wires the value tracker. The tracker itself usually needs the
// factory, so it is bound after construction.
func (f *Factory) SetTracker(t Tracker) { f.tracker = t }

// FingerprintValue fingerprints v as an argument or global: literals by
// value, functions shallowly, tracked values by their recorded fingerprint,
// anything else by plugin digest cached per object.
func (f *Factory) FingerprintValue(v any) (identity.Fingerprint, error) {
	if lit, ok := literal(v); ok {
		return lit, nil
	}
	if fn, ok := v.(*code.Func); ok {
		return f.FingerprintFunction(fn, false)
	}
	if fp, ok := goFunc(v); ok {
		return fp, nil
	}
	if f.tracker != nil {
		if fp, ok := f.tracker.TrackedFingerprint(v); ok {
			return fp, nil
		}
	}
	if fp, ok := f.objs.Get(v); ok {
		return fp, nil
	}
	fp, err := f.dig.Fingerprint(v)
	if err != nil {
		return nil, &UnfingerprintableError{TypeName: extension.TypeName(v), Err: err}
	}
	f.objs.Set(v, fp)
	return fp, nil
}

// Forget drops the cached digest of v, e.g. after v was mutated in place.
func (f *Factory) Forget(v any) { f.objs.Delete(v) }

// IdentifyValue returns the tracked identity of v, or its fingerprint identity.
func (f *Factory) IdentifyValue(v any) (identity.ID, error) {
	if f.tracker != nil {
		if id, ok := f.tracker.TrackedIdentity(v); ok {
			return id, nil
		}
	}
	fp, err := f.FingerprintValue(v)
	if err != nil {
		return nil, err
	}
	return identity.FingerprintID{TypeName: extension.TypeName(v), Fingerprint: fp}, nil
}

func (f *Factory) isLocal(fn *code.Func) bool {
	return f.deep && fn.Code != nil && (f.local == "" || strings.HasPrefix(fn.Module, f.local))
}

// FingerprintFunction fingerprints fn. Library functions (no code) go by
// qualified name; local functions are fingerprinted deeply when allowDeep.
func (f *Factory) FingerprintFunction(fn *code.Func, allowDeep bool) (identity.Fingerprint, error) {
	return f.function(fn, allowDeep, nil)
}

func (f *Factory) function(fn *code.Func, allowDeep bool, stack []*code.Code) (identity.Fingerprint, error) {
	switch {
	case fn == nil:
		return identity.FuncFingerprint{}, nil
	case fn.Builtin():
		return identity.FuncFingerprint{Code: "name:" + fn.QualifiedName()}, nil
	case allowDeep && f.isLocal(fn):
		return f.deepCode(fn.Code, fn.Globals, stack)
	default:
		return identity.FuncFingerprint{Code: fn.Code.Digest()}, nil
	}
}

func (f *Factory) dependencies(c *code.Code) code.Dependencies {
	if d, ok := f.deps.Get(c); ok {
		return d
	}
	d, err := f.ext.Extract(c)
	if err != nil {
		f.log.Warn("dependency extraction failed; using code digest only", log.Fields{"code": c.Name, "err": err})
		d = code.Dependencies{}
	}
	f.deps.Set(c, d)
	return d
}

// deepCode fingerprints c with its globals and callees. stack holds the code
// objects being fingerprinted further up; meeting one again (recursion)
// yields its shallow fingerprint.
func (f *Factory) deepCode(c *code.Code, ns code.Namespace, stack []*code.Code) (identity.Fingerprint, error) {
	if slices.Contains(stack, c) {
		return identity.FuncFingerprint{Code: c.Digest()}, nil
	}
	stack = append(stack, c)
	deps := f.dependencies(c)

	globals, err := f.globals(deps, ns)
	if err != nil {
		return nil, err
	}
	calls := make([]identity.Named, 0, len(deps.Calls))
	for _, name := range deps.Calls {
		fp, err := f.callee(name, ns, stack)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", name, err)
		}
		calls = append(calls, identity.Named{Name: name, Fingerprint: fp})
	}
	identity.SortNamed(calls)
	return identity.DeepFuncFingerprint{Code: c.Digest(), Globals: globals, Calls: calls}, nil
}

func (f *Factory) globals(deps code.Dependencies, ns code.Namespace) ([]identity.Named, error) {
	out := make([]identity.Named, 0, len(deps.GlobalLoads))
	for _, name := range deps.GlobalLoads {
		v, ok := lookup(ns, name)
		if !ok {
			out = append(out, identity.Named{Name: name, Fingerprint: nilLiteral})
			continue
		}
		fp, err := f.FingerprintValue(v)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
		out = append(out, identity.Named{Name: name, Fingerprint: fp})
	}
	identity.SortNamed(out)
	return out, nil
}

func (f *Factory) callee(name string, ns code.Namespace, stack []*code.Code) (identity.Fingerprint, error) {
	v, ok := lookup(ns, name)
	if !ok {
		// unknown to the namespace: a library call
		return identity.FuncFingerprint{Code: "name:" + name}, nil
	}
	if fn, ok := v.(*code.Func); ok {
		return f.function(fn, true, stack)
	}
	return f.FingerprintValue(v)
}

// lookup resolves name, falling back to the head of a dotted name (a method
// value or field of a global resolves to the global itself).
func lookup(ns code.Namespace, name string) (any, bool) {
	if ns == nil {
		return nil, false
	}
	if v, ok := ns.Lookup(name); ok {
		return v, true
	}
	head, _, dotted := strings.Cut(name, ".")
	if !dotted {
		return nil, false
	}
	return ns.Lookup(head)
}

// FingerprintCall fingerprints fn deeply and every argument as a value.
func (f *Factory) FingerprintCall(fn *code.Func, args []any, kwargs map[string]any) (identity.CallFingerprint, error) {
	ffp, err := f.FingerprintFunction(fn, true)
	if err != nil {
		return identity.CallFingerprint{}, err
	}
	out := identity.CallFingerprint{Function: ffp}
	if len(args) > 0 {
		out.Args = make([]identity.Fingerprint, len(args))
		for i, a := range args {
			if out.Args[i], err = f.FingerprintValue(a); err != nil {
				return identity.CallFingerprint{}, fmt.Errorf("argument %d: %w", i, err)
			}
		}
	}
	if len(kwargs) > 0 {
		out.Kwargs = make(map[string]identity.Fingerprint, len(kwargs))
		for k, a := range kwargs {
			fp, err := f.FingerprintValue(a)
			if err != nil {
				return identity.CallFingerprint{}, fmt.Errorf("argument %s: %w", k, err)
			}
			out.Kwargs[k] = fp
		}
	}
	return out, nil
}

// FingerprintCell fingerprints a cell body together with the identity and
// fingerprint of every global it reads and every function it calls.
// Outputs are the globals the cell assigns.
func (f *Factory) FingerprintCell(cell *code.Cell) (identity.CellFingerprint, error) {
	if cell == nil || cell.Code == nil {
		return identity.CellFingerprint{}, fmt.Errorf("fingerprint: cell has no code")
	}
	deps := f.dependencies(cell.Code)
	out := identity.CellFingerprint{Code: cell.Code.Digest(), Outputs: slices.Clone(deps.GlobalStores)}
	stack := []*code.Code{cell.Code}

	for _, name := range deps.GlobalLoads {
		v, ok := lookup(cell.Namespace, name)
		if !ok {
			out.Globals = append(out.Globals, identity.Bound{
				Name:        name,
				ID:          identity.NamedID{Name: name},
				Fingerprint: nilLiteral,
			})
			continue
		}
		id, err := f.IdentifyValue(v)
		if err != nil {
			return identity.CellFingerprint{}, fmt.Errorf("global %s: %w", name, err)
		}
		fp, err := f.FingerprintValue(v)
		if err != nil {
			return identity.CellFingerprint{}, fmt.Errorf("global %s: %w", name, err)
		}
		out.Globals = append(out.Globals, identity.Bound{Name: name, ID: id, Fingerprint: fp})
	}
	for _, name := range deps.Calls {
		fp, err := f.callee(name, cell.Namespace, stack)
		if err != nil {
			return identity.CellFingerprint{}, fmt.Errorf("call %s: %w", name, err)
		}
		out.Globals = append(out.Globals, identity.Bound{
			Name:        name,
			ID:          identity.FingerprintID{TypeName: "func " + name, Fingerprint: fp},
			Fingerprint: fp,
		})
	}
	identity.SortBound(out.Globals)
	return out, nil
}
