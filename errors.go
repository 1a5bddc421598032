package memocas

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/fingerprint"
	"github.com/unkn0wn-root/memocas/registry"
	"github.com/unkn0wn-root/memocas/store"
)

type (
	UnfingerprintableError = fingerprint.UnfingerprintableError
	AliasingError          = registry.AliasingError
	SerializationError     = extension.SerializationError
)

var (
	ErrMissingEntry = store.ErrMissingEntry
	ErrNotCached    = store.ErrNotCached
	// ErrReadOnlyNamespace is returned by RunCell when the cell's namespace
	// cannot receive its outputs.
	ErrReadOnlyNamespace = errors.New("memocas: cell namespace is read-only")
)

// CallError reports a memoized computation that failed, or whose result
// could not be registered.
type CallError struct {
	Function    string
	RunErr      error
	RegisterErr error
}

func (e *CallError) Error() string {
	switch {
	case e.RunErr != nil:
		return fmt.Sprintf("%s: computation failed: %v", e.Function, e.RunErr)
	case e.RegisterErr != nil:
		return fmt.Sprintf("%s: register result: %v", e.Function, e.RegisterErr)
	default:
		return fmt.Sprintf("%s: unknown error", e.Function)
	}
}

func (e *CallError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.RunErr != nil {
		errs = append(errs, e.RunErr)
	}
	if e.RegisterErr != nil {
		errs = append(errs, e.RegisterErr)
	}
	return errs
}
