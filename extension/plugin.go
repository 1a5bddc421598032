// Package extension is the registry of per-type serialization plugins.
//
// A plugin estimates a value's size, derives its content fingerprint, writes
// it inline or to an external file, restores it, and may post-process fresh
// results before they reach the caller. Plugins are dispatched by the exact
// runtime type they declare at registration; everything else goes to the
// default CBOR plugin.
package extension

import (
	"fmt"
	"reflect"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/identity"
)

// Plugin serializes values of one type.
type Plugin interface {
	// Name is stored with every cached value and selects the plugin on load.
	Name() string
	// Type is the dispatch key. The default plugin returns nil.
	Type() reflect.Type
	Supports(v any) bool
	EstimatedSize(v any) int64
	Fingerprint(v any) (identity.Fingerprint, error)
	// CacheValue serializes v inline when path is nil, else to path.
	CacheValue(v any, path *cached.FilePath) (cached.Value, error)
	Decode(typeName string, data []byte) (any, error)
	WrapReturnValue(v any) any
}

// Tuple is a composite result. Each item is fingerprinted, cached and
// staleness-checked on its own.
type Tuple []any

// TypeName is the type tag used in identities and cached values.
func TypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// SerializationError reports that neither the matching plugin nor the
// default plugin could serialize a value.
type SerializationError struct {
	TypeName    string
	Plugin      string
	PluginErr   error
	FallbackErr error
}

func (e *SerializationError) Error() string {
	switch {
	case e.PluginErr != nil && e.FallbackErr != nil:
		return fmt.Sprintf("serialize %s failed: plugin %s: %v; default: %v",
			e.TypeName, e.Plugin, e.PluginErr, e.FallbackErr)
	case e.PluginErr != nil:
		return fmt.Sprintf("serialize %s: plugin %s: %v", e.TypeName, e.Plugin, e.PluginErr)
	case e.FallbackErr != nil:
		return fmt.Sprintf("serialize %s: default plugin: %v", e.TypeName, e.FallbackErr)
	default:
		return fmt.Sprintf("serialize %s: unknown error", e.TypeName)
	}
}

func (e *SerializationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.PluginErr != nil {
		errs = append(errs, e.PluginErr)
	}
	if e.FallbackErr != nil {
		errs = append(errs, e.FallbackErr)
	}
	return errs
}
