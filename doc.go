// Package memocas memoizes function calls and notebook-style cells and tells
// whether a cached result went stale.
//
// Every result is keyed by an identity derived from the computation that
// produced it: the function (or cell) plus the identities of its inputs.
// Next to each result the engine stores a fingerprint of everything the
// result depended on when it was computed (the function's code, the globals
// it read, the functions it called and its argument values). A result is
// stale when recomputing that fingerprint today gives a different answer.
//
// Components:
//   - fingerprint.Factory: literal, content, shallow and deep function fingerprints.
//   - registry: external names, the identity of functions, cells and calls,
//     and the Mediator that answers "what is this value?".
//   - online.Layer: live results held weakly, with write-through and
//     read-through to the store.
//   - store.Store: transactional persisted entries. Large values go to
//     external files named after their identity.
//   - extension.Registry: serialization plugins dispatched by type.
//
// Layout of the persisted store (any backend.Backend):
//
//	entries  e:<sha256(identity key)>  - wire record: identity, fingerprint, cached value, metadata
//	tags     <name>                    - entry key
//	tagged   <entry key>               - name
//	meta     external_id | store_id    - file counter, store uuid
//
// Typical use:
//
//	e, _ := memocas.New(ctx, memocas.Options{Extractor: code.SourceExtractor{}})
//	fib := e.Memoize(fibFunc, fibImpl)
//	v, _ := fib.Call(ctx, 8)
//	stale, _ := e.IsValueStale(ctx, v, -1)
package memocas
