// Package identity defines value identities and fingerprints.
//
// An ID names a value: either a caller-chosen name, the value's content
// fingerprint, or the computation that produced it. A Fingerprint captures
// what must stay true for a cached result to remain valid. Both are immutable
// and compare structurally through their canonical Key.
package identity

import (
	"sort"
	"strconv"
	"strings"
)

// ID is a value identity.
type ID interface {
	// Key is the canonical, structurally unique encoding of the identity.
	Key() string
	// Hint is a short human readable description used for naming files.
	Hint() string
	isID()
}

// NamedID identifies a caller-registered external value.
type NamedID struct {
	Name string
}

// FingerprintID is an identity that IS the value's content fingerprint.
// Two same-type values with equal fingerprints share the identity.
type FingerprintID struct {
	TypeName    string
	Fingerprint Fingerprint
}

// FunctionID identifies a function or cell body. Named functions carry only
// their qualified name; anonymous cell bodies carry their code fingerprint.
type FunctionID struct {
	QualifiedName string
	Code          Fingerprint
}

// CallID identifies the result of calling Function with the given argument
// identities. Kwargs are unordered.
type CallID struct {
	Function FunctionID
	Args     []ID
	Kwargs   map[string]ID
}

// CellResultID identifies one named output of a cell.
type CellResultID struct {
	Cell   FunctionID
	Output string
}

// ItemID identifies the Index-th output of a composite (tuple) result.
type ItemID struct {
	Parent ID
	Index  int
}

func (NamedID) isID()       {}
func (FingerprintID) isID() {}
func (CallID) isID()        {}
func (CellResultID) isID()  {}
func (ItemID) isID()        {}

func (id NamedID) Key() string { return "name(" + strconv.Quote(id.Name) + ")" }
func (id NamedID) Hint() string { return id.Name }

func (id FingerprintID) Key() string {
	return "fp(" + strconv.Quote(id.TypeName) + "," + fpKey(id.Fingerprint) + ")"
}
func (id FingerprintID) Hint() string { return id.TypeName }

func (f FunctionID) Key() string {
	return "fn(" + strconv.Quote(f.QualifiedName) + "," + fpKey(f.Code) + ")"
}

// Name is the qualified name, or "<anonymous>" for unnamed cell bodies.
func (f FunctionID) Name() string {
	if f.QualifiedName == "" {
		return "<anonymous>"
	}
	return f.QualifiedName
}

func (id CallID) Key() string {
	var b strings.Builder
	b.WriteString("call(")
	b.WriteString(id.Function.Key())
	b.WriteByte(';')
	for i, a := range id.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(idKey(a))
	}
	b.WriteByte(';')
	for i, k := range sortedKeys(id.Kwargs) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(idKey(id.Kwargs[k]))
	}
	b.WriteByte(')')
	return b.String()
}

// Hint is the function name followed by the names of any named arguments.
func (id CallID) Hint() string {
	parts := []string{id.Function.Name()}
	for _, a := range id.Args {
		if n, ok := a.(NamedID); ok {
			parts = append(parts, n.Name)
		}
	}
	for _, k := range sortedKeys(id.Kwargs) {
		if n, ok := id.Kwargs[k].(NamedID); ok {
			parts = append(parts, k+"="+n.Name)
		}
	}
	return strings.Join(parts, "_")
}

func (id CellResultID) Key() string {
	return "cell(" + id.Cell.Key() + "," + strconv.Quote(id.Output) + ")"
}
func (id CellResultID) Hint() string { return id.Cell.Name() + "_" + id.Output }

func (id ItemID) Key() string {
	return "item(" + idKey(id.Parent) + "," + strconv.Itoa(id.Index) + ")"
}
func (id ItemID) Hint() string {
	if id.Parent == nil {
		return strconv.Itoa(id.Index)
	}
	return id.Parent.Hint()
}

// IsComputed reports whether id names a derived (non-external) value.
func IsComputed(id ID) bool {
	switch id.(type) {
	case CallID, CellResultID, ItemID:
		return true
	}
	return false
}

// Equal compares identities structurally.
func Equal(a, b ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

func idKey(id ID) string {
	if id == nil {
		return "nil"
	}
	return id.Key()
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
