// Package code models the code objects the engine fingerprints: source
// bodies, functions bound to a global namespace, and notebook-style cells.
//
// Go has no runtime code objects, so callers describe memoized functions
// explicitly. A Func with a nil Code is treated as builtin/library code and
// fingerprinted by qualified name only.
package code

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Code is an immutable function or cell body.
type Code struct {
	Name   string
	Source string

	once   sync.Once
	digest string
}

func NewCode(name, source string) *Code {
	return &Code{Name: name, Source: source}
}

// Digest is the hex sha256 of Source.
func (c *Code) Digest() string {
	c.once.Do(func() {
		sum := sha256.Sum256([]byte(c.Source))
		c.digest = hex.EncodeToString(sum[:])
	})
	return c.digest
}

// Func is a function whose body reads globals from Globals.
type Func struct {
	Name    string
	Module  string
	Code    *Code
	Globals Namespace
}

// QualifiedName is Module.Name, or Name for functions without a module.
func (f *Func) QualifiedName() string {
	if f.Module == "" {
		return f.Name
	}
	return f.Module + "." + f.Name
}

// Builtin reports whether f has no inspectable code.
func (f *Func) Builtin() bool { return f.Code == nil }

// Cell is a notebook-style code block. Anonymous cells have an empty Name
// and are identified by their code.
type Cell struct {
	Name      string
	Code      *Code
	Namespace Namespace
}

// Dependencies is what a body touches, as sorted, de-duplicated names.
type Dependencies struct {
	GlobalLoads  []string
	GlobalStores []string
	Calls        []string
}

// Extractor statically derives the Dependencies of a code body without
// running it.
type Extractor interface {
	Extract(c *Code) (Dependencies, error)
}

// NopExtractor reports no dependencies. With it, deep fingerprints reduce to
// the code digest.
type NopExtractor struct{}

func (NopExtractor) Extract(*Code) (Dependencies, error) { return Dependencies{}, nil }
