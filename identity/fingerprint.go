package identity

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint is a content-derived value compared through its Key.
type Fingerprint interface {
	Key() string
	isFingerprint()
}

// Literal is a self-identifying primitive (nil, bool, number, short string).
type Literal struct {
	Type string
	Repr string
}

// Digest is a content hash produced by a serialization plugin.
type Digest struct {
	Sum []byte
}

// FuncFingerprint is the shallow fingerprint of a function: its code digest,
// or "name:<qualified name>" for functions without inspectable code.
type FuncFingerprint struct {
	Code string
}

// Named pairs a qualified name with a fingerprint.
type Named struct {
	Name        string
	Fingerprint Fingerprint
}

// DeepFuncFingerprint covers a function's code, every global it loads and
// every function it calls. Globals and Calls are sorted by name.
type DeepFuncFingerprint struct {
	Code    string
	Globals []Named
	Calls   []Named
}

type CallFingerprint struct {
	Function Fingerprint
	Args     []Fingerprint
	Kwargs   map[string]Fingerprint
}

// Bound is a global a cell loaded or called by Name, with the identity and
// fingerprint it had.
type Bound struct {
	Name        string
	ID          ID
	Fingerprint Fingerprint
}

type CellFingerprint struct {
	Code    string
	Globals []Bound
	Outputs []string
}

type CellResultFingerprint struct {
	Cell   CellFingerprint
	Output string
}

type ItemFingerprint struct {
	Parent Fingerprint
	Index  int
}

func (Literal) isFingerprint()               {}
func (Digest) isFingerprint()                {}
func (FuncFingerprint) isFingerprint()       {}
func (DeepFuncFingerprint) isFingerprint()   {}
func (CallFingerprint) isFingerprint()       {}
func (CellFingerprint) isFingerprint()       {}
func (CellResultFingerprint) isFingerprint() {}
func (ItemFingerprint) isFingerprint()       {}

func (f Literal) Key() string {
	return "lit(" + strconv.Quote(f.Type) + "," + strconv.Quote(f.Repr) + ")"
}

func (f Digest) Key() string { return "digest(" + hex.EncodeToString(f.Sum) + ")" }

func (f FuncFingerprint) Key() string { return "func(" + strconv.Quote(f.Code) + ")" }

func (f DeepFuncFingerprint) Key() string {
	var b strings.Builder
	b.WriteString("deep(")
	b.WriteString(strconv.Quote(f.Code))
	b.WriteByte(';')
	writeNamed(&b, f.Globals)
	b.WriteByte(';')
	writeNamed(&b, f.Calls)
	b.WriteByte(')')
	return b.String()
}

func (f CallFingerprint) Key() string {
	var b strings.Builder
	b.WriteString("callfp(")
	b.WriteString(fpKey(f.Function))
	b.WriteByte(';')
	for i, a := range f.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fpKey(a))
	}
	b.WriteByte(';')
	for i, k := range sortedKeys(f.Kwargs) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(fpKey(f.Kwargs[k]))
	}
	b.WriteByte(')')
	return b.String()
}

func (f CellFingerprint) Key() string {
	var b strings.Builder
	b.WriteString("cellfp(")
	b.WriteString(strconv.Quote(f.Code))
	b.WriteByte(';')
	for i, g := range f.Globals {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(g.Name))
		b.WriteByte(':')
		b.WriteString(idKey(g.ID))
		b.WriteByte('=')
		b.WriteString(fpKey(g.Fingerprint))
	}
	b.WriteByte(';')
	for i, o := range f.Outputs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(o))
	}
	b.WriteByte(')')
	return b.String()
}

func (f CellResultFingerprint) Key() string {
	return "cellres(" + f.Cell.Key() + "," + strconv.Quote(f.Output) + ")"
}

func (f ItemFingerprint) Key() string {
	return "itemfp(" + fpKey(f.Parent) + "," + strconv.Itoa(f.Index) + ")"
}

// SortNamed orders pairs by name so that Keys are deterministic.
func SortNamed(ns []Named) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].Name < ns[j].Name })
}

// SortBound orders cell globals by name, then identity key.
func SortBound(bs []Bound) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Name != bs[j].Name {
			return bs[i].Name < bs[j].Name
		}
		return idKey(bs[i].ID) < idKey(bs[j].ID)
	})
}

// SameFingerprint compares fingerprints structurally.
func SameFingerprint(a, b Fingerprint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

func writeNamed(b *strings.Builder, ns []Named) {
	for i, n := range ns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(n.Name))
		b.WriteByte('=')
		b.WriteString(fpKey(n.Fingerprint))
	}
}

func fpKey(f Fingerprint) string {
	if f == nil {
		return "-"
	}
	return f.Key()
}
