package identity

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/memocas/codec"
)

// ErrUnknownKind is returned when decoding a node of an unknown kind.
var ErrUnknownKind = errors.New("identity: unknown encoded kind")

// node is the generic persisted shape of identities and fingerprints.
type node struct {
	K string   `cbor:"k"`
	S string   `cbor:"s,omitempty"`
	T string   `cbor:"t,omitempty"`
	B []byte   `cbor:"b,omitempty"`
	I int64    `cbor:"i,omitempty"`
	C *node    `cbor:"c,omitempty"`
	L []*node  `cbor:"l,omitempty"`
	P []pair   `cbor:"p,omitempty"`
	Q []pair   `cbor:"q,omitempty"`
	O []string `cbor:"o,omitempty"`
}

type pair struct {
	N string `cbor:"n,omitempty"`
	A *node  `cbor:"a,omitempty"`
	B *node  `cbor:"b,omitempty"`
}

const (
	kNamed   = "named"
	kFpID    = "fpid"
	kFunc    = "fn"
	kCall    = "call"
	kCell    = "cell"
	kItem    = "item"
	kLit     = "lit"
	kDigest  = "digest"
	kShallow = "func"
	kDeep    = "deep"
	kCallFp  = "callfp"
	kCellFp  = "cellfp"
	kCellRes = "cellres"
	kItemFp  = "itemfp"
)

var nodes = codec.MustCBOR[*node](true)

// MarshalID encodes id deterministically.
func MarshalID(id ID) ([]byte, error) {
	n, err := idNode(id)
	if err != nil {
		return nil, err
	}
	return nodes.Encode(n)
}

// UnmarshalID is the inverse of MarshalID.
func UnmarshalID(b []byte) (ID, error) {
	n, err := nodes.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("identity: decode: %w", err)
	}
	return nodeID(n)
}

// MarshalFingerprint encodes f deterministically.
func MarshalFingerprint(f Fingerprint) ([]byte, error) {
	n, err := fpNode(f)
	if err != nil {
		return nil, err
	}
	return nodes.Encode(n)
}

// UnmarshalFingerprint is the inverse of MarshalFingerprint.
func UnmarshalFingerprint(b []byte) (Fingerprint, error) {
	n, err := nodes.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("identity: decode: %w", err)
	}
	return nodeFp(n)
}

func idNode(id ID) (*node, error) {
	switch v := id.(type) {
	case nil:
		return nil, nil
	case NamedID:
		return &node{K: kNamed, S: v.Name}, nil
	case FingerprintID:
		c, err := fpNode(v.Fingerprint)
		if err != nil {
			return nil, err
		}
		return &node{K: kFpID, T: v.TypeName, C: c}, nil
	case CallID:
		fn, err := funcNode(v.Function)
		if err != nil {
			return nil, err
		}
		n := &node{K: kCall, C: fn}
		for _, a := range v.Args {
			an, err := idNode(a)
			if err != nil {
				return nil, err
			}
			n.L = append(n.L, an)
		}
		for _, k := range sortedKeys(v.Kwargs) {
			an, err := idNode(v.Kwargs[k])
			if err != nil {
				return nil, err
			}
			n.P = append(n.P, pair{N: k, A: an})
		}
		return n, nil
	case CellResultID:
		fn, err := funcNode(v.Cell)
		if err != nil {
			return nil, err
		}
		return &node{K: kCell, C: fn, S: v.Output}, nil
	case ItemID:
		p, err := idNode(v.Parent)
		if err != nil {
			return nil, err
		}
		return &node{K: kItem, C: p, I: int64(v.Index)}, nil
	default:
		return nil, fmt.Errorf("identity: cannot encode %T", id)
	}
}

func funcNode(f FunctionID) (*node, error) {
	c, err := fpNode(f.Code)
	if err != nil {
		return nil, err
	}
	return &node{K: kFunc, S: f.QualifiedName, C: c}, nil
}

func nodeFunc(n *node) (FunctionID, error) {
	if n == nil || n.K != kFunc {
		return FunctionID{}, ErrUnknownKind
	}
	code, err := nodeFp(n.C)
	if err != nil {
		return FunctionID{}, err
	}
	return FunctionID{QualifiedName: n.S, Code: code}, nil
}

func nodeID(n *node) (ID, error) {
	if n == nil {
		return nil, nil
	}
	switch n.K {
	case kNamed:
		return NamedID{Name: n.S}, nil
	case kFpID:
		f, err := nodeFp(n.C)
		if err != nil {
			return nil, err
		}
		return FingerprintID{TypeName: n.T, Fingerprint: f}, nil
	case kCall:
		fn, err := nodeFunc(n.C)
		if err != nil {
			return nil, err
		}
		id := CallID{Function: fn}
		for _, an := range n.L {
			a, err := nodeID(an)
			if err != nil {
				return nil, err
			}
			id.Args = append(id.Args, a)
		}
		if len(n.P) > 0 {
			id.Kwargs = make(map[string]ID, len(n.P))
			for _, p := range n.P {
				a, err := nodeID(p.A)
				if err != nil {
					return nil, err
				}
				id.Kwargs[p.N] = a
			}
		}
		return id, nil
	case kCell:
		fn, err := nodeFunc(n.C)
		if err != nil {
			return nil, err
		}
		return CellResultID{Cell: fn, Output: n.S}, nil
	case kItem:
		p, err := nodeID(n.C)
		if err != nil {
			return nil, err
		}
		return ItemID{Parent: p, Index: int(n.I)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, n.K)
	}
}

func fpNode(f Fingerprint) (*node, error) {
	switch v := f.(type) {
	case nil:
		return nil, nil
	case Literal:
		return &node{K: kLit, T: v.Type, S: v.Repr}, nil
	case Digest:
		return &node{K: kDigest, B: v.Sum}, nil
	case FuncFingerprint:
		return &node{K: kShallow, S: v.Code}, nil
	case DeepFuncFingerprint:
		gs, err := namedPairs(v.Globals)
		if err != nil {
			return nil, err
		}
		cs, err := namedPairs(v.Calls)
		if err != nil {
			return nil, err
		}
		return &node{K: kDeep, S: v.Code, P: gs, Q: cs}, nil
	case CallFingerprint:
		fn, err := fpNode(v.Function)
		if err != nil {
			return nil, err
		}
		n := &node{K: kCallFp, C: fn}
		for _, a := range v.Args {
			an, err := fpNode(a)
			if err != nil {
				return nil, err
			}
			n.L = append(n.L, an)
		}
		for _, k := range sortedKeys(v.Kwargs) {
			an, err := fpNode(v.Kwargs[k])
			if err != nil {
				return nil, err
			}
			n.P = append(n.P, pair{N: k, A: an})
		}
		return n, nil
	case CellFingerprint:
		return cellNode(v)
	case CellResultFingerprint:
		c, err := cellNode(v.Cell)
		if err != nil {
			return nil, err
		}
		return &node{K: kCellRes, C: c, S: v.Output}, nil
	case ItemFingerprint:
		p, err := fpNode(v.Parent)
		if err != nil {
			return nil, err
		}
		return &node{K: kItemFp, C: p, I: int64(v.Index)}, nil
	default:
		return nil, fmt.Errorf("identity: cannot encode fingerprint %T", f)
	}
}

func cellNode(c CellFingerprint) (*node, error) {
	n := &node{K: kCellFp, S: c.Code, O: c.Outputs}
	for _, g := range c.Globals {
		a, err := idNode(g.ID)
		if err != nil {
			return nil, err
		}
		b, err := fpNode(g.Fingerprint)
		if err != nil {
			return nil, err
		}
		n.P = append(n.P, pair{N: g.Name, A: a, B: b})
	}
	return n, nil
}

func nodeCell(n *node) (CellFingerprint, error) {
	if n == nil || n.K != kCellFp {
		return CellFingerprint{}, ErrUnknownKind
	}
	c := CellFingerprint{Code: n.S, Outputs: n.O}
	for _, p := range n.P {
		id, err := nodeID(p.A)
		if err != nil {
			return CellFingerprint{}, err
		}
		f, err := nodeFp(p.B)
		if err != nil {
			return CellFingerprint{}, err
		}
		c.Globals = append(c.Globals, Bound{Name: p.N, ID: id, Fingerprint: f})
	}
	return c, nil
}

func namedPairs(ns []Named) ([]pair, error) {
	out := make([]pair, 0, len(ns))
	for _, x := range ns {
		a, err := fpNode(x.Fingerprint)
		if err != nil {
			return nil, err
		}
		out = append(out, pair{N: x.Name, A: a})
	}
	return out, nil
}

func pairsNamed(ps []pair) ([]Named, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	out := make([]Named, 0, len(ps))
	for _, p := range ps {
		f, err := nodeFp(p.A)
		if err != nil {
			return nil, err
		}
		out = append(out, Named{Name: p.N, Fingerprint: f})
	}
	return out, nil
}

func nodeFp(n *node) (Fingerprint, error) {
	if n == nil {
		return nil, nil
	}
	switch n.K {
	case kLit:
		return Literal{Type: n.T, Repr: n.S}, nil
	case kDigest:
		return Digest{Sum: n.B}, nil
	case kShallow:
		return FuncFingerprint{Code: n.S}, nil
	case kDeep:
		gs, err := pairsNamed(n.P)
		if err != nil {
			return nil, err
		}
		cs, err := pairsNamed(n.Q)
		if err != nil {
			return nil, err
		}
		return DeepFuncFingerprint{Code: n.S, Globals: gs, Calls: cs}, nil
	case kCallFp:
		fn, err := nodeFp(n.C)
		if err != nil {
			return nil, err
		}
		f := CallFingerprint{Function: fn}
		for _, an := range n.L {
			a, err := nodeFp(an)
			if err != nil {
				return nil, err
			}
			f.Args = append(f.Args, a)
		}
		if len(n.P) > 0 {
			f.Kwargs = make(map[string]Fingerprint, len(n.P))
			for _, p := range n.P {
				a, err := nodeFp(p.A)
				if err != nil {
					return nil, err
				}
				f.Kwargs[p.N] = a
			}
		}
		return f, nil
	case kCellFp:
		return nodeCell(n)
	case kCellRes:
		c, err := nodeCell(n.C)
		if err != nil {
			return nil, err
		}
		return CellResultFingerprint{Cell: c, Output: n.S}, nil
	case kItemFp:
		p, err := nodeFp(n.C)
		if err != nil {
			return nil, err
		}
		return ItemFingerprint{Parent: p, Index: int(n.I)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, n.K)
	}
}
