package code

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"sort"

	"golang.org/x/tools/go/ast/inspector"
)

// SourceExtractor derives dependencies from Go source.
//
// Source is either one or more top-level declarations (a function body such
// as "func g(n int) int { return n * x }") or a list of statements, which is
// how cells are written. Names the snippet does not declare are globals:
// call targets become Calls, other references GlobalLoads, and assignments
// at the top level of a statement list GlobalStores. Predeclared identifiers
// (int, len, nil, ...) are ignored.
type SourceExtractor struct{}

var _ Extractor = SourceExtractor{}

func (SourceExtractor) Extract(c *Code) (Dependencies, error) {
	if c == nil {
		return Dependencies{}, nil
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, c.Name, "package p\n"+c.Source, 0)
	stmts := false
	if err != nil {
		var werr error
		f, werr = parser.ParseFile(fset, c.Name, "package p\nfunc _() {\n"+c.Source+"\n}", 0)
		if werr != nil {
			return Dependencies{}, fmt.Errorf("code: parse %q: %w", c.Name, err)
		}
		stmts = true
	}

	unresolved := make(map[*ast.Ident]bool, len(f.Unresolved))
	for _, id := range f.Unresolved {
		unresolved[id] = true
	}

	loads := map[string]bool{}
	calls := map[string]bool{}
	stores := map[string]token.Pos{}
	written := map[*ast.Ident]bool{}

	if stmts {
		collectStores(f, stores, written)
	}
	// a name read before its first top-level assignment completes is still an
	// input of the cell ("x = x + 1")
	load := func(id *ast.Ident) {
		if end, ok := stores[id.Name]; ok && id.Pos() >= end {
			return
		}
		loads[id.Name] = true
	}

	global := func(id *ast.Ident) bool {
		if unresolved[id] {
			return types.Universe.Lookup(id.Name) == nil
		}
		// references to a function the snippet itself declares (recursion)
		if id.Obj != nil && id.Obj.Kind == ast.Fun {
			if fd, ok := id.Obj.Decl.(*ast.FuncDecl); ok && fd.Recv == nil && fd.Name != id && fd.Name.Name != "_" {
				return true
			}
		}
		return false
	}

	insp := inspector.New([]*ast.File{f})
	insp.WithStack([]ast.Node{(*ast.Ident)(nil)}, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		id := n.(*ast.Ident)
		if written[id] || !global(id) {
			return true
		}
		var parent, grand ast.Node
		if len(stack) >= 2 {
			parent = stack[len(stack)-2]
		}
		if len(stack) >= 3 {
			grand = stack[len(stack)-3]
		}

		switch p := parent.(type) {
		case *ast.SelectorExpr:
			if p.X != id {
				return true
			}
			name := id.Name + "." + p.Sel.Name
			if call, ok := grand.(*ast.CallExpr); ok && call.Fun == p {
				calls[name] = true
			} else {
				loads[name] = true
			}
		case *ast.CallExpr:
			if p.Fun == id {
				calls[id.Name] = true
			} else {
				load(id)
			}
		default:
			load(id)
		}
		return true
	})

	storeNames := make(map[string]bool, len(stores))
	for name := range stores {
		storeNames[name] = true
	}
	return Dependencies{
		GlobalLoads:  sortedSet(loads),
		GlobalStores: sortedSet(storeNames),
		Calls:        sortedSet(calls),
	}, nil
}

// collectStores records names assigned by the top-level statements of the
// wrapper function that holds a statement list, keyed to the end of the first
// statement assigning each. Targets of plain assignments go into written;
// compound assignments ("x += 1") also read their target.
func collectStores(f *ast.File, out map[string]token.Pos, written map[*ast.Ident]bool) {
	record := func(id *ast.Ident, end token.Pos) {
		if _, ok := out[id.Name]; !ok {
			out[id.Name] = end
		}
	}
	for _, d := range f.Decls {
		fd, ok := d.(*ast.FuncDecl)
		if !ok || fd.Name.Name != "_" || fd.Body == nil {
			continue
		}
		for _, st := range fd.Body.List {
			switch s := st.(type) {
			case *ast.AssignStmt:
				for _, lhs := range s.Lhs {
					if id, ok := lhs.(*ast.Ident); ok && id.Name != "_" {
						record(id, s.End())
						if s.Tok == token.ASSIGN || s.Tok == token.DEFINE {
							written[id] = true
						}
					}
				}
			case *ast.DeclStmt:
				gd, ok := s.Decl.(*ast.GenDecl)
				if !ok || gd.Tok != token.VAR {
					continue
				}
				for _, spec := range gd.Specs {
					for _, id := range spec.(*ast.ValueSpec).Names {
						if id.Name != "_" {
							record(id, s.End())
							written[id] = true
						}
					}
				}
			}
		}
	}
}

func sortedSet(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
