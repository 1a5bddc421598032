package cached

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFileName is the usual file system limit on one path component.
const maxFileName = 255

// FilePath describes where an externally cached value goes. The file name is
// {hint}_{type}_{external id}.{ext}, sanitized and cut to fit maxFileName.
type FilePath struct {
	Dir        string
	ExternalID string
	Hint       string
}

// FormatExternalID renders the store counter the way file names use it.
func FormatExternalID(n uint64) string {
	return fmt.Sprintf("%010d", n)
}

// ForItem returns the path of the i-th item of a tuple result.
func (p *FilePath) ForItem(i int) *FilePath {
	if p == nil {
		return nil
	}
	cp := *p
	cp.ExternalID = fmt.Sprintf("%s_%d", p.ExternalID, i)
	return &cp
}

// Build returns the full file path for a value of the given type.
func (p *FilePath) Build(typeHint, ext string) string {
	suffix := "_" + sanitize(p.ExternalID)
	if ext != "" {
		suffix += "." + sanitize(ext)
	}
	stem := sanitize(p.Hint)
	if th := sanitize(typeHint); th != "" {
		if stem != "" {
			stem += "_"
		}
		stem += th
	}
	if room := maxFileName - len(suffix); len(stem) > room {
		if room < 0 {
			room = 0
		}
		stem = stem[:room]
	}
	return filepath.Join(p.Dir, stem+suffix)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), ".")
}

// Relative rewrites the external paths of v relative to dir, so that the
// store keeps working when dir is moved or named differently by another
// process. Paths outside dir are kept as they are.
func Relative(v Value, dir string) Value {
	return mapPaths(v, func(p string) string {
		if dir == "" {
			return p
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || !filepath.IsLocal(rel) {
			return p
		}
		return rel
	})
}

// Resolve joins the relative external paths of v to dir.
func Resolve(v Value, dir string) Value {
	return mapPaths(v, func(p string) string {
		if dir == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	})
}

func mapPaths(v Value, fn func(string) string) Value {
	switch x := v.(type) {
	case External:
		x.Path = fn(x.Path)
		return x
	case Tuple:
		items := make([]Value, len(x.Items))
		for i, it := range x.Items {
			items[i] = mapPaths(it, fn)
		}
		return Tuple{Items: items}
	}
	return v
}
