// Package cached holds the persisted forms of cached values: small values
// inline in the store, large values in external files, and composite
// results as per-item tuples.
package cached

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Loader restores values written by serialization plugins.
type Loader interface {
	Decode(plugin, typeName string, data []byte) (any, error)
	ReadExternal(path string) ([]byte, error)
	MakeTuple(items []any) any
}

// Value is a persisted cached value.
type Value interface {
	Load(l Loader) (any, error)
	// Unlink releases what the value owns outside the store. It is called
	// when the value is overwritten or removed.
	Unlink() error
	// StoredSize is the number of payload bytes written.
	StoredSize() int64
}

// UnlinkedSuffix is appended to external files that are no longer referenced.
const UnlinkedSuffix = ".unlinked"

type Inline struct {
	Plugin string
	Type   string
	Data   []byte
}

type External struct {
	Plugin string
	Type   string
	Path   string
	Size   int64
}

type Tuple struct {
	Items []Value
}

func (v Inline) Load(l Loader) (any, error) { return l.Decode(v.Plugin, v.Type, v.Data) }
func (Inline) Unlink() error                { return nil }
func (v Inline) StoredSize() int64          { return int64(len(v.Data)) }

func (v External) Load(l Loader) (any, error) {
	data, err := l.ReadExternal(v.Path)
	if err != nil {
		return nil, err
	}
	return l.Decode(v.Plugin, v.Type, data)
}

// Unlink renames the file to its .unlinked form. A file that is already
// gone is not an error.
func (v External) Unlink() error {
	err := os.Rename(v.Path, v.Path+UnlinkedSuffix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cached: unlink %s: %w", v.Path, err)
	}
	return nil
}

func (v External) StoredSize() int64 { return v.Size }

func (t Tuple) Load(l Loader) (any, error) {
	items := make([]any, len(t.Items))
	for i, it := range t.Items {
		v, err := it.Load(l)
		if err != nil {
			return nil, fmt.Errorf("cached: tuple item %d: %w", i, err)
		}
		items[i] = v
	}
	return l.MakeTuple(items), nil
}

func (t Tuple) Unlink() error {
	var errs []error
	for _, it := range t.Items {
		if err := it.Unlink(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tuple) StoredSize() int64 {
	var n int64
	for _, it := range t.Items {
		n += it.StoredSize()
	}
	return n
}

// Paths lists the external files v refers to.
func Paths(v Value) []string {
	switch x := v.(type) {
	case External:
		return []string{x.Path}
	case Tuple:
		var out []string
		for _, it := range x.Items {
			out = append(out, Paths(it)...)
		}
		return out
	}
	return nil
}

// Save places data inline when path is nil and in an external file otherwise.
func Save(plugin, typeName string, data []byte, path *FilePath, ext string) (Value, error) {
	if path == nil {
		return Inline{Plugin: plugin, Type: typeName, Data: data}, nil
	}
	full := path.Build(typeName, ext)
	if err := writeFile(full, data); err != nil {
		return nil, err
	}
	return External{Plugin: plugin, Type: typeName, Path: full, Size: int64(len(data))}, nil
}

// writeFile writes through a temp file and renames it into place so readers
// never observe a partial file.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cached: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memocas-*")
	if err != nil {
		return fmt.Errorf("cached: create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("cached: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("cached: close %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("cached: rename %s: %w", path, err)
	}
	return nil
}
