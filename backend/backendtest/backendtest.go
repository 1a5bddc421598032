// Package backendtest holds behaviour checks every Backend must pass.
package backendtest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/unkn0wn-root/memocas/backend"
)

// Run exercises b. It must start empty.
func Run(t *testing.T, b backend.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetKeys", func(t *testing.T) {
		err := b.Update(ctx, func(tx backend.Tx) error {
			for _, k := range []string{"b", "a", "c"} {
				if err := tx.Put("things", k, []byte("v-"+k)); err != nil {
					return err
				}
			}
			// read your own writes
			v, ok, err := tx.Get("things", "a")
			if err != nil || !ok || string(v) != "v-a" {
				t.Fatalf("in-tx get: got=%q,%v err=%v", v, ok, err)
			}
			return tx.Put("other", "a", []byte("x"))
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		err = b.View(ctx, func(tx backend.Tx) error {
			keys, err := tx.Keys("things")
			if err != nil {
				return err
			}
			if want := []string{"a", "b", "c"}; !reflect.DeepEqual(keys, want) {
				t.Fatalf("keys: got=%v want=%v", keys, want)
			}
			v, ok, err := tx.Get("things", "b")
			if err != nil || !ok || string(v) != "v-b" {
				t.Fatalf("get: got=%q,%v err=%v", v, ok, err)
			}
			if _, ok, _ := tx.Get("things", "zz"); ok {
				t.Fatalf("missing key must miss")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		mustUpdate(t, b, func(tx backend.Tx) error { return tx.Put("things", "a", []byte("new")) })
		if v := get(t, b, "things", "a"); string(v) != "new" {
			t.Fatalf("overwrite: got=%q want=new", v)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		mustUpdate(t, b, func(tx backend.Tx) error {
			if err := tx.Delete("things", "b"); err != nil {
				return err
			}
			return tx.Delete("things", "never-there")
		})
		if v := get(t, b, "things", "b"); v != nil {
			t.Fatalf("deleted key still present: %q", v)
		}
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := b.Update(ctx, func(tx backend.Tx) error {
			if err := tx.Put("things", "rolled", []byte("x")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Update must return fn error, got %v", err)
		}
		if v := get(t, b, "things", "rolled"); v != nil {
			t.Fatalf("rolled back write is visible: %q", v)
		}
	})

	t.Run("ViewIsReadOnly", func(t *testing.T) {
		err := b.View(ctx, func(tx backend.Tx) error { return tx.Put("things", "ro", []byte("x")) })
		if !errors.Is(err, backend.ErrReadOnly) {
			t.Fatalf("expected ErrReadOnly, got %v", err)
		}
	})
}

func mustUpdate(t *testing.T, b backend.Backend, fn func(backend.Tx) error) {
	t.Helper()
	if err := b.Update(context.Background(), fn); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func get(t *testing.T, b backend.Backend, bucket, key string) []byte {
	t.Helper()
	var out []byte
	err := b.View(context.Background(), func(tx backend.Tx) error {
		v, ok, err := tx.Get(bucket, key)
		if ok {
			out = v
		}
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	return out
}
