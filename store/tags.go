package store

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/memocas/backend"
	"github.com/unkn0wn-root/memocas/identity"
)

// Tag names the stored result of id. A name refers to one identity and an
// identity carries at most one name; retagging moves the name.
func (s *Store) Tag(ctx context.Context, name string, id identity.ID) error {
	if name == "" {
		return fmt.Errorf("store: empty tag")
	}
	return s.be.Update(ctx, func(tx backend.Tx) error {
		key := entryKey(id)
		if _, ok, err := tx.Get(bucketEntries, key); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", ErrNotCached, id.Key())
		}
		if err := dropTag(tx, name); err != nil {
			return err
		}
		if err := dropTagOf(tx, key); err != nil {
			return err
		}
		if err := tx.Put(bucketTags, name, []byte(key)); err != nil {
			return err
		}
		return tx.Put(bucketTagged, key, []byte(name))
	})
}

// Untag removes a name. Removing an unknown name is not an error.
func (s *Store) Untag(ctx context.Context, name string) error {
	return s.be.Update(ctx, func(tx backend.Tx) error { return dropTag(tx, name) })
}

// TagIdentity resolves a name. ok is false when the name is unknown;
// ErrMissingEntry is returned when the tagged entry is gone.
func (s *Store) TagIdentity(ctx context.Context, name string) (identity.ID, bool, error) {
	var id identity.ID
	var ok bool
	err := s.be.View(ctx, func(tx backend.Tx) error {
		key, found, err := tx.Get(bucketTags, name)
		if err != nil || !found {
			return err
		}
		e, found, err := s.getEntry(tx, string(key))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: tag %q", ErrMissingEntry, name)
		}
		id, ok = e.ID, true
		return nil
	})
	return id, ok, err
}

// Tags lists every tag with its identity.
func (s *Store) Tags(ctx context.Context) (map[string]identity.ID, error) {
	out := make(map[string]identity.ID)
	err := s.be.View(ctx, func(tx backend.Tx) error {
		names, err := tx.Keys(bucketTags)
		if err != nil {
			return err
		}
		for _, n := range names {
			key, ok, err := tx.Get(bucketTags, n)
			if err != nil || !ok {
				return err
			}
			e, ok, err := s.getEntry(tx, string(key))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: tag %q", ErrMissingEntry, n)
			}
			out[n] = e.ID
		}
		return nil
	})
	return out, err
}

func dropTag(tx backend.Tx, name string) error {
	key, ok, err := tx.Get(bucketTags, name)
	if err != nil || !ok {
		return err
	}
	k := string(key)
	if err := tx.Delete(bucketTags, name); err != nil {
		return err
	}
	return tx.Delete(bucketTagged, k)
}

func dropTagOf(tx backend.Tx, key string) error {
	name, ok, err := tx.Get(bucketTagged, key)
	if err != nil || !ok {
		return err
	}
	n := string(name)
	if err := tx.Delete(bucketTagged, key); err != nil {
		return err
	}
	return tx.Delete(bucketTags, n)
}
