// Package store persists cached results in a transactional backend.
//
// Small values live inline in their entry; values estimated above the inline
// threshold are written to an external file whose name is derived from the
// identity, the value type and a counter drawn from the store itself.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/memocas/backend"
	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/hooks"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/internal/util"
	"github.com/unkn0wn-root/memocas/internal/wire"
	"github.com/unkn0wn-root/memocas/log"
	"github.com/unkn0wn-root/memocas/provider"
)

const (
	bucketEntries = "entries"
	bucketTags    = "tags"
	bucketTagged  = "tagged"
	bucketMeta    = "meta"

	metaCounter = "external_id"
	metaStoreID = "store_id"

	DefaultInlineThreshold int64 = 1024
	defaultBlobTTL               = time.Hour
)

var (
	// ErrMissingEntry means a tag or an external file refers to data that is gone.
	ErrMissingEntry = errors.New("store: missing entry")
	// ErrNotCached is returned when tagging an identity the store does not hold.
	ErrNotCached = errors.New("store: identity not cached")
	ErrNoBackend    = errors.New("store: backend is required")
	ErrNoSerializer = errors.New("store: serializer is required")
)

// Serializer turns values into cached values and back. *extension.Registry
// implements it.
type Serializer interface {
	EstimatedSize(v any) int64
	CacheValue(v any, path *cached.FilePath) (cached.Value, error)
	Decode(plugin, typeName string, data []byte) (any, error)
	MakeTuple(items []any) any
}

type Options struct {
	Backend    backend.Backend // required
	Serializer Serializer      // required
	// ExternalDir receives large values. Empty keeps everything inline.
	ExternalDir     string
	InlineThreshold int64 // default DefaultInlineThreshold
	// BlobCache caches external file contents by path. Optional.
	BlobCache provider.Provider
	BlobTTL   time.Duration // default 1h
	Logger    log.Logger
	Hooks     hooks.Hooks
	Now       func() time.Time
}

// Metadata describes how a result was persisted.
type Metadata struct {
	StoredSize   int64
	SaveDuration time.Duration
	SavedAt      time.Time
}

// Entry is one decoded persisted result.
type Entry struct {
	ID          identity.ID
	Fingerprint identity.Fingerprint
	Value       cached.Value
	Metadata    Metadata
	Tag         string
}

type Store struct {
	be        backend.Backend
	ser       Serializer
	dir       string
	threshold int64
	blobs     provider.Provider
	blobTTL   time.Duration
	log       log.Logger
	hooks     hooks.Hooks
	now       func() time.Time
	id        string
}

// Open prepares the store on opts.Backend. The store owns the backend and
// the blob cache from here on.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, ErrNoBackend
	}
	if opts.Serializer == nil {
		return nil, ErrNoSerializer
	}
	s := &Store{
		be:        opts.Backend,
		ser:       opts.Serializer,
		dir:       opts.ExternalDir,
		threshold: coalesce(opts.InlineThreshold, DefaultInlineThreshold),
		blobs:     opts.BlobCache,
		blobTTL:   coalesce(opts.BlobTTL, defaultBlobTTL),
		log:       log.OrNop(opts.Logger),
		hooks:     hooks.OrNop(opts.Hooks),
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	err := s.be.Update(ctx, func(tx backend.Tx) error {
		raw, ok, err := tx.Get(bucketMeta, metaStoreID)
		if err != nil {
			return err
		}
		if ok {
			s.id = string(raw)
			return nil
		}
		s.id = uuid.NewString()
		return tx.Put(bucketMeta, metaStoreID, []byte(s.id))
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	s.log.Debug("store opened", log.Fields{"store": s.id, "external_dir": s.dir})
	return s, nil
}

// ID is the random identifier assigned when the backend was first used.
func (s *Store) ID() string { return s.id }

// ExternalDir is where large values are written; empty when in-memory.
func (s *Store) ExternalDir() string { return s.dir }

func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.blobs != nil {
		if err := s.blobs.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.be.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func entryKey(id identity.ID) string { return util.EntryKey(id.Key()) }

// decodeEntry restores an entry; relative external paths are joined to dir.
func decodeEntry(raw []byte, dir string) (Entry, error) {
	rec, err := wire.DecodeEntry(raw)
	if err != nil {
		return Entry{}, err
	}
	id, err := identity.UnmarshalID(rec.ID)
	if err != nil {
		return Entry{}, err
	}
	fp, err := identity.UnmarshalFingerprint(rec.Fingerprint)
	if err != nil {
		return Entry{}, err
	}
	cv, err := cached.Unmarshal(rec.Value)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:          id,
		Fingerprint: fp,
		Value:       cached.Resolve(cv, dir),
		Metadata: Metadata{
			StoredSize:   int64(rec.StoredSize),
			SaveDuration: time.Duration(rec.SaveNanos),
			SavedAt:      time.Unix(0, rec.SavedAt),
		},
	}, nil
}

// encodeEntry records external paths relative to dir.
func encodeEntry(id identity.ID, fp identity.Fingerprint, cv cached.Value, md Metadata, dir string) ([]byte, error) {
	idb, err := identity.MarshalID(id)
	if err != nil {
		return nil, err
	}
	fpb, err := identity.MarshalFingerprint(fp)
	if err != nil {
		return nil, err
	}
	cvb, err := cached.Marshal(cached.Relative(cv, dir))
	if err != nil {
		return nil, err
	}
	return wire.EncodeEntry(wire.Entry{
		SavedAt:     md.SavedAt.UnixNano(),
		SaveNanos:   int64(md.SaveDuration),
		StoredSize:  uint64(md.StoredSize),
		ID:          idb,
		Fingerprint: fpb,
		Value:       cvb,
	})
}

// getEntry returns the decoded entry for key, ok=false when absent.
func (s *Store) getEntry(tx backend.Tx, key string) (Entry, bool, error) {
	raw, ok, err := tx.Get(bucketEntries, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := decodeEntry(raw, s.dir)
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: entry %s: %w", key, err)
	}
	return e, true, nil
}

// nextExternalID draws the next counter value inside tx.
func nextExternalID(tx backend.Tx) (uint64, error) {
	var n uint64
	raw, ok, err := tx.Get(bucketMeta, metaCounter)
	if err != nil {
		return 0, err
	}
	if ok {
		if n, err = wire.DecodeCounter(raw); err != nil {
			return 0, fmt.Errorf("store: counter: %w", err)
		}
	}
	if err := tx.Put(bucketMeta, metaCounter, wire.EncodeCounter(n+1)); err != nil {
		return 0, err
	}
	return n, nil
}

// Add persists v as the result for id, replacing and unlinking any previous
// value.
func (s *Store) Add(ctx context.Context, id identity.ID, v any, fp identity.Fingerprint) error {
	external := s.dir != "" && s.ser.EstimatedSize(v) > s.threshold

	var (
		cv       cached.Value
		replaced cached.Value
	)
	err := s.be.Update(ctx, func(tx backend.Tx) error {
		cv, replaced = nil, nil
		var path *cached.FilePath
		if external {
			n, err := nextExternalID(tx)
			if err != nil {
				return err
			}
			path = &cached.FilePath{Dir: s.dir, ExternalID: cached.FormatExternalID(n), Hint: id.Hint()}
		}

		start := time.Now()
		var err error
		if cv, err = s.ser.CacheValue(v, path); err != nil {
			return err
		}
		md := Metadata{StoredSize: cv.StoredSize(), SaveDuration: time.Since(start), SavedAt: s.now()}

		key := entryKey(id)
		old, ok, err := s.getEntry(tx, key)
		if err != nil {
			return err
		}
		raw, err := encodeEntry(id, fp, cv, md, s.dir)
		if err != nil {
			return err
		}
		if err := tx.Put(bucketEntries, key, raw); err != nil {
			return err
		}
		if ok {
			replaced = old.Value
		}
		return nil
	})
	if err != nil {
		if cv != nil {
			_ = cv.Unlink()
		}
		return err
	}

	for _, p := range cached.Paths(cv) {
		s.hooks.ExternalWritten(p, cv.StoredSize())
	}
	if replaced != nil {
		s.unlink(ctx, replaced)
	}
	s.log.Debug("stored result", log.Fields{"id": id.Key(), "size": cv.StoredSize(), "external": external})
	return nil
}

// unlink releases the files of a superseded value.
func (s *Store) unlink(ctx context.Context, cv cached.Value) {
	if err := cv.Unlink(); err != nil {
		s.log.Warn("unlink cached value", log.Fields{"err": err})
	}
	for _, p := range cached.Paths(cv) {
		s.hooks.CachedValueUnlinked(p)
		if s.blobs != nil {
			_ = s.blobs.Del(ctx, p)
		}
	}
}

// LoadValue restores the value stored for id.
func (s *Store) LoadValue(ctx context.Context, id identity.ID) (any, bool, error) {
	var e Entry
	var ok bool
	err := s.be.View(ctx, func(tx backend.Tx) error {
		var err error
		e, ok, err = s.getEntry(tx, entryKey(id))
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := e.Value.Load(&loader{ctx: ctx, s: s})
	if err != nil {
		return nil, false, fmt.Errorf("store: load %s: %w", id.Key(), err)
	}
	return v, true, nil
}

// Fingerprint returns the fingerprint stored with id.
func (s *Store) Fingerprint(ctx context.Context, id identity.ID) (identity.Fingerprint, bool, error) {
	e, ok, err := s.Entry(ctx, id)
	return e.Fingerprint, ok, err
}

func (s *Store) Metadata(ctx context.Context, id identity.ID) (Metadata, bool, error) {
	e, ok, err := s.Entry(ctx, id)
	return e.Metadata, ok, err
}

// Entry returns the decoded entry of id without loading its value.
func (s *Store) Entry(ctx context.Context, id identity.ID) (Entry, bool, error) {
	var e Entry
	var ok bool
	err := s.be.View(ctx, func(tx backend.Tx) error {
		var err error
		key := entryKey(id)
		if e, ok, err = s.getEntry(tx, key); err != nil || !ok {
			return err
		}
		tag, _, err := tx.Get(bucketTagged, key)
		e.Tag = string(tag)
		return err
	})
	return e, ok, err
}

func (s *Store) Has(ctx context.Context, id identity.ID) (bool, error) {
	var ok bool
	err := s.be.View(ctx, func(tx backend.Tx) error {
		var err error
		_, ok, err = tx.Get(bucketEntries, entryKey(id))
		return err
	})
	return ok, err
}

// Remove deletes the entry of id and its tag. It reports whether an entry existed.
func (s *Store) Remove(ctx context.Context, id identity.ID) (bool, error) {
	var old Entry
	var ok bool
	err := s.be.Update(ctx, func(tx backend.Tx) error {
		var err error
		key := entryKey(id)
		if old, ok, err = s.getEntry(tx, key); err != nil || !ok {
			return err
		}
		if err := tx.Delete(bucketEntries, key); err != nil {
			return err
		}
		return dropTagOf(tx, key)
	})
	if err != nil || !ok {
		return false, err
	}
	s.unlink(ctx, old.Value)
	return true, nil
}

// IDs lists every stored identity in backend key order.
func (s *Store) IDs(ctx context.Context) ([]identity.ID, error) {
	es, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]identity.ID, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return ids, nil
}

// Entries decodes every stored entry, tags included.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := s.be.View(ctx, func(tx backend.Tx) error {
		keys, err := tx.Keys(bucketEntries)
		if err != nil {
			return err
		}
		out = make([]Entry, 0, len(keys))
		for _, k := range keys {
			e, ok, err := s.getEntry(tx, k)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			tag, _, err := tx.Get(bucketTagged, k)
			if err != nil {
				return err
			}
			e.Tag = string(tag)
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
