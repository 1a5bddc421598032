// Package memdb is an in-process Backend on hashicorp/go-memdb. Data lives
// as long as the Backend; it is the default for pure in-memory engines.
package memdb

import (
	"bytes"
	"context"
	"sync/atomic"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/unkn0wn-root/memocas/backend"
)

const table = "kv"

type row struct {
	Bucket string
	Key    string
	Value  []byte
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Bucket"},
								&memdb.StringFieldIndex{Field: "Key"},
							},
						},
					},
					"bucket": {
						Name:    "bucket",
						Indexer: &memdb.StringFieldIndex{Field: "Bucket"},
					},
				},
			},
		},
	}
}

type Backend struct {
	db     *memdb.MemDB
	closed atomic.Bool
}

var _ backend.Backend = (*Backend)(nil)

func New() (*Backend, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Backend{db: db}, nil
}

func (b *Backend) View(ctx context.Context, fn func(backend.Tx) error) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := b.db.Txn(false)
	defer txn.Abort()
	return fn(tx{txn: txn})
}

func (b *Backend) Update(ctx context.Context, fn func(backend.Tx) error) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := b.db.Txn(true)
	defer txn.Abort()
	if err := fn(tx{txn: txn, write: true}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

type tx struct {
	txn   *memdb.Txn
	write bool
}

func (t tx) Get(bucket, key string) ([]byte, bool, error) {
	raw, err := t.txn.First(table, "id", bucket, key)
	if err != nil || raw == nil {
		return nil, false, err
	}
	return bytes.Clone(raw.(*row).Value), true, nil
}

func (t tx) Put(bucket, key string, value []byte) error {
	if !t.write {
		return backend.ErrReadOnly
	}
	return t.txn.Insert(table, &row{Bucket: bucket, Key: key, Value: bytes.Clone(value)})
}

func (t tx) Delete(bucket, key string) error {
	if !t.write {
		return backend.ErrReadOnly
	}
	_, err := t.txn.DeleteAll(table, "id", bucket, key)
	return err
}

func (t tx) Keys(bucket string) ([]string, error) {
	it, err := t.txn.Get(table, "bucket", bucket)
	if err != nil {
		return nil, err
	}
	var keys []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		keys = append(keys, obj.(*row).Key)
	}
	return keys, nil
}
