// Package sqlite is a durable Backend on modernc.org/sqlite (pure Go).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/memocas/backend"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	bucket TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID`

// Backend stores every bucket in one kv table. A single connection
// serializes transactions, so View and Update must not be nested.
type Backend struct {
	db *sql.DB
}

var _ backend.Backend = (*Backend)(nil)

// Open opens (creating if needed) the database at path.
func Open(path string) (*Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) View(ctx context.Context, fn func(backend.Tx) error) error {
	if b == nil || b.db == nil {
		return backend.ErrClosed
	}
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin view: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&tx{ctx: ctx, tx: sqlTx})
}

func (b *Backend) Update(ctx context.Context, fn func(backend.Tx) error) error {
	if b == nil || b.db == nil {
		return backend.ErrClosed
	}
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	if err := fn(&tx{ctx: ctx, tx: sqlTx, write: true}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

type tx struct {
	ctx   context.Context
	tx    *sql.Tx
	write bool
}

func (t *tx) Get(bucket, key string) ([]byte, bool, error) {
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return v, true, nil
}

func (t *tx) Put(bucket, key string, value []byte) error {
	if !t.write {
		return backend.ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (t *tx) Delete(bucket, key string) error {
	if !t.write {
		return backend.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (t *tx) Keys(bucket string) ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT key FROM kv WHERE bucket = ? ORDER BY key`, bucket)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", bucket, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
