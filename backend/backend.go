// Package backend defines the durable transactional key/blob storage the
// persisted store runs on. Keys live in named buckets.
//
// Implementations must make every Update atomic: either all writes of fn are
// applied or none. Reopening the same location must yield the same entries.
package backend

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("backend: closed")

// Tx is a transaction scope. Values returned by Get must not be retained
// after the transaction ends unless copied; implementations may return
// copies.
type Tx interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(bucket, key string) ([]byte, bool, error)
	Put(bucket, key string, value []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(bucket, key string) error
	// Keys lists the keys of a bucket in ascending order.
	Keys(bucket string) ([]string, error)
}

type Backend interface {
	// View runs fn in a read-only transaction. Writes fail.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn in a read-write transaction, committed iff fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// ErrReadOnly is returned by writes inside View.
var ErrReadOnly = errors.New("backend: write in read-only transaction")
