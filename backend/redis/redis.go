// Package redis is a Backend on redis/go-redis/v9. Each bucket is a hash
// named "<namespace>:<bucket>". Reads go to redis directly; writes of an
// Update are buffered and applied atomically with MULTI/EXEC on commit.
//
// Updates are not isolated from concurrent writers in other processes;
// memocas assumes a single writer.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/memocas/backend"
)

type Backend struct {
	rdb   redis.UniversalClient
	ns    string
	owned bool
}

var _ backend.Backend = (*Backend)(nil)

// New wraps an existing client. Close does not close it.
func New(rdb redis.UniversalClient, namespace string) *Backend {
	return &Backend{rdb: rdb, ns: namespace}
}

// Open dials addr and pings it.
func Open(ctx context.Context, addr, namespace string) (*Backend, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Backend{rdb: rdb, ns: namespace, owned: true}, nil
}

func (b *Backend) hash(bucket string) string { return b.ns + ":" + bucket }

func (b *Backend) View(ctx context.Context, fn func(backend.Tx) error) error {
	return fn(&tx{b: b, ctx: ctx})
}

func (b *Backend) Update(ctx context.Context, fn func(backend.Tx) error) error {
	t := &tx{b: b, ctx: ctx, write: true, pending: map[string]map[string]*[]byte{}}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.pending) == 0 {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for bucket, ops := range t.pending {
			h := b.hash(bucket)
			for key, v := range ops {
				if v == nil {
					p.HDel(ctx, h, key)
				} else {
					p.HSet(ctx, h, key, *v)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.owned {
		return b.rdb.Close()
	}
	return nil
}

type tx struct {
	b     *Backend
	ctx   context.Context
	write bool
	// bucket -> key -> value; a nil value is a pending delete
	pending map[string]map[string]*[]byte
}

func (t *tx) Get(bucket, key string) ([]byte, bool, error) {
	if ops, ok := t.pending[bucket]; ok {
		if v, ok := ops[key]; ok {
			if v == nil {
				return nil, false, nil
			}
			return *v, true, nil
		}
	}
	v, err := t.b.rdb.HGet(t.ctx, t.b.hash(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *tx) stage(bucket, key string, v *[]byte) error {
	if !t.write {
		return backend.ErrReadOnly
	}
	ops, ok := t.pending[bucket]
	if !ok {
		ops = map[string]*[]byte{}
		t.pending[bucket] = ops
	}
	ops[key] = v
	return nil
}

func (t *tx) Put(bucket, key string, value []byte) error {
	cp := append([]byte{}, value...)
	return t.stage(bucket, key, &cp)
}

func (t *tx) Delete(bucket, key string) error {
	return t.stage(bucket, key, nil)
}

func (t *tx) Keys(bucket string) ([]string, error) {
	keys, err := t.b.rdb.HKeys(t.ctx, t.b.hash(bucket)).Result()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	for k, v := range t.pending[bucket] {
		if v == nil {
			delete(set, k)
		} else {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
