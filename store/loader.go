package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/log"
)

// loader restores cached values, reading external files through the blob cache.
type loader struct {
	ctx context.Context
	s   *Store
}

var _ cached.Loader = (*loader)(nil)

func (l *loader) Decode(plugin, typeName string, data []byte) (any, error) {
	return l.s.ser.Decode(plugin, typeName, data)
}

func (l *loader) MakeTuple(items []any) any { return l.s.ser.MakeTuple(items) }

func (l *loader) ReadExternal(path string) ([]byte, error) {
	if l.s.blobs != nil {
		b, ok, err := l.s.blobs.Get(l.ctx, path)
		if err != nil {
			l.s.log.Debug("blob cache get failed", log.Fields{"path": path, "err": err})
		} else if ok {
			return b, nil
		}
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, path)
	}
	if err != nil {
		return nil, err
	}
	if l.s.blobs != nil {
		if ok, err := l.s.blobs.Set(l.ctx, path, b, int64(len(b)), l.s.blobTTL); err != nil || !ok {
			l.s.log.Debug("blob cache set skipped", log.Fields{"path": path, "err": err})
		}
	}
	return b, nil
}
