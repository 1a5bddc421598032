package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/unkn0wn-root/memocas/backend/backendtest"
)

// Set MEMOCAS_REDIS_ADDR (e.g. localhost:6379) to run against a live server.
func TestBackend(t *testing.T) {
	addr := os.Getenv("MEMOCAS_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEMOCAS_REDIS_ADDR not set")
	}
	ctx := context.Background()
	ns := fmt.Sprintf("memocas-test-%d", time.Now().UnixNano())
	b, err := Open(ctx, addr, ns)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		for _, bucket := range []string{"things", "other"} {
			_ = b.rdb.Del(ctx, b.hash(bucket)).Err()
		}
		_ = b.Close()
	})
	backendtest.Run(t, b)
}
