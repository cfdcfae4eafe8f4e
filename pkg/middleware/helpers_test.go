package middleware

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// fakeStore records acquisitions and answers from a script of results.
type fakeStore struct {
	mu      sync.Mutex
	keys    []string
	results map[string][]bool
	err     error
}

func (f *fakeStore) Acquire(ctx context.Context, key string, window time.Duration, maxPermits int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	queue := f.results[key]
	if len(queue) == 0 {
		return true, nil
	}
	f.results[key] = queue[1:]
	return queue[0], nil
}

func (f *fakeStore) acquired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fakeReplayGuard struct {
	seen map[string]bool
	ttl  time.Duration
	err  error
}

func (g *fakeReplayGuard) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	g.ttl = ttl
	if g.seen[id] {
		return false, nil
	}
	g.seen[id] = true
	return true, nil
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}
