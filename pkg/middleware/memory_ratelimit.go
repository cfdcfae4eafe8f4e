package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryPermitStore keeps sliding windows in process memory. It is only correct when a
// single gateway instance serves all traffic and is meant for local development.
type MemoryPermitStore struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, []time.Time]
	now     func() time.Time
}

// NewMemoryPermitStore creates a store tracking at most maxKeys windows. Windows idle for
// longer than maxWindow are dropped.
func NewMemoryPermitStore(maxKeys int, maxWindow time.Duration) *MemoryPermitStore {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if maxWindow <= 0 {
		maxWindow = time.Hour
	}
	return &MemoryPermitStore{
		windows: expirable.NewLRU[string, []time.Time](maxKeys, nil, maxWindow),
		now:     time.Now,
	}
}

// Acquire implements PermitStore.
func (s *MemoryPermitStore) Acquire(ctx context.Context, key string, window time.Duration, maxPermits int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if window < time.Second {
		return false, fmt.Errorf("window must be at least one second, got %s", window)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	entries, _ := s.windows.Get(key)
	live := make([]time.Time, 0, len(entries)+1)
	for _, ts := range entries {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if int64(len(live)) >= maxPermits {
		s.windows.Add(key, live)
		return false, nil
	}

	s.windows.Add(key, append(live, now))
	return true, nil
}

// Len returns the number of tracked windows.
func (s *MemoryPermitStore) Len() int {
	return s.windows.Len()
}
