package memory

import (
	"context"
	"time"

	"github.com/NordCoder/Herald/internal/domain/ratelimit"
)

var _ ratelimit.Repo = (*RateLimitRepo)(nil)

type RateLimitRepo struct{ s *Store }

func (r *RateLimitRepo) Increment(_ context.Context, workspaceID string, windowStart time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := rateKey{workspaceID, windowStart.UTC()}
	r.s.counters[k]++
	return r.s.counters[k], nil
}

func (r *RateLimitRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var c int64
	for k := range r.s.counters {
		if k.window.Before(cutoff) {
			delete(r.s.counters, k)
			c++
		}
	}
	return c, nil
}
