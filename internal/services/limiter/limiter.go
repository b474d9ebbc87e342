// Package limiter bounds notification creation per workspace with a fixed
// one-minute window counter.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain/ratelimit"
)

const (
	Window       = time.Minute
	DefaultLimit = 100
)

var mRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "herald",
	Name:      "ratelimit_rejected_total",
	Help:      "Dispatch calls that found their workspace over budget.",
})

type Limiter struct {
	repo  ratelimit.Repo
	clock clock.Clock
}

func New(repo ratelimit.Repo, clk clock.Clock) *Limiter {
	return &Limiter{repo: repo, clock: clk}
}

// Limit normalises a configured limit: zero means the default, and anything
// below one is raised to one. The limiter cannot be switched off.
func Limit(perMinute int) int {
	switch {
	case perMinute == 0:
		return DefaultLimit
	case perMinute < 1:
		return 1
	default:
		return perMinute
	}
}

// WindowStart is now truncated to the minute.
func WindowStart(now time.Time) time.Time { return now.UTC().Truncate(Window) }

// TryConsume counts one attempt against the current window. The counter
// keeps growing past the limit so overload stays visible.
func (l *Limiter) TryConsume(ctx context.Context, workspaceID string, limitPerMinute int) (bool, int, error) {
	limit := Limit(limitPerMinute)
	count, err := l.repo.Increment(ctx, workspaceID, WindowStart(l.clock.Now()))
	if err != nil {
		return false, 0, fmt.Errorf("rate limit increment: %w", err)
	}
	allowed := count <= limit
	if !allowed {
		mRejected.Inc()
	}
	return allowed, count, nil
}
