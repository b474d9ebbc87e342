package ratelimit

import (
	"context"
	"time"
)

type Repo interface {
	// Increment adds one to the (workspace, window) counter and returns the
	// post-increment value in a single atomic step.
	Increment(ctx context.Context, workspaceID string, windowStart time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
