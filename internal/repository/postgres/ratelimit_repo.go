package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Herald/internal/domain/ratelimit"
)

var _ ratelimit.Repo = (*RateLimitRepo)(nil)

type RateLimitRepo struct{ db *DB }

func NewRateLimitRepo(db *DB) *RateLimitRepo { return &RateLimitRepo{db: db} }

const (
	qRateIncrement = `
INSERT INTO rate_limit_counters (workspace_id, window_start, count)
VALUES ($1, $2, 1)
ON CONFLICT (workspace_id, window_start) DO UPDATE
SET count = rate_limit_counters.count + 1
RETURNING count;`

	qRateDeleteOlder = `DELETE FROM rate_limit_counters WHERE window_start < $1;`
)

func (r *RateLimitRepo) Increment(ctx context.Context, workspaceID string, windowStart time.Time) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qRateIncrement, workspaceID, windowStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return count, nil
}

func (r *RateLimitRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRateDeleteOlder, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
