package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Herald/internal/domain/preference"
)

var _ preference.Repo = (*PreferenceRepo)(nil)

type PreferenceRepo struct{ db *DB }

func NewPreferenceRepo(db *DB) *PreferenceRepo { return &PreferenceRepo{db: db} }

const prefColumns = `user_id, workspace_id, in_app_enabled, email_enabled,
notify_mentions, notify_task_assigned, notify_task_due_soon, notify_task_updates, notify_deal_won,
notify_deal_updates, notify_document_shares, notify_team_updates, notify_achievements, notify_agent_updates,
quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone, email_digest, created_at, updated_at`

const (
	qPrefGet = `SELECT ` + prefColumns + ` FROM notification_preferences WHERE user_id = $1 AND workspace_id = $2;`

	qPrefInsertMissing = `
INSERT INTO notification_preferences (` + prefColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (user_id, workspace_id) DO NOTHING;`

	qPrefUpsert = `
INSERT INTO notification_preferences (` + prefColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (user_id, workspace_id) DO UPDATE
SET in_app_enabled         = EXCLUDED.in_app_enabled,
    email_enabled          = EXCLUDED.email_enabled,
    notify_mentions        = EXCLUDED.notify_mentions,
    notify_task_assigned   = EXCLUDED.notify_task_assigned,
    notify_task_due_soon   = EXCLUDED.notify_task_due_soon,
    notify_task_updates    = EXCLUDED.notify_task_updates,
    notify_deal_won        = EXCLUDED.notify_deal_won,
    notify_deal_updates    = EXCLUDED.notify_deal_updates,
    notify_document_shares = EXCLUDED.notify_document_shares,
    notify_team_updates    = EXCLUDED.notify_team_updates,
    notify_achievements    = EXCLUDED.notify_achievements,
    notify_agent_updates   = EXCLUDED.notify_agent_updates,
    quiet_hours_enabled    = EXCLUDED.quiet_hours_enabled,
    quiet_hours_start      = EXCLUDED.quiet_hours_start,
    quiet_hours_end        = EXCLUDED.quiet_hours_end,
    timezone               = EXCLUDED.timezone,
    email_digest           = EXCLUDED.email_digest,
    updated_at             = EXCLUDED.updated_at
RETURNING created_at;`
)

func (r *PreferenceRepo) Get(ctx context.Context, userID, workspaceID string) (*preference.Preference, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return scanPreference(r.db.execQueryer(ctx).QueryRow(ctx, qPrefGet, userID, workspaceID))
}

func (r *PreferenceRepo) CreateIfMissing(ctx context.Context, p *preference.Preference) (*preference.Preference, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	q := r.db.execQueryer(ctx)
	if _, err := q.Exec(ctx, qPrefInsertMissing, prefArgs(p)...); err != nil {
		return nil, fmt.Errorf("insert preference: %w", mapPgErr(err))
	}
	return scanPreference(q.QueryRow(ctx, qPrefGet, p.UserID, p.WorkspaceID))
}

func (r *PreferenceRepo) Upsert(ctx context.Context, p *preference.Preference) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qPrefUpsert, prefArgs(p)...).Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("upsert preference: %w", mapPgErr(err))
	}
	p.Persisted = true
	return nil
}

func prefArgs(p *preference.Preference) []any {
	t := p.Topics
	return []any{
		p.UserID, p.WorkspaceID, p.InApp, p.Email,
		t.Mentions, t.TaskAssigned, t.TaskDueSoon, t.TaskUpdates, t.DealWon,
		t.DealUpdates, t.DocumentShares, t.TeamUpdates, t.Achievements, t.AgentUpdates,
		p.Quiet.Enabled, p.Quiet.Start.String(), p.Quiet.End.String(), p.Quiet.Timezone, string(p.Digest),
		p.CreatedAt, p.UpdatedAt,
	}
}

func scanPreference(row pgx.Row) (*preference.Preference, error) {
	var (
		p                  preference.Preference
		start, end, digest string
	)
	t := &p.Topics
	err := row.Scan(
		&p.UserID, &p.WorkspaceID, &p.InApp, &p.Email,
		&t.Mentions, &t.TaskAssigned, &t.TaskDueSoon, &t.TaskUpdates, &t.DealWon,
		&t.DealUpdates, &t.DocumentShares, &t.TeamUpdates, &t.Achievements, &t.AgentUpdates,
		&p.Quiet.Enabled, &start, &end, &p.Quiet.Timezone, &digest, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preference.ErrNotFound
		}
		return nil, fmt.Errorf("scan preference: %w", err)
	}
	if p.Quiet.Start, err = preference.ParseClockTime(start); err != nil {
		return nil, fmt.Errorf("scan preference: %w", err)
	}
	if p.Quiet.End, err = preference.ParseClockTime(end); err != nil {
		return nil, fmt.Errorf("scan preference: %w", err)
	}
	p.Digest = preference.Digest(digest)
	p.Persisted = true
	return &p, nil
}
