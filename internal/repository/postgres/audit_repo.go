package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/notification"
)

var _ audit.Repo = (*AuditRepo)(nil)

type AuditRepo struct{ db *DB }

func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

const (
	qAuditInsert = `
INSERT INTO notification_audit_log (id, notification_id, workspace_id, action, prev_status, new_status, actor, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	qAuditByNotification = `
SELECT id, notification_id, workspace_id, action, prev_status, new_status, actor, metadata, created_at
FROM notification_audit_log
WHERE notification_id = $1
ORDER BY created_at ASC, id ASC;`

	qAuditDeleteOlder = `DELETE FROM notification_audit_log WHERE created_at < $1;`
)

func (r *AuditRepo) Append(ctx context.Context, e *audit.Entry) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = b
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.execQueryer(ctx).Exec(ctx, qAuditInsert,
		e.ID,
		nullString(e.NotificationID),
		e.WorkspaceID,
		string(e.Action),
		string(e.PrevStatus),
		string(e.NewStatus),
		e.Actor,
		meta,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", mapPgErr(err))
	}
	return nil
}

func (r *AuditRepo) ListByNotification(ctx context.Context, notificationID string) ([]*audit.Entry, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qAuditByNotification, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var (
			e                  audit.Entry
			nid                *string
			action, prev, next string
			meta               []byte
		)
		if err := rows.Scan(&e.ID, &nid, &e.WorkspaceID, &action, &prev, &next, &e.Actor, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.NotificationID = derefString(nid)
		e.Action = audit.Action(action)
		e.PrevStatus, e.NewStatus = notification.Status(prev), notification.Status(next)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qAuditDeleteOlder, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	return tag.RowsAffected(), nil
}
