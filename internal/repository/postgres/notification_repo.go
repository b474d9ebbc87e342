package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const notifColumns = `id, recipient_id, workspace_id, event_type, category, title, body, entity_type, entity_id,
priority, read, status, dedupe_key, created_at, delivered_at, seen_at, acknowledged_at, read_at, expires_at,
archived, archived_at, retry_count, next_retry_at, locked_until, last_error, delivered_channels`

const (
	qNotifInsert = `
INSERT INTO notifications (id, recipient_id, workspace_id, event_type, category, title, body, entity_type, entity_id,
                           priority, read, status, dedupe_key, created_at, expires_at, next_retry_at, delivered_channels)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (recipient_id, dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING;`

	qNotifGet = `SELECT ` + notifColumns + ` FROM notifications WHERE id = $1;`

	qNotifGetForUpdate = `SELECT ` + notifColumns + ` FROM notifications WHERE id = $1 FOR UPDATE;`

	// read never goes back to false, whatever the caller sends.
	qNotifUpdate = `
UPDATE notifications
SET read               = read OR $2,
    status             = $3,
    delivered_at       = $4,
    seen_at            = $5,
    acknowledged_at    = $6,
    read_at            = $7,
    archived           = $8,
    archived_at        = $9,
    retry_count        = $10,
    next_retry_at      = $11,
    last_error         = $12,
    delivered_channels = $13,
    locked_until       = NULL
WHERE id = $1;`

	qNotifClaimDue = `
WITH due AS (
    SELECT id
    FROM notifications
    WHERE (status IN ('created', 'failed', 'retrying')
           OR (status = 'delivered' AND next_retry_at IS NOT NULL))
      AND retry_count < $3
      AND NOT archived
      AND (next_retry_at IS NULL OR next_retry_at <= $1)
      AND (locked_until IS NULL OR locked_until <= $1)
      AND (expires_at IS NULL OR expires_at > $1)
    ORDER BY priority DESC, created_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE notifications n
SET locked_until = $4
FROM due
WHERE n.id = due.id
RETURNING ` + "n.id, n.recipient_id, n.workspace_id, n.event_type, n.category, n.title, n.body, n.entity_type, n.entity_id," +
		" n.priority, n.read, n.status, n.dedupe_key, n.created_at, n.delivered_at, n.seen_at, n.acknowledged_at, n.read_at," +
		" n.expires_at, n.archived, n.archived_at, n.retry_count, n.next_retry_at, n.locked_until, n.last_error," +
		" n.delivered_channels;"

	qNotifDefer = `UPDATE notifications SET next_retry_at = $2, locked_until = NULL WHERE id = $1;`

	qNotifUnreadCount = `
SELECT count(*)
FROM notifications
WHERE recipient_id = $1
  AND ($2 = '' OR workspace_id = $2)
  AND NOT read
  AND NOT archived;`

	qNotifMarkAllRead = `
WITH target AS (
    SELECT id, status
    FROM notifications
    WHERE recipient_id = $1
      AND ($2 = '' OR workspace_id = $2)
      AND NOT read
    FOR UPDATE
)
UPDATE notifications n
SET read          = TRUE,
    read_at       = $3,
    status        = CASE WHEN n.status = 'acknowledged' THEN n.status ELSE 'seen' END,
    seen_at       = COALESCE(n.seen_at, $3),
    next_retry_at = NULL,
    locked_until  = NULL
FROM target t
WHERE n.id = t.id
RETURNING n.id, n.workspace_id, t.status, n.status;`

	qNotifDeleteRead = `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2 AND read;`

	qNotifArchiveRead = `
UPDATE notifications
SET archived = TRUE, archived_at = $2
WHERE read AND NOT archived AND created_at < $1;`

	qNotifPurgeExpired = `
DELETE FROM notifications
WHERE expires_at IS NOT NULL AND expires_at <= $1
RETURNING id, workspace_id, status;`
)

func (r *NotificationRepoImpl) Insert(ctx context.Context, n *notification.Notification) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var entityType, entityID *string
	if n.Entity != nil {
		entityType, entityID = nullString(n.Entity.Type), nullString(n.Entity.ID)
	}

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qNotifInsert,
		n.ID,
		n.RecipientID,
		n.WorkspaceID,
		n.EventType,
		string(n.Category),
		n.Title,
		n.Body,
		entityType,
		entityID,
		int16(n.Priority),
		n.Read,
		string(n.Status),
		nullString(n.DedupeKey),
		n.CreatedAt,
		n.ExpiresAt,
		n.NextRetryAt,
		channelStrings(n.DeliveredChannels),
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", mapPgErr(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NotificationRepoImpl) Get(ctx context.Context, id string) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifGet, id))
}

func (r *NotificationRepoImpl) GetForUpdate(ctx context.Context, id string) (*notification.Notification, error) {
	if _, err := extractTx(ctx); err != nil {
		return nil, fmt.Errorf("get for update: %w", err)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifGetForUpdate, id))
}

func (r *NotificationRepoImpl) Update(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qNotifUpdate,
		n.ID,
		n.Read,
		string(n.Status),
		n.DeliveredAt,
		n.SeenAt,
		n.AcknowledgedAt,
		n.ReadAt,
		n.Archived,
		n.ArchivedAt,
		n.RetryCount,
		n.NextRetryAt,
		n.LastError,
		channelStrings(n.DeliveredChannels),
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update notification %s: %w", n.ID, notification.ErrNotFound)
	}
	n.LockedUntil = nil
	return nil
}

func (r *NotificationRepoImpl) ClaimDue(ctx context.Context, opts notification.ClaimOptions) ([]*notification.Notification, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qNotifClaimDue,
		opts.Now,
		opts.Limit,
		opts.MaxAttempts,
		opts.Now.Add(opts.Lease),
	)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	out, err := collectNotifications(rows, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}

	// UPDATE ... RETURNING does not keep the CTE order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *NotificationRepoImpl) Defer(ctx context.Context, id string, until time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qNotifDefer, id, until); err != nil {
		return fmt.Errorf("defer notification: %w", err)
	}
	return nil
}

func (r *NotificationRepoImpl) List(ctx context.Context, f notification.ListFilter) ([]*notification.Notification, error) {
	q, args := buildListQuery(f)

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out, err := collectNotifications(rows, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// buildListQuery renders the keyset page query; each filter adds one indexed
// predicate.
func buildListQuery(f notification.ListFilter) (string, []any) {
	var sb strings.Builder
	args := []any{f.RecipientID}

	sb.WriteString(`SELECT ` + notifColumns + ` FROM notifications WHERE recipient_id = $1`)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.WorkspaceID != "" {
		sb.WriteString(" AND workspace_id = " + arg(f.WorkspaceID))
	}
	if !f.IncludeArchived {
		sb.WriteString(" AND NOT archived")
	}
	if f.UnreadOnly {
		sb.WriteString(" AND NOT read")
	}
	if f.Category != "" {
		sb.WriteString(" AND category = " + arg(string(f.Category)))
	}
	if f.Priority != nil {
		sb.WriteString(" AND priority = " + arg(int16(*f.Priority)))
	}
	if f.After != nil {
		ts := arg(f.After.CreatedAt)
		id := arg(f.After.ID)
		sb.WriteString(" AND (created_at, id) < (" + ts + ", " + id + ")")
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(f.Limit))
	}
	return sb.String(), args
}

func (r *NotificationRepoImpl) UnreadCount(ctx context.Context, recipientID, workspaceID string) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifUnreadCount, recipientID, workspaceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

func (r *NotificationRepoImpl) MarkAllRead(ctx context.Context, recipientID, workspaceID string, now time.Time) ([]notification.ReadChange, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qNotifMarkAllRead, recipientID, workspaceID, now)
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	defer rows.Close()

	var out []notification.ReadChange
	for rows.Next() {
		var c notification.ReadChange
		var prev, next string
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &prev, &next); err != nil {
			return nil, fmt.Errorf("scan read change: %w", err)
		}
		c.PrevStatus, c.NewStatus = notification.Status(prev), notification.Status(next)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepoImpl) DeleteRead(ctx context.Context, id, recipientID string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qNotifDeleteRead, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NotificationRepoImpl) ArchiveRead(ctx context.Context, createdBefore, now time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qNotifArchiveRead, createdBefore, now)
	if err != nil {
		return 0, fmt.Errorf("archive read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepoImpl) PurgeExpired(ctx context.Context, now time.Time) ([]notification.Removed, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qNotifPurgeExpired, now)
	if err != nil {
		return nil, fmt.Errorf("purge expired: %w", err)
	}
	defer rows.Close()

	var out []notification.Removed
	for rows.Next() {
		var (
			rm     notification.Removed
			status string
		)
		if err := rows.Scan(&rm.ID, &rm.WorkspaceID, &status); err != nil {
			return nil, fmt.Errorf("scan purged row: %w", err)
		}
		rm.Status = notification.Status(status)
		out = append(out, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func collectNotifications(rows pgx.Rows, capHint int) ([]*notification.Notification, error) {
	defer rows.Close()

	if capHint < 0 {
		capHint = 0
	}
	out := make([]*notification.Notification, 0, capHint)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n                    notification.Notification
		category, status     string
		priority             int16
		entityType, entityID *string
		dedupe               *string
		delivered            []string
	)
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.WorkspaceID, &n.EventType, &category, &n.Title, &n.Body, &entityType, &entityID,
		&priority, &n.Read, &status, &dedupe, &n.CreatedAt, &n.DeliveredAt, &n.SeenAt, &n.AcknowledgedAt, &n.ReadAt,
		&n.ExpiresAt, &n.Archived, &n.ArchivedAt, &n.RetryCount, &n.NextRetryAt, &n.LockedUntil, &n.LastError,
		&delivered,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.Category = notification.Category(category)
	n.Status = notification.Status(status)
	n.Priority = notification.Priority(priority)
	n.DedupeKey = derefString(dedupe)
	for _, ch := range delivered {
		n.DeliveredChannels = append(n.DeliveredChannels, notification.Channel(ch))
	}
	if entityType != nil || entityID != nil {
		n.Entity = &notification.LinkedEntity{Type: derefString(entityType), ID: derefString(entityID)}
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

// channelStrings never returns nil: the column is NOT NULL.
func channelStrings(chs []notification.Channel) []string {
	out := make([]string, 0, len(chs))
	for _, ch := range chs {
		out = append(out, string(ch))
	}
	return out
}
