package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepo)(nil)

type NotificationRepo struct{ s *Store }

func (r *NotificationRepo) Insert(_ context.Context, n *notification.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.notifications[n.ID]; ok {
		return false, fmt.Errorf("insert notification %s: duplicate id", n.ID)
	}
	if n.DedupeKey != "" {
		k := dedupeKey{n.RecipientID, n.DedupeKey}
		if _, ok := r.s.dedupe[k]; ok {
			return false, nil
		}
		r.s.dedupe[k] = n.ID
	}
	r.s.notifications[n.ID] = n.Clone()
	return true, nil
}

func (r *NotificationRepo) Get(_ context.Context, id string) (*notification.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n.Clone(), nil
}

func (r *NotificationRepo) GetForUpdate(ctx context.Context, id string) (*notification.Notification, error) {
	return r.Get(ctx, id)
}

func (r *NotificationRepo) Update(_ context.Context, n *notification.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.notifications[n.ID]
	if !ok {
		return fmt.Errorf("update notification %s: %w", n.ID, notification.ErrNotFound)
	}
	next := n.Clone()
	next.Read = cur.Read || n.Read
	next.LockedUntil = nil
	r.s.notifications[n.ID] = next
	n.LockedUntil = nil
	return nil
}

// claimable mirrors the SQL claim: undelivered rows, and delivered rows that
// still owe a retry to some channel.
func claimable(n *notification.Notification, opts notification.ClaimOptions) bool {
	switch n.Status {
	case notification.StatusCreated, notification.StatusFailed, notification.StatusRetrying:
	case notification.StatusDelivered:
		if n.NextRetryAt == nil {
			return false
		}
	default:
		return false
	}
	if n.Archived || n.RetryCount >= opts.MaxAttempts {
		return false
	}
	if n.NextRetryAt != nil && n.NextRetryAt.After(opts.Now) {
		return false
	}
	if n.LockedUntil != nil && n.LockedUntil.After(opts.Now) {
		return false
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(opts.Now) {
		return false
	}
	return true
}

func (r *NotificationRepo) ClaimDue(_ context.Context, opts notification.ClaimOptions) ([]*notification.Notification, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*notification.Notification
	for _, n := range r.s.notifications {
		if claimable(n, opts) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > opts.Limit {
		due = due[:opts.Limit]
	}

	lease := opts.Now.Add(opts.Lease)
	out := make([]*notification.Notification, 0, len(due))
	for _, n := range due {
		l := lease
		n.LockedUntil = &l
		out = append(out, n.Clone())
	}
	return out, nil
}

func (r *NotificationRepo) Defer(_ context.Context, id string, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return fmt.Errorf("defer notification %s: %w", id, notification.ErrNotFound)
	}
	u := until
	n.NextRetryAt = &u
	n.LockedUntil = nil
	return nil
}

func matches(n *notification.Notification, f notification.ListFilter) bool {
	if n.RecipientID != f.RecipientID {
		return false
	}
	if f.WorkspaceID != "" && n.WorkspaceID != f.WorkspaceID {
		return false
	}
	if !f.IncludeArchived && n.Archived {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	if f.Priority != nil && n.Priority != *f.Priority {
		return false
	}
	if f.After != nil && !f.After.Before(n.CreatedAt, n.ID) {
		return false
	}
	return true
}

func (r *NotificationRepo) List(_ context.Context, f notification.ListFilter) ([]*notification.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*notification.Notification
	for _, n := range r.s.notifications {
		if matches(n, f) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *NotificationRepo) UnreadCount(_ context.Context, recipientID, workspaceID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := 0
	for _, n := range r.s.notifications {
		if n.RecipientID != recipientID || n.Read || n.Archived {
			continue
		}
		if workspaceID != "" && n.WorkspaceID != workspaceID {
			continue
		}
		c++
	}
	return c, nil
}

func (r *NotificationRepo) MarkAllRead(_ context.Context, recipientID, workspaceID string, now time.Time) ([]notification.ReadChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []notification.ReadChange
	for _, n := range r.s.notifications {
		if n.RecipientID != recipientID || n.Read {
			continue
		}
		if workspaceID != "" && n.WorkspaceID != workspaceID {
			continue
		}
		prev := n.Status
		t := now
		n.Read = true
		n.ReadAt = &t
		if n.Status != notification.StatusAcknowledged {
			n.Status = notification.StatusSeen
		}
		if n.SeenAt == nil {
			n.SeenAt = &t
		}
		n.NextRetryAt = nil
		n.LockedUntil = nil
		out = append(out, notification.ReadChange{
			ID:          n.ID,
			WorkspaceID: n.WorkspaceID,
			PrevStatus:  prev,
			NewStatus:   n.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *NotificationRepo) DeleteRead(_ context.Context, id, recipientID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok || n.RecipientID != recipientID || !n.Read {
		return false, nil
	}
	r.s.remove(n)
	return true, nil
}

func (r *NotificationRepo) ArchiveRead(_ context.Context, createdBefore, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var c int64
	for _, n := range r.s.notifications {
		if n.Read && !n.Archived && n.CreatedAt.Before(createdBefore) {
			t := now
			n.Archived = true
			n.ArchivedAt = &t
			c++
		}
	}
	return c, nil
}

func (r *NotificationRepo) PurgeExpired(_ context.Context, now time.Time) ([]notification.Removed, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []notification.Removed
	for _, n := range r.s.notifications {
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			r.s.remove(n)
			out = append(out, notification.Removed{ID: n.ID, WorkspaceID: n.WorkspaceID, Status: n.Status})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// remove must be called with mu held.
func (s *Store) remove(n *notification.Notification) {
	delete(s.notifications, n.ID)
	if n.DedupeKey != "" {
		delete(s.dedupe, dedupeKey{n.RecipientID, n.DedupeKey})
	}
}
