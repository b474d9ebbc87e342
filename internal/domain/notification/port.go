package notification

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("notification not found")
	ErrForbidden         = errors.New("not a member of this workspace")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrInvalidPriority   = errors.New("invalid priority")
)

type Repo interface {
	// Insert stores a new row. It returns false without error when a row with
	// the same (recipient, dedupe key) already exists.
	Insert(ctx context.Context, n *Notification) (bool, error)
	Get(ctx context.Context, id string) (*Notification, error)
	// GetForUpdate locks the row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*Notification, error)
	// Update persists the lifecycle fields and clears the claim lease.
	Update(ctx context.Context, n *Notification) error
	ClaimDue(ctx context.Context, opts ClaimOptions) ([]*Notification, error)
	// Defer pushes next_retry_at forward without counting an attempt.
	Defer(ctx context.Context, id string, until time.Time) error
	List(ctx context.Context, f ListFilter) ([]*Notification, error)
	UnreadCount(ctx context.Context, recipientID, workspaceID string) (int, error)
	MarkAllRead(ctx context.Context, recipientID, workspaceID string, now time.Time) ([]ReadChange, error)
	DeleteRead(ctx context.Context, id, recipientID string) (bool, error)
	ArchiveRead(ctx context.Context, createdBefore, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) ([]Removed, error)
}

// Removed identifies a row a retention job hard-deleted.
type Removed struct {
	ID          string
	WorkspaceID string
	Status      Status
}

// Sender is one delivery channel: live push bus, email, and so on.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}
