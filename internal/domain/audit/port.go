package audit

import (
	"context"
	"time"
)

type Repo interface {
	Append(ctx context.Context, e *Entry) error
	ListByNotification(ctx context.Context, notificationID string) ([]*Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
