// Package delivery owns every change to a notification's lifecycle. Each
// change runs in one transaction with its audit entry.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain"
	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs/retry"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffCap  = time.Hour
)

type Config struct {
	MaxAttempts int
	BackoffCap  time.Duration
}

type Deps struct {
	Notifications notification.Repo
	Audit         audit.Repo
	Tx            domain.Transactor
	Clock         clock.Clock
	Log           *zap.Logger
	NewID         func() string
}

type Machine struct {
	Deps
	policy failPolicy
}

func New(d Deps, cfg Config) *Machine {
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	d.Log = d.Log.With(zap.String("component", "delivery"))
	return &Machine{
		Deps: d,
		policy: failPolicy{
			maxAttempts: cfg.MaxAttempts,
			backoff:     retry.ExpoJitter{Base: time.Second, Max: cfg.BackoffCap},
		},
	}
}

func (m *Machine) MaxAttempts() int { return m.policy.maxAttempts }

// transition loads the row under lock, applies fn and, when fn changed
// something, stores it and appends one audit entry. actor "" is the system;
// otherwise the row must belong to actor.
func (m *Machine) transition(
	ctx context.Context,
	id, actor string,
	fn func(n *notification.Notification, now time.Time) (bool, error),
	action func(n *notification.Notification) audit.Action,
	meta map[string]any,
) (*notification.Notification, bool, error) {
	var (
		out     *notification.Notification
		changed bool
	)
	err := m.Tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := m.Notifications.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor != "" && n.RecipientID != actor {
			return notification.ErrNotFound
		}
		out = n

		now := m.Clock.Now()
		prev := n.Status
		ok, err := fn(n, now)
		if err != nil || !ok {
			return err
		}
		if err := m.Notifications.Update(ctx, n); err != nil {
			return err
		}
		changed = true
		return m.Audit.Append(ctx, &audit.Entry{
			ID:             m.NewID(),
			NotificationID: n.ID,
			WorkspaceID:    n.WorkspaceID,
			Action:         action(n),
			PrevStatus:     prev,
			NewStatus:      n.Status,
			Actor:          actor,
			Metadata:       meta,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func byStatus(n *notification.Notification) audit.Action { return audit.StatusAction(n.Status) }

func readAction(*notification.Notification) audit.Action { return audit.ActionRead }

func infallible(f func(*notification.Notification, time.Time) bool) func(*notification.Notification, time.Time) (bool, error) {
	return func(n *notification.Notification, now time.Time) (bool, error) { return f(n, now), nil }
}

func channelNames(chs []notification.Channel) []string {
	out := make([]string, 0, len(chs))
	for _, ch := range chs {
		out = append(out, string(ch))
	}
	return out
}

// MarkDelivered records that the channels in sent took the row. An empty sent
// means no channel was eligible; the audit entry says so.
func (m *Machine) MarkDelivered(ctx context.Context, id string, sent ...notification.Channel) (bool, error) {
	meta := map[string]any{"channels": channelNames(sent)}
	if len(sent) == 0 {
		meta["reason"] = "no_eligible_channel"
	}
	fn := func(n *notification.Notification, now time.Time) (bool, error) {
		return markDelivered(n, now, sent), nil
	}
	_, changed, err := m.transition(ctx, id, "", fn, byStatus, meta)
	if err != nil {
		return false, fmt.Errorf("mark delivered %s: %w", id, err)
	}
	return changed, nil
}

// FailOutcome describes what a failed attempt did to the row. Partial means
// some channel already has the row and only the rest are retried.
type FailOutcome struct {
	Changed     bool
	Exhausted   bool
	Partial     bool
	RetryCount  int
	NextRetryAt *time.Time
}

// failAction keeps a delivered row's channel failures apart from the
// delivery itself.
func failAction(n *notification.Notification) audit.Action {
	if n.Status == notification.StatusDelivered {
		return audit.ActionChannelFailed
	}
	return byStatus(n)
}

func (m *Machine) MarkFailed(ctx context.Context, id string, cause error, sent ...notification.Channel) (FailOutcome, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	fn := func(n *notification.Notification, now time.Time) (bool, error) {
		return markFailed(n, now, msg, sent, m.policy)
	}
	meta := map[string]any{"error": msg, "channels": channelNames(sent)}
	n, changed, err := m.transition(ctx, id, "", fn, failAction, meta)
	if err != nil {
		return FailOutcome{}, fmt.Errorf("mark failed %s: %w", id, err)
	}
	return FailOutcome{
		Changed:     changed,
		Exhausted:   n.NextRetryAt == nil && n.RetryCount >= m.policy.maxAttempts,
		Partial:     len(n.DeliveredChannels) > 0,
		RetryCount:  n.RetryCount,
		NextRetryAt: n.NextRetryAt,
	}, nil
}

func (m *Machine) MarkSeen(ctx context.Context, id, userID string) (bool, error) {
	_, changed, err := m.transition(ctx, id, userID, infallible(markSeen), byStatus, nil)
	if err != nil {
		return false, fmt.Errorf("mark seen %s: %w", id, err)
	}
	return changed, nil
}

func (m *Machine) MarkAcknowledged(ctx context.Context, id, userID string) (bool, error) {
	_, changed, err := m.transition(ctx, id, userID, infallible(markAcknowledged), byStatus, nil)
	if err != nil {
		return false, fmt.Errorf("mark acknowledged %s: %w", id, err)
	}
	return changed, nil
}

func (m *Machine) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	_, changed, err := m.transition(ctx, id, userID, infallible(markRead), readAction, nil)
	if err != nil {
		return false, fmt.Errorf("mark read %s: %w", id, err)
	}
	return changed, nil
}

// MarkAllRead flips every unread row of the user, optionally within one
// workspace, and returns how many changed.
func (m *Machine) MarkAllRead(ctx context.Context, userID, workspaceID string) (int, error) {
	var changes []notification.ReadChange
	err := m.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := m.Clock.Now()
		var err error
		changes, err = m.Notifications.MarkAllRead(ctx, userID, workspaceID, now)
		if err != nil {
			return err
		}
		for _, c := range changes {
			if err := m.Audit.Append(ctx, &audit.Entry{
				ID:             m.NewID(),
				NotificationID: c.ID,
				WorkspaceID:    c.WorkspaceID,
				Action:         audit.ActionRead,
				PrevStatus:     c.PrevStatus,
				NewStatus:      c.NewStatus,
				Actor:          userID,
				Metadata:       map[string]any{"bulk": true},
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	if len(changes) > 0 {
		m.Log.Debug("marked all read", zap.String("user_id", userID), zap.Int("changed", len(changes)))
	}
	return len(changes), nil
}

// Superseded reports errors that mean the row moved on without us, which a
// background sweeper should not treat as failures.
func Superseded(err error) bool {
	return errors.Is(err, notification.ErrInvalidTransition) || errors.Is(err, notification.ErrNotFound)
}
