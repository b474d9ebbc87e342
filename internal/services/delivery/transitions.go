package delivery

import (
	"fmt"
	"time"

	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs/retry"
)

// Each transition mutates n in place and reports whether anything changed.
// Repeating a transition that already happened is a no-op.

// markDelivered records the channels that took the row. A delivered row still
// has work only while a retry for its remaining channels is pending.
func markDelivered(n *notification.Notification, now time.Time, sent []notification.Channel) bool {
	switch n.Status {
	case notification.StatusCreated, notification.StatusFailed, notification.StatusRetrying:
	case notification.StatusDelivered:
		if n.NextRetryAt == nil {
			return false
		}
	default:
		return false
	}
	n.AddDelivered(sent...)
	n.Status = notification.StatusDelivered
	if n.DeliveredAt == nil {
		n.DeliveredAt = &now
	}
	n.NextRetryAt = nil
	return true
}

// markSeen also accepts failed and retrying rows: the user saw it in-app, so
// further push attempts are pointless.
func markSeen(n *notification.Notification, now time.Time) bool {
	switch n.Status {
	case notification.StatusSeen, notification.StatusAcknowledged:
		return false
	}
	n.Status = notification.StatusSeen
	if n.SeenAt == nil {
		n.SeenAt = &now
	}
	n.NextRetryAt = nil
	return true
}

func markAcknowledged(n *notification.Notification, now time.Time) bool {
	if n.Status == notification.StatusAcknowledged {
		return false
	}
	n.Status = notification.StatusAcknowledged
	if n.AcknowledgedAt == nil {
		n.AcknowledgedAt = &now
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &now
	}
	n.NextRetryAt = nil
	return true
}

// markRead sets the read flag without delivery confirmation. A row that was
// not yet seen moves to seen so read always implies seen or acknowledged.
func markRead(n *notification.Notification, now time.Time) bool {
	if n.Read {
		return false
	}
	n.Read = true
	n.ReadAt = &now
	if n.Status != notification.StatusAcknowledged {
		n.Status = notification.StatusSeen
		if n.SeenAt == nil {
			n.SeenAt = &now
		}
	}
	n.NextRetryAt = nil
	return true
}

type failPolicy struct {
	maxAttempts int
	backoff     retry.Backoff
}

// markFailed counts one attempt where some channel failed. Channels in sent
// made it and are not tried again. Once any channel has the row it stays
// delivered and only next_retry_at tracks the rest. Otherwise it becomes
// retrying below the attempt limit and failed for good at it.
func markFailed(n *notification.Notification, now time.Time, cause string, sent []notification.Channel, p failPolicy) (bool, error) {
	switch n.Status {
	case notification.StatusSeen, notification.StatusAcknowledged:
		return false, fmt.Errorf("%w: %s -> %s", notification.ErrInvalidTransition, n.Status, notification.StatusFailed)
	case notification.StatusFailed:
		if n.RetryCount >= p.maxAttempts {
			return false, nil
		}
	case notification.StatusDelivered:
		if n.NextRetryAt == nil {
			return false, nil
		}
	}

	n.AddDelivered(sent...)
	n.RetryCount++
	n.LastError = cause
	exhausted := n.RetryCount >= p.maxAttempts

	switch {
	case len(n.DeliveredChannels) > 0:
		n.Status = notification.StatusDelivered
		if n.DeliveredAt == nil {
			n.DeliveredAt = &now
		}
	case exhausted:
		n.Status = notification.StatusFailed
	default:
		n.Status = notification.StatusRetrying
	}
	if exhausted {
		n.NextRetryAt = nil
		return true, nil
	}
	next := now.Add(p.backoff.Next(n.RetryCount))
	n.NextRetryAt = &next
	return true, nil
}
