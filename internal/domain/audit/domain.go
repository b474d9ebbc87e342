package audit

import (
	"time"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

type Action string

const (
	ActionCreated       Action = "created"
	ActionRead          Action = "read"
	ActionDeleted       Action = "deleted"
	ActionRateLimited   Action = "rate_limited"
	ActionChannelFailed Action = "channel_failed"
)

// StatusAction is the action recorded for a delivery status transition.
func StatusAction(s notification.Status) Action { return Action(s) }

// Entry is append-only. NotificationID is empty for workspace-level entries.
type Entry struct {
	ID             string              `json:"id"`
	NotificationID string              `json:"notification_id,omitempty"`
	WorkspaceID    string              `json:"workspace_id"`
	Action         Action              `json:"action"`
	PrevStatus     notification.Status `json:"prev_status,omitempty"`
	NewStatus      notification.Status `json:"new_status,omitempty"`
	Actor          string              `json:"actor,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}
