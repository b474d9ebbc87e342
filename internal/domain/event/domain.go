package event

import (
	"time"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

// Event is the payload business modules publish to the workspace events topic.
// Recipients nil means every current workspace member.
type Event struct {
	ID          string                     `json:"id"`
	WorkspaceID string                     `json:"workspace_id"`
	Type        string                     `json:"type"`
	Title       string                     `json:"title"`
	Body        string                     `json:"body"`
	Priority    string                     `json:"priority"`
	Entity      *notification.LinkedEntity `json:"entity,omitempty"`
	Recipients  []string                   `json:"recipients,omitempty"`
	Exclude     []string                   `json:"exclude,omitempty"`
	ActorID     string                     `json:"actor_id,omitempty"`
	ExpiresAt   *time.Time                 `json:"expires_at,omitempty"`
	OccurredAt  time.Time                  `json:"occurred_at"`
}
