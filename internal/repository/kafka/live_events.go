package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

// LiveMessage is what push gateways read from the live bus to render a
// notification on connected clients.
type LiveMessage struct {
	ID          string                     `json:"id"`
	RecipientID string                     `json:"recipient_id"`
	WorkspaceID string                     `json:"workspace_id"`
	EventType   string                     `json:"event_type"`
	Category    notification.Category      `json:"category"`
	Priority    notification.Priority      `json:"priority"`
	Title       string                     `json:"title"`
	Body        string                     `json:"body,omitempty"`
	Entity      *notification.LinkedEntity `json:"entity,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	Attempt     int                        `json:"attempt"`
}

type LiveEventsKafka struct {
	p *Producer
}

func NewLiveEventsKafka(p *Producer) *LiveEventsKafka { return &LiveEventsKafka{p: p} }

// PublishNotification keys by recipient so one user's messages stay ordered.
func (e *LiveEventsKafka) PublishNotification(ctx context.Context, n *notification.Notification) error {
	return e.p.PublishJSON(ctx, []byte(n.RecipientID), LiveMessage{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		WorkspaceID: n.WorkspaceID,
		EventType:   n.EventType,
		Category:    n.Category,
		Priority:    n.Priority,
		Title:       n.Title,
		Body:        n.Body,
		Entity:      n.Entity,
		CreatedAt:   n.CreatedAt,
		Attempt:     n.RetryCount + 1,
	}, NotificationHeaders(n.ID, n.WorkspaceID)...)
}
