package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs/retry"
)

type LivePublisher interface {
	PublishNotification(ctx context.Context, n *notification.Notification) error
}

// Push hands the notification to the live-push bus that connected clients
// listen on.
type Push struct {
	bus    LivePublisher
	policy retry.Policy
	log    *zap.Logger
}

func NewPush(bus LivePublisher, log *zap.Logger) *Push {
	return &Push{
		bus:    bus,
		policy: retry.DefaultPublishPolicy(log),
		log:    log.With(zap.String("component", "channel.push")),
	}
}

func (p *Push) Send(ctx context.Context, n *notification.Notification) error {
	err := retry.Do(ctx, func() error { return p.bus.PublishNotification(ctx, n) }, p.policy)
	if err != nil {
		return fmt.Errorf("push %s: %w", n.ID, err)
	}
	return nil
}
