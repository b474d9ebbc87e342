// Package ingest consumes workspace domain events from Kafka and hands them
// to the fan-out engine.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/domain/event"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs"
	"github.com/NordCoder/Herald/internal/obs/retry"
	kafkax "github.com/NordCoder/Herald/internal/repository/kafka"
	"github.com/NordCoder/Herald/internal/services/fanout"
)

var mEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "herald",
	Name:      "ingest_events_total",
	Help:      "Consumed workspace events by outcome.",
}, []string{"outcome"})

// Dispatcher admits an event once and delivers it as often as it takes.
type Dispatcher interface {
	Admit(ctx context.Context, req fanout.Request) (*fanout.Admission, error)
	Deliver(ctx context.Context, a *fanout.Admission) ([]string, error)
}

type Subscriber interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

type Controller struct {
	Log    *zap.Logger
	Sub    Subscriber
	Fanout Dispatcher
	Policy retry.Policy
}

func (c *Controller) Run(ctx context.Context) error {
	err := c.Sub.Consume(ctx, kafkax.JSONHandler(func(ctx context.Context, _ []byte, ev *event.Event) error {
		return c.Handle(ctx, ev)
	}))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// Handle dispatches one event. Events the engine rejects are dropped with a
// warning so they do not block the partition; transient failures are retried
// under Policy and then returned.
func (c *Controller) Handle(ctx context.Context, ev *event.Event) error {
	log := obs.WithTrace(ctx, c.Log).With(
		zap.String("event_id", ev.ID),
		zap.String("workspace_id", ev.WorkspaceID),
		zap.String("event_type", ev.Type),
	)

	req, err := toRequest(ev)
	if err != nil {
		mEvents.WithLabelValues("dropped").Inc()
		log.Warn("drop malformed event", zap.Error(err))
		return nil
	}

	var (
		adm *fanout.Admission
		ids []string
	)
	err = retry.Do(ctx, func() error {
		var aerr error
		adm, aerr = c.Fanout.Admit(ctx, req)
		return rejected(aerr)
	}, c.Policy)
	if err == nil {
		err = retry.Do(ctx, func() error {
			var derr error
			ids, derr = c.Fanout.Deliver(ctx, adm)
			return rejected(derr)
		}, c.Policy)
	}

	switch {
	case err == nil:
		mEvents.WithLabelValues("dispatched").Inc()
		log.Debug("event dispatched", zap.Int("created", len(ids)))
		return nil
	case retry.IsPermanent(err):
		mEvents.WithLabelValues("dropped").Inc()
		log.Warn("drop rejected event", zap.Error(err))
		return nil
	default:
		mEvents.WithLabelValues("failed").Inc()
		return fmt.Errorf("dispatch event %s: %w", ev.ID, err)
	}
}

func rejected(err error) error {
	if errors.Is(err, fanout.ErrInvalidRequest) || errors.Is(err, fanout.ErrInvalidWorkspace) {
		return retry.Permanent(err)
	}
	return err
}

func toRequest(ev *event.Event) (fanout.Request, error) {
	p, ok := notification.ParsePriority(ev.Priority)
	if !ok {
		return fanout.Request{}, fmt.Errorf("%w: priority %q", notification.ErrInvalidPriority, ev.Priority)
	}
	return fanout.Request{
		WorkspaceID: ev.WorkspaceID,
		EventType:   ev.Type,
		Title:       ev.Title,
		Body:        ev.Body,
		Priority:    p,
		Entity:      ev.Entity,
		Recipients:  ev.Recipients,
		Exclude:     ev.Exclude,
		ActorID:     ev.ActorID,
		DedupeKey:   ev.ID,
		ExpiresAt:   ev.ExpiresAt,
	}, nil
}
