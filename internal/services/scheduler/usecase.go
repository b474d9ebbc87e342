package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs"
	"github.com/NordCoder/Herald/internal/services/delivery"
	"github.com/NordCoder/Herald/internal/services/resolver"
)

type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomePartial    Outcome = "partial"
	OutcomeNoChannel  Outcome = "no_channel"
	OutcomeRetrying   Outcome = "retrying"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeDeferred   Outcome = "deferred"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeError      Outcome = "error"
)

type Result struct {
	ID      string
	Outcome Outcome
	Err     error
}

type Transitions interface {
	MarkDelivered(ctx context.Context, id string, sent ...notification.Channel) (bool, error)
	MarkFailed(ctx context.Context, id string, cause error, sent ...notification.Channel) (delivery.FailOutcome, error)
	MaxAttempts() int
}

type Evaluator interface {
	Evaluate(ctx context.Context, req resolver.Request) (resolver.Decision, error)
}

type Channels interface {
	Channels() []notification.Channel
	SendVia(ctx context.Context, n *notification.Notification, allowed map[notification.Channel]bool) ([]notification.Channel, error)
}

type Usecase struct {
	Repo        notification.Repo
	Machine     Transitions
	Resolver    Evaluator
	Channels    Channels
	Clock       clock.Clock
	Lease       time.Duration
	SendTimeout time.Duration
	Log         *zap.Logger
}

// ProcessDue claims up to batchSize due rows and makes one delivery attempt
// for each. Claimed rows are invisible to concurrent sweepers until their
// lease runs out or a transition releases them.
func (u *Usecase) ProcessDue(ctx context.Context, batchSize int) ([]Result, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	tr := obs.Tracer("scheduler")
	ctx, span := tr.Start(ctx, "scheduler.tick", trace.WithAttributes(attribute.Int("batch.limit", batchSize)))
	defer span.End()

	due, err := u.Repo.ClaimDue(ctx, notification.ClaimOptions{
		Now:         u.Clock.Now(),
		Limit:       batchSize,
		MaxAttempts: u.Machine.MaxAttempts(),
		Lease:       u.Lease,
	})
	if err != nil {
		obs.Fail(span, "claim", err)
		return nil, fmt.Errorf("claim due: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.claimed", len(due)))

	results := make([]Result, 0, len(due))
	for _, n := range due {
		res := u.attempt(ctx, tr, n)
		results = append(results, res)
	}
	return results, nil
}

func (u *Usecase) attempt(ctx context.Context, tr trace.Tracer, n *notification.Notification) Result {
	ctx, span := tr.Start(ctx, "scheduler.deliver", trace.WithAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("priority", n.Priority.String()),
		attribute.Int("retry_count", n.RetryCount),
	))
	defer span.End()
	log := obs.WithTrace(ctx, u.Log).With(zap.String("notification_id", n.ID))

	allowed, deferUntil, err := u.plan(ctx, n)
	if err != nil {
		span.RecordError(err)
		return Result{ID: n.ID, Outcome: OutcomeError, Err: err}
	}
	if !deferUntil.IsZero() {
		if err := u.Repo.Defer(ctx, n.ID, deferUntil); err != nil {
			span.RecordError(err)
			return Result{ID: n.ID, Outcome: OutcomeError, Err: err}
		}
		log.Debug("deferred by quiet hours", zap.Time("until", deferUntil))
		return Result{ID: n.ID, Outcome: OutcomeDeferred}
	}

	if !anyAllowed(allowed) {
		if _, err := u.Machine.MarkDelivered(ctx, n.ID); err != nil {
			return u.transitionErr(span, n.ID, err)
		}
		span.SetAttributes(attribute.String("delivery.status", "no_channel"))
		log.Debug("no eligible channel")
		return Result{ID: n.ID, Outcome: OutcomeNoChannel}
	}

	sent, sendErr := u.send(ctx, n, allowed)
	if sendErr == nil {
		if _, err := u.Machine.MarkDelivered(ctx, n.ID, sent...); err != nil {
			return u.transitionErr(span, n.ID, err)
		}
		span.SetAttributes(attribute.String("delivery.status", "ok"))
		return Result{ID: n.ID, Outcome: OutcomeDelivered}
	}

	span.RecordError(sendErr)
	out, err := u.Machine.MarkFailed(ctx, n.ID, sendErr, sent...)
	if err != nil {
		return u.transitionErr(span, n.ID, err)
	}
	log = log.With(zap.Int("retry_count", out.RetryCount), zap.Bool("partial", out.Partial))
	switch {
	case out.Exhausted:
		log.Warn("delivery exhausted", zap.Error(sendErr))
		return Result{ID: n.ID, Outcome: OutcomeExhausted, Err: sendErr}
	case out.Partial:
		log.Warn("channel failed", zap.Error(sendErr))
		return Result{ID: n.ID, Outcome: OutcomePartial, Err: sendErr}
	}
	log.Warn("delivery failed", zap.Error(sendErr))
	return Result{ID: n.ID, Outcome: OutcomeRetrying, Err: sendErr}
}

// plan re-reads preferences at attempt time for every channel that does not
// have the row yet. A low or normal in-app notification inside quiet hours
// defers the whole attempt.
func (u *Usecase) plan(ctx context.Context, n *notification.Notification) (map[notification.Channel]bool, time.Time, error) {
	allowed := make(map[notification.Channel]bool)
	for _, ch := range u.Channels.Channels() {
		if n.HasDelivered(ch) {
			continue
		}
		d, err := u.Resolver.Evaluate(ctx, resolver.Request{
			UserID:      n.RecipientID,
			WorkspaceID: n.WorkspaceID,
			EventType:   n.EventType,
			Channel:     ch,
			Priority:    n.Priority,
		})
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("evaluate %s: %w", ch, err)
		}
		if d.Deferred() {
			return nil, d.DeferUntil, nil
		}
		allowed[ch] = d.Allow
	}
	return allowed, time.Time{}, nil
}

func anyAllowed(allowed map[notification.Channel]bool) bool {
	for _, ok := range allowed {
		if ok {
			return true
		}
	}
	return false
}

// send bounds the channel calls; running out of time is a failure like any
// other.
func (u *Usecase) send(ctx context.Context, n *notification.Notification, allowed map[notification.Channel]bool) ([]notification.Channel, error) {
	if u.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.SendTimeout)
		defer cancel()
	}
	sent, err := u.Channels.SendVia(ctx, n, allowed)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return sent, err
}

func (u *Usecase) transitionErr(span trace.Span, id string, err error) Result {
	if delivery.Superseded(err) {
		span.SetAttributes(attribute.String("delivery.status", "superseded"))
		return Result{ID: id, Outcome: OutcomeSuperseded}
	}
	span.RecordError(err)
	if !errors.Is(err, context.Canceled) {
		u.Log.Error("transition failed", zap.String("notification_id", id), zap.Error(err))
	}
	return Result{ID: id, Outcome: OutcomeError, Err: err}
}
