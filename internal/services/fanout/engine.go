// Package fanout expands one workspace event into per-recipient notifications.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain"
	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/membership"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs"
	"github.com/NordCoder/Herald/internal/services/limiter"
	"github.com/NordCoder/Herald/internal/services/resolver"
)

var (
	ErrInvalidRequest   = errors.New("invalid dispatch request")
	ErrInvalidWorkspace = errors.New("workspace has no members")
)

var mOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "herald",
	Name:      "fanout_recipients_total",
	Help:      "Per-recipient dispatch outcomes.",
}, []string{"outcome"})

// Request is one event to fan out. Recipients nil means every current
// workspace member minus Exclude; a non-nil list is intersected with
// membership and Exclude is not applied.
type Request struct {
	WorkspaceID string
	EventType   string
	Title       string
	Body        string
	Priority    notification.Priority
	Entity      *notification.LinkedEntity
	Recipients  []string
	Exclude     []string
	ActorID     string
	DedupeKey   string
	ExpiresAt   *time.Time
}

func (r Request) validate() error {
	switch {
	case r.WorkspaceID == "":
		return fmt.Errorf("%w: workspace id is required", ErrInvalidRequest)
	case r.EventType == "":
		return fmt.Errorf("%w: event type is required", ErrInvalidRequest)
	case r.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	case !r.Priority.Valid():
		return fmt.Errorf("%w: %v", ErrInvalidRequest, notification.ErrInvalidPriority)
	}
	for _, id := range r.Recipients {
		if id == "" {
			return fmt.Errorf("%w: empty recipient id", ErrInvalidRequest)
		}
	}
	if r.Entity != nil && (r.Entity.Type == "" || r.Entity.ID == "") {
		return fmt.Errorf("%w: linked entity needs type and id", ErrInvalidRequest)
	}
	return nil
}

type Limiter interface {
	TryConsume(ctx context.Context, workspaceID string, limitPerMinute int) (bool, int, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, req resolver.Request) (resolver.Decision, error)
}

type Deps struct {
	Notifications notification.Repo
	Audit         audit.Repo
	Directory     membership.Directory
	Limiter       Limiter
	Resolver      Evaluator
	Tx            domain.Transactor
	Clock         clock.Clock
	Log           *zap.Logger
	// NewID defaults to uuid.NewString.
	NewID func() string
}

type Engine struct {
	Deps
	limit int
}

func New(d Deps, limitPerMinute int) *Engine {
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	d.Log = d.Log.With(zap.String("component", "fanout"))
	return &Engine{Deps: d, limit: limiter.Limit(limitPerMinute)}
}

// Admission is an event that passed validation and was charged against the
// workspace rate limit. Delivering it again after a failure does not charge
// the limit again.
type Admission struct {
	req         Request
	recipients  []string
	dropped     bool
	windowCount int
}

func (a *Admission) Recipients() []string { return a.recipients }

// Dropped reports that the rate limit refused the event.
func (a *Admission) Dropped() bool { return a.dropped }

// Dispatch admits req and delivers it. It returns the ids of the rows it
// created; recipients skipped by preference or by the rate limit are not
// errors, they are just absent.
func (e *Engine) Dispatch(ctx context.Context, req Request) ([]string, error) {
	a, err := e.Admit(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Deliver(ctx, a)
}

// Admit validates req, resolves its recipients and consumes one unit of the
// workspace limit unless the event is urgent. Call it once per event.
func (e *Engine) Admit(ctx context.Context, req Request) (*Admission, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := obs.Tracer("fanout").Start(ctx, "fanout.admit", trace.WithAttributes(
		attribute.String("workspace.id", req.WorkspaceID),
		attribute.String("event.type", req.EventType),
		attribute.String("priority", req.Priority.String()),
	))
	defer span.End()

	recipients, err := e.recipients(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("recipients.candidates", len(recipients)))
	a := &Admission{req: req, recipients: recipients}
	if len(recipients) == 0 || req.Priority == notification.PriorityUrgent {
		return a, nil
	}

	allowed, count, err := e.Limiter.TryConsume(ctx, req.WorkspaceID, e.limit)
	if err != nil {
		obs.Fail(span, "rate limit", err)
		return nil, err
	}
	a.dropped, a.windowCount = !allowed, count
	span.SetAttributes(attribute.Bool("rate_limited", a.dropped))
	return a, nil
}

// Deliver writes the rows of an admitted event, or the drop entry when the
// limit refused it. A retry after a partial failure relies on the dedupe key
// to skip rows already written.
func (e *Engine) Deliver(ctx context.Context, a *Admission) ([]string, error) {
	req := a.req
	ctx, span := obs.Tracer("fanout").Start(ctx, "fanout.deliver", trace.WithAttributes(
		attribute.String("workspace.id", req.WorkspaceID),
		attribute.Int("recipients.candidates", len(a.recipients)),
	))
	defer span.End()
	log := obs.WithTrace(ctx, e.Log).With(
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("event_type", req.EventType),
	)

	if len(a.recipients) == 0 {
		return []string{}, nil
	}
	if a.dropped {
		mOutcomes.WithLabelValues("rate_limited").Add(float64(len(a.recipients)))
		log.Info("dispatch dropped by rate limit", zap.Int("window_count", a.windowCount), zap.Int("recipients", len(a.recipients)))
		if err := e.auditDrop(ctx, req, a.windowCount, len(a.recipients)); err != nil {
			obs.Fail(span, "audit drop", err)
			return nil, err
		}
		return []string{}, nil
	}

	ids := make([]string, 0, len(a.recipients))
	for _, userID := range a.recipients {
		id, err := e.deliverTo(ctx, req, userID)
		if err != nil {
			obs.Fail(span, "dispatch", err)
			return ids, fmt.Errorf("dispatch to %s: %w", userID, err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	span.SetAttributes(attribute.Int("recipients.created", len(ids)))
	log.Debug("dispatched", zap.Int("candidates", len(a.recipients)), zap.Int("created", len(ids)))
	return ids, nil
}

func (e *Engine) recipients(ctx context.Context, req Request) ([]string, error) {
	members, err := e.Directory.Members(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWorkspace, req.WorkspaceID)
	}
	isMember := make(map[string]struct{}, len(members))
	for _, m := range members {
		isMember[m] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	if req.Recipients != nil {
		for _, u := range req.Recipients {
			if _, ok := isMember[u]; !ok {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
		return out, nil
	}

	for _, u := range req.Exclude {
		seen[u] = struct{}{}
	}
	for _, u := range members {
		if _, skip := seen[u]; skip {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

// deliverTo creates the row for one recipient, or returns "" when no channel
// is willing to take it.
func (e *Engine) deliverTo(ctx context.Context, req Request, userID string) (string, error) {
	rr := resolver.Request{
		UserID:      userID,
		WorkspaceID: req.WorkspaceID,
		EventType:   req.EventType,
		Priority:    req.Priority,
	}
	rr.Channel = notification.ChannelInApp
	inApp, err := e.Resolver.Evaluate(ctx, rr)
	if err != nil {
		return "", err
	}
	rr.Channel = notification.ChannelEmail
	email, err := e.Resolver.Evaluate(ctx, rr)
	if err != nil {
		return "", err
	}
	if !inApp.Allow && !email.Allow {
		mOutcomes.WithLabelValues("preference").Inc()
		e.Log.Debug("recipient skipped by preference",
			zap.String("user_id", userID), zap.String("reason", string(inApp.Reason)))
		return "", nil
	}

	now := e.Clock.Now()
	_, cat := notification.Classify(req.EventType)
	n := &notification.Notification{
		ID:          e.NewID(),
		RecipientID: userID,
		WorkspaceID: req.WorkspaceID,
		EventType:   req.EventType,
		Category:    cat,
		Title:       req.Title,
		Body:        req.Body,
		Entity:      req.Entity,
		Priority:    req.Priority,
		Status:      notification.StatusCreated,
		DedupeKey:   req.DedupeKey,
		CreatedAt:   now,
		ExpiresAt:   req.ExpiresAt,
	}
	if inApp.Deferred() {
		until := inApp.DeferUntil
		n.NextRetryAt = &until
	}

	var created bool
	err = e.Tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := e.Notifications.Insert(ctx, n)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		created = true
		return e.Audit.Append(ctx, &audit.Entry{
			ID:             e.NewID(),
			NotificationID: n.ID,
			WorkspaceID:    n.WorkspaceID,
			Action:         audit.ActionCreated,
			NewStatus:      notification.StatusCreated,
			Actor:          req.ActorID,
			Metadata:       map[string]any{"event_type": req.EventType, "priority": req.Priority.String()},
			CreatedAt:      now,
		})
	})
	if err != nil {
		return "", err
	}
	if !created {
		mOutcomes.WithLabelValues("duplicate").Inc()
		return "", nil
	}
	if inApp.Deferred() {
		mOutcomes.WithLabelValues("deferred").Inc()
	} else {
		mOutcomes.WithLabelValues("created").Inc()
	}
	return n.ID, nil
}

func (e *Engine) auditDrop(ctx context.Context, req Request, count, recipients int) error {
	err := e.Audit.Append(ctx, &audit.Entry{
		ID:          e.NewID(),
		WorkspaceID: req.WorkspaceID,
		Action:      audit.ActionRateLimited,
		Actor:       req.ActorID,
		Metadata: map[string]any{
			"event_type":   req.EventType,
			"priority":     req.Priority.String(),
			"window_count": count,
			"limit":        e.limit,
			"recipients":   recipients,
		},
		CreatedAt: e.Clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("audit rate limit drop: %w", err)
	}
	return nil
}
