// Package resolver decides, per recipient and channel, whether an event may
// notify and when.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/preference"
)

type Reason string

const (
	ReasonAllowed  Reason = "allowed"
	ReasonUrgent   Reason = "urgent"
	ReasonCategory Reason = "category_disabled"
	ReasonChannel  Reason = "channel_disabled"
	ReasonDigest   Reason = "digest"
	ReasonQuiet    Reason = "quiet_hours"
)

// Decision is the outcome for one (recipient, channel). A deferred decision
// allows the notification but holds delivery until DeferUntil.
type Decision struct {
	Allow      bool
	DeferUntil time.Time
	Reason     Reason
}

func (d Decision) Deferred() bool { return d.Allow && !d.DeferUntil.IsZero() }

type Request struct {
	UserID      string
	WorkspaceID string
	EventType   string
	Channel     notification.Channel
	Priority    notification.Priority
}

type Resolver struct {
	repo  preference.Repo
	tx    domain.Transactor
	clock clock.Clock
	log   *zap.Logger
}

func New(repo preference.Repo, tx domain.Transactor, clk clock.Clock, log *zap.Logger) *Resolver {
	return &Resolver{repo: repo, tx: tx, clock: clk, log: log.With(zap.String("component", "resolver"))}
}

// Effective returns the preference that applies to (user, workspace) without
// writing anything: the workspace row, else the global row, else the default.
func (r *Resolver) Effective(ctx context.Context, userID, workspaceID string) (preference.Preference, error) {
	if workspaceID != "" {
		p, err := r.repo.Get(ctx, userID, workspaceID)
		if err == nil {
			return *p, nil
		}
		if !errors.Is(err, preference.ErrNotFound) {
			return preference.Preference{}, fmt.Errorf("workspace preference: %w", err)
		}
	}
	p, err := r.repo.Get(ctx, userID, "")
	if err == nil {
		return *p, nil
	}
	if !errors.Is(err, preference.ErrNotFound) {
		return preference.Preference{}, fmt.Errorf("global preference: %w", err)
	}
	return preference.Default(userID, ""), nil
}

// Evaluate applies the rules in order: category opt-out (always honoured), then
// for non-urgent events the channel toggle, the email digest cadence and, for
// low and normal in-app events, quiet hours.
func (r *Resolver) Evaluate(ctx context.Context, req Request) (Decision, error) {
	p, err := r.Effective(ctx, req.UserID, req.WorkspaceID)
	if err != nil {
		return Decision{}, err
	}
	return decide(p, req, r.clock.Now()), nil
}

func decide(p preference.Preference, req Request, now time.Time) Decision {
	topic, _ := notification.Classify(req.EventType)
	if !p.Topics.Allows(topic) {
		return Decision{Reason: ReasonCategory}
	}
	if req.Priority == notification.PriorityUrgent {
		return Decision{Allow: true, Reason: ReasonUrgent}
	}
	if !p.ChannelEnabled(req.Channel) {
		return Decision{Reason: ReasonChannel}
	}
	// Digest batching is not built, so only instant cadence gets mail.
	if req.Channel == notification.ChannelEmail && p.Digest != preference.DigestInstant {
		return Decision{Reason: ReasonDigest}
	}
	if req.Channel == notification.ChannelInApp && req.Priority <= notification.PriorityNormal && p.Quiet.Active(now) {
		return Decision{Allow: true, DeferUntil: p.Quiet.Ends(now), Reason: ReasonQuiet}
	}
	return Decision{Allow: true, Reason: ReasonAllowed}
}

// ShouldNotify is true only when the event may be delivered right now.
func (r *Resolver) ShouldNotify(ctx context.Context, req Request) (bool, error) {
	d, err := r.Evaluate(ctx, req)
	if err != nil {
		return false, err
	}
	return d.Allow && d.DeferUntil.IsZero(), nil
}

// GetEffectivePreferences is Effective plus lazy creation of the user's
// global row on first access.
func (r *Resolver) GetEffectivePreferences(ctx context.Context, userID, workspaceID string) (preference.Preference, error) {
	p, err := r.Effective(ctx, userID, workspaceID)
	if err != nil {
		return preference.Preference{}, err
	}
	if p.Persisted {
		return p, nil
	}

	now := r.clock.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	stored, err := r.repo.CreateIfMissing(ctx, &p)
	if err != nil {
		return preference.Preference{}, fmt.Errorf("create default preference: %w", err)
	}
	r.log.Debug("created default preference", zap.String("user_id", userID))
	return *stored, nil
}

// UpdatePreferences applies patch on top of the effective values and stores
// the result in the (user, workspace) scope. workspaceID "" is the global row.
func (r *Resolver) UpdatePreferences(ctx context.Context, userID, workspaceID string, patch preference.Patch) (preference.Preference, error) {
	if err := patch.Validate(); err != nil {
		return preference.Preference{}, err
	}

	var out preference.Preference
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := r.Effective(ctx, userID, workspaceID)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		if !cur.Persisted || cur.WorkspaceID != workspaceID {
			cur.CreatedAt = now
		}
		cur.UserID, cur.WorkspaceID = userID, workspaceID
		patch.Apply(&cur)
		cur.UpdatedAt = now
		if err := r.repo.Upsert(ctx, &cur); err != nil {
			return fmt.Errorf("store preference: %w", err)
		}
		out = cur
		return nil
	})
	if err != nil {
		return preference.Preference{}, err
	}
	r.log.Info("preferences updated", zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
	return out, nil
}
