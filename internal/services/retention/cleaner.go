// Package retention keeps storage bounded: it archives old read
// notifications, purges expired ones and prunes rate-limit windows and audit
// entries past their horizons. Every job is idempotent and safe to run next
// to live traffic.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain"
	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/ratelimit"
)

const (
	JobArchiveRead   = "archive_read"
	JobPurgeExpired  = "purge_expired"
	JobPruneWindows  = "prune_rate_windows"
	JobPruneAudit    = "prune_audit"
	defaultArchive   = 30 * 24 * time.Hour
	defaultWindows   = 5 * time.Minute
	defaultAudit     = 365 * 24 * time.Hour
	defaultSpecFast  = "@every 1m"
	defaultSpecHour  = "@hourly"
	defaultSpecDaily = "@daily"
)

type Horizons struct {
	ArchiveAfter time.Duration `mapstructure:"archive_after"`
	RateWindows  time.Duration `mapstructure:"rate_windows"`
	Audit        time.Duration `mapstructure:"audit"`
}

type Schedules struct {
	Archive string `mapstructure:"archive"`
	Expiry  string `mapstructure:"expiry"`
	Windows string `mapstructure:"windows"`
	Audit   string `mapstructure:"audit"`
}

type Cleaner struct {
	notifications notification.Repo
	windows       ratelimit.Repo
	audit         audit.Repo

	tx       domain.Transactor
	newID    func() string
	cron     *cron.Cron
	clock    clock.Clock
	log      *zap.Logger
	horizons Horizons
	specs    Schedules
}

type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(cl *Cleaner) {
		if c != nil {
			cl.cron = c
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(cl *Cleaner) {
		if c != nil {
			cl.clock = c
		}
	}
}

// WithTransactor runs each purge together with its audit entries.
func WithTransactor(tx domain.Transactor) Option {
	return func(cl *Cleaner) {
		if tx != nil {
			cl.tx = tx
		}
	}
}

// WithIDs overrides how audit entry ids are made; uuid.NewString by default.
func WithIDs(f func() string) Option {
	return func(cl *Cleaner) {
		if f != nil {
			cl.newID = f
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(cl *Cleaner) {
		if l != nil {
			cl.log = l
		}
	}
}

// WithHorizons overrides the non-zero horizons in h.
func WithHorizons(h Horizons) Option {
	return func(cl *Cleaner) {
		if h.ArchiveAfter > 0 {
			cl.horizons.ArchiveAfter = h.ArchiveAfter
		}
		if h.RateWindows > 0 {
			cl.horizons.RateWindows = h.RateWindows
		}
		if h.Audit > 0 {
			cl.horizons.Audit = h.Audit
		}
	}
}

// WithSchedules overrides the non-empty cron specs in s.
func WithSchedules(s Schedules) Option {
	return func(cl *Cleaner) {
		if s.Archive != "" {
			cl.specs.Archive = s.Archive
		}
		if s.Expiry != "" {
			cl.specs.Expiry = s.Expiry
		}
		if s.Windows != "" {
			cl.specs.Windows = s.Windows
		}
		if s.Audit != "" {
			cl.specs.Audit = s.Audit
		}
	}
}

func NewCleaner(n notification.Repo, w ratelimit.Repo, a audit.Repo, opts ...Option) *Cleaner {
	cl := &Cleaner{
		notifications: n,
		windows:       w,
		audit:         a,
		newID:         uuid.NewString,
		clock:         clock.System{},
		log:           zap.NewNop(),
		horizons: Horizons{
			ArchiveAfter: defaultArchive,
			RateWindows:  defaultWindows,
			Audit:        defaultAudit,
		},
		specs: Schedules{
			Archive: defaultSpecHour,
			Expiry:  defaultSpecFast,
			Windows: defaultSpecFast,
			Audit:   defaultSpecDaily,
		},
	}
	for _, opt := range opts {
		opt(cl)
	}
	cl.log = cl.log.With(zap.String("component", "retention"))
	if cl.cron == nil {
		l := cronLogger{cl.log.Sugar()}
		cl.cron = cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		)
	}
	return cl
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context, now time.Time) (int64, error)
}

func (c *Cleaner) jobs() []job {
	return []job{
		{JobArchiveRead, c.specs.Archive, func(ctx context.Context, now time.Time) (int64, error) {
			return c.notifications.ArchiveRead(ctx, now.Add(-c.horizons.ArchiveAfter), now)
		}},
		{JobPurgeExpired, c.specs.Expiry, c.purgeExpired},
		{JobPruneWindows, c.specs.Windows, func(ctx context.Context, now time.Time) (int64, error) {
			return c.windows.DeleteOlderThan(ctx, now.Add(-c.horizons.RateWindows))
		}},
		{JobPruneAudit, c.specs.Audit, func(ctx context.Context, now time.Time) (int64, error) {
			return c.audit.DeleteOlderThan(ctx, now.Add(-c.horizons.Audit))
		}},
	}
}

// purgeExpired hard-deletes expired rows and leaves a deleted entry for each,
// since the row itself is gone afterwards.
func (c *Cleaner) purgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	run := func(ctx context.Context) error {
		removed, err := c.notifications.PurgeExpired(ctx, now)
		if err != nil {
			return err
		}
		for _, rm := range removed {
			if err := c.audit.Append(ctx, &audit.Entry{
				ID:             c.newID(),
				NotificationID: rm.ID,
				WorkspaceID:    rm.WorkspaceID,
				Action:         audit.ActionDeleted,
				PrevStatus:     rm.Status,
				Metadata:       map[string]any{"reason": "expired"},
				CreatedAt:      now,
			}); err != nil {
				return fmt.Errorf("audit purge of %s: %w", rm.ID, err)
			}
		}
		n = int64(len(removed))
		return nil
	}
	var err error
	if c.tx == nil {
		err = run(ctx)
	} else {
		err = c.tx.WithTx(ctx, run)
	}
	return n, err
}

func (c *Cleaner) exec(ctx context.Context, j job) error {
	start := time.Now()
	n, err := j.run(ctx, c.clock.Now())
	jobDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
	if err != nil {
		jobErrors.WithLabelValues(j.name).Inc()
		return fmt.Errorf("%s: %w", j.name, err)
	}
	rowsAffected.WithLabelValues(j.name).Add(float64(n))
	if n > 0 {
		c.log.Info("retention job done", zap.String("job", j.name), zap.Int64("rows", n))
	}
	return nil
}

// Start registers every job and launches the scheduler. Jobs run with ctx
// until Stop.
func (c *Cleaner) Start(ctx context.Context) error {
	for _, j := range c.jobs() {
		j := j
		if _, err := c.cron.AddFunc(j.spec, func() {
			if err := c.exec(ctx, j); err != nil {
				c.log.Warn("retention job failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	c.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs
// finish.
func (c *Cleaner) Stop() context.Context {
	return c.cron.Stop()
}

// RunOnce executes every job sequentially and joins their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, c.exec(ctx, j))
	}
	return errs
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}
