package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type Config struct {
	Tick      time.Duration `mapstructure:"tick"`
	BatchSize int           `mapstructure:"batch_size"`
	Workers   int           `mapstructure:"workers"`
}

var (
	mClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "herald", Name: "scheduler_claimed_total", Help: "Rows claimed by retry sweeps.",
	})
	mOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald", Name: "scheduler_attempts_total", Help: "Delivery attempts by outcome.",
	}, []string{"outcome"})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "herald", Name: "scheduler_errors_total", Help: "Errors in the sweep loop.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "herald", Name: "scheduler_tick_duration_seconds", Help: "Sweep tick duration.",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg Config
}

func New(log *zap.Logger, uc *Usecase, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Runner{Log: log.With(zap.String("component", "scheduler")), UC: uc, Cfg: cfg}
}

// tick runs one sweep and reports whether the batch came back full, in which
// case the worker goes again without waiting.
func (r *Runner) tick(ctx context.Context) bool {
	start := time.Now()
	defer func() { mTickDur.Observe(time.Since(start).Seconds()) }()

	results, err := r.UC.ProcessDue(ctx, r.Cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			mErr.Inc()
			r.Log.Warn("tick error", zap.Error(err))
		}
		return false
	}
	if len(results) == 0 {
		return false
	}

	mClaimed.Add(float64(len(results)))
	counts := make(map[Outcome]int)
	for _, res := range results {
		counts[res.Outcome]++
		mOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}
	r.Log.Debug("swept batch",
		zap.Int("claimed", len(results)),
		zap.Int("delivered", counts[OutcomeDelivered]),
		zap.Int("partial", counts[OutcomePartial]),
		zap.Int("no_channel", counts[OutcomeNoChannel]),
		zap.Int("retrying", counts[OutcomeRetrying]),
		zap.Int("exhausted", counts[OutcomeExhausted]),
		zap.Int("deferred", counts[OutcomeDeferred]),
	)
	return r.Cfg.BatchSize > 0 && len(results) >= r.Cfg.BatchSize
}

func (r *Runner) worker(ctx context.Context, id int) {
	r.Log.Info("scheduler worker started", zap.Int("worker", id), zap.Duration("tick", r.Cfg.Tick))
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()

	for {
		if full := r.tick(ctx); full && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			r.Log.Info("scheduler worker stop", zap.Int("worker", id))
			return
		case <-ticker.C:
		}
	}
}

// Run blocks until ctx is done. Workers compete for rows through the claim,
// never through each other.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.Cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}
