package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	config "github.com/NordCoder/Herald/internal/config/retention"
	"github.com/NordCoder/Herald/internal/obs"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/retention"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("HERALD_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(*cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	cleaner := retention.NewCleaner(
		pg.NewNotificationRepo(db),
		pg.NewRateLimitRepo(db),
		pg.NewAuditRepo(db),
		retention.WithTransactor(pg.NewTransactor(db, l)),
		retention.WithClock(clock.System{}),
		retention.WithLogger(l),
		retention.WithHorizons(cfg.Horizons),
		retention.WithSchedules(cfg.Schedules),
	)

	if cfg.RunOnce {
		if err := cleaner.RunOnce(ctx); err != nil {
			l.Fatal("retention run", zap.Error(err))
		}
		l.Info("retention run complete")
		return
	}

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)

	if err := cleaner.Start(ctx); err != nil {
		l.Fatal("retention schedule", zap.Error(err))
	}
	l.Info("retention started",
		zap.Duration("archive_after", cfg.Horizons.ArchiveAfter),
		zap.Duration("audit_horizon", cfg.Horizons.Audit),
	)

	<-ctx.Done()

	select {
	case <-cleaner.Stop().Done():
	case <-time.After(30 * time.Second):
		l.Warn("retention jobs still running at shutdown")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
