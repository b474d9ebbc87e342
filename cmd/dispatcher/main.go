package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/clock"
	config "github.com/NordCoder/Herald/internal/config/dispatcher"
	"github.com/NordCoder/Herald/internal/obs"
	"github.com/NordCoder/Herald/internal/obs/retry"
	kafkax "github.com/NordCoder/Herald/internal/repository/kafka"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/fanout"
	"github.com/NordCoder/Herald/internal/services/ingest"
	"github.com/NordCoder/Herald/internal/services/limiter"
	"github.com/NordCoder/Herald/internal/services/resolver"
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
	l.Info("starting dispatcher",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("topic", cfg.In.Topic),
		zap.String("group", cfg.In.GroupID),
	)

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

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)

	cons := kafkax.BootstrapConsumer(ctx, &cfg.In, l)
	defer func() { _ = cons.Close() }()

	// wiring
	clk := clock.System{}
	tx := pg.NewTransactor(db, l)
	eng := fanout.New(fanout.Deps{
		Notifications: pg.NewNotificationRepo(db),
		Audit:         pg.NewAuditRepo(db),
		Directory:     pg.NewMembershipRepo(db),
		Limiter:       limiter.New(pg.NewRateLimitRepo(db), clk),
		Resolver:      resolver.New(pg.NewPreferenceRepo(db), tx, clk, l),
		Tx:            tx,
		Clock:         clk,
		Log:           l,
	}, cfg.Engine.RateLimitPerMinute)

	ctrl := &ingest.Controller{
		Log:    l.With(zap.String("component", "ingest")),
		Sub:    cons,
		Fanout: eng,
		Policy: retry.DefaultIngestPolicy(l),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("ingest stopped", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
