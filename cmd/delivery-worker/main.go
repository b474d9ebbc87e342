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

	"github.com/NordCoder/Herald/internal/channel"
	"github.com/NordCoder/Herald/internal/clock"
	config "github.com/NordCoder/Herald/internal/config/delivery"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs"
	kafkax "github.com/NordCoder/Herald/internal/repository/kafka"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/delivery"
	"github.com/NordCoder/Herald/internal/services/resolver"
	"github.com/NordCoder/Herald/internal/services/scheduler"
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
	l.Info("starting delivery worker",
		zap.Duration("tick", cfg.Scheduler.Tick),
		zap.Int("batch_size", cfg.Scheduler.BatchSize),
		zap.Int("workers", cfg.Scheduler.Workers),
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

	// kafka live bus
	live := kafkax.TopicSpec{
		Name:              cfg.Live.Topic,
		NumPartitions:     cfg.Live.Partitions,
		ReplicationFactor: cfg.Live.ReplicationFactor,
	}
	if err := kafkax.EnsureTopics(ctx, cfg.Live.Brokers, []kafkax.TopicSpec{live}, 5*time.Second, l); err != nil {
		l.Warn("ensure live topic", zap.Error(err))
	}
	prod := kafkax.NewProducer(cfg.Live.Brokers, cfg.Live.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()

	// channels
	channels := channel.Set{
		{Channel: notification.ChannelInApp, Sender: channel.NewPush(kafkax.NewLiveEventsKafka(prod), l)},
	}
	if cfg.SMTP.Addr != "" {
		channels = append(channels, channel.Route{
			Channel: notification.ChannelEmail,
			Sender:  channel.NewEmail(channel.NewMailer(cfg.SMTP, l), pg.NewUserRepo(db), l),
		})
	} else {
		l.Info("smtp not configured, email channel disabled")
	}

	// wiring
	clk := clock.System{}
	tx := pg.NewTransactor(db, l)
	notifs := pg.NewNotificationRepo(db)
	machine := delivery.New(delivery.Deps{
		Notifications: notifs,
		Audit:         pg.NewAuditRepo(db),
		Tx:            tx,
		Clock:         clk,
		Log:           l,
	}, delivery.Config{MaxAttempts: cfg.Engine.MaxAttempts, BackoffCap: cfg.Engine.BackoffCap})

	uc := &scheduler.Usecase{
		Repo:        notifs,
		Machine:     machine,
		Resolver:    resolver.New(pg.NewPreferenceRepo(db), tx, clk, l),
		Channels:    channels,
		Clock:       clk,
		Lease:       cfg.Engine.Lease,
		SendTimeout: cfg.Engine.SendTimeout,
		Log:         l,
	}
	runner := scheduler.New(l, uc, cfg.Scheduler)

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
