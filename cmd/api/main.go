package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/access"
	"github.com/NordCoder/Herald/internal/clock"
	config "github.com/NordCoder/Herald/internal/config/api"
	"github.com/NordCoder/Herald/internal/httpapi"
	"github.com/NordCoder/Herald/internal/obs"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/delivery"
	"github.com/NordCoder/Herald/internal/services/fanout"
	"github.com/NordCoder/Herald/internal/services/limiter"
	"github.com/NordCoder/Herald/internal/services/query"
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
	l.Info("starting api", zap.String("env", cfg.App.Env), zap.String("addr", cfg.Server.HTTPAddr))

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

	// wiring
	clk := clock.System{}
	tx := pg.NewTransactor(db, l)
	notifs := pg.NewNotificationRepo(db)
	audits := pg.NewAuditRepo(db)
	members := pg.NewMembershipRepo(db)
	auth := access.NewMembershipAuthorizer(members)

	res := resolver.New(pg.NewPreferenceRepo(db), tx, clk, l)
	eng := fanout.New(fanout.Deps{
		Notifications: notifs,
		Audit:         audits,
		Directory:     members,
		Limiter:       limiter.New(pg.NewRateLimitRepo(db), clk),
		Resolver:      res,
		Tx:            tx,
		Clock:         clk,
		Log:           l,
	}, cfg.Engine.RateLimitPerMinute)
	machine := delivery.New(delivery.Deps{
		Notifications: notifs,
		Audit:         audits,
		Tx:            tx,
		Clock:         clk,
		Log:           l,
	}, delivery.Config{MaxAttempts: cfg.Engine.MaxAttempts, BackoffCap: cfg.Engine.BackoffCap})
	feed := query.New(notifs, audits, tx, auth, clk, l)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: httpapi.NewHandler(httpapi.Deps{
			Dispatcher:  eng,
			Feed:        feed,
			Lifecycle:   machine,
			Preferences: res,
			Auth:        auth,
			Log:         l,
		}),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		l.Info("shutdown signal")
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
