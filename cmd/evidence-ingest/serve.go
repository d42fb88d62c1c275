package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/welldanyogia/evidence-ingest/internal/api"
	"github.com/welldanyogia/evidence-ingest/internal/api/handlers"
	"github.com/welldanyogia/evidence-ingest/internal/api/middleware"
	"github.com/welldanyogia/evidence-ingest/internal/config"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/lock"
	"github.com/welldanyogia/evidence-ingest/internal/notify"
	"github.com/welldanyogia/evidence-ingest/internal/websocket"
)

const (
	shutdownTimeout        = 30 * time.Second
	rateLimitCleanupPeriod = 5 * time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background ingestion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(os.Stdout, true)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.logger
	log.Info("Starting evidence ingestion server...")

	checks := map[string]handlers.Pinger{}
	svcCfg := a.serviceConfig()

	if a.cfg.RedisURL != "" {
		locker, err := lock.NewRedisFromURL(ctx, a.cfg.RedisURL, lock.DefaultTTL)
		if err != nil {
			return err
		}
		defer locker.Close()
		svcCfg.Locker = locker
		checks["redis"] = handlers.PingFunc(locker.Ping)
		log.Info("using redis source locks")
	}

	var reporter *notify.SentryReporter
	if a.cfg.SentryDSN != "" {
		reporter, err = notify.NewSentryReporter(sentry.ClientOptions{
			Dsn:         a.cfg.SentryDSN,
			Environment: a.cfg.AppEnv,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer reporter.Flush()
		svcCfg.Reporter = reporter
	}

	if a.cfg.NotificationsEnabled() {
		svcCfg.Notifier = notify.NewSMTPNotifier(a.cfg.SMTPNotifyAddr, a.cfg.NotifyFrom, a.cfg.NotifyTo, log)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(log)
	go hub.Run(hubCtx)
	svcCfg.Progress = hub

	service := ingest.NewService(svcCfg)
	if _, err := service.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}

	limiter := middleware.NewIPRateLimiter(a.cfg.RateLimitRequests, a.cfg.RateLimitBurst)
	go limiter.RunCleanup(hubCtx, rateLimitCleanupPeriod, log)

	router := api.NewRouter(&api.RouterConfig{
		DB:             a.db,
		Service:        service,
		Jobs:           a.jobs,
		Emails:         a.emails,
		Attachments:    a.attachments,
		Hub:            hub,
		HealthChecks:   checks,
		Audit:          a.audit,
		Logger:         log,
		APIKey:         a.cfg.APIKey,
		AllowedOrigins: config.SplitList(a.cfg.AllowedOrigins),
		Production:     a.cfg.IsProduction(),
		Limiter:        limiter,
	})

	addr := fmt.Sprintf(":%d", a.cfg.APIPort)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", slog.String("addr", addr))
		if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.Any("error", err))
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Error("running jobs did not stop in time", slog.Any("error", err))
	}
	log.Info("Server stopped")
	return nil
}
