package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/app"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "Apply database migrations before serving")
	flag.Parse()

	if err := run(*migrate); err != nil {
		fmt.Fprintf(os.Stderr, "tenantguard: %v\n", err)
		os.Exit(1)
	}
}

func run(migrate bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "tenantguard").
		WithField("version", version)
	ctx := observability.WithLogger(context.Background(), logger)

	otel, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cfg.Observability.OTelEnabled {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		a.Metrics.WithOTel(otelMetrics)
	}
	if migrate || cfg.Database.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	verifier, err := a.Verifier(ctx)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      a.Handler(verifier),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := a.HealthChecker(version)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(a.PromRegistry))
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := cron.New()
	if spec := cfg.Audit.ReplaySchedule; spec != "" && a.DeadLetters != nil {
		_, err := scheduler.AddFunc(spec, func() {
			defer observability.RecoverPanic(logger, "dead letter replay")
			replayCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			result, err := a.ReplayDeadLetters(replayCtx)
			if err != nil {
				logger.WithError(err).Error("Dead letter replay failed")
				return
			}
			if result.Replayed > 0 || result.Failed > 0 {
				logger.WithFields(map[string]interface{}{
					"replayed": result.Replayed,
					"failed":   result.Failed,
				}).Info("Dead letter replay complete")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid replay schedule %q: %w", spec, err)
		}
	}
	scheduler.Start()

	watchCtx, stopWatch := context.WithCancel(ctx)
	if cfg.Billing.PlansFile != "" {
		if err := a.Plans.Watch(watchCtx, logger); err != nil {
			logger.WithError(err).Warn("Plan catalog changes will not be picked up")
		}
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		stopWatch()
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("app", a.Close)
	shutdown.Register("telemetry", otel.Shutdown)

	go func() {
		defer observability.RecoverPanic(logger, "health server")
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()
	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.Infof("TenantGuard listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForSignal()
}
