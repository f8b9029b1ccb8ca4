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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// Validation only; tokens are issued by the identity service
const accessTokenExpiry = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("gatekeeper exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Bool("archive", cfg.Database.Enabled),
		slog.Bool("alerts", cfg.Alerts.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = reg
	}
	ipConfig := cfg.Server.IPConfig()

	// Optional downstream sinks
	var (
		db       *database.DB
		archive  services.EventArchive
		notifier services.AlertNotifier
		health   routes.HealthChecker
	)

	if cfg.Database.Enabled {
		if err := database.Migrate(ctx, cfg.Database.DSN(), logger); err != nil {
			return err
		}
		db, err = database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to archive database: %w", err)
		}
		defer db.Close()

		archive = repositories.NewSecurityEventRepository(db)
		health = db
	}

	minSeverity, err := models.ParseSeverity(cfg.Alerts.MinSeverity)
	if err != nil {
		return fmt.Errorf("invalid ALERTS_MIN_SEVERITY: %w", err)
	}
	if cfg.Alerts.Enabled {
		ses, err := services.NewSESAlertNotifier(ctx, cfg.Alerts.Region, cfg.Alerts.From, cfg.Alerts.Recipients, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize alert notifier: %w", err)
		}
		notifier = ses
	}

	forwarder := services.NewEventForwarder(services.EventForwarderConfig{
		QueueSize:         cfg.Security.EventQueueSize,
		MinNotifySeverity: minSeverity,
	}, archive, notifier, m, logger)

	// Admission state
	limiter, err := services.NewRateLimitService(services.RateLimitConfig{}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	activity := services.NewActivityService(services.ActivityConfig{}, logger)
	monitor := services.NewSecurityMonitoringService(services.SecurityMonitoringConfig{
		ThreatLookback: cfg.Security.ThreatLookback,
		MaxEvents:      cfg.Security.MaxEvents,
	}, forwarder, m, logger)
	audit := services.NewAuditService(pkglogger.NewAuditLogger(logger), monitor, logger)

	cleanupManager := background.NewCleanupManager(limiter, activity, monitor, m, logger, cfg.Security.SweepInterval)
	scanner, err := background.NewThreatScanner(monitor, cfg.Security.ThreatScanSchedule, logger)
	if err != nil {
		return err
	}

	router := routes.NewRouter(routes.Dependencies{
		Logger:         logger,
		Env:            cfg.Server.Env,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		IPConfig:       ipConfig,
		TokenManager:   auth.NewTokenManager(cfg.Auth.JWTSecret, accessTokenExpiry),
		Admission: middleware.AdmissionConfig{
			Limiter:  limiter,
			Activity: activity,
			Sink:     monitor,
			IPConfig: ipConfig,
			Metrics:  m,
		},
		AuditCapture: middleware.AuditCaptureConfig{
			Audit:     audit,
			IPConfig:  ipConfig,
			BodyLimit: cfg.Security.AuditBodyLimit,
		},
		AdminRateLimit: middleware.AdminRateLimitConfig{
			RequestsPerMinute: cfg.Security.AdminRequestsPerMinute,
			IPConfig:          ipConfig,
		},
		Security:    handlers.NewSecurityHandler(monitor, ipConfig, logger),
		Gatherer:    gatherer,
		MetricsPath: cfg.Metrics.Path,
		Archive:     health,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The forwarder outlives the server so events from in-flight requests are delivered
	forwarderCtx, stopForwarder := context.WithCancel(context.Background())
	defer stopForwarder()

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		cleanupManager.Start(gctx)
		return nil
	})

	g.Go(func() error {
		return scanner.Run(gctx)
	})

	g.Go(func() error {
		return forwarder.Run(forwarderCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		defer stopForwarder()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
