package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oceanscan/geofetch/internal/auth"
	"github.com/oceanscan/geofetch/internal/cleanup"
	"github.com/oceanscan/geofetch/internal/config"
	"github.com/oceanscan/geofetch/internal/download"
	"github.com/oceanscan/geofetch/internal/fetch"
	"github.com/oceanscan/geofetch/internal/http/rest"
	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/notifier"
	"github.com/oceanscan/geofetch/internal/provider"
	"github.com/oceanscan/geofetch/internal/storage/sqlite"
	"github.com/oceanscan/geofetch/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("geofetch starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Load Provider Registry
	registry, err := provider.LoadRegistry(cfg.ProviderSettingsPath, provider.NewCredentialResolver())
	if err != nil {
		return fmt.Errorf("failed to load provider settings: %w", err)
	}

	logger.Info("provider settings loaded",
		"providers", len(registry.Profiles()),
		"unmatched_url_policy", string(registry.Policy()),
	)

	// =========================================================================
	// Start Orchestrator
	orchestrator := buildOrchestrator(cfg, registry, repo, tel)

	// =========================================================================
	// Start API Service
	queue := make(chan rest.Batch, cfg.QueueSize)

	serverErrors := make(chan error, 1)
	server := setupServer(ctx, cfg, queue, repo, tel)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg)

	logger.Info("waiting for download requests...",
		"download_dir", cfg.DownloadDir,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Start Main Loop
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return ctx.Err()
		case batch := <-queue:
			processBatch(ctx, orchestrator, notif, batch)
		}
	}
}

func buildOrchestrator(cfg *config.Config, registry *provider.Registry, repo *sqlite.InstrumentedDownloadRepository, tel *telemetry.Telemetry) *download.Orchestrator {
	httpFetcher := download.NewInstrumentedFetcher(
		fetch.NewHTTPFetcher(cfg.Download.HTTPTimeout, cfg.Download.InsecureSkipVerify), tel, "http")
	ftpFetcher := download.NewInstrumentedFetcher(
		fetch.NewFTPFetcher(cfg.Download.FTPTimeout), tel, "ftp")

	fetchers := map[string]download.Fetcher{
		"http":  httpFetcher,
		"https": httpFetcher,
		"ftp":   ftpFetcher,
	}

	return download.NewOrchestrator(registry, fetchers, repo, tel, download.Options{
		TargetDir:      cfg.DownloadDir,
		MaxAttempts:    cfg.Download.MaxAttempts,
		InitialBackoff: cfg.Download.InitialBackoff,
		MaxBackoff:     cfg.Download.MaxBackoff,
		MaxGlobal:      cfg.Download.MaxGlobal,
		Auth: auth.Options{
			RefreshMargin:    cfg.Auth.RefreshMargin,
			MaxTokenAttempts: cfg.Auth.MaxTokenAttempts,
			OnRefresh: func(status string) {
				tel.RecordTokenRefresh(context.Background(), status)
			},
		},
	})
}

func processBatch(ctx context.Context, orchestrator *download.Orchestrator, notif notifier.Notifier, batch rest.Batch) {
	logger := logctx.LoggerFromContext(ctx).With("batch_id", batch.ID)

	outcomes := orchestrator.Batch(ctx, batch.Requests)

	for _, outcome := range outcomes {
		switch outcome.Status {
		case download.StatusSuccess:
			logger.InfoContext(ctx, "download succeeded",
				"url", outcome.URL, "path", outcome.Path, "attempts", outcome.Attempts)

			notify(ctx, notif, "✅ Download finished: "+outcome.URL)
		case download.StatusFailed:
			logger.ErrorContext(ctx, "download failed",
				"url", outcome.URL, "reason", outcome.Reason, "attempts", outcome.Attempts, "err", outcome.Err)

			notify(ctx, notif, "❌ Download failed: "+outcome.URL+" ("+outcome.Reason+")")
		}
	}
}

func notify(ctx context.Context, notif notifier.Notifier, content string) {
	if notif == nil {
		return
	}

	if err := notif.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "err", err)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, queue chan<- rest.Batch, repo *sqlite.InstrumentedDownloadRepository, tel *telemetry.Telemetry) *http.Server {
	handler := rest.NewDownloadsHandler(cfg.Web.Username, cfg.Web.Password, queue, repo)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Mount("/api", handler.Routes())
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo *sqlite.InstrumentedDownloadRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.DeleteExpiredDownloads(ctx, repo, cfg.KeepDownloadedFor); err != nil {
					logger.Error("failed to delete expired downloads", "err", err)
				}
			}
		}
	}()
}
