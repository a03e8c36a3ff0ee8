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

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/bot"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/classify"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/config"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/dc/qbittorrent"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/dispatcher"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/logctx"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/notifier"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/telemetry"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/tracker"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("tg-qbt-bot starting...", "log_level", cfg.LogLevel)

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
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: "tg-qbt-bot",
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Daemon Client
	var client transfer.Client = qbittorrent.NewInstrumentedClient(
		qbittorrent.NewClient(cfg.QbtHost, cfg.QbtUsername, cfg.QbtPassword, cfg.HTTPTimeout),
		tel,
	)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication error: %w", err)
	}

	logger.Info("authenticated with qBittorrent", "host", cfg.QbtHost)

	// =========================================================================
	// Start Notifier and Tracker
	tg := notifier.NewTelegram(cfg.TelegramToken)
	trk := tracker.New(client, tg, tel, cfg.PollInterval)

	// =========================================================================
	// Start Dispatcher and Bot
	disp := dispatcher.New(client, tg, trk)

	defaults := classify.Defaults{
		Category: cfg.QbtCategory,
		SavePath: cfg.QbtSavePath,
		Tags:     cfg.QbtTags,
		Paused:   cfg.QbtPaused,
	}

	b := bot.New(tg, client, disp, tel, defaults, cfg.AllowedUserIDs)

	// =========================================================================
	// Start Ops Server
	server := setupServer(ctx, client, tel, cfg)

	logger.Info("waiting for messages...",
		"poll_interval", cfg.PollInterval.String(),
		"ops_address", cfg.Web.BindAddress,
		"allowed_users", len(cfg.AllowedUserIDs),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(ctx)
	})

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// setupServer builds the ops HTTP server exposing the Prometheus scrape
// endpoint and a liveness probe that pings the daemon.
func setupServer(ctx context.Context, client transfer.Client, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.HTTPLogging)

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		version, err := client.Version(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)

			return
		}

		fmt.Fprintf(w, "ok qBittorrent %s", version)
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
