// Package main is the entry point for the shared ledger Telegram bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/yelinaung/ledger-bot/internal/bot"
	"gitlab.com/yelinaung/ledger-bot/internal/config"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/events"
	"gitlab.com/yelinaung/ledger-bot/internal/ledger"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
	"gitlab.com/yelinaung/ledger-bot/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("ledger-bot %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.SetLevel(cfg.LogLevel)
	logger.SetOutput(os.Stderr, cfg.LogFormat)
	if err := logger.SetHashSalt(cfg.LogHashSalt); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid LOG_HASH_SALT")
	}

	if err := run(ctx, cfg); err != nil {
		logger.Log.Fatal().Err(err).Msg("Bot stopped with error")
	}
	logger.Log.Info().Msg("Shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to flush telemetry")
		}
	}()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	logger.Log.Info().Msg("Database initialized successfully")

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	service := ledger.NewService(pool, publisher, ledger.Options{
		CheckInvariants: cfg.LedgerCheckInvariants,
		RecentLimit:     cfg.RecentExpensesLimit,
	})

	telegramBot, err := bot.New(cfg, service)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	if !cfg.UseWebhook() {
		telegramBot.Start(ctx)
		return nil
	}
	return serveWebhook(ctx, cfg, telegramBot)
}

// newPublisher connects to the broker when one is configured.
func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		logger.Log.Info().Msg("No AMQP_URL set, ledger events are not published")
		return events.Noop{}, nil
	}

	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	logger.Log.Info().Str("exchange", cfg.AMQPExchange).Msg("Publishing ledger events")
	return publisher, nil
}

// serveWebhook runs the update processor and the HTTP listener until ctx is done.
func serveWebhook(ctx context.Context, cfg *config.Config, telegramBot *bot.Bot) error {
	webhookURL, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	path := webhookURL.Path
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+path, telegramBot.WebhookHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.WebhookListenAddr,
		Handler:           otelhttp.NewHandler(mux, "telegram.webhook"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telegramBot.StartWebhook(ctx)
	})
	g.Go(func() error {
		logger.Log.Info().Str("addr", cfg.WebhookListenAddr).Msg("Webhook listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
