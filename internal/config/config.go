// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults for optional settings.
const (
	DefaultRecentExpensesLimit = 10
	MaxRecentExpensesLimit     = 100
	DefaultWebhookListenAddr   = ":8080"
	DefaultAMQPExchange        = "ledger.events"
	DefaultOTelExporter        = "none"
	DefaultOTelServiceName     = "ledger-bot"
	minHashSaltLength          = 32
)

var otelExporters = []string{"none", "stdout", "otlp-grpc", "otlp-http"}

// Config holds all configuration for the application.
type Config struct {
	TelegramBotToken string
	DatabaseURL      string

	LogLevel    string
	LogFormat   string
	LogHashSalt string

	// AllowedChatIDs restricts the bot to these chats. Empty allows every chat.
	AllowedChatIDs        []int64
	RecentExpensesLimit   int
	LedgerCheckInvariants bool

	WebhookURL        string
	WebhookListenAddr string
	WebhookSecret     string

	AMQPURL      string
	AMQPExchange string

	OTelExporter    string
	OTelEndpoint    string
	OTelServiceName string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		LogFormat:         strings.ToLower(os.Getenv("LOG_FORMAT")),
		LogHashSalt:       os.Getenv("LOG_HASH_SALT"),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookListenAddr: envOr("WEBHOOK_LISTEN_ADDR", DefaultWebhookListenAddr),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		AMQPExchange:      envOr("AMQP_EXCHANGE", DefaultAMQPExchange),
		OTelExporter:      strings.ToLower(envOr("OTEL_EXPORTER", DefaultOTelExporter)),
		OTelEndpoint:      os.Getenv("OTEL_EXPORTER_ENDPOINT"),
		OTelServiceName:   envOr("OTEL_SERVICE_NAME", DefaultOTelServiceName),
	}

	var errs []string

	for idStr := range strings.SplitSeq(os.Getenv("ALLOWED_CHAT_IDS"), ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("ALLOWED_CHAT_IDS has invalid chat ID %q", idStr))
			continue
		}
		cfg.AllowedChatIDs = append(cfg.AllowedChatIDs, id)
	}

	cfg.RecentExpensesLimit = DefaultRecentExpensesLimit
	if limitStr := os.Getenv("RECENT_EXPENSES_LIMIT"); limitStr != "" {
		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil || limit < 1 || limit > MaxRecentExpensesLimit {
			errs = append(errs, fmt.Sprintf("RECENT_EXPENSES_LIMIT must be between 1 and %d", MaxRecentExpensesLimit))
		} else {
			cfg.RecentExpensesLimit = limit
		}
	}

	if v := os.Getenv("LEDGER_CHECK_INVARIANTS"); v != "" {
		check, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, "LEDGER_CHECK_INVARIANTS must be a boolean")
		}
		cfg.LedgerCheckInvariants = check
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// validate checks required settings and the values of enumerated ones.
func (c *Config) validate() []string {
	var errs []string

	if c.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.LogFormat != "" && c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	if c.LogHashSalt != "" && len(c.LogHashSalt) < minHashSaltLength {
		errs = append(errs, fmt.Sprintf("LOG_HASH_SALT must be at least %d characters", minHashSaltLength))
	}

	if !slices.Contains(otelExporters, c.OTelExporter) {
		errs = append(errs, fmt.Sprintf("OTEL_EXPORTER must be one of %s", strings.Join(otelExporters, ", ")))
	}

	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "https://") {
		errs = append(errs, "WEBHOOK_URL must use https")
	}

	return errs
}

// UseWebhook reports whether updates arrive by webhook instead of long polling.
func (c *Config) UseWebhook() bool {
	return c.WebhookURL != ""
}

// IsChatAllowed reports whether the bot may serve the chat.
func (c *Config) IsChatAllowed(chatID int64) bool {
	return len(c.AllowedChatIDs) == 0 || slices.Contains(c.AllowedChatIDs, chatID)
}
