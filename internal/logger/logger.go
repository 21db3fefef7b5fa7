// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance.
var Log zerolog.Logger

func init() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	Log = newConsole(os.Stdout)
}

func newConsole(out io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetLevel sets the global log level. Unknown names fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetJSON switches to JSON output (for production).
func SetJSON() {
	SetOutput(os.Stdout, "json")
}

// SetOutput points the global logger at out, as "json" or human-readable console lines.
func SetOutput(out io.Writer, format string) {
	if format == "json" {
		Log = zerolog.New(out).
			With().
			Timestamp().
			Logger()
		return
	}
	Log = newConsole(out)
}

// ForChat returns a child logger tagged with the hashed chat ID.
func ForChat(chatID int64) *zerolog.Logger {
	l := Log.With().Str("chat", HashChatID(chatID)).Logger()
	return &l
}

// ForUser returns a child logger tagged with the hashed chat and user IDs.
func ForUser(chatID, userID int64) *zerolog.Logger {
	l := Log.With().
		Str("chat", HashChatID(chatID)).
		Str("user", HashUserID(userID)).
		Logger()
	return &l
}
