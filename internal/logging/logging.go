// Package logging builds the slog loggers used across Cloudflyer and
// names the shared log attribute keys.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a logger writing to stderr, keeping stdout free for
// command output. Levels: debug, info, warn, error. Formats: text, json.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter is NewLogger with an explicit destination.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel maps a config string to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards everything. Used for silent
// mode and as the default in library options.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Attribute keys shared across packages so log lines stay greppable.
const (
	// Relay connection
	KeyComponent  = "component"
	KeyInstanceID = "instance_id"
	KeyURL        = "url"
	KeyState      = "state"
	KeyAttempt    = "attempt"
	KeyFrameType  = "frame_type"

	// Channels
	KeyChannelID  = "channel_id"
	KeyProtocol   = "protocol"
	KeyAddress    = "address"
	KeyPort       = "port"
	KeyRemoteAddr = "remote_addr"
	KeyCount      = "count"

	// Solver
	KeyTaskID   = "task_id"
	KeyDuration = "duration"

	KeyError = "error"
)
