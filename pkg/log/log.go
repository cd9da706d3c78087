package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lexlapax/saga/pkg/entity"
)

// Level represents log levels
type Level string

// Log levels
const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format represents log output format
type Format string

// Log formats
const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Config holds configuration for the logger
type Config struct {
	// Level is the minimum log level that will be output
	Level Level `yaml:"level"`

	// Format specifies the output format (text or json)
	Format Format `yaml:"format"`
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  InfoLevel,
		Format: TextFormat,
	}
}

type contextKey int

const loggerKey contextKey = iota

// ParseLevel maps a configured level name to a slog level. Unknown names map to info.
func ParseLevel(level Level) slog.Level {
	switch strings.ToLower(string(level)) {
	case string(DebugLevel):
		return slog.LevelDebug
	case string(WarnLevel), "warning":
		return slog.LevelWarn
	case string(ErrorLevel):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the global logger with the given configuration
func Setup(cfg Config) *slog.Logger {
	return SetupDefault(cfg, os.Stdout)
}

// SetupDefault builds a logger writing to w and installs it as the global logger
func SetupDefault(cfg Config, w io.Writer) *slog.Logger {
	logger := SetupWithOutput(cfg, w)
	slog.SetDefault(logger)
	return logger
}

// SetupWithOutput is like Setup but writes to w and leaves the default logger alone
func SetupWithOutput(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(string(cfg.Format)) {
	case string(JSONFormat):
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context.
// If no logger is found, it returns the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithGameContext returns a logger with game identity fields added
func WithGameContext(logger *slog.Logger, gameCtx entity.Context) *slog.Logger {
	return logger.With(
		slog.String("game_id", string(gameCtx.GameID)),
		slog.String("character_id", gameCtx.CharacterID),
	)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// DebugContext logs a debug message with the context's logger
func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}

// InfoContext logs an info message with the context's logger
func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message with the context's logger
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message with the context's logger
func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}
