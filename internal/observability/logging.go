// Package observability sets up structured logging and tracing for lunatix.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lunatix-dev/lunatix/internal/paths"
)

const (
	redactedValue = "[REDACTED]"

	// DefaultMaxLogBytes is the size at which the log file is rotated on open.
	DefaultMaxLogBytes = 10 << 20
	// DefaultMaxLogBackups is the number of rotated log files kept.
	DefaultMaxLogBackups = 3
)

type contextKey struct{}

// Config holds the configuration for the logger.
type Config struct {
	Level          string
	Format         string
	LogFile        string
	StderrMode     string
	InteractiveTTY bool
	SessionID      string
	CommandPath    string
	Version        string
	Commit         string

	// MaxFileBytes and MaxBackups bound the log file. Zero uses the defaults.
	MaxFileBytes int64
	MaxBackups   int
}

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from ctx, falling back to slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}

	return slog.Default()
}

// NewLogger creates a structured logger from cfg. When stderr is disabled
// and no log file is given, records go to the default log file so that a
// long-running `serve` launched from a desktop shell still leaves a trail.
func NewLogger(cfg *Config) (*slog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	toStderr, err := shouldEnableStderr(cfg.StderrMode, cfg.InteractiveTTY)
	if err != nil {
		return nil, nil, err
	}

	logFile := strings.TrimSpace(cfg.LogFile)
	if !toStderr && logFile == "" {
		if logFile, err = paths.DefaultLogFile(); err != nil {
			return nil, nil, fmt.Errorf("resolve default log file: %w", err)
		}
	}

	var (
		writers []io.Writer
		file    *os.File
	)

	if toStderr {
		writers = append(writers, os.Stderr)
	}

	if logFile != "" {
		maxBytes, keep := cfg.MaxFileBytes, cfg.MaxBackups
		if maxBytes <= 0 {
			maxBytes = DefaultMaxLogBytes
		}

		if keep <= 0 {
			keep = DefaultMaxLogBackups
		}

		if file, err = openLogFile(logFile, maxBytes, keep); err != nil {
			return nil, nil, err
		}

		writers = append(writers, file)
	}

	cleanup := func() error {
		if file == nil {
			return nil
		}

		return file.Close()
	}

	handler, err := newHandler(cfg.Format, io.MultiWriter(writers...), &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}

	logger := slog.New(handler).With(
		slog.String("session.id", cfg.SessionID),
		slog.String("command.path", cfg.CommandPath),
		slog.String("app.version", cfg.Version),
		slog.String("app.commit", cfg.Commit),
	)

	return logger, cleanup, nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format: %q (allowed: json, text)", format)
	}
}

func openLogFile(path string, maxBytes int64, keep int) (*os.File, error) {
	clean := filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(clean), 0o700); err != nil {
		return nil, fmt.Errorf("create log file directory: %w", err)
	}

	if err := rotateLogFile(clean, maxBytes, keep); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(clean, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

// rotateLogFile shifts path to path.1, path.1 to path.2 and so on when path
// is at least maxBytes long. At most keep backups survive.
func rotateLogFile(path string, maxBytes int64, keep int) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}

	if info.Size() < maxBytes {
		return nil
	}

	for i := keep - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		to := fmt.Sprintf("%s.%d", path, i+1)

		if err := os.Rename(from, to); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("rotate log file: %w", err)
		}
	}

	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	return nil
}

func shouldEnableStderr(mode string, interactiveTTY bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return !interactiveTTY, nil
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --log-stderr value %q (allowed: auto, on, off)", mode)
	}
}

func parseLevel(level string) (slog.Leveler, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("invalid log level: %q (allowed: error, warn, info, debug)", level)
	}
}

// redactAttr masks sensitive keys and strips passwords from URL values.
// Remote backend URLs may carry basic-auth credentials.
func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if isSensitiveKey(strings.ToLower(attr.Key)) {
		return slog.String(attr.Key, redactedValue)
	}

	if attr.Value.Kind() == slog.KindString && strings.HasSuffix(attr.Key, "url") {
		return slog.String(attr.Key, redactURL(attr.Value.String()))
	}

	return attr
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	return u.Redacted()
}

func isSensitiveKey(key string) bool {
	if key == "authorization" {
		return true
	}

	for _, pattern := range []string{"token", "api_key", "apikey", "secret", "credential", "password"} {
		if strings.Contains(key, pattern) {
			return true
		}
	}

	return false
}
