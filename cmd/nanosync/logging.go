package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Log level mapping
var logLevelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// initLogging opens the JSON log file in the XDG cache directory and, when
// mirror is non-nil, also writes text logs there. The returned function
// closes the log file.
func initLogging(logLevel string, mirror io.Writer) (*slog.Logger, func() error, error) {
	level, ok := logLevelMap[strings.ToLower(logLevel)]
	if !ok {
		level = slog.LevelWarn
	}

	logDir := getXDGCacheDir()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "nanosync.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var handler slog.Handler = slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	if mirror != nil {
		handler = &multiHandler{
			handlers: []slog.Handler{handler, slog.NewTextHandler(mirror, &slog.HandlerOptions{Level: level})},
		}
	}

	logger := slog.New(handler)
	logger.Debug("logging initialized", "level", level.String(), "log_file", logPath, "mirror", mirror != nil)
	return logger, logFile.Close, nil
}

// getXDGCacheDir returns the XDG cache directory for nanosync
func getXDGCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "nanosync")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nanosync")
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(homeDir, "Library", "Caches", "nanosync")
	}
	return filepath.Join(homeDir, ".cache", "nanosync")
}

// multiHandler implements slog.Handler to write to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}
