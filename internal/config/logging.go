package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel converts a level name into a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log-level: %s", level)
}

// NewLogger builds the process logger writing to w.
func NewLogger(s LogSettings, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(s.Level)
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}
	if s.Auth.Type != AuthTypeNone && s.Auth.Type != "" {
		logger.InfoContext(ctx, "Config: auth.public_paths", "value", strings.Join(s.Auth.PublicPaths, ","))
	}

	logger.InfoContext(ctx, "Config: search.backend", "value", s.Search.Backend)
	switch {
	case s.Search.Backend == SearchBackendBleve:
		logger.InfoContext(ctx, "Config: search.bleve_dir", "value", s.Search.BleveDir)
	case s.Search.URL == "":
		logger.WarnContext(ctx, "Config: search.url is not set, indexing is disabled")
	default:
		logger.InfoContext(ctx, "Config: search.url", "value", s.Search.URL)
		if s.Search.Username != "" {
			logger.InfoContext(ctx, "Config: search.username", "value", s.Search.Username)
			logger.InfoContext(ctx, "Config: search.password", "value", "****")
		}
		if s.Search.APIKey != "" {
			logger.InfoContext(ctx, "Config: search.api_key", "value", "****")
		}
		logger.InfoContext(ctx, "Config: search.request_timeout", "value", s.Search.RequestTimeout)
	}

	logger.InfoContext(ctx, "Config: store.path", "value", s.Store.Path)
	logger.InfoContext(ctx, "Config: worker", "concurrency", s.Worker.Concurrency,
		"lock_duration", s.Worker.LockDuration, "max_stalled_count", s.Worker.MaxStalledCount)
	logger.InfoContext(ctx, "Config: sync", "queue_size", s.Sync.QueueSize, "workers", s.Sync.Workers)
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// SearchSettingsLogValue returns a slog.Value for SearchSettings with masked data
func SearchSettingsLogValue(s SearchSettings) slog.Value {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "****"
	}
	return slog.GroupValue(
		slog.String("backend", s.Backend),
		slog.String("url", s.URL),
		slog.String("username", s.Username),
		slog.String("password", mask(s.Password)),
		slog.String("api_key", mask(s.APIKey)),
		slog.Duration("request_timeout", s.RequestTimeout),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("search", SearchSettingsLogValue(s.Search)),
	)
}
