package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by LoadSettings.
const EnvPrefix = "TESTPLANIT_SEARCH"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Search backend constants
const (
	SearchBackendElasticsearch = "elasticsearch"
	SearchBackendBleve         = "bleve"
)

// AuthSettings configuration for authentication of the admin surface
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
	// PublicPaths are served without authentication; nil means DefaultPublicPaths.
	PublicPaths []string `mapstructure:"public_paths"`
}

// DefaultPublicPaths are the probe endpoints reachable without credentials.
var DefaultPublicPaths = []string{"/health", "/ready"}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SearchSettings configures the search backend. With the elasticsearch
// backend an empty URL disables indexing altogether.
type SearchSettings struct {
	Backend        string        `mapstructure:"backend"`
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BleveDir       string        `mapstructure:"bleve_dir"`
}

// Enabled reports whether a search backend should be constructed.
func (s SearchSettings) Enabled() bool {
	return s.Backend == SearchBackendBleve || s.URL != ""
}

// StoreSettings configures the SQLite entity store.
type StoreSettings struct {
	Path string `mapstructure:"path"`
}

// WorkerSettings configures the reindex job worker.
type WorkerSettings struct {
	Concurrency     int           `mapstructure:"concurrency"`
	LockDuration    time.Duration `mapstructure:"lock_duration"`
	StalledInterval time.Duration `mapstructure:"stalled_interval"`
	MaxStalledCount int           `mapstructure:"max_stalled_count"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// SyncSettings configures the write-path sync outbox.
type SyncSettings struct {
	QueueSize int           `mapstructure:"queue_size"`
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Settings application settings
type Settings struct {
	Transport string         `mapstructure:"transport"`
	Host      string         `mapstructure:"host"`
	Port      int            `mapstructure:"port"`
	Auth      AuthSettings   `mapstructure:"auth"`
	Search    SearchSettings `mapstructure:"search"`
	Store     StoreSettings  `mapstructure:"store"`
	Worker    WorkerSettings `mapstructure:"worker"`
	Sync      SyncSettings   `mapstructure:"sync"`
	Log       LogSettings    `mapstructure:"log"`
}

// flagKeys maps CLI flag names to settings keys.
var flagKeys = map[string]string{
	"transport":                "transport",
	"host":                     "host",
	"port":                     "port",
	"auth-type":                "auth.type",
	"auth-basic-username":      "auth.basic.username",
	"auth-basic-password":      "auth.basic.password",
	"auth-api-keys":            "auth.api_keys",
	"auth-public-paths":        "auth.public_paths",
	"search-backend":           "search.backend",
	"search-url":               "search.url",
	"search-username":          "search.username",
	"search-password":          "search.password",
	"search-api-key":           "search.api_key",
	"search-request-timeout":   "search.request_timeout",
	"search-max-retries":       "search.max_retries",
	"search-bleve-dir":         "search.bleve_dir",
	"store-path":               "store.path",
	"worker-concurrency":       "worker.concurrency",
	"worker-lock-duration":     "worker.lock_duration",
	"worker-stalled-interval":  "worker.stalled_interval",
	"worker-max-stalled-count": "worker.max_stalled_count",
	"worker-poll-interval":     "worker.poll_interval",
	"sync-queue-size":          "sync.queue_size",
	"sync-workers":             "sync.workers",
	"sync-timeout":             "sync.timeout",
	"log-level":                "log.level",
	"log-format":               "log.format",
}

// FlagNames returns the CLI flag names LoadSettingsWithFlags binds, sorted.
func FlagNames() []string {
	names := make([]string, 0, len(flagKeys))
	for name := range flagKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("auth.public_paths", DefaultPublicPaths)

	v.SetDefault("search.backend", SearchBackendElasticsearch)
	v.SetDefault("search.url", "")
	v.SetDefault("search.username", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.request_timeout", 30*time.Second)
	v.SetDefault("search.max_retries", 3)
	v.SetDefault("search.bleve_dir", filepath.Join(defaultBaseDir(), "indexes"))

	v.SetDefault("store.path", filepath.Join(defaultBaseDir(), "testplanit.db"))

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.lock_duration", time.Hour)
	v.SetDefault("worker.stalled_interval", 5*time.Minute)
	v.SetDefault("worker.max_stalled_count", 1)
	v.SetDefault("worker.poll_interval", time.Second)

	v.SetDefault("sync.queue_size", 1024)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys need explicit bindings for Unmarshal to see them
	for _, key := range flagKeys {
		_ = v.BindEnv(key, envName(key))
	}
	// The endpoint also honours the conventional cluster variable.
	_ = v.BindEnv("search.url", envName("search.url"), "ELASTICSEARCH_NODE")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(envName("auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	for i := range settings.Auth.PublicPaths {
		settings.Auth.PublicPaths[i] = strings.TrimSpace(settings.Auth.PublicPaths[i])
	}
	settings.Auth.PublicPaths = filterEmptyStrings(settings.Auth.PublicPaths)

	settings.Search.Backend = strings.ToLower(strings.TrimSpace(settings.Search.Backend))
	settings.Search.URL = strings.TrimSpace(settings.Search.URL)
	settings.Search.BleveDir = expandHomeDir(settings.Search.BleveDir)
	settings.Store.Path = expandHomeDir(settings.Store.Path)
	settings.Log.Level = strings.ToLower(settings.Log.Level)
	settings.Log.Format = strings.ToLower(settings.Log.Format)

	return &settings, nil
}

// envName returns the environment variable bound to a settings key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultBaseDir returns the default directory for local state
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".testplanit-search"
	}
	return filepath.Join(home, ".testplanit-search")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}
	for _, path := range s.Auth.PublicPaths {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("auth-public-paths entries must start with '/', got: %s", path)
		}
	}

	if err := validateSearchSettings(&s.Search); err != nil {
		return err
	}
	if s.Store.Path == "" {
		return errors.New("store-path cannot be empty")
	}
	if err := validateWorkerSettings(&s.Worker); err != nil {
		return err
	}
	if err := validateSyncSettings(&s.Sync); err != nil {
		return err
	}
	return validateLogSettings(&s.Log)
}

func validateSearchSettings(s *SearchSettings) error {
	switch s.Backend {
	case SearchBackendElasticsearch:
		if s.Username != "" && s.APIKey != "" {
			return errors.New("search-username is mutually exclusive with search-api-key")
		}
		if (s.Username == "") != (s.Password == "") {
			return errors.New("search basic auth requires both username and password")
		}
	case SearchBackendBleve:
		// An empty dir keeps indices in memory.
	default:
		return fmt.Errorf("search-backend must be '%s' or '%s', got: %s", SearchBackendElasticsearch, SearchBackendBleve, s.Backend)
	}
	if s.RequestTimeout <= 0 {
		return errors.New("search-request-timeout must be positive")
	}
	if s.MaxRetries < 0 {
		return errors.New("search-max-retries cannot be negative")
	}
	return nil
}

func validateWorkerSettings(w *WorkerSettings) error {
	if w.Concurrency <= 0 {
		return errors.New("worker-concurrency must be positive")
	}
	if w.LockDuration <= 0 {
		return errors.New("worker-lock-duration must be positive")
	}
	if w.StalledInterval <= 0 {
		return errors.New("worker-stalled-interval must be positive")
	}
	if w.MaxStalledCount < 0 {
		return errors.New("worker-max-stalled-count cannot be negative")
	}
	if w.PollInterval <= 0 {
		return errors.New("worker-poll-interval must be positive")
	}
	return nil
}

func validateSyncSettings(s *SyncSettings) error {
	if s.QueueSize <= 0 {
		return errors.New("sync-queue-size must be positive")
	}
	if s.Workers <= 0 {
		return errors.New("sync-workers must be positive")
	}
	if s.Timeout <= 0 {
		return errors.New("sync-timeout must be positive")
	}
	return nil
}

func validateLogSettings(l *LogSettings) error {
	if _, err := ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json", "":
		return nil
	}
	return errors.New("log-format must be 'text' or 'json', got: " + l.Format)
}
