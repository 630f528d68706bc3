// ABOUTME: Configuration loading and parsing for threadsync
// ABOUTME: Supports YAML files with environment variable expansion, .env files, and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by LoadDefault.
const (
	EnvConfigPath      = "THREADSYNC_CONFIG"
	EnvConversationURL = "THREADSYNC_CONVERSATION_URL"
	EnvRegistryURL     = "THREADSYNC_REGISTRY_URL"
	EnvJWTSecret       = "THREADSYNC_JWT_SECRET"
	EnvDatabasePath    = "THREADSYNC_DB"
	EnvLogLevel        = "THREADSYNC_LOG_LEVEL"
)

// Config represents the complete threadsync configuration
type Config struct {
	Conversation ConversationConfig `yaml:"conversation"`
	Registry     RegistryConfig     `yaml:"registry"`
	Auth         AuthConfig         `yaml:"auth"`
	Database     DatabaseConfig     `yaml:"database"`
	Lifecycle    LifecycleConfig    `yaml:"lifecycle"`
	Chat         ChatConfig         `yaml:"chat"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ConversationConfig points at the conversation-state service
type ConversationConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout    time.Duration `yaml:"-"`
	StreamIdleTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RequestTimeoutRaw    string `yaml:"request_timeout"`
	StreamIdleTimeoutRaw string `yaml:"stream_idle_timeout"`
}

// RegistryConfig points at the cloud thread registry
type RegistryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	DirectLookup bool   `yaml:"direct_lookup"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret enables signature verification of session tokens. When
	// empty, token claims are read without verification.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LifecycleConfig tunes bulk thread operations
type LifecycleConfig struct {
	BulkConcurrency   int     `yaml:"bulk_concurrency"`
	BulkRatePerSecond float64 `yaml:"bulk_rate_per_second"`
}

// ChatConfig tunes the streaming session driver
type ChatConfig struct {
	DedupeTTL    time.Duration `yaml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl"`
	DedupeSize   int           `yaml:"dedupe_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Conversation: ConversationConfig{
			BaseURL:           "http://localhost:2024",
			RequestTimeout:    30 * time.Second,
			StreamIdleTimeout: 60 * time.Second,
		},
		Registry: RegistryConfig{
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Lifecycle: LifecycleConfig{
			BulkConcurrency:   4,
			BulkRatePerSecond: 5,
		},
		Chat: ChatConfig{
			DedupeTTL:  5 * time.Minute,
			DedupeSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads .env from the working directory if present, then the
// config file from ResolvePath, then applies environment overrides. A
// missing config file is not an error.
func LoadDefault() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := ResolvePath()
	cfg, err := Load(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && os.Getenv(EnvConfigPath) == "":
		cfg = Defaults()
	default:
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ResolvePath returns THREADSYNC_CONFIG when set, otherwise
// $XDG_CONFIG_HOME/threadsync/config.yaml, falling back to ~/.config.
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(configDir(), "threadsync", "config.yaml")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

func defaultDatabasePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "threadsync", "threads.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "threads.db"
	}
	return filepath.Join(home, ".local", "share", "threadsync", "threads.db")
}

// applyEnv overrides file values with THREADSYNC_* variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvConversationURL); v != "" {
		cfg.Conversation.BaseURL = v
	}
	if v := os.Getenv(EnvRegistryURL); v != "" {
		cfg.Registry.BaseURL = v
		cfg.Registry.Enabled = true
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("THREADSYNC_BULK_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing THREADSYNC_BULK_CONCURRENCY %q: %w", v, err)
		}
		cfg.Lifecycle.BulkConcurrency = n
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Conversation.BaseURL == "" {
		return fmt.Errorf("conversation.base_url is required")
	}
	if c.Registry.Enabled && c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url is required when registry is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Conversation.RequestTimeout <= 0 {
		return fmt.Errorf("conversation.request_timeout must be positive")
	}
	if c.Conversation.StreamIdleTimeout < 0 {
		return fmt.Errorf("conversation.stream_idle_timeout must not be negative")
	}
	if c.Lifecycle.BulkConcurrency < 1 {
		return fmt.Errorf("lifecycle.bulk_concurrency must be at least 1")
	}
	if c.Lifecycle.BulkRatePerSecond < 0 {
		return fmt.Errorf("lifecycle.bulk_rate_per_second must not be negative")
	}
	if c.Chat.DedupeSize < 1 {
		return fmt.Errorf("chat.dedupe_size must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"conversation.request_timeout", cfg.Conversation.RequestTimeoutRaw, &cfg.Conversation.RequestTimeout},
		{"conversation.stream_idle_timeout", cfg.Conversation.StreamIdleTimeoutRaw, &cfg.Conversation.StreamIdleTimeout},
		{"registry.request_timeout", cfg.Registry.RequestTimeoutRaw, &cfg.Registry.RequestTimeout},
		{"chat.dedupe_ttl", cfg.Chat.DedupeTTLRaw, &cfg.Chat.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
