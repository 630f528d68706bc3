// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp files and t.Setenv to isolate each case

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
conversation:
  base_url: "http://langgraph:2024"
  request_timeout: "10s"
  stream_idle_timeout: "2m"
registry:
  enabled: true
  base_url: "https://registry.example.com"
  request_timeout: "5s"
  direct_lookup: true
auth:
  jwt_secret: "s3cret"
  issuer: "threadsync"
database:
  path: "/tmp/threads.db"
lifecycle:
  bulk_concurrency: 8
  bulk_rate_per_second: 2.5
chat:
  dedupe_ttl: "90s"
  dedupe_size: 50
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://langgraph:2024", cfg.Conversation.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Conversation.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Conversation.StreamIdleTimeout)
	assert.True(t, cfg.Registry.Enabled)
	assert.True(t, cfg.Registry.DirectLookup)
	assert.Equal(t, "https://registry.example.com", cfg.Registry.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Registry.RequestTimeout)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "threadsync", cfg.Auth.Issuer)
	assert.Equal(t, "/tmp/threads.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Lifecycle.BulkConcurrency)
	assert.InDelta(t, 2.5, cfg.Lifecycle.BulkRatePerSecond, 0.0001)
	assert.Equal(t, 90*time.Second, cfg.Chat.DedupeTTL)
	assert.Equal(t, 50, cfg.Chat.DedupeSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
conversation:
  base_url: "http://other:2024"
database:
  path: "/tmp/x.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	defaults := Defaults()
	assert.Equal(t, "http://other:2024", cfg.Conversation.BaseURL)
	assert.Equal(t, defaults.Conversation.RequestTimeout, cfg.Conversation.RequestTimeout)
	assert.Equal(t, defaults.Conversation.StreamIdleTimeout, cfg.Conversation.StreamIdleTimeout)
	assert.Equal(t, defaults.Lifecycle, cfg.Lifecycle)
	assert.Equal(t, 5*time.Minute, cfg.Chat.DedupeTTL)
	assert.Equal(t, 1000, cfg.Chat.DedupeSize)
	assert.False(t, cfg.Registry.Enabled)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TS_TEST_SECRET", "from-env")
	t.Setenv("TS_TEST_HOST", "api.internal")

	path := writeConfig(t, `
conversation:
  base_url: "http://${TS_TEST_HOST}:2024"
auth:
  jwt_secret: "${TS_TEST_SECRET}"
  issuer: "${TS_TEST_UNSET_VAR}"
database:
  path: "/tmp/x.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://api.internal:2024", cfg.Conversation.BaseURL)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Empty(t, cfg.Auth.Issuer)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "conversation: [unclosed",
			wantErr: "parsing config file",
		},
		{
			name: "bad duration",
			content: `
conversation:
  request_timeout: "soon"
`,
			wantErr: "conversation.request_timeout",
		},
		{
			name: "empty base url",
			content: `
conversation:
  base_url: ""
`,
			wantErr: "conversation.base_url is required",
		},
		{
			name: "registry enabled without url",
			content: `
registry:
  enabled: true
`,
			wantErr: "registry.base_url is required",
		},
		{
			name: "zero concurrency",
			content: `
lifecycle:
  bulk_concurrency: 0
`,
			wantErr: "bulk_concurrency",
		},
		{
			name: "negative rate",
			content: `
lifecycle:
  bulk_rate_per_second: -1
`,
			wantErr: "bulk_rate_per_second",
		},
		{
			name: "unknown log level",
			content: `
logging:
  level: "loud"
`,
			wantErr: "logging.level",
		},
		{
			name: "unknown log format",
			content: `
logging:
  format: "xml"
`,
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolvePath(t *testing.T) {
	t.Run("explicit env", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/etc/threadsync.yaml")
		assert.Equal(t, "/etc/threadsync.yaml", ResolvePath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "threadsync", "config.yaml"), ResolvePath())
	})

	t.Run("home fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(EnvConfigPath, "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".config", "threadsync", "config.yaml"), ResolvePath())
	})
}

func TestLoadDefault_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvConversationURL, "http://env-host:9000")
	t.Setenv(EnvRegistryURL, "")
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDatabasePath, filepath.Join(dir, "db.sqlite"))
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "http://env-host:9000", cfg.Conversation.BaseURL)
	assert.Equal(t, filepath.Join(dir, "db.sqlite"), cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Registry.Enabled)
}

func TestLoadDefault_ExplicitPathMustExist(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadDefault()
	require.Error(t, err)
}

func TestLoadDefault_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvDatabasePath, filepath.Join(dir, "db.sqlite"))
	// Registered so t.Setenv restores it after godotenv sets it.
	t.Setenv(EnvRegistryURL, "")
	require.NoError(t, os.Unsetenv(EnvRegistryURL))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte(EnvRegistryURL+"=http://registry.local\n"), 0o600))

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.True(t, cfg.Registry.Enabled)
	assert.Equal(t, "http://registry.local", cfg.Registry.BaseURL)
}

func TestLoadDefault_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeConfig(t, `
conversation:
  base_url: "http://file-host:2024"
database:
  path: "/tmp/file.db"
`)
	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvConversationURL, "http://env-host:2024")
	t.Setenv(EnvRegistryURL, "")
	t.Setenv(EnvDatabasePath, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv("THREADSYNC_BULK_CONCURRENCY", "2")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "http://env-host:2024", cfg.Conversation.BaseURL)
	assert.Equal(t, "/tmp/file.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Lifecycle.BulkConcurrency)
}

func TestLoadDefault_BadEnvInteger(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("THREADSYNC_BULK_CONCURRENCY", "many")

	_, err := LoadDefault()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "THREADSYNC_BULK_CONCURRENCY")
}
