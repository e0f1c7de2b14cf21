package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Queue.PersistInterval)
	assert.Equal(t, 50, cfg.Queue.PersistEvery)
	assert.True(t, cfg.Queue.RejectDuplicates)
	assert.Equal(t, "auto", cfg.Download.Engine)
	assert.Equal(t, "best[height<=720]/best", cfg.Download.VideoFormat)
	assert.Equal(t, "mp3", cfg.Download.AudioFormat)
	assert.Equal(t, "192K", cfg.Download.AudioQuality)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DLQUEUE_MAX_CONCURRENT", "2")
	t.Setenv("DLQUEUE_PERSIST_INTERVAL", "750ms")
	t.Setenv("DLQUEUE_REJECT_DUPLICATES", "false")
	t.Setenv("DLQUEUE_OUTPUT_DIR", "/tmp/dl")
	t.Setenv("DLQUEUE_YTDLP_SITES", "youtube.com, bandcamp.com ,")
	t.Setenv("DLQUEUE_API_TOKEN", "secret")
	t.Setenv("DLQUEUE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 2, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 750*time.Millisecond, cfg.Queue.PersistInterval)
	assert.False(t, cfg.Queue.RejectDuplicates)
	assert.Equal(t, "/tmp/dl", cfg.Download.OutputDir)
	assert.Equal(t, []string{"youtube.com", "bandcamp.com"}, cfg.Download.YtdlpSites)
	assert.Equal(t, "secret", cfg.Server.APIToken)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvReportsMalformedValues(t *testing.T) {
	t.Setenv("DLQUEUE_MAX_CONCURRENT", "many")
	t.Setenv("DLQUEUE_PERSIST_INTERVAL", "soon")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DLQUEUE_MAX_CONCURRENT")
	assert.Contains(t, err.Error(), "DLQUEUE_PERSIST_INTERVAL")
	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		errorContains []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "queue limits",
			mutate: func(c *Config) {
				c.Queue.MaxConcurrent = 0
				c.Queue.PersistEvery = 0
			},
			errorContains: []string{"max_concurrent", "persist_every"},
		},
		{
			name: "unknown engine and metadata format",
			mutate: func(c *Config) {
				c.Download.Engine = "aria2"
				c.Download.MetadataFormat = "xml"
			},
			errorContains: []string{"download.engine", "metadata_format"},
		},
		{
			name: "unknown rate limit strategy",
			mutate: func(c *Config) {
				c.RateLimit.Strategy = "leaky_bucket"
			},
			errorContains: []string{"rate_limit.strategy"},
		},
		{
			name: "bad client url",
			mutate: func(c *Config) {
				c.Client.ServerURL = "localhost"
			},
			errorContains: []string{"client.server_url"},
		},
		{
			name: "bad logging",
			mutate: func(c *Config) {
				c.Logging.Level = "loud"
				c.Logging.Format = "xml"
			},
			errorContains: []string{"log level", "logging.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.errorContains) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range tt.errorContains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	original := DefaultConfig()
	original.Queue.MaxConcurrent = 8
	original.Queue.PersistInterval = 3 * time.Second
	original.Download.YtdlpSites = []string{"example.org"}
	require.NoError(t, original.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 8, loaded.Queue.MaxConcurrent)
	assert.Equal(t, 3*time.Second, loaded.Queue.PersistInterval)
	assert.Equal(t, []string{"example.org"}, loaded.Download.YtdlpSites)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queue: [unclosed"), 0644))
	assert.Error(t, cfg.LoadFromFile(bad))
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	assert.Empty(t, FindConfigFile())

	require.NoError(t, os.WriteFile(".dlqueue.yaml", []byte("queue: {}"), 0644))
	assert.Equal(t, ".dlqueue.yaml", FindConfigFile())
}

func TestDurationParsing(t *testing.T) {
	content := `
queue:
  persist_interval: 1500ms
retry:
  initial_delay: 500ms
  max_delay: 1m30s
server:
  shutdown_timeout: 5s
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(content), &cfg))

	assert.Equal(t, 1500*time.Millisecond, cfg.Queue.PersistInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 90*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"max-concurrent": 3,
		"output":         "/srv/media",
		"listen":         ":9000",
		"notify":         true,
		"log-level":      "",
	})

	assert.Equal(t, 3, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "/srv/media", cfg.Download.OutputDir)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	path := filepath.Join(dir, "config.yaml")
	content := `
queue:
  max_concurrent: 4
download:
  output_dir: /file/output
  engine: http
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("DLQUEUE_OUTPUT_DIR", "/env/output")
	t.Setenv("DLQUEUE_ENGINE", "ytdlp")

	cfg, err := Load(path, map[string]interface{}{"engine": "auto"})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "/env/output", cfg.Download.OutputDir)
	assert.Equal(t, "auto", cfg.Download.Engine)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("DLQUEUE_SERVER_ADDRESS", "")
	t.Cleanup(func() { os.Unsetenv("DLQUEUE_SERVER_ADDRESS") })

	require.NoError(t, os.WriteFile(".env", []byte("DLQUEUE_SERVER_ADDRESS=0.0.0.0:7000\n"), 0644))
	require.NoError(t, os.Unsetenv("DLQUEUE_SERVER_ADDRESS"))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Server.Address)
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("DLQUEUE_ENGINE", "curl")

	cfg, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Nil(t, cfg)
}
