package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DLQUEUE_"

// Config holds all configuration options for dlqueue
type Config struct {
	Queue         QueueConfig        `yaml:"queue" json:"queue"`
	Download      DownloadConfig     `yaml:"download" json:"download"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	Retry         RetryConfig        `yaml:"retry" json:"retry"`
	Server        ServerConfig       `yaml:"server" json:"server"`
	Client        ClientConfig       `yaml:"client" json:"client"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// QueueConfig controls admission and persistence of the job registry
type QueueConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent" json:"max_concurrent"`
	StateFile        string        `yaml:"state_file" json:"state_file"`
	PersistInterval  time.Duration `yaml:"persist_interval" json:"persist_interval"`
	PersistEvery     int           `yaml:"persist_every" json:"persist_every"`
	RejectDuplicates bool          `yaml:"reject_duplicates" json:"reject_duplicates"`
	EventBuffer      int           `yaml:"event_buffer" json:"event_buffer"`
}

// DownloadConfig holds executor settings
type DownloadConfig struct {
	OutputDir         string        `yaml:"output_dir" json:"output_dir"`
	Engine            string        `yaml:"engine" json:"engine"`
	YtdlpSites        []string      `yaml:"ytdlp_sites" json:"ytdlp_sites"`
	VideoFormat       string        `yaml:"video_format" json:"video_format"`
	AudioFormat       string        `yaml:"audio_format" json:"audio_format"`
	AudioQuality      string        `yaml:"audio_quality" json:"audio_quality"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	ProgressInterval  time.Duration `yaml:"progress_interval" json:"progress_interval"`
	OverwriteExisting bool          `yaml:"overwrite_existing" json:"overwrite_existing"`
	SaveMetadata      bool          `yaml:"save_metadata" json:"save_metadata"`
	MetadataFormat    string        `yaml:"metadata_format" json:"metadata_format"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
}

// Rate limit strategies
const (
	StrategyTokenBucket   = "token_bucket"
	StrategySlidingWindow = "sliding_window"
)

// RateLimitConfig limits requests per host issued by the HTTP executor.
// Strategy token_bucket allows bursts of BurstSize; sliding_window never
// lets more than RequestsPerMinute through in any minute.
type RateLimitConfig struct {
	Strategy          string `yaml:"strategy" json:"strategy"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int    `yaml:"burst_size" json:"burst_size"`
}

// RetryConfig holds backoff settings shared by executors and the API client
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	Jitter       bool          `yaml:"jitter" json:"jitter"`
}

// ServerConfig configures the HTTP API of the daemon
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
	APIToken        string        `yaml:"api_token" json:"-"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ClientConfig configures the CLI's connection to a daemon
type ClientConfig struct {
	ServerURL    string        `yaml:"server_url" json:"server_url"`
	Account      string        `yaml:"account" json:"account"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	File     string `yaml:"file" json:"file"`
	FileOnly bool   `yaml:"file_only" json:"file_only"`
	NoColor  bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxConcurrent:    5,
			StateFile:        "",
			PersistInterval:  2 * time.Second,
			PersistEvery:     50,
			RejectDuplicates: true,
			EventBuffer:      256,
		},
		Download: DownloadConfig{
			OutputDir:        "./downloads",
			Engine:           "auto",
			YtdlpSites:       []string{"youtube.com", "youtu.be", "vimeo.com", "soundcloud.com", "twitch.tv"},
			VideoFormat:      "best[height<=720]/best",
			AudioFormat:      "mp3",
			AudioQuality:     "192K",
			Timeout:          30 * time.Minute,
			ProgressInterval: 500 * time.Millisecond,
			SaveMetadata:     false,
			MetadataFormat:   "json",
			UserAgent:        "dlqueue/1.0",
		},
		RateLimit: RateLimitConfig{
			Strategy:          StrategyTokenBucket,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1:8001",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Client: ClientConfig{
			ServerURL:    "http://127.0.0.1:8001",
			Account:      "default",
			Timeout:      15 * time.Second,
			PollInterval: time.Second,
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			OnComplete:       true,
			OnError:          true,
			NotificationType: "desktop",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv overrides values from DLQUEUE_* environment variables.
// Malformed numbers, booleans and durations are reported together.
func (c *Config) LoadFromEnv() error {
	var errs []error

	envString("QUEUE_STATE_FILE", &c.Queue.StateFile)
	envInt("MAX_CONCURRENT", &c.Queue.MaxConcurrent, &errs)
	envDuration("PERSIST_INTERVAL", &c.Queue.PersistInterval, &errs)
	envInt("PERSIST_EVERY", &c.Queue.PersistEvery, &errs)
	envBool("REJECT_DUPLICATES", &c.Queue.RejectDuplicates, &errs)

	envString("OUTPUT_DIR", &c.Download.OutputDir)
	envString("ENGINE", &c.Download.Engine)
	envList("YTDLP_SITES", &c.Download.YtdlpSites)
	envDuration("DOWNLOAD_TIMEOUT", &c.Download.Timeout, &errs)

	envString("RATE_LIMIT_STRATEGY", &c.RateLimit.Strategy)
	envInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute, &errs)
	envInt("RETRY_ATTEMPTS", &c.Retry.MaxAttempts, &errs)

	envString("SERVER_ADDRESS", &c.Server.Address)
	envString("API_TOKEN", &c.Server.APIToken)
	envList("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	envString("SERVER_URL", &c.Client.ServerURL)
	envString("ACCOUNT", &c.Client.Account)

	envBool("NOTIFICATIONS_ENABLED", &c.Notifications.Enabled, &errs)

	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, errs *[]error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = b
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = d
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations; finding nothing there is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile returns the first existing config file in the standard locations
func FindConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".dlqueue.yaml",
		".dlqueue.yml",
		filepath.Join(home, ".config", "dlqueue", "config.yaml"),
		filepath.Join(home, ".config", "dlqueue", "config.yml"),
		filepath.Join(home, ".dlqueue.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// DefaultConfigPath is where `config init` writes a new file
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dlqueue", "config.yaml")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Queue.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("queue.max_concurrent must be positive"))
	}
	if c.Queue.PersistInterval <= 0 {
		errs = append(errs, errors.New("queue.persist_interval must be positive"))
	}
	if c.Queue.PersistEvery <= 0 {
		errs = append(errs, errors.New("queue.persist_every must be positive"))
	}
	if c.Queue.EventBuffer < 0 {
		errs = append(errs, errors.New("queue.event_buffer cannot be negative"))
	}

	if c.Download.OutputDir == "" {
		errs = append(errs, errors.New("download.output_dir is required"))
	}
	switch c.Download.Engine {
	case "auto", "http", "ytdlp":
	default:
		errs = append(errs, fmt.Errorf("download.engine must be auto, http or ytdlp, got %q", c.Download.Engine))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download.timeout must be positive"))
	}
	if c.Download.ProgressInterval <= 0 {
		errs = append(errs, errors.New("download.progress_interval must be positive"))
	}
	switch c.Download.MetadataFormat {
	case "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("download.metadata_format must be json or yaml, got %q", c.Download.MetadataFormat))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("rate_limit.burst_size must be positive"))
	}
	switch c.RateLimit.Strategy {
	case "", StrategyTokenBucket, StrategySlidingWindow:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.strategy must be %s or %s", StrategyTokenBucket, StrategySlidingWindow))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if u, err := url.Parse(c.Client.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.server_url is not a valid URL: %q", c.Client.ServerURL))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML, readable only by the owner
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags applies flags that were explicitly set on the command line
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["max-concurrent"].(int); ok && v > 0 {
		c.Queue.MaxConcurrent = v
	}
	if v, ok := flags["state-file"].(string); ok && v != "" {
		c.Queue.StateFile = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Download.OutputDir = v
	}
	if v, ok := flags["engine"].(string); ok && v != "" {
		c.Download.Engine = v
	}
	if v, ok := flags["listen"].(string); ok && v != "" {
		c.Server.Address = v
	}
	if v, ok := flags["server"].(string); ok && v != "" {
		c.Client.ServerURL = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Client.Account = v
	}
	if v, ok := flags["notify"].(bool); ok {
		c.Notifications.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-format"].(string); ok && v != "" {
		c.Logging.Format = v
	}
}

// Load loads configuration from all sources with proper precedence:
// flags > environment (including .env files) > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	home, _ := os.UserHomeDir()
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(home, ".env"))
	_ = godotenv.Load(filepath.Join(home, ".dlqueue.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
