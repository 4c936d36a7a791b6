// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Probe kinds accepted by probe.kind.
const (
	ProbeKindAPI      = "api"
	ProbeKindHeadless = "headless"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs the worker pool and the crawl frontier.
type CrawlerConfig struct {
	Seeds      []string `mapstructure:"seeds"`
	SeedsFile  string   `mapstructure:"seeds_file"`
	Workers    int      `mapstructure:"workers"`
	MaxWorkers int      `mapstructure:"max_workers"`
	MaxDepth   int      `mapstructure:"max_depth"`
}

// ProbeConfig selects and tunes the account probe.
type ProbeConfig struct {
	Kind           string  `mapstructure:"kind"`
	BaseURL        string  `mapstructure:"base_url"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	PageSize       int     `mapstructure:"page_size"`
	MaxFollowing   int     `mapstructure:"max_following"`
	RateLimitQPS   float64 `mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless browser probe.
type HeadlessConfig struct {
	ProfileURL    string `mapstructure:"profile_url"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	MaxScrolls    int    `mapstructure:"max_scrolls"`
	ScrollWaitMs  int    `mapstructure:"scroll_wait_ms"`
}

// OutputConfig sets where the discovered-accounts file is written.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// DBConfig controls access to the relational database. An empty DSN
// disables database persistence.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for discovery notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig controls archiving of the output file. An empty bucket
// disables the upload.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig toggles the operational HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.seeds_file", "")
	v.SetDefault("crawler.workers", 0)
	v.SetDefault("crawler.max_workers", 8)
	v.SetDefault("crawler.max_depth", 0)
	v.SetDefault("probe.kind", ProbeKindAPI)
	v.SetDefault("probe.base_url", "https://api.scratch.mit.edu")
	v.SetDefault("probe.user_agent", "followcrawl/0.1")
	v.SetDefault("probe.respect_robots", false)
	v.SetDefault("probe.page_size", 40)
	v.SetDefault("probe.max_following", 0)
	v.SetDefault("probe.rate_limit_qps", 5.0)
	v.SetDefault("probe.rate_limit_burst", 5)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("headless.profile_url", "https://scratch.mit.edu/users")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.max_scrolls", 50)
	v.SetDefault("headless.scroll_wait_ms", 500)
	v.SetDefault("output.path", "accounts.txt")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Workers < 0 {
		return fmt.Errorf("crawler.workers must be >= 0")
	}
	if c.Crawler.MaxWorkers < 0 {
		return fmt.Errorf("crawler.max_workers must be >= 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	switch c.Probe.Kind {
	case ProbeKindAPI:
		if c.Probe.BaseURL == "" {
			return fmt.Errorf("probe.base_url must be set for the api probe")
		}
	case ProbeKindHeadless:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when the headless probe is selected")
		}
		if c.Headless.ProfileURL == "" {
			return fmt.Errorf("headless.profile_url must be set for the headless probe")
		}
	default:
		return fmt.Errorf("probe.kind must be %q or %q, got %q", ProbeKindAPI, ProbeKindHeadless, c.Probe.Kind)
	}
	if c.Probe.RateLimitQPS < 0 {
		return fmt.Errorf("probe.rate_limit_qps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// HTTPTimeout converts the per-request timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// BackoffBounds returns the initial and maximum retry delays.
func (c Config) BackoffBounds() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
