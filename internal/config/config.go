// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Fetcher kinds.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Store     StoreConfig     `mapstructure:"store"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
}

// StoreConfig selects and configures the entity/record backend.
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
}

// FetcherConfig configures how history tables are retrieved.
type FetcherConfig struct {
	Kind           string            `mapstructure:"kind"`
	UserAgent      string            `mapstructure:"user_agent"`
	RespectRobots  bool              `mapstructure:"respect_robots"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	TableSelector  string            `mapstructure:"table_selector"`
	RowSelector    string            `mapstructure:"row_selector"`
	Headers        map[string]string `mapstructure:"headers"`
	Headless       HeadlessConfig    `mapstructure:"headless"`
}

// HeadlessConfig configures the scrolling browser fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	ScrollPasses  int `mapstructure:"scroll_passes"`
	ScrollPauseMs int `mapstructure:"scroll_pause_ms"`
}

// RateLimitConfig paces fetches per host. A zero RPS disables pacing.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// BootstrapConfig controls entity list seeding.
type BootstrapConfig struct {
	Files           string `mapstructure:"files"`
	LocatorTemplate string `mapstructure:"locator_template"`
}

// HarvestConfig controls walking a paginated ticker listing.
type HarvestConfig struct {
	StartURL      string `mapstructure:"start_url"`
	TableSelector string `mapstructure:"table_selector"`
	RowSelector   string `mapstructure:"row_selector"`
	NextSelector  string `mapstructure:"next_selector"`
	MaxPages      int    `mapstructure:"max_pages"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// PubSubConfig holds metadata for entity-completed notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig names the service on exported spans.
type TracingConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKERCRAWL")
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
	v.SetDefault("crawler.concurrency", 16)
	v.SetDefault("crawler.queue_size", 0)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "tickercrawl.db")
	v.SetDefault("store.max_open_conns", 8)
	v.SetDefault("fetcher.kind", FetcherColly)
	v.SetDefault("fetcher.user_agent", "tickercrawl/0.1")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.table_selector", "table")
	v.SetDefault("fetcher.row_selector", "table tbody tr")
	v.SetDefault("fetcher.headless.max_parallel", 4)
	v.SetDefault("fetcher.headless.scroll_passes", 25)
	v.SetDefault("fetcher.headless.scroll_pause_ms", 200)
	v.SetDefault("rate_limit.rps", 2)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("bootstrap.locator_template", "https://finance.yahoo.com/quote/{symbol}/history?p={symbol}")
	v.SetDefault("harvest.start_url", "https://marketstack.com/search")
	v.SetDefault("harvest.table_selector", "table")
	v.SetDefault("harvest.row_selector", "table tbody tr")
	v.SetDefault("harvest.next_selector", "a[rel=next]")
	v.SetDefault("harvest.max_pages", 2048)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "tickercrawl-entity-done")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.service_name", "tickercrawl")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueSize < 0 {
		return fmt.Errorf("crawler.queue_size must be >= 0")
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set")
	}
	switch c.Fetcher.Kind {
	case FetcherColly:
	case FetcherHeadless:
		if c.Fetcher.Headless.MaxParallel <= 0 {
			return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when the headless fetcher is selected")
		}
		if c.Fetcher.Headless.ScrollPasses < 0 {
			return fmt.Errorf("fetcher.headless.scroll_passes must be >= 0")
		}
	default:
		return fmt.Errorf("fetcher.kind must be %q or %q, got %q", FetcherColly, FetcherHeadless, c.Fetcher.Kind)
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if !strings.Contains(c.Bootstrap.LocatorTemplate, "{symbol}") {
		return fmt.Errorf("bootstrap.locator_template must contain {symbol}")
	}
	if c.Harvest.MaxPages < 0 {
		return fmt.Errorf("harvest.max_pages must be >= 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout converts the fetcher timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// HTTPHeaders returns the configured extra request headers with canonical
// keys. Viper lowercases map keys, so canonicalizing here restores them.
func (c Config) HTTPHeaders() http.Header {
	if len(c.Fetcher.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Fetcher.Headers))
	for k, v := range c.Fetcher.Headers {
		h.Set(k, v)
	}
	return h
}

// ScrollPause converts the headless scroll pause into a duration.
func (c Config) ScrollPause() time.Duration {
	return time.Duration(c.Fetcher.Headless.ScrollPauseMs) * time.Millisecond
}

// HubWaits returns the progress hub batch wait and sink timeout.
func (c Config) HubWaits() (batchWait, sinkTimeout time.Duration) {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond,
		time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond
}
