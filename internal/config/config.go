package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"deal-scout/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Sources    []SourceConfig   `mapstructure:"sources"`
	Categories []CategoryConfig `mapstructure:"categories"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs ingestion cadence in daemon mode.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

// SourceConfig declares one shop in the source fleet.
type SourceConfig struct {
	ID          string        `mapstructure:"id"`
	Kind        string        `mapstructure:"kind"` // api, html, browser, mock
	DisplayName string        `mapstructure:"display_name"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxResults  int           `mapstructure:"max_results"`
	// Disabled keeps the entry in the file but out of ingestion runs.
	Disabled bool `mapstructure:"disabled"`
}

// CategoryConfig is one slug with its search keywords. File order is
// meaningful: classification ties resolve to the earliest entry.
type CategoryConfig struct {
	Slug     string   `mapstructure:"slug"`
	Keywords []string `mapstructure:"keywords"`
}

// IngestConfig bounds run parallelism.
type IngestConfig struct {
	Concurrency       int `mapstructure:"concurrency"`        // keyword fetches per category
	SourceConcurrency int `mapstructure:"source_concurrency"` // sources per cycle
}

// ScoringConfig overrides scoring parameters; zero values keep the
// built-in defaults.
type ScoringConfig struct {
	HistoryDays            int                `mapstructure:"history_days"`
	RecentWindowDays       int                `mapstructure:"recent_window_days"`
	MinObservations        int                `mapstructure:"min_observations"`
	ColdStartPenalty       float64            `mapstructure:"cold_start_penalty"`
	DealThreshold          float64            `mapstructure:"deal_threshold"`
	HotDealThreshold       float64            `mapstructure:"hot_deal_threshold"`
	SuperDealThreshold     float64            `mapstructure:"super_deal_threshold"`
	CategoryDealThresholds map[string]float64 `mapstructure:"category_deal_thresholds"`
}

// RateLimitConfig sets the default per-domain request budget.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// ProxyConfig lists the rotating proxy fleet; empty means direct.
type ProxyConfig struct {
	Addresses   []string      `mapstructure:"addresses"`
	MaxFailures int           `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// DedupConfig tunes the price-observation dedup policy.
type DedupConfig struct {
	Window       time.Duration `mapstructure:"window"`
	MinChangePct float64       `mapstructure:"min_change_pct"`
	CacheSize    int           `mapstructure:"cache_size"`
}

// CacheConfig controls the local listing-detail cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// MetricsConfig exposes the Prometheus listener; empty addr disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines notification thresholds and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	MinTier  string         `mapstructure:"min_tier"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig carries bot credentials and routing.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEALSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dealscout")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6465616c))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_jitter", "0s")

	v.SetDefault("ingest.concurrency", 2)
	v.SetDefault("ingest.source_concurrency", 2)

	v.SetDefault("rate_limit.per_minute", 10)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("proxy.max_failures", 3)
	v.SetDefault("proxy.cooldown", "10m")

	v.SetDefault("dedup.window", "6h")
	v.SetDefault("dedup.min_change_pct", 0.5)
	v.SetDefault("dedup.cache_size", 4096)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "dealscout-cache.db")
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_tier", "superDeal")
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

var validKinds = map[string]bool{"api": true, "html": true, "browser": true, "mock": true}

// Validate performs basic sanity checks on the configuration values.
// Per-kind requirements (API credentials, base URLs) are checked where
// the adapter is built.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be greater than zero")
	}
	if c.Ingest.SourceConcurrency <= 0 {
		return fmt.Errorf("ingest.source_concurrency must be greater than zero")
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be greater than zero")
	}
	if c.Dedup.MinChangePct < 0 {
		return fmt.Errorf("dedup.min_change_pct cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id must be set", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources: duplicate id %q", src.ID)
		}
		seen[src.ID] = true
		if !validKinds[src.Kind] {
			return fmt.Errorf("sources[%d] (%s): unknown kind %q", i, src.ID, src.Kind)
		}
	}

	slugs := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Slug == "" {
			return fmt.Errorf("categories[%d].slug must be set", i)
		}
		if slugs[cat.Slug] {
			return fmt.Errorf("categories: duplicate slug %q", cat.Slug)
		}
		slugs[cat.Slug] = true
		if len(cat.Keywords) == 0 {
			return fmt.Errorf("categories[%d] (%s): at least one keyword required", i, cat.Slug)
		}
	}

	switch c.Alerting.MinTier {
	case "", "none", "deal", "hotDeal", "superDeal":
	default:
		return fmt.Errorf("alerting.min_tier: unknown tier %q", c.Alerting.MinTier)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}

	return nil
}

// EnabledSources filters out disabled fleet entries.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		if !src.Disabled {
			out = append(out, src)
		}
	}
	return out
}

// Source finds a fleet entry by id, disabled ones included.
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// CategoryMatrix flattens the ordered category list into the slug →
// keywords map the orchestrator consumes.
func (c *Config) CategoryMatrix() map[string][]string {
	out := make(map[string][]string, len(c.Categories))
	for _, cat := range c.Categories {
		out[cat.Slug] = cat.Keywords
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
