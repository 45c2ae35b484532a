// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/vehicle-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-scraper/internal/source/html"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Auth      AuthConfig             `mapstructure:"auth"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Storage   StorageConfig          `mapstructure:"storage"`
	DB        DBConfig               `mapstructure:"db"`
	Redis     RedisConfig            `mapstructure:"redis"`
	Archive   ArchiveConfig          `mapstructure:"archive"`
	PubSub    PubSubConfig           `mapstructure:"pubsub"`
	Scraper   ScraperConfig          `mapstructure:"scraper"`
	HTTP      HTTPConfig             `mapstructure:"http"`
	Headless  HeadlessConfig         `mapstructure:"headless"`
	RateLimit RateLimitConfig        `mapstructure:"ratelimit"`
	Sources   map[string]html.Config `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects the job/listing/catalog backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig enables the ScraperConfig read-through cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig selects where raw scrape batches are archived.
type ArchiveConfig struct {
	Backend string         `mapstructure:"backend"`
	Prefix  string         `mapstructure:"prefix"`
	BaseDir string         `mapstructure:"base_dir"`
	GCS     GCSConfig      `mapstructure:"gcs"`
	S3      S3ConfigValues `mapstructure:"s3"`
}

// GCSConfig names the archive bucket on Google Cloud Storage.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// S3ConfigValues names the archive bucket on S3 or an S3-compatible store.
type S3ConfigValues struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScraperConfig governs job execution.
type ScraperConfig struct {
	Sources           []string      `mapstructure:"sources"`
	AdapterTimeout    time.Duration `mapstructure:"adapter_timeout"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	PreviewSize       int           `mapstructure:"preview_size"`
	FetchDetails      bool          `mapstructure:"fetch_details"`
}

// HTTPConfig configures the static page fetcher.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp renderer.
type HeadlessConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxParallel  int           `mapstructure:"max_parallel"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	WaitSelector string        `mapstructure:"wait_selector"`
	ScrollPasses int           `mapstructure:"scroll_passes"`
}

// RateLimitConfig paces requests per marketplace host.
type RateLimitConfig struct {
	DefaultRPS   float64    `mapstructure:"default_rps"`
	DefaultBurst int        `mapstructure:"default_burst"`
	Hosts        []HostRule `mapstructure:"hosts"`
}

// HostRule overrides pacing for one host. Hosts are a list rather than a map
// because Viper splits map keys on dots.
type HostRule struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Limiter converts the section into limiter configuration.
func (r RateLimitConfig) Limiter() ratelimit.Config {
	hosts := make(map[string]ratelimit.HostLimit, len(r.Hosts))
	for _, rule := range r.Hosts {
		hosts[rule.Host] = ratelimit.HostLimit{RPS: rule.RPS, Burst: rule.Burst}
	}
	return ratelimit.Config{DefaultRPS: r.DefaultRPS, DefaultBurst: r.DefaultBurst, Hosts: hosts}
}

// Load builds a Config from disk/environment. Without an explicit path it
// looks for config.{yaml,json,toml} in the working directory and
// /etc/vehicle-scraper, and runs on defaults when none exists. Environment
// variables use the SCRAPER_ prefix with dots replaced by underscores
// (SCRAPER_DB_DSN).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vehicle-scraper/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "scrape-jobs")
	v.SetDefault("scraper.sources", []string{
		string(scraper.SourceOLX), string(scraper.SourceMobil123), string(scraper.SourceCarmudi),
	})
	v.SetDefault("scraper.adapter_timeout", 5*time.Minute)
	v.SetDefault("scraper.max_concurrent_jobs", 2)
	v.SetDefault("scraper.queue_depth", 16)
	v.SetDefault("scraper.preview_size", 5)
	v.SetDefault("scraper.fetch_details", false)
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.user_agent", "vehicle-scraper/0.1")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 30*time.Second)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.scroll_passes", 2)
	v.SetDefault("ratelimit.default_rps", 0.5)
	v.SetDefault("ratelimit.default_burst", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be memory or postgres", c.Storage.Backend))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local archive"))
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			errs = append(errs, errors.New("archive.gcs.bucket is required for the gcs archive"))
		}
	case ArchiveS3:
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive.s3.bucket is required for the s3 archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled"))
	}
	if c.Scraper.AdapterTimeout <= 0 {
		errs = append(errs, errors.New("scraper.adapter_timeout must be > 0"))
	}
	if c.Scraper.MaxConcurrentJobs <= 0 {
		errs = append(errs, errors.New("scraper.max_concurrent_jobs must be > 0"))
	}
	if c.Scraper.QueueDepth <= 0 {
		errs = append(errs, errors.New("scraper.queue_depth must be > 0"))
	}
	if c.Scraper.PreviewSize < 0 {
		errs = append(errs, errors.New("scraper.preview_size must not be negative"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	for i, rule := range c.RateLimit.Hosts {
		if rule.Host == "" {
			errs = append(errs, fmt.Errorf("ratelimit.hosts[%d].host is required", i))
		}
	}
	if _, err := c.SourceConfigs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SourceConfigs resolves scraper.sources into adapter configurations, in
// order. Built-in presets are overlaid with any sources.<name> overrides.
func (c Config) SourceConfigs() ([]html.Config, error) {
	if len(c.Scraper.Sources) == 0 {
		return nil, errors.New("scraper.sources must list at least one source")
	}
	presets := html.Presets()
	seen := make(map[scraper.Source]struct{}, len(c.Scraper.Sources))
	out := make([]html.Config, 0, len(c.Scraper.Sources))
	for _, name := range c.Scraper.Sources {
		src := scraper.ParseSource(name)
		if src == "" || src == scraper.SourceAll {
			return nil, fmt.Errorf("scraper.sources: %q is not a valid source name", name)
		}
		if _, dup := seen[src]; dup {
			return nil, fmt.Errorf("scraper.sources: %q listed twice", name)
		}
		seen[src] = struct{}{}
		resolved := overlay(presets[src], c.Sources[string(src)])
		resolved.Source = src
		if resolved.ListURL == "" || resolved.Selectors.Card == "" || resolved.Selectors.Title == "" {
			return nil, fmt.Errorf("sources.%s: list_url, selectors.card and selectors.title are required", src)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func overlay(base, override html.Config) html.Config {
	if override.ListURL != "" {
		base.ListURL = override.ListURL
	}
	if override.MaxPages > 0 {
		base.MaxPages = override.MaxPages
	}
	if override.Render {
		base.Render = true
	}
	b, o := &base.Selectors, override.Selectors
	pick(&b.Card, o.Card)
	pick(&b.Title, o.Title)
	pick(&b.Price, o.Price)
	pick(&b.Location, o.Location)
	pick(&b.Year, o.Year)
	pick(&b.Link, o.Link)
	pick(&b.Variant, o.Variant)
	pick(&b.Transmission, o.Transmission)
	pick(&b.FuelType, o.FuelType)
	pick(&b.BodyType, o.BodyType)
	pick(&b.Features, o.Features)
	pick(&b.Description, o.Description)
	return base
}

func pick(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
