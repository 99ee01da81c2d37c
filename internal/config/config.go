// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone database so edition.timezone resolves in minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	HTML    HTMLConfig    `mapstructure:"html"`
	CMS     CMSConfig     `mapstructure:"cms"`
	Edition EditionConfig `mapstructure:"edition"`
	Gaps    GapsConfig    `mapstructure:"gaps"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	Provider       string `mapstructure:"provider"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	Collection     string `mapstructure:"collection"`
	Namespace      string `mapstructure:"namespace"`
	MaxConns       int32  `mapstructure:"max_conns"`
	LookupLimit    int    `mapstructure:"lookup_limit"`
	VerifyAttempts int    `mapstructure:"verify_attempts"`
	VerifyDelayMs  int    `mapstructure:"verify_delay_ms"`
}

// AssetsConfig selects where cover images are written.
type AssetsConfig struct {
	Provider  string `mapstructure:"provider"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// HTTPConfig configures the outbound HTTP client and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
	MaxBodyBytes     int    `mapstructure:"max_body_bytes"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// HTMLConfig locates edition pages.
type HTMLConfig struct {
	SiteOrigin  string `mapstructure:"site_origin"`
	EditionPath string `mapstructure:"edition_path"`
	DelayMs     int    `mapstructure:"delay_ms"`
	Headless    bool   `mapstructure:"headless"`
}

// CMSConfig addresses the content API.
type CMSConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"`
	SyncSource        string `mapstructure:"sync_source"`
	CoverField        string `mapstructure:"cover_field"`
	ServerSideNonNull bool   `mapstructure:"server_side_non_null"`
}

// EditionConfig holds publication-wide constants.
type EditionConfig struct {
	PublisherName string `mapstructure:"publisher_name"`
	Timezone      string `mapstructure:"timezone"`
}

// GapsConfig describes the publication calendar.
type GapsConfig struct {
	OffDay    string   `mapstructure:"off_day"`
	Holidays  []string `mapstructure:"holidays"`
	LoadLimit int      `mapstructure:"load_limit"`
}

// PubSubConfig holds metadata for ingestion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures the pushgateway used by batch runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	APIKey          string `mapstructure:"api_key"`
	RedisAddr       string `mapstructure:"redis_addr"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file plus COP_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COP")
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
	v.SetDefault("store.provider", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "editions")
	v.SetDefault("store.collection", "Copertine")
	v.SetDefault("store.namespace", "copertine")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.lookup_limit", 100)
	v.SetDefault("store.verify_attempts", 3)
	v.SetDefault("store.verify_delay_ms", 500)
	v.SetDefault("assets.provider", "local")
	v.SetDefault("assets.dir", "images")
	v.SetDefault("assets.gcs_bucket", "")
	v.SetDefault("assets.gcs_prefix", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("html.site_origin", "https://ilmanifesto.it")
	v.SetDefault("html.edition_path", "/edizioni/il-manifesto/il-manifesto-del-%s")
	v.SetDefault("html.delay_ms", 1000)
	v.SetDefault("html.headless", false)
	v.SetDefault("cms.base_url", "https://directus.ilmanifesto.it")
	v.SetDefault("cms.token", "")
	v.SetDefault("cms.sync_source", "wp")
	v.SetDefault("cms.cover_field", "articlePositionCover")
	v.SetDefault("cms.server_side_non_null", false)
	v.SetDefault("edition.publisher_name", "Il Manifesto")
	v.SetDefault("edition.timezone", "Europe/Rome")
	v.SetDefault("gaps.off_day", "monday")
	v.SetDefault("gaps.holidays", []string{"16/08", "01/01", "02/05", "25/12", "26/12"})
	v.SetDefault("gaps.load_limit", 10000)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "copertine_ingest")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.redis_addr", "")
	v.SetDefault("server.cache_ttl_seconds", 60)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Provider {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("store.provider must be postgres or memory, got %q", c.Store.Provider)
	}
	if c.Store.Collection == "" || c.Store.Namespace == "" {
		return fmt.Errorf("store.collection and store.namespace are required")
	}
	if c.Store.VerifyAttempts < 0 || c.Store.VerifyDelayMs < 0 {
		return fmt.Errorf("store.verify_attempts and store.verify_delay_ms must be >= 0")
	}
	switch c.Assets.Provider {
	case "local":
		if c.Assets.Dir == "" {
			return fmt.Errorf("assets.dir is required for the local provider")
		}
	case "gcs":
		if c.Assets.GCSBucket == "" {
			return fmt.Errorf("assets.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("assets.provider must be local or gcs, got %q", c.Assets.Provider)
	}
	if c.HTTP.TimeoutSeconds < 10 || c.HTTP.TimeoutSeconds > 30 {
		return fmt.Errorf("http.timeout_seconds must be between 10 and 30")
	}
	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be >= 1")
	}
	if !strings.Contains(c.HTML.EditionPath, "%s") {
		return fmt.Errorf("html.edition_path must contain %%s")
	}
	if c.HTML.DelayMs < 0 {
		return fmt.Errorf("html.delay_ms must be >= 0")
	}
	if c.Edition.PublisherName == "" {
		return fmt.Errorf("edition.publisher_name is required")
	}
	if _, err := time.LoadLocation(c.Edition.Timezone); err != nil {
		return fmt.Errorf("edition.timezone: %w", err)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// ValidateCMS checks the settings only the CMS source needs.
func (c Config) ValidateCMS() error {
	if c.CMS.BaseURL == "" {
		return fmt.Errorf("cms.base_url is required")
	}
	if c.CMS.Token == "" {
		return fmt.Errorf("cms.token is required for the cms source")
	}
	return nil
}

// Location returns the publication time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Edition.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HTTPTimeout returns the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PageDelay returns the spacing between edition page requests.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.HTML.DelayMs) * time.Millisecond
}

// VerifyDelay returns the pause between post-write verification reads.
func (c Config) VerifyDelay() time.Duration {
	return time.Duration(c.Store.VerifyDelayMs) * time.Millisecond
}

// Backoff returns the retry base and cap.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// CacheTTL returns the read API cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Server.CacheTTLSeconds) * time.Second
}
