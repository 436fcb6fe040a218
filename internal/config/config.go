// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DiscoveryConfig governs the crawl engine.
type DiscoveryConfig struct {
	MaxDepth        int     `mapstructure:"max_depth"`
	MaxDocuments    int     `mapstructure:"max_documents"`
	MaxLinksPerPage int     `mapstructure:"max_links_per_page"`
	Workers         int     `mapstructure:"workers"`
	UserAgent       string  `mapstructure:"user_agent"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	PerHostRPS      float64 `mapstructure:"per_host_rps"`
	PerHostBurst    int     `mapstructure:"per_host_burst"`
	QueueDepth      int     `mapstructure:"queue_depth"`
}

// HTTPConfig configures outbound HTTP fetch behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects and parameterizes the blob store backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the registry database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds the trigger topic and subscription metadata.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// CapabilityConfig points at the external analysis platform.
type CapabilityConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	OrgID          string            `mapstructure:"org_id"`
	ProjectID      string            `mapstructure:"project_id"`
	TokenURL       string            `mapstructure:"token_url"`
	ClientID       string            `mapstructure:"client_id"`
	ClientSecret   string            `mapstructure:"client_secret"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Tasks          map[string]string `mapstructure:"tasks"`
}

// Configured reports whether the capability platform is reachable at all.
// Without it the service still crawls and classifies heuristically.
func (c CapabilityConfig) Configured() bool {
	return c.BaseURL != "" && c.TokenURL != "" && c.ClientID != ""
}

// AnalysisConfig bounds the parallel analysis dispatcher.
type AnalysisConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWD")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("discovery.max_depth", 2)
	v.SetDefault("discovery.max_documents", 50)
	v.SetDefault("discovery.max_links_per_page", 25)
	v.SetDefault("discovery.workers", 4)
	v.SetDefault("discovery.user_agent", "vendor-review-bot/0.1")
	v.SetDefault("discovery.respect_robots", true)
	v.SetDefault("discovery.per_host_rps", 1)
	v.SetDefault("discovery.per_host_burst", 1)
	v.SetDefault("discovery.queue_depth", 64)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("db.table", "vendor_registry")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 60)
	v.SetDefault("capability.timeout_seconds", 120)
	v.SetDefault("analysis.workers", 2)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Discovery.Workers <= 0 {
		return fmt.Errorf("discovery.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of gcs, local, memory")
	}
	if c.Capability.Configured() && c.Capability.ClientSecret == "" {
		return fmt.Errorf("capability.client_secret must be set when capability is configured")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CapabilityTimeout converts the capability call budget into a duration.
func (c Config) CapabilityTimeout() time.Duration {
	return time.Duration(c.Capability.TimeoutSeconds) * time.Second
}
