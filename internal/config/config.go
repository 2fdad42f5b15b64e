// Package config loads and validates queue configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB        DBConfig        `mapstructure:"db"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Pool      PoolConfig      `mapstructure:"pool"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DBConfig controls access to the shared relational store.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	DomainTable string `mapstructure:"domain_table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

// QueueConfig governs the claim/complete cycle.
type QueueConfig struct {
	ChunkSize             int    `mapstructure:"chunk_size"`
	EmptyBackoffSeconds   int    `mapstructure:"empty_backoff_seconds"`
	Limit                 int    `mapstructure:"limit"`
	PublisherEquivalentID string `mapstructure:"publisher_equivalent_id"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers        int `mapstructure:"workers"`
	TasksPerWorker int `mapstructure:"tasks_per_worker"`
}

// RateLimitConfig governs the fleet-wide per-domain limiter.
type RateLimitConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// ScrapeConfig configures the page scraper.
type ScrapeConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ServerConfig controls the operability HTTP listener.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GREEN_SCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults the environment for keys viper already
	// knows about. db.dsn has no default, so bind it explicitly or an
	// env-only deployment cannot set it.
	v.MustBindEnv("db.dsn")

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
	v.SetDefault("db.table", "page_green_scrape_queue")
	v.SetDefault("db.domain_table", "domain_scrape_activity")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("queue.chunk_size", 100)
	v.SetDefault("queue.empty_backoff_seconds", 5)
	v.SetDefault("queue.limit", 0)
	v.SetDefault("queue.publisher_equivalent_id", "publisher")
	v.SetDefault("pool.workers", 10)
	v.SetDefault("pool.tasks_per_worker", 10)
	v.SetDefault("ratelimit.cooldown_seconds", 10)
	v.SetDefault("scrape.user_agent", "oadoi-greenscrape/1.0")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Queue.ChunkSize <= 0 {
		return fmt.Errorf("queue.chunk_size must be > 0")
	}
	if c.Queue.Limit < 0 {
		return fmt.Errorf("queue.limit must be >= 0")
	}
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be > 0")
	}
	if c.Pool.TasksPerWorker < 0 {
		return fmt.Errorf("pool.tasks_per_worker must be >= 0")
	}
	if c.RateLimit.CooldownSeconds <= 0 {
		return fmt.Errorf("ratelimit.cooldown_seconds must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// EmptyBackoff returns the empty-queue backoff as a duration.
func (c Config) EmptyBackoff() time.Duration {
	return time.Duration(c.Queue.EmptyBackoffSeconds) * time.Second
}

// Cooldown returns the domain cooldown interval as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.RateLimit.CooldownSeconds) * time.Second
}

// ScrapeTimeout returns the per-fetch timeout as a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}
