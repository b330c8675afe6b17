// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/briangreenhill/baydirectory/cache"
)

// Storage backends for the response cache.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config holds all application configuration
type Config struct {
	Port       string        `env:"PORT" envDefault:"8080"`
	APIBaseURL string        `env:"BAYDIR_API_URL" envDefault:"https://api.bayareadiscounts.com"`
	APIToken   string        `env:"BAYDIR_API_TOKEN"`
	APITimeout time.Duration `env:"BAYDIR_API_TIMEOUT" envDefault:"20s"`

	// AdminToken guards the cache management endpoints. Empty disables them.
	AdminToken string `env:"ADMIN_TOKEN"`

	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`

	Cache CacheConfig `envPrefix:"CACHE_"`
}

// CacheConfig holds response and translation cache settings
type CacheConfig struct {
	TTL            time.Duration `env:"TTL" envDefault:"5m"`
	MaxEntries     int           `env:"MAX_ENTRIES" envDefault:"100"`
	Backend        string        `env:"BACKEND" envDefault:"memory"`
	Dir            string        `env:"DIR"` // file backend; defaults to ~/.baydir_cache
	BoltPath       string        `env:"BOLT_PATH" envDefault:"baydir_cache.db"`
	Namespace      string        `env:"NAMESPACE" envDefault:"baydir"`
	EvictionPolicy string        `env:"EVICTION_POLICY" envDefault:"lru-write"`
	Freshness      time.Duration `env:"FRESHNESS"`
	TranslationTTL time.Duration `env:"TRANSLATION_TTL" envDefault:"168h"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values env parsing cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BAYDIR_API_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TranslationTTL <= 0 {
		return fmt.Errorf("CACHE_TRANSLATION_TTL must be positive, got %s", c.Cache.TranslationTTL)
	}
	if _, err := cache.ParseEvictionPolicy(c.Cache.EvictionPolicy); err != nil {
		return fmt.Errorf("CACHE_EVICTION_POLICY: %w", err)
	}

	switch c.Cache.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("cache backend %q requires REDIS_ADDR", c.Cache.Backend)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("cache backend %q requires DATABASE_URL", c.Cache.Backend)
		}
	case BackendBolt:
		if c.Cache.BoltPath == "" {
			return fmt.Errorf("cache backend %q requires CACHE_BOLT_PATH", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	return nil
}

// ValidateWorker checks the settings for a process that shares the cache
// with a running api. BoltDB takes an exclusive lock on its file, so the
// bolt backend is single-process and cannot be used here.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Cache.Backend == BackendBolt {
		return fmt.Errorf("cache backend %q is locked by the api process; use %q, %q or %q for the worker",
			c.Cache.Backend, BackendRedis, BackendPostgres, BackendFile)
	}
	return nil
}

// CacheOptions maps the settings onto cache.Options. Storage, logging and
// metrics are left for the caller to wire.
func (c *Config) CacheOptions() cache.Options {
	policy, _ := cache.ParseEvictionPolicy(c.Cache.EvictionPolicy)
	return cache.Options{
		TTL:            c.Cache.TTL,
		MaxEntries:     c.Cache.MaxEntries,
		Namespace:      c.Cache.Namespace,
		EvictionPolicy: policy,
	}
}

// HasAdmin reports whether the cache management endpoints are enabled.
func (c *Config) HasAdmin() bool {
	return c.AdminToken != ""
}
