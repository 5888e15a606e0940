// Package config defines configuration parsing for the proxy.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all process configuration, parsed from environment
// variables. The shared Redis backend is what multi-instance deployments
// use; SQLite keeps single-box setups dependency-free.
type Config struct {
	Host string `env:"HOST" envDefault:"127.0.0.1"`
	Port int    `env:"PORT" envDefault:"8080"`

	// APIKey protects the /v1 surface. Empty disables inbound auth
	// (first-run convenience, same as leaving the admin password unset).
	APIKey string `env:"PROXY_API_KEY"`

	// AdminPassword gates /admin with basic auth when set.
	AdminPassword string `env:"PROXY_ADMIN_PASSWORD"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"qwen-proxy.db"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// ModelsFile optionally overrides the advertised model catalog with
	// a YAML file (see internal/models).
	ModelsFile string `env:"MODELS_FILE"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.StoreBackend != BackendSQLite && cfg.StoreBackend != BackendRedis {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want %q or %q)", cfg.StoreBackend, BackendSQLite, BackendRedis)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
