package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends understood by the record store.
const (
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds process configuration read from the environment.
type Config struct {
	AppEnv           string `env:"APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPListenAddr   string `env:"HTTP_LISTEN_ADDR" envDefault:":5000"`
	PublicBasePath   string `env:"PUBLIC_BASE_PATH"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"smm_store"`

	SMMAPIURL  string        `env:"SMM_API_URL" envDefault:"https://bdclick24.com/api/v2"`
	SMMAPIKey  string        `env:"SMM_API_KEY"`
	SMMTimeout time.Duration `env:"SMM_TIMEOUT" envDefault:"30s"`

	StoreBackend   string `env:"STORE_BACKEND" envDefault:"file"`
	DataDir        string `env:"DATA_DIR" envDefault:"data"`
	BoltPath       string `env:"BOLT_PATH" envDefault:"data/store.db"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"data/store.sqlite"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseSchema string `env:"DATABASE_SCHEMA"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	RedisTLS        bool          `env:"REDIS_TLS" envDefault:"false"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`

	AdminToken  string   `env:"ADMIN_TOKEN"`
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`
}

// Load parses the environment into Config and validates backend selection.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalise()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	emails := c.AdminEmails[:0]
	for _, e := range c.AdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails = append(emails, e)
		}
	}
	c.AdminEmails = emails
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendFile, BackendBolt, BackendSQLite:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}
