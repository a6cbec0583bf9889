// Package config loads service configuration from the environment, with a
// local .env file filling in values not already set in the process
// environment (matching the teacher's "env wins, .env fills gaps"
// precedence).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/aristath/dividend-ingest/internal/apperr"
)

// Config is the full set of tunables for the service. Required fields with
// no default are §6.3's required keys; their absence at startup is a Fatal
// error, per §7.
type Config struct {
	// Store Gateway
	DatabaseURL string `env:"SUPABASE_URL,required"`
	DatabaseKey string `env:"SUPABASE_ANON_KEY,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	// Upstream Fetcher
	PolygonAPIKey string `env:"POLYGON_API_KEY,required"`
	PolygonBase   string `env:"POLYGON_BASE_URL" envDefault:"https://api.polygon.io"`

	// API Gate
	TickerAPIKey   string `env:"TICKER_API_KEY"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	DefaultKeyQuota int   `env:"DEFAULT_KEY_QUOTA" envDefault:"100"`

	// FastQueue sink (§9)
	CloudflareQueueURL string `env:"CLOUDFLARE_WORKER_QUEUE_URL"`

	// Worker Pool
	WorkerBatchSize int `env:"WORKER_BATCH_SIZE" envDefault:"5"`
	WorkerID        string `env:"WORKER_ID" envDefault:"worker-1"`

	// Ambient
	Environment string `env:"NODE_ENV" envDefault:"production"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// IsDev reports whether the process should surface verbose error detail
// (§6.3: NODE_ENV for dev-mode error detail).
func (c Config) IsDev() bool { return c.Environment == "development" }

// Load reads a local .env file (if present) then parses the environment
// into Config. Missing required keys produce a Fatal apperr so main can
// abort startup per §7.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "missing required configuration", err)
	}
	if cfg.PolygonAPIKey == "" {
		return nil, apperr.New(apperr.Fatal, "POLYGON_API_KEY is required")
	}
	return cfg, nil
}

// String redacts secrets for logging.
func (c Config) String() string {
	return fmt.Sprintf("Config{addr=%s env=%s dbMaxConns=%d batchSize=%d}",
		c.HTTPAddr, c.Environment, c.DBMaxConns, c.WorkerBatchSize)
}
