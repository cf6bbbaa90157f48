// Package config loads the scheduler's environment-based configuration
// surface (spec.md §6), following the env-tag pattern used throughout
// dmitrymomot-foundation's core/config package.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/contentplane/scheduler/internal/scheduler"
)

// Config is the process-level configuration surface. Fields map
// directly to the constants named in spec.md §6; all carry that
// section's defaults so an empty environment reproduces spec.md's
// base behavior.
type Config struct {
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	PostgresDSN string `env:"POSTGRES_DSN"`

	// Backend selects which ScheduleStore/WorkerRegistry implementation
	// cmd/schedulerd wires up: "memory", "redis", or "postgres".
	Backend string `env:"STORE_BACKEND" envDefault:"redis"`

	WorkerTimeout   time.Duration `env:"WORKER_TIMEOUT" envDefault:"300s"`
	SweepFrequency  time.Duration `env:"SWEEP_FREQUENCY" envDefault:"60s"`
	FailureWatchTTL time.Duration `env:"FAILURE_WATCH_TTL" envDefault:"4h"`
	// MaxBeatInterval is parsed but not read by the beat loop, which
	// always uses the fixed scheduler.MaxBeatInterval.
	MaxBeatInterval time.Duration `env:"MAX_BEAT_INTERVAL" envDefault:"90s"`

	DispatchRatePerSecond float64 `env:"DISPATCH_RATE_PER_SECOND" envDefault:"50"`
	DispatchBurst         int     `env:"DISPATCH_BURST" envDefault:"10"`
	CircuitFailureLimit   int     `env:"CIRCUIT_FAILURE_LIMIT" envDefault:"5"`
	CircuitCooldown       time.Duration `env:"CIRCUIT_COOLDOWN" envDefault:"30s"`

	// HAEnabled turns on the Redis-lease ActiveGuard for multi-replica
	// deployments. Unset, the scheduler behaves as a single always-active
	// instance (spec.md's base case).
	HAEnabled  bool          `env:"HA_ENABLED" envDefault:"false"`
	LeaseTTL   time.Duration `env:"HA_LEASE_TTL" envDefault:"15s"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load parses Config from the environment. Any parse failure (a
// malformed duration, a missing required field) is wrapped as
// ErrConfiguration per spec.md §7: the process should fail to start
// rather than run with a partially-valid configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", scheduler.ErrConfiguration, err)
	}
	return &cfg, nil
}
