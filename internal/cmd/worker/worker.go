// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	"github.com/louisbranch/tally/internal/app"
	entrypoint "github.com/louisbranch/tally/internal/platform/cmd"
)

// Config holds worker command configuration.
type Config struct {
	Port                   int           `env:"TALLY_WORKER_PORT" envDefault:"8094"`
	DBPath                 string        `env:"TALLY_WORKER_DB_PATH" envDefault:"data/tally.db"`
	PollInterval           time.Duration `env:"TALLY_WORKER_POLL_INTERVAL" envDefault:"2s"`
	DebounceWindow         time.Duration `env:"TALLY_WORKER_DEBOUNCE_WINDOW" envDefault:"5s"`
	MaxConcurrentRefreshes int           `env:"TALLY_WORKER_MAX_CONCURRENT_REFRESHES" envDefault:"3"`
	RefreshTimeout         time.Duration `env:"TALLY_WORKER_REFRESH_TIMEOUT" envDefault:"1m"`
	ReconcileHour          int           `env:"TALLY_WORKER_RECONCILE_HOUR" envDefault:"3"`
	RefreshEnabled         bool          `env:"TALLY_WORKER_REFRESH_ENABLED" envDefault:"true"`
	ReconcileEnabled       bool          `env:"TALLY_WORKER_RECONCILE_ENABLED" envDefault:"true"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Refresh queue poll interval")
	fs.DurationVar(&cfg.DebounceWindow, "debounce-window", cfg.DebounceWindow, "Refresh enqueue debounce window")
	fs.IntVar(&cfg.MaxConcurrentRefreshes, "max-concurrent-refreshes", cfg.MaxConcurrentRefreshes, "Maximum simultaneous view refreshes")
	fs.DurationVar(&cfg.RefreshTimeout, "refresh-timeout", cfg.RefreshTimeout, "Per-view refresh timeout")
	fs.IntVar(&cfg.ReconcileHour, "reconcile-hour", cfg.ReconcileHour, "Local hour (0-23) of the nightly reconciliation pass")
	fs.BoolVar(&cfg.RefreshEnabled, "refresh-enabled", cfg.RefreshEnabled, "Run the refresh worker")
	fs.BoolVar(&cfg.ReconcileEnabled, "reconcile-enabled", cfg.ReconcileEnabled, "Run the nightly reconciliation")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Port:                   cfg.Port,
			DBPath:                 cfg.DBPath,
			PollInterval:           cfg.PollInterval,
			DebounceWindow:         cfg.DebounceWindow,
			MaxConcurrentRefreshes: cfg.MaxConcurrentRefreshes,
			RefreshTimeout:         cfg.RefreshTimeout,
			ReconcileHour:          cfg.ReconcileHour,
			RefreshEnabled:         cfg.RefreshEnabled,
			ReconcileEnabled:       cfg.ReconcileEnabled,
		})
	})
}
