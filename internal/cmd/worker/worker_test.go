package worker

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	t.Setenv("TALLY_WORKER_PORT", "9099")
	t.Setenv("TALLY_WORKER_DB_PATH", "test/tally.db")

	cfg, err := ParseConfig(fs, []string{"-reconcile-hour", "4", "-debounce-window", "10s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9099 {
		t.Fatalf("port = %d, want 9099", cfg.Port)
	}
	if cfg.DBPath != "test/tally.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "test/tally.db")
	}
	if cfg.ReconcileHour != 4 {
		t.Fatalf("reconcile hour = %d, want 4", cfg.ReconcileHour)
	}
	if cfg.DebounceWindow != 10*time.Second {
		t.Fatalf("debounce window = %v, want 10s", cfg.DebounceWindow)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8094 {
		t.Fatalf("port = %d, want 8094", cfg.Port)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.DebounceWindow != 5*time.Second {
		t.Fatalf("debounce window = %v, want 5s", cfg.DebounceWindow)
	}
	if cfg.MaxConcurrentRefreshes != 3 {
		t.Fatalf("max concurrent refreshes = %d, want 3", cfg.MaxConcurrentRefreshes)
	}
	if cfg.RefreshTimeout != time.Minute {
		t.Fatalf("refresh timeout = %v, want 1m", cfg.RefreshTimeout)
	}
	if cfg.ReconcileHour != 3 {
		t.Fatalf("reconcile hour = %d, want 3", cfg.ReconcileHour)
	}
	if !cfg.RefreshEnabled || !cfg.ReconcileEnabled {
		t.Fatalf("enabled flags = %v/%v, want true/true", cfg.RefreshEnabled, cfg.ReconcileEnabled)
	}
}
