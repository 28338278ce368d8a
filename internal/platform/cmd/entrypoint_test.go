package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointTestConfig struct {
	Port int `env:"TALLY_ENTRYPOINT_TEST_PORT" envDefault:"8089"`
}

func TestParseConfigDefaults(t *testing.T) {
	var cfg entrypointTestConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8089 {
		t.Fatalf("port = %d, want 8089", cfg.Port)
	}
}

func TestParseConfigRequiresTarget(t *testing.T) {
	if err := ParseConfig[entrypointTestConfig](nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestParseArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	port := fs.Int("port", 1, "")
	if err := ParseArgs(fs, []string{"-port", "42"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if *port != 42 {
		t.Fatalf("port = %d, want 42", *port)
	}
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}

func TestRunWithTelemetryValidation(t *testing.T) {
	run := func(context.Context) error { return nil }
	if err := RunWithTelemetry(context.Background(), " ", run); err == nil {
		t.Fatal("expected error for empty service name")
	}
	if err := RunWithTelemetry(context.Background(), "worker", nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("TALLY_OTEL_ENDPOINT", "")
	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), "worker", func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want run failure", err)
	}
}
