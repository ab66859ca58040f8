package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type testConfig struct {
	Address string `env:"TICKETMARKET_CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"TICKETMARKET_CMD_TEST_MODE" envDefault:"server"`
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("TICKETMARKET_CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("TICKETMARKET_CMD_TEST_MODE", "env-mode")

	var cfg testConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")
	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Address != "flag:9001" {
		t.Fatalf("Address = %q, want flag value", cfg.Address)
	}
	if cfg.Mode != "env-mode" {
		t.Fatalf("Mode = %q, want env value", cfg.Mode)
	}
}

func TestParseRejectsNilTargets(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil config error")
	}
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected nil parser error")
	}
}

func TestRunWithTelemetry(t *testing.T) {
	t.Setenv("TICKETMARKET_OTEL_ENDPOINT", "")

	if err := RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceMarketplace, nil); err == nil {
		t.Fatal("expected missing run function error")
	}

	boom := errors.New("boom")
	if err := RunWithTelemetry(context.Background(), ServiceMarketplace, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want run error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunWithTelemetry(ctx, ServiceMarketplace, func(ctx context.Context) error { return ctx.Err() })
	if err != nil {
		t.Fatalf("cancelled run error = %v, want nil", err)
	}
}
