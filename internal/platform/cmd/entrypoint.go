// Package cmd holds the shared process entrypoint helpers.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/ticketmarket/internal/platform/config"
	"github.com/louisbranch/ticketmarket/internal/platform/otel"
)

const telemetryFlushTimeout = 5 * time.Second

// ServiceMarketplace identifies the marketplace process in telemetry and logs.
const ServiceMarketplace = "marketplace"

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags over values already loaded from env.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry sets up tracing for service, executes run and flushes
// spans afterwards. A run that ends because ctx was cancelled is a clean exit.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	switch {
	case service == "":
		return fmt.Errorf("service name is required")
	case run == nil:
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	otelCfg, err := otel.LoadConfig()
	if err != nil {
		return err
	}
	shutdown, err := otel.Setup(ctx, service, otelCfg)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("%s telemetry flush: %v", service, err)
		}
	}()

	started := time.Now()
	log.Printf("%s starting (tracing %v)", service, otelCfg.Active())
	err = run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	log.Printf("%s stopped after %s", service, time.Since(started).Round(time.Second))
	return err
}
