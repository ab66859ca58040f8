// Package grpc holds gRPC client helpers for the marketplace health endpoint.
package grpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	probeTimeout   = time.Second
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = time.Second
)

// NewHealthConn creates an insecure, traced client connection for health probes.
func NewHealthConn(addr string) (*gogrpc.ClientConn, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("gRPC address is required")
	}
	conn, err := gogrpc.NewClient(
		addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gRPC client %s: %w", addr, err)
	}
	return conn, nil
}

// WaitForHealth polls service until it reports SERVING, backing off between
// probes. When ctx ends first the error names the last observed state.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	client := grpc_health_v1.NewHealthClient(conn)
	backoff := initialBackoff
	last := "no response"
	for attempt := 1; ; attempt++ {
		status, err := probe(ctx, client, service)
		switch {
		case err != nil:
			last = err.Error()
		case status == grpc_health_v1.HealthCheckResponse_SERVING:
			logf("health %q SERVING after %d probe(s)", service, attempt)
			return nil
		default:
			last = status.String()
		}
		logf("health %q not ready: %s", service, last)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for health %q (last: %s): %w", service, last, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func probe(ctx context.Context, client grpc_health_v1.HealthClient, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := client.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
