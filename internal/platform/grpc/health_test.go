package grpc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const marketplaceService = "ticketmarket.Marketplace"

func serveHealth(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) (*health.Server, *gogrpc.ClientConn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(marketplaceService, status)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := NewHealthConn(listener.Addr().String())
	if err != nil {
		t.Fatalf("health conn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthServer, conn
}

func TestWaitForHealth(t *testing.T) {
	t.Run("already serving", func(t *testing.T) {
		_, conn := serveHealth(t, grpc_health_v1.HealthCheckResponse_SERVING)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := WaitForHealth(ctx, conn, marketplaceService, t.Logf); err != nil {
			t.Fatalf("wait: %v", err)
		}
	})

	t.Run("becomes serving", func(t *testing.T) {
		healthServer, conn := serveHealth(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		time.AfterFunc(250*time.Millisecond, func() {
			healthServer.SetServingStatus(marketplaceService, grpc_health_v1.HealthCheckResponse_SERVING)
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := WaitForHealth(ctx, conn, marketplaceService, nil); err != nil {
			t.Fatalf("wait: %v", err)
		}
	})

	t.Run("gives up with last status", func(t *testing.T) {
		_, conn := serveHealth(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		err := WaitForHealth(ctx, conn, marketplaceService, nil)
		if err == nil || !strings.Contains(err.Error(), "NOT_SERVING") {
			t.Fatalf("error = %v, want last status NOT_SERVING", err)
		}
	})

	t.Run("unknown service", func(t *testing.T) {
		_, conn := serveHealth(t, grpc_health_v1.HealthCheckResponse_SERVING)
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		if err := WaitForHealth(ctx, conn, "ticketmarket.Missing", nil); err == nil {
			t.Fatal("expected unknown service to time out")
		}
	})
}

func TestHealthArgumentsRequired(t *testing.T) {
	if _, err := NewHealthConn("  "); err == nil {
		t.Fatal("expected missing address error")
	}
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected missing connection error")
	}
}
