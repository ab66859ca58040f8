// Package server wires the marketplace runtime: storage, managers, the MCP
// command surface and the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/ticketmarket/internal/platform/i18n/catalog"
	"github.com/louisbranch/ticketmarket/internal/platform/timeouts"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/api/mcptools"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/authz"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/escrow"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/listing"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/orchestrator"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage/sqlite"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// MCP transports the server can expose.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	// TransportNone serves only the health endpoint.
	TransportNone = "none"
)

// HealthService is the gRPC health service name reported as SERVING.
const HealthService = "ticketmarket.Marketplace"

const sessionSweepInterval = time.Minute

// Config configures the marketplace server.
type Config struct {
	GRPCAddr            string
	DBPath              string
	AdminID             string
	CommissionRate      escrow.Rate
	SingleActivePayment bool
	DefaultLocale       string
	SessionTTL          time.Duration
	MCPTransport        string
	MCPAddr             string
	MCPAllowedHosts     []string
}

// Server hosts the marketplace command surface and storage lifecycle.
type Server struct {
	listener    net.Listener
	grpcServer  *grpc.Server
	health      *health.Server
	store       *sqlite.Store
	sessions    *orchestrator.Sessions
	mcpServer   *mcp.Server
	transport   string
	mcpListener net.Listener
	httpServer  *http.Server
}

// New opens storage, builds the marketplace components and binds listeners.
func New(cfg Config) (*Server, error) {
	transport := strings.ToLower(strings.TrimSpace(cfg.MCPTransport))
	if transport == "" {
		transport = TransportStdio
	}
	switch transport {
	case TransportStdio, TransportHTTP, TransportNone:
	default:
		return nil, fmt.Errorf("transport %q is not supported", cfg.MCPTransport)
	}
	if strings.TrimSpace(cfg.AdminID) == "" {
		log.Printf("no administrator configured; moderation and settlement are disabled")
	}

	signer, err := authz.LoadActionSignerFromEnv(time.Now)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	bundle := catalog.Default()
	prefs := orchestrator.NewPreferences(bundle.Match(cfg.DefaultLocale))
	notifier := orchestrator.NewNotifier(store, cfg.AdminID, bundle, prefs)
	sessions := orchestrator.NewSessions(cfg.SessionTTL)
	orch, err := orchestrator.New(orchestrator.Deps{
		Guard: authz.NewGuard(cfg.AdminID, store),
		Listings: listing.NewManager(store,
			listing.WithPublisher(notifier),
			listing.WithActionReferencer(signer),
		),
		Escrow: escrow.NewManager(store, cfg.CommissionRate,
			escrow.WithPublisher(notifier),
			escrow.WithSingleActivePayment(cfg.SingleActivePayment),
		),
		Signer:   signer,
		Consents: store,
		Outbox:   store,
		Sessions: sessions,
		Prefs:    prefs,
		Bundle:   bundle,
	})
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	server := &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		sessions:   sessions,
		mcpServer:  mcptools.NewServer(orch),
		transport:  transport,
	}
	if transport == TransportHTTP {
		mcpAddr := cfg.MCPAddr
		if mcpAddr == "" {
			mcpAddr = "localhost:8096"
		}
		server.mcpListener, err = net.Listen("tcp", mcpAddr)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("listen on %s: %w", mcpAddr, err)
		}
		server.httpServer = &http.Server{
			Handler:           mcptools.NewHTTPHandler(server.mcpServer, cfg.MCPAllowedHosts),
			ReadHeaderTimeout: timeouts.ReadHeader,
		}
	}
	return server, nil
}

// Addr returns the gRPC health listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MCPAddr returns the MCP HTTP listener address, or "" for other transports.
func (s *Server) MCPAddr() string {
	if s == nil || s.mcpListener == nil {
		return ""
	}
	return s.mcpListener.Addr().String()
}

// Run creates and serves a marketplace server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs every listener until ctx ends or one of them fails. A stdio
// client disconnecting also stops the server.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("marketplace health listening at %v", s.listener.Addr())
	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- s.grpcServer.Serve(s.listener)
	}()

	mcpErr := make(chan error, 1)
	switch s.transport {
	case TransportStdio:
		log.Printf("marketplace MCP serving on stdio")
		go func() {
			mcpErr <- s.mcpServer.Run(runCtx, &mcp.StdioTransport{})
		}()
	case TransportHTTP:
		log.Printf("marketplace MCP listening at %v", s.mcpListener.Addr())
		go func() {
			mcpErr <- s.httpServer.Serve(s.mcpListener)
		}()
	}

	go s.sweepSessions(runCtx)

	mcpRunning := s.transport != TransportNone
	var result error
	select {
	case <-ctx.Done():
	case err := <-grpcErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			result = fmt.Errorf("serve gRPC: %w", err)
		}
	case err := <-mcpErr:
		mcpRunning = false
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			result = fmt.Errorf("serve MCP: %w", err)
		}
	}
	cancel()
	s.shutdown()
	// The store closes on return, so in-flight tool calls must finish first.
	if mcpRunning && !awaitStopped(mcpErr, timeouts.Shutdown) {
		log.Printf("marketplace MCP did not stop within %v", timeouts.Shutdown)
	}
	return result
}

// awaitStopped waits for a serve loop to report its exit, up to timeout.
func awaitStopped(done <-chan error, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := s.sessions.Sweep(); dropped > 0 {
				log.Printf("dropped %d expired conversation sessions", dropped)
			}
		}
	}
}

func (s *Server) shutdown() {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown MCP HTTP server: %v", err)
		}
		cancel()
	}
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeouts.Shutdown):
		s.grpcServer.Stop()
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.mcpListener != nil {
		_ = s.mcpListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close marketplace store: %v", err)
		}
		s.store = nil
	}
}

func openStore(path string) (*sqlite.Store, error) {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join("data", "marketplace.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open marketplace sqlite store: %w", err)
	}
	return store, nil
}
