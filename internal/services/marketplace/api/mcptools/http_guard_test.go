package mcptools

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPHandlerRejectsForeignHostAndOrigin(t *testing.T) {
	handler := NewHTTPHandler(NewServer(newOrchestrator(t)), []string{"market.internal"})

	tests := []struct {
		name   string
		host   string
		origin string
	}{
		{name: "foreign host", host: "attacker.example"},
		{name: "foreign host with port", host: "attacker.example:8096"},
		{name: "foreign origin", host: "localhost:8096", origin: "http://attacker.example"},
		{name: "malformed origin", host: "localhost:8096", origin: "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
			}
		})
	}
}

func TestHostGuardAdmitsLoopbackAndAllowedHosts(t *testing.T) {
	guard := hostGuard{
		allowed: parseAllowedHosts([]string{" Market.Internal ", ""}),
		next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}

	tests := []struct {
		name   string
		host   string
		origin string
	}{
		{name: "localhost", host: "localhost:8096"},
		{name: "ipv4 loopback", host: "127.0.0.1:8096", origin: "http://127.0.0.1:8096"},
		{name: "ipv6 loopback", host: "[::1]:8096"},
		{name: "allowed host", host: "market.internal", origin: "https://MARKET.internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			guard.ServeHTTP(rec, req)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
			}
		})
	}
}
