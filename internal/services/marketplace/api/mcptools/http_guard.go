package mcptools

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	errInvalidHost   = errors.New("invalid host")
	errInvalidOrigin = errors.New("invalid origin")
)

// hostGuard rejects requests whose Host or Origin header names a host outside
// loopback and the configured allow list, so a page served elsewhere cannot
// reach the local MCP endpoint through DNS rebinding.
type hostGuard struct {
	allowed map[string]struct{}
	next    http.Handler
}

func (g hostGuard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.validate(r); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	g.next.ServeHTTP(w, r)
}

func (g hostGuard) validate(r *http.Request) error {
	if !g.allows(r.Host) {
		return errInvalidHost
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return nil
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return errInvalidOrigin
	}
	if !g.allows(parsed.Host) {
		return errInvalidOrigin
	}
	return nil
}

func (g hostGuard) allows(header string) bool {
	host, ok := hostname(header)
	if !ok {
		return false
	}
	host = strings.ToLower(host)
	if isLoopbackHost(host) {
		return true
	}
	_, ok = g.allowed[host]
	return ok
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func parseAllowedHosts(hosts []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(hosts))
	for _, entry := range hosts {
		trimmed := strings.ToLower(strings.TrimSpace(entry))
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}
	return allowed
}

// hostname strips the port and IPv6 brackets from a Host or Origin authority.
func hostname(authority string) (string, bool) {
	authority = strings.TrimSpace(authority)
	if authority == "" {
		return "", false
	}
	if strings.HasPrefix(authority, "[") {
		if host, _, err := net.SplitHostPort(authority); err == nil {
			return host, true
		}
		if strings.HasSuffix(authority, "]") {
			return strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]"), true
		}
		return "", false
	}
	switch strings.Count(authority, ":") {
	case 0:
		return authority, true
	case 1:
		host, _, err := net.SplitHostPort(authority)
		if err != nil {
			return "", false
		}
		return host, true
	default:
		return authority, true
	}
}
