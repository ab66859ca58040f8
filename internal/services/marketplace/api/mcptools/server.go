package mcptools

import (
	"net/http"

	"github.com/louisbranch/ticketmarket/internal/services/marketplace/orchestrator"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "ticketmarket"
	serverVersion = "0.1.0"
)

// NewServer returns an MCP server with every marketplace tool registered.
func NewServer(orch *orchestrator.Orchestrator) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	Register(server, orch)
	return server
}

// NewHTTPHandler serves server over the streamable HTTP transport. Requests are
// accepted only when their Host and Origin resolve to loopback or to one of
// allowedHosts.
func NewHTTPHandler(server *mcp.Server, allowedHosts []string) http.Handler {
	return hostGuard{
		allowed: parseAllowedHosts(allowedHosts),
		next: mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return server
		}, nil),
	}
}
