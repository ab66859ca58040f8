// Package marketplace parses marketplace service flags and launches the service.
package marketplace

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/ticketmarket/internal/platform/cmd"
	server "github.com/louisbranch/ticketmarket/internal/services/marketplace/app"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/escrow"
)

// Config holds marketplace command configuration.
type Config struct {
	Port                int           `env:"TICKETMARKET_PORT" envDefault:"8095"`
	DBPath              string        `env:"TICKETMARKET_DB_PATH" envDefault:"data/marketplace.db"`
	AdminID             string        `env:"TICKETMARKET_ADMIN_ID"`
	CommissionRate      escrow.Rate   `env:"TICKETMARKET_COMMISSION_RATE" envDefault:"0.10"`
	SingleActivePayment bool          `env:"TICKETMARKET_SINGLE_ACTIVE_PAYMENT" envDefault:"true"`
	DefaultLocale       string        `env:"TICKETMARKET_DEFAULT_LOCALE" envDefault:"en-US"`
	SessionTTL          time.Duration `env:"TICKETMARKET_SESSION_TTL" envDefault:"15m"`
	MCPTransport        string        `env:"TICKETMARKET_MCP_TRANSPORT" envDefault:"stdio"`
	MCPAddr             string        `env:"TICKETMARKET_MCP_ADDR" envDefault:"localhost:8096"`
	MCPAllowedHosts     []string      `env:"TICKETMARKET_MCP_ALLOWED_HOSTS" envSeparator:","`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The marketplace gRPC health port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the marketplace SQLite database")
	fs.StringVar(&cfg.AdminID, "admin", cfg.AdminID, "User id of the marketplace administrator")
	fs.TextVar(&cfg.CommissionRate, "commission", cfg.CommissionRate, "Commission fraction withheld on release")
	fs.BoolVar(&cfg.SingleActivePayment, "single-active-payment", cfg.SingleActivePayment, "Allow at most one pending payment per listing")
	fs.StringVar(&cfg.DefaultLocale, "locale", cfg.DefaultLocale, "Locale used when a user has none")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "How long an awaited conversation step stays armed")
	fs.StringVar(&cfg.MCPTransport, "transport", cfg.MCPTransport, "MCP transport: stdio, http or none")
	fs.StringVar(&cfg.MCPAddr, "mcp-addr", cfg.MCPAddr, "MCP HTTP listen address")
	fs.Func("mcp-allowed-hosts", "Comma-separated non-loopback hosts the MCP HTTP endpoint accepts", func(value string) error {
		cfg.MCPAllowedHosts = strings.Split(value, ",")
		return nil
	})
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var runServer = server.Run

// Run starts the marketplace service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMarketplace, func(runCtx context.Context) error {
		return runServer(runCtx, cfg.serverConfig())
	})
}

func (c Config) serverConfig() server.Config {
	return server.Config{
		GRPCAddr:            fmt.Sprintf(":%d", c.Port),
		DBPath:              c.DBPath,
		AdminID:             c.AdminID,
		CommissionRate:      c.CommissionRate,
		SingleActivePayment: c.SingleActivePayment,
		DefaultLocale:       c.DefaultLocale,
		SessionTTL:          c.SessionTTL,
		MCPTransport:        c.MCPTransport,
		MCPAddr:             c.MCPAddr,
		MCPAllowedHosts:     c.MCPAllowedHosts,
	}
}
