// Package timeouts defines shared timeout constants for the marketplace process.
package timeouts

import "time"

// ReadHeader limits how long the MCP HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// StoreBusy is how long sqlite waits on a locked database before failing a
// statement.
const StoreBusy = 5 * time.Second

// HealthWait caps how long startup waits for the health endpoint to serve.
const HealthWait = 10 * time.Second
