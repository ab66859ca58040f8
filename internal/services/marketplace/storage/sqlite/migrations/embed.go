// Package migrations embeds the marketplace ledger schema.
package migrations

import "embed"

// FS contains embedded SQLite migrations for marketplace storage.
//
//go:embed *.sql
var FS embed.FS
