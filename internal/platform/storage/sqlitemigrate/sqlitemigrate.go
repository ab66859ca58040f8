// Package sqlitemigrate applies embedded, numbered SQL migrations to a sqlite
// database and refuses to start when an applied migration was edited.
package sqlitemigrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

const (
	migrationTable = "schema_migrations"
	upMarker       = "-- +migrate Up"
	downMarker     = "-- +migrate Down"
)

// ErrChecksumMismatch reports an applied migration whose file changed since.
var ErrChecksumMismatch = errors.New("applied migration was modified")

// Migration is one *.sql file found under the migration root.
type Migration struct {
	Name     string
	Up       string
	Checksum string
}

// Applied is a row of the migration history.
type Applied struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Load reads the migrations under root in file-name order.
func Load(migrationFS fs.FS, root string) ([]Migration, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(migrationFS, path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		up := UpSection(string(content))
		sum := sha256.Sum256([]byte(strings.TrimSpace(up)))
		migrations = append(migrations, Migration{
			Name:     entry.Name(),
			Up:       up,
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return strings.Compare(a.Name, b.Name) })
	return migrations, nil
}

// ApplyMigrations runs every migration under root that is not yet recorded,
// each in its own transaction. A recorded migration whose Up section changed
// fails with ErrChecksumMismatch before anything new runs.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationFS fs.FS, root string) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	migrations, err := Load(migrationFS, root)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	history, err := History(ctx, db)
	if err != nil {
		return err
	}
	recorded := make(map[string]string, len(history))
	for _, row := range history {
		recorded[row.Name] = row.Checksum
	}

	var pending []Migration
	for _, migration := range migrations {
		checksum, ok := recorded[migration.Name]
		switch {
		case !ok:
			pending = append(pending, migration)
		case checksum != migration.Checksum:
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, migration.Name)
		}
	}
	for _, migration := range pending {
		if err := apply(ctx, db, migration); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", migration.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if strings.TrimSpace(migration.Up) != "" {
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("exec migration %s: %w", migration.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+migrationTable+` (name, checksum, applied_at) VALUES (?, ?, ?)`,
		migration.Name, migration.Checksum, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", migration.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", migration.Name, err)
	}
	return nil
}

// History lists applied migrations in name order.
func History(ctx context.Context, db *sql.DB) ([]Applied, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, checksum, applied_at FROM `+migrationTable+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var (
			row       Applied
			appliedAt int64
		)
		if err := rows.Scan(&row.Name, &row.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration history: %w", err)
		}
		row.AppliedAt = time.UnixMilli(appliedAt).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpSection returns the SQL between the Up and Down markers. Files without
// an Up marker are used whole.
func UpSection(content string) string {
	_, up, found := strings.Cut(content, upMarker)
	if !found {
		up = content
	}
	up, _, _ = strings.Cut(up, downMarker)
	return up
}
