package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// schemaVersion identifies the current bridge schema. Bump when schema
// statements change and add an upgrade branch in Migrate.
const schemaVersion = "20260815_000000"

// schema is the bridge's complete SQLite schema. The bridge owns a
// single table plus its indexes, so the schema ships inline rather than
// as embedded migration files.
const schema = `
CREATE TABLE IF NOT EXISTS zone_state_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	zone_id INTEGER NOT NULL,
	power INTEGER NOT NULL,
	volume_raw INTEGER NOT NULL,
	volume_normalized REAL NOT NULL,
	source_id INTEGER NOT NULL,
	muted INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_zone_state_history_zone_time
	ON zone_state_history(zone_id, recorded_at);

CREATE INDEX IF NOT EXISTS idx_zone_state_history_time
	ON zone_state_history(recorded_at);
`

// Migrate brings the database schema up to the current version.
//
// The schema statements are idempotent (IF NOT EXISTS), so Migrate is
// safe to call on every startup. The applied version is recorded in
// schema_migrations for diagnostics.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If schema setup fails (the attempt is rolled back)
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.appliedVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if applied == schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		schemaVersion,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema: %w", err)
	}
	return nil
}

// SchemaVersion returns the most recently applied schema version, or
// the empty string if the schema has never been applied.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	return db.appliedVersion(ctx)
}

// createMigrationsTable creates the schema_migrations table if it doesn't exist.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedVersion returns the latest recorded schema version.
func (db *DB) appliedVersion(ctx context.Context) (string, error) {
	var version string
	err := db.QueryRowContext(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&version)
	if err != nil {
		// No rows means a fresh database.
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return version, nil
}
