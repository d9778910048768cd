package database

import (
	"context"
	"testing"
	"time"
)

// TestMigrate verifies schema application on a fresh database.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Verify history table was created
	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='zone_state_history'",
	).Scan(&tableName)
	if err != nil {
		t.Fatalf("table zone_state_history not created: %v", err)
	}

	// Verify version was recorded
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != schemaVersion {
		t.Errorf("SchemaVersion() = %q, want %q", version, schemaVersion)
	}
}

// TestMigrateIdempotent verifies Migrate is safe to call repeatedly.
func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	// Only one version record should exist
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 version record, got %d", count)
	}
}

// TestMigrateTableUsable verifies the schema accepts zone history rows.
func TestMigrateTableUsable(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO zone_state_history
			(zone_id, power, volume_raw, volume_normalized, source_id, muted, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, 3, 1, 15, 0.375, 2, 0, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("INSERT error = %v", err)
	}

	var volume int
	err = db.QueryRowContext(ctx,
		"SELECT volume_raw FROM zone_state_history WHERE zone_id = ?", 3,
	).Scan(&volume)
	if err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if volume != 15 {
		t.Errorf("volume_raw = %d, want 15", volume)
	}
}

// TestSchemaVersionFresh verifies fresh databases report no version.
func TestSchemaVersionFresh(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()

	if err := db.createMigrationsTable(ctx); err != nil {
		t.Fatalf("createMigrationsTable() error = %v", err)
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "" {
		t.Errorf("SchemaVersion() = %q, want empty", version)
	}
}
