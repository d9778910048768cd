// Package database provides SQLite database connectivity for the HTD bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Inline schema setup for the zone state history table
//   - Connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - Single writer connection matches SQLite's locking model
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Apply schema
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Schema Strategy:
//
// The bridge owns one table (zone_state_history), so the schema ships
// inline with idempotent CREATE IF NOT EXISTS statements rather than as
// embedded migration files. The applied version is recorded in
// schema_migrations for diagnostics.
package database
