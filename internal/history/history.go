// Package history persists zone state snapshots to SQLite.
//
// Each broadcastable zone change is written to the zone_state_history
// table, providing a local audit trail even when the time-series
// database is unavailable.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/htd-bridge/internal/htd"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/database"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Entry represents a single recorded zone state change.
//
// Each entry stores a full snapshot of the zone at the time the change
// was observed.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// ZoneID is the 1-based zone number.
	ZoneID int `json:"zone_id"`

	Power            bool    `json:"power"`
	VolumeRaw        int     `json:"volume_raw"`
	VolumeNormalized float64 `json:"volume_normalized"`
	SourceID         int     `json:"source_id"`
	Muted            bool    `json:"muted"`

	// RecordedAt is the timestamp of the state change (UTC).
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder stores and retrieves zone state history in SQLite.
//
// All methods are safe for concurrent use; timestamps are UTC.
type Recorder struct {
	db *database.DB
}

// NewRecorder creates a recorder backed by the given database.
//
// Parameters:
//   - db: Open SQLite connection with the schema applied
//
// Returns:
//   - *Recorder: Recorder instance ready for use
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordZoneState inserts a new history row for a zone snapshot.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - zone: Zone snapshot to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Recorder) RecordZoneState(ctx context.Context, zone htd.Zone) error {
	if zone.ID < 1 {
		return fmt.Errorf("zone id must be positive")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO zone_state_history
			(zone_id, power, volume_raw, volume_normalized, source_id, muted, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		zone.ID,
		boolInt(zone.Power),
		zone.VolumeRaw,
		zone.VolumeNormalized,
		zone.SourceID,
		boolInt(zone.Muted),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting zone history: %w", err)
	}

	return nil
}

// GetHistory returns recent history entries for a zone, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - zoneID: 1-based zone number
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Entry: History entries ordered by recorded_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *Recorder) GetHistory(ctx context.Context, zoneID int, limit int) ([]Entry, error) {
	if zoneID < 1 {
		return nil, fmt.Errorf("zone id must be positive")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, zone_id, power, volume_raw, volume_normalized, source_id, muted, recorded_at
		 FROM zone_state_history
		 WHERE zone_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		zoneID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying zone history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var power, muted int
		var recordedAt string

		if err := rows.Scan(
			&entry.ID,
			&entry.ZoneID,
			&power,
			&entry.VolumeRaw,
			&entry.VolumeNormalized,
			&entry.SourceID,
			&muted,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning zone history: %w", err)
		}

		entry.Power = power != 0
		entry.Muted = muted != 0

		timestamp, err := parseTimestamp(recordedAt)
		if err != nil {
			return nil, err
		}
		entry.RecordedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating zone history: %w", err)
	}

	return entries, nil
}

// Prune deletes history entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention window (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM zone_state_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting zone history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("recorded_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return timestamp, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
