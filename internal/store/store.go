// Package store persists telemetry samples in SQLite and serves the
// paginated reads the catalog scanner and history fetcher page through.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
)

// Store wraps the telemetry database. The embedded *sql.DB keeps the raw
// query surface available to the admin debug routes.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the SQLite database at path and brings the schema
// up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// InsertSamples writes a batch of samples in one transaction and returns the
// number of rows written. A failure rolls the whole batch back; partial
// batches never land.
func (s *Store) InsertSamples(ctx context.Context, samples []telemetry.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (
		session_id, session_name, timestamp,
		speed, voltage, current, power, energy, distance,
		latitude, longitude, altitude,
		gyro_x, gyro_y, gyro_z, accel_x, accel_y, accel_z,
		total_acceleration, message_id, uptime, data_source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, smp := range samples {
		_, err := stmt.ExecContext(ctx,
			smp.SessionID, smp.SessionLabel, smp.Timestamp.UTC().Format(time.RFC3339Nano),
			smp.Speed, smp.Voltage, smp.Current, smp.Power, smp.Energy, smp.Distance,
			smp.Latitude, smp.Longitude, smp.Altitude,
			smp.GyroX, smp.GyroY, smp.GyroZ, smp.AccelX, smp.AccelY, smp.AccelZ,
			smp.TotalAccel, int64(smp.MessageID), smp.Uptime, string(smp.Source),
		)
		if err != nil {
			return 0, fmt.Errorf("insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert tx: %w", err)
	}
	return len(samples), nil
}

// SessionPage returns up to limit samples for a session, ordered oldest
// first, starting at offset. Rows whose stored timestamp no longer parses
// are skipped with a log line rather than failing the page; the returned
// scanned count still includes them so callers paging by offset see where
// the page really ended.
func (s *Store) SessionPage(ctx context.Context, sessionID string, offset, limit int) ([]telemetry.Sample, int, error) {
	rows, err := s.QueryContext(ctx, `SELECT
		session_id, session_name, timestamp,
		speed, voltage, current, power, energy, distance,
		latitude, longitude, altitude,
		gyro_x, gyro_y, gyro_z, accel_x, accel_y, accel_z,
		total_acceleration, message_id, uptime, data_source
	FROM samples WHERE session_id = ? ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query session page: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Sample
	scanned := 0
	for rows.Next() {
		scanned++
		smp, ts, err := scanSample(rows)
		if err != nil {
			return nil, scanned, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			monitoring.Logf("store: skipping row with bad timestamp %q in session %.8s: %v", ts, sessionID, err)
			continue
		}
		smp.Timestamp = parsed
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, scanned, fmt.Errorf("scan session page: %w", err)
	}
	return out, scanned, nil
}

// CatalogRow is the minimal projection the catalog scanner pages over. The
// timestamp stays a raw string so the scanner can decide what to do with
// values that no longer parse.
type CatalogRow struct {
	SessionID    string
	SessionLabel string
	Timestamp    string
}

// CatalogPage returns up to limit catalog rows ordered newest first,
// starting at offset.
func (s *Store) CatalogPage(ctx context.Context, offset, limit int) ([]CatalogRow, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT session_id, session_name, timestamp FROM samples ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query catalog page: %w", err)
	}
	defer rows.Close()

	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.SessionID, &r.SessionLabel, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan catalog page: %w", err)
	}
	return out, nil
}

// SessionRowCount reports how many rows a session has.
func (s *Store) SessionRowCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session rows: %w", err)
	}
	return n, nil
}

func scanSample(rows *sql.Rows) (telemetry.Sample, string, error) {
	var smp telemetry.Sample
	var ts, source string
	var messageID int64
	err := rows.Scan(
		&smp.SessionID, &smp.SessionLabel, &ts,
		&smp.Speed, &smp.Voltage, &smp.Current, &smp.Power, &smp.Energy, &smp.Distance,
		&smp.Latitude, &smp.Longitude, &smp.Altitude,
		&smp.GyroX, &smp.GyroY, &smp.GyroZ, &smp.AccelX, &smp.AccelY, &smp.AccelZ,
		&smp.TotalAccel, &messageID, &smp.Uptime, &source,
	)
	if err != nil {
		return telemetry.Sample{}, "", fmt.Errorf("scan sample row: %w", err)
	}
	smp.MessageID = uint32(messageID)
	smp.Source = telemetry.Source(source)
	return smp, ts, nil
}
