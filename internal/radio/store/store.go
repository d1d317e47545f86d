// SPDX-License-Identifier: MIT

// Package store persists station payloads in SQLite. Exactly one payload
// is active at a time; swaps are transactional so readers never observe
// a partial catalog.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hgraven/wavegate/internal/radio"
)

const schema = `
CREATE TABLE IF NOT EXISTS station_payloads (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	schema_version INTEGER NOT NULL,
	updated_at     TEXT    NOT NULL,
	source         TEXT    NOT NULL,
	requests       TEXT    NOT NULL,
	total          INTEGER NOT NULL,
	fingerprint    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS stations (
	id         TEXT    NOT NULL,
	payload_id INTEGER NOT NULL REFERENCES station_payloads(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	data       TEXT    NOT NULL,
	PRIMARY KEY (payload_id, id)
);

CREATE INDEX IF NOT EXISTS idx_stations_payload ON stations(payload_id, position);

CREATE TABLE IF NOT EXISTS station_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	payload_id INTEGER NOT NULL REFERENCES station_payloads(id),
	updated_at TEXT    NOT NULL
);
`

// insertBatchSize bounds the number of rows per INSERT statement.
const insertBatchSize = 200

// Store is the SQLite-backed payload store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent refresh attempts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks database availability.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Save persists a payload idempotently. When the fingerprint matches the
// active payload, only timestamps are touched and changed=false is
// returned. Otherwise the new payload is inserted, the state pointer is
// swapped and orphaned payloads are removed, all in one transaction.
func (s *Store) Save(ctx context.Context, p *radio.StationsPayload) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		currentID          int64
		currentFingerprint string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT sp.id, sp.fingerprint
		FROM station_state ss JOIN station_payloads sp ON sp.id = ss.payload_id
		WHERE ss.id = 1`).Scan(&currentID, &currentFingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("store: read state: %w", err)
	}

	if err == nil && currentFingerprint == p.Fingerprint {
		if _, err := tx.ExecContext(ctx,
			`UPDATE station_payloads SET updated_at = ? WHERE id = ?`, p.UpdatedAt, currentID); err != nil {
			return false, fmt.Errorf("store: touch payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE station_state SET updated_at = ? WHERE id = 1`, p.UpdatedAt); err != nil {
			return false, fmt.Errorf("store: touch state: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("store: commit: %w", err)
		}
		return false, nil
	}

	requests, err := json.Marshal(p.Requests)
	if err != nil {
		return false, fmt.Errorf("store: encode requests: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO station_payloads (schema_version, updated_at, source, requests, total, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.SchemaVersion, p.UpdatedAt, p.Source, string(requests), p.Total, p.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("store: insert payload: %w", err)
	}
	payloadID, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("store: payload id: %w", err)
	}

	if err := insertStations(ctx, tx, payloadID, p.Stations); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO station_state (id, payload_id, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload_id = excluded.payload_id, updated_at = excluded.updated_at`,
		payloadID, p.UpdatedAt); err != nil {
		return false, fmt.Errorf("store: swap state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM station_payloads WHERE id != ?`, payloadID); err != nil {
		return false, fmt.Errorf("store: delete orphans: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit: %w", err)
	}
	return true, nil
}

func insertStations(ctx context.Context, tx *sql.Tx, payloadID int64, stations []radio.Station) error {
	for start := 0; start < len(stations); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(stations) {
			end = len(stations)
		}
		batch := stations[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO stations (id, payload_id, position, data) VALUES `)
		args := make([]any, 0, len(batch)*4)
		for i, st := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?)")
			data, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("store: encode station %s: %w", st.ID, err)
			}
			args = append(args, st.ID, payloadID, start+i, string(data))
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("store: insert stations: %w", err)
		}
	}
	return nil
}

// LoadCurrent returns the active payload, if any.
func (s *Store) LoadCurrent(ctx context.Context) (*radio.StationsPayload, bool, error) {
	var (
		p         radio.StationsPayload
		payloadID int64
		requests  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sp.id, sp.schema_version, sp.updated_at, sp.source, sp.requests, sp.total, sp.fingerprint
		FROM station_state ss JOIN station_payloads sp ON sp.id = ss.payload_id
		WHERE ss.id = 1`).
		Scan(&payloadID, &p.SchemaVersion, &p.UpdatedAt, &p.Source, &requests, &p.Total, &p.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read payload: %w", err)
	}
	if err := json.Unmarshal([]byte(requests), &p.Requests); err != nil {
		p.Requests = nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM stations WHERE payload_id = ? ORDER BY position`, payloadID)
	if err != nil {
		return nil, false, fmt.Errorf("store: read stations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, false, fmt.Errorf("store: scan station: %w", err)
		}
		var st radio.Station
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, false, fmt.Errorf("store: decode station: %w", err)
		}
		p.Stations = append(p.Stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("store: iterate stations: %w", err)
	}
	return &p, true, nil
}

// PayloadCount returns the number of stored payload rows. Used by tests
// and the status endpoint to assert single-payload retention.
func (s *Store) PayloadCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM station_payloads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count payloads: %w", err)
	}
	return n, nil
}
