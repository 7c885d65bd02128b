package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteTimeFormat is what SQLite's CURRENT_TIMESTAMP produces. Rows written
// by us and rows defaulted by the database must look the same.
const sqliteTimeFormat = "2006-01-02 15:04:05"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS measurements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	temperature REAL NOT NULL,
	humidity REAL,
	luminosity INTEGER
);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	alert_type TEXT NOT NULL,
	value REAL
);
`

// SQLiteStore is the single-file backend. It holds one long-lived
// connection dedicated to this process; WAL journal plus busy_timeout let
// other processes read the same file while we write.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite prepares the store for the file at path. The file itself is
// created lazily by Initialize.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// A single writer connection. Reads from the API process go through
	// their own handle.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// Initialize creates both tables if they are missing. Safe to call on every
// start, existing rows are never touched.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." && s.path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMeasurement(ctx context.Context, m Measurement) (int64, error) {
	ts := rowTime(m.Timestamp, s.now)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (timestamp, temperature, humidity, luminosity) VALUES (?, ?, ?, ?)`,
		ts.Format(sqliteTimeFormat), m.Temperature, m.Humidity, m.Luminosity,
	)
	if err != nil {
		return 0, fmt.Errorf("insert measurement: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, a Alert) (int64, error) {
	if err := validateAlert(a); err != nil {
		return 0, err
	}
	ts := rowTime(a.Timestamp, s.now)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (timestamp, alert_type, value) VALUES (?, ?, ?)`,
		ts.Format(sqliteTimeFormat), a.AlertType, a.Value,
	)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LatestMeasurement(ctx context.Context) (Measurement, error) {
	list, err := s.Measurements(ctx, 1)
	if err != nil {
		return Measurement{}, err
	}
	if len(list) == 0 {
		return Measurement{}, ErrNotFound
	}
	return list[0], nil
}

func (s *SQLiteStore) Measurements(ctx context.Context, limit int) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, temperature, humidity, luminosity FROM measurements ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	result := make([]Measurement, 0, max(limit, 0))
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Temperature, &m.Humidity, &m.Luminosity); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Alerts(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, alert_type, value FROM alerts ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	result := make([]Alert, 0, max(limit, 0))
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.AlertType, &a.Value); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
