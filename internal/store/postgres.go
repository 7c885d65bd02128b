package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS measurements (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	temperature DOUBLE PRECISION NOT NULL,
	humidity DOUBLE PRECISION,
	luminosity BIGINT
);

CREATE TABLE IF NOT EXISTS alerts (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	alert_type TEXT NOT NULL,
	value DOUBLE PRECISION
);
`

// PostgresStore is the backend for a Postgres/TimescaleDB server.
// pgxpool manages a set of connections and is safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects the pool and verifies the server answers.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertMeasurement(ctx context.Context, m Measurement) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO measurements (timestamp, temperature, humidity, luminosity) VALUES ($1, $2, $3, $4) RETURNING id`,
		rowTime(m.Timestamp, s.now), m.Temperature, m.Humidity, m.Luminosity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert measurement: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertAlert(ctx context.Context, a Alert) (int64, error) {
	if err := validateAlert(a); err != nil {
		return 0, err
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alerts (timestamp, alert_type, value) VALUES ($1, $2, $3) RETURNING id`,
		rowTime(a.Timestamp, s.now), a.AlertType, a.Value,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LatestMeasurement(ctx context.Context) (Measurement, error) {
	var m Measurement
	err := s.pool.QueryRow(ctx,
		`SELECT id, timestamp, temperature, humidity, luminosity FROM measurements ORDER BY id DESC LIMIT 1`,
	).Scan(&m.ID, &m.Timestamp, &m.Temperature, &m.Humidity, &m.Luminosity)
	if errors.Is(err, pgx.ErrNoRows) {
		return Measurement{}, ErrNotFound
	}
	if err != nil {
		return Measurement{}, fmt.Errorf("query latest measurement: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Measurements(ctx context.Context, limit int) ([]Measurement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, temperature, humidity, luminosity FROM measurements ORDER BY id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	result := make([]Measurement, 0, max(limit, 0))
	for rows.Next() {
		var m Measurement
		// pgx scans NULL into a nil pointer.
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Temperature, &m.Humidity, &m.Luminosity); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Alerts(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, alert_type, value FROM alerts ORDER BY id DESC LIMIT $1`,
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
