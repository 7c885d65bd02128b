package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "surveillance.db")
	s, err := OpenSQLite(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func TestSQLite_InsertMeasurement(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	fixed := time.Date(2026, 2, 11, 15, 30, 45, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	id, err := s.InsertMeasurement(ctx, Measurement{
		Temperature: 22.5,
		Humidity:    ptr(65.0),
		Luminosity:  ptr(int64(450)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := s.LatestMeasurement(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 22.5, got.Temperature)
	require.NotNil(t, got.Humidity)
	assert.Equal(t, 65.0, *got.Humidity)
	require.NotNil(t, got.Luminosity)
	assert.Equal(t, int64(450), *got.Luminosity)
	assert.True(t, fixed.Equal(got.Timestamp), "timestamp %v", got.Timestamp)
}

func TestSQLite_InsertMeasurementNullableFields(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.InsertMeasurement(ctx, Measurement{Temperature: 19})
	require.NoError(t, err)

	got, err := s.LatestMeasurement(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.Humidity)
	assert.Nil(t, got.Luminosity)
	assert.WithinDuration(t, time.Now(), got.Timestamp, 5*time.Second)
}

func TestSQLite_InsertAlert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, err := s.InsertAlert(ctx, Alert{AlertType: "ALERTE", Value: ptr(12.3)})
	require.NoError(t, err)

	_, err = s.InsertAlert(ctx, Alert{AlertType: "OK"})
	require.NoError(t, err)

	alerts, err := s.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	// Newest first.
	assert.Equal(t, "OK", alerts[0].AlertType)
	assert.Nil(t, alerts[0].Value)
	assert.Equal(t, id, alerts[1].ID)
	assert.Equal(t, "ALERTE", alerts[1].AlertType)
	require.NotNil(t, alerts[1].Value)
	assert.Equal(t, 12.3, *alerts[1].Value)
}

func TestSQLite_InsertAlertRequiresType(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.InsertAlert(context.Background(), Alert{Value: ptr(1.0)})
	require.ErrorIs(t, err, ErrInvalid)

	alerts, err := s.Alerts(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestSQLite_InitializeIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.InsertMeasurement(ctx, Measurement{Temperature: 21})
	require.NoError(t, err)
	_, err = s.InsertAlert(ctx, Alert{AlertType: "ALERT"})
	require.NoError(t, err)

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Initialize(ctx))

	ms, err := s.Measurements(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	as, err := s.Alerts(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, as, 1)
}

func TestSQLite_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surveillance.db")
	ctx := context.Background()

	first, err := OpenSQLite(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))
	_, err = first.InsertMeasurement(ctx, Measurement{Temperature: 20})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path, time.Second)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Initialize(ctx))

	ms, err := second.Measurements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, 20.0, ms[0].Temperature)
}

func TestSQLite_MeasurementsNewestFirstWithLimit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertMeasurement(ctx, Measurement{Temperature: float64(i)})
		require.NoError(t, err)
	}

	ms, err := s.Measurements(ctx, 3)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, 4.0, ms[0].Temperature)
	assert.Equal(t, 3.0, ms[1].Temperature)
	assert.Equal(t, 2.0, ms[2].Temperature)
}

func TestSQLite_LatestMeasurementEmpty(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.LatestMeasurement(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ConcurrentReader(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	// A second handle on the same file, as the query API process has.
	reader, err := OpenSQLite(s.path, time.Second)
	require.NoError(t, err)
	defer reader.Close()

	_, err = s.InsertAlert(ctx, Alert{AlertType: "ALERT"})
	require.NoError(t, err)

	as, err := reader.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, as, 1)
	assert.Equal(t, "ALERT", as[0].AlertType)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	s, err := Open(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
}
