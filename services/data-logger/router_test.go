package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youtmax654/serversure/internal/store"
)

const (
	testSensorsTopic = "salle/sensors"
	testMotionTopic  = "salle/mouvement"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore records inserts in memory.
type fakeStore struct {
	mu           sync.Mutex
	measurements []store.Measurement
	alerts       []store.Alert
	err          error
}

func (f *fakeStore) Initialize(context.Context) error { return nil }

func (f *fakeStore) InsertMeasurement(_ context.Context, m store.Measurement) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.measurements = append(f.measurements, m)
	return int64(len(f.measurements)), nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a store.Alert) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.alerts = append(f.alerts, a)
	return int64(len(f.alerts)), nil
}

// fakeTrigger counts capture requests.
type fakeTrigger struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeTrigger) Trigger(alertID int64) {
	f.mu.Lock()
	f.ids = append(f.ids, alertID)
	f.mu.Unlock()
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// fakeLastValues records what the router pushed to the hot path.
type fakeLastValues struct {
	measurement *store.Measurement
	alert       *store.Alert
	err         error
}

func (f *fakeLastValues) SetMeasurement(_ context.Context, m store.Measurement) error {
	f.measurement = &m
	return f.err
}

func (f *fakeLastValues) SetAlert(_ context.Context, a store.Alert) error {
	f.alert = &a
	return f.err
}

func testRouterConfig() RouterConfig {
	return RouterConfig{
		SensorsTopic:      testSensorsTopic,
		MotionTopic:       testMotionTopic,
		MotionStatuses:    []string{"ALERT", "ALERTE", "OK"},
		MotionClearStatus: "OK",
		StoreTimeout:      time.Second,
	}
}

func newTestRouter(w store.Writer, camera PhotoTrigger) *Router {
	return NewRouter(testRouterConfig(), w, camera, nil, nil, discardLogger())
}

func TestRoute_Measurement(t *testing.T) {
	fs := &fakeStore{}
	cam := &fakeTrigger{}
	r := newTestRouter(fs, cam)
	fixed := time.Date(2026, 2, 11, 15, 30, 45, 500, time.UTC)
	r.now = func() time.Time { return fixed }

	out := r.Route(context.Background(), testSensorsTopic, []byte(`{"temp":22.5,"hum":65.0,"lux":450}`))

	require.Equal(t, ActionStored, out.Action)
	assert.Equal(t, "measurements", out.Table)
	assert.Equal(t, int64(1), out.RowID)
	assert.Equal(t, testSensorsTopic, out.Topic)
	assert.NoError(t, out.Err)
	assert.False(t, out.CaptureRequested)

	require.Len(t, fs.measurements, 1)
	m := fs.measurements[0]
	assert.Equal(t, 22.5, m.Temperature)
	require.NotNil(t, m.Humidity)
	assert.Equal(t, 65.0, *m.Humidity)
	require.NotNil(t, m.Luminosity)
	assert.Equal(t, int64(450), *m.Luminosity)
	assert.Equal(t, fixed.Truncate(time.Second), m.Timestamp)
	assert.Zero(t, cam.count())
}

func TestRoute_MeasurementOptionalFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"absent", `{"temp":19}`},
		{"null", `{"temp":19,"hum":null,"lux":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{}
			r := newTestRouter(fs, nil)

			out := r.Route(context.Background(), testSensorsTopic, []byte(tt.payload))

			require.Equal(t, ActionStored, out.Action)
			require.Len(t, fs.measurements, 1)
			assert.Equal(t, 19.0, fs.measurements[0].Temperature)
			assert.Nil(t, fs.measurements[0].Humidity)
			assert.Nil(t, fs.measurements[0].Luminosity)
		})
	}
}

func TestRoute_LuxIsRounded(t *testing.T) {
	fs := &fakeStore{}
	r := newTestRouter(fs, nil)

	r.Route(context.Background(), testSensorsTopic, []byte(`{"temp":20,"lux":299.6}`))

	require.Len(t, fs.measurements, 1)
	require.NotNil(t, fs.measurements[0].Luminosity)
	assert.Equal(t, int64(300), *fs.measurements[0].Luminosity)
}

func TestRoute_MeasurementDropped(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		reason  error
	}{
		{"missing temp", []byte(`{"hum":40,"lux":100}`), ErrMissingField},
		{"null temp", []byte(`{"temp":null}`), ErrMissingField},
		{"temp as string", []byte(`{"temp":"22.5"}`), ErrMalformedPayload},
		{"hum as string", []byte(`{"temp":22.5,"hum":"wet"}`), ErrMalformedPayload},
		{"lux too large", []byte(`{"temp":20,"lux":1e300}`), ErrMalformedPayload},
		{"lux too small", []byte(`{"temp":20,"lux":-1e19}`), ErrMalformedPayload},
		{"not json", []byte(`not-json`), ErrMalformedPayload},
		{"json array", []byte(`[1,2,3]`), ErrMalformedPayload},
		{"invalid utf-8", []byte{0xff, 0xfe, '{', '}'}, ErrMalformedPayload},
		{"empty", []byte{}, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{}
			cam := &fakeTrigger{}
			r := newTestRouter(fs, cam)

			out := r.Route(context.Background(), testSensorsTopic, tt.payload)

			assert.Equal(t, ActionDropped, out.Action)
			assert.ErrorIs(t, out.Err, tt.reason)
			assert.Empty(t, fs.measurements)
			assert.Zero(t, cam.count())
		})
	}
}

func TestRoute_Alert(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		alertType   string
		wantCapture bool
	}{
		{"ALERTE triggers a photo", `{"status":"ALERTE","value":12.3}`, "ALERTE", true},
		{"ALERT triggers a photo", `{"status":"ALERT","value":5}`, "ALERT", true},
		{"OK is stored without photo", `{"status":"OK","value":400}`, "OK", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{}
			cam := &fakeTrigger{}
			r := newTestRouter(fs, cam)

			out := r.Route(context.Background(), testMotionTopic, []byte(tt.payload))

			require.Equal(t, ActionStored, out.Action)
			assert.Equal(t, "alerts", out.Table)
			assert.Equal(t, tt.wantCapture, out.CaptureRequested)

			require.Len(t, fs.alerts, 1)
			assert.Equal(t, tt.alertType, fs.alerts[0].AlertType)
			require.NotNil(t, fs.alerts[0].Value)

			if tt.wantCapture {
				require.Equal(t, 1, cam.count())
				assert.Equal(t, out.RowID, cam.ids[0])
			} else {
				assert.Zero(t, cam.count())
			}
		})
	}
}

func TestRoute_AlertWithoutValue(t *testing.T) {
	fs := &fakeStore{}
	r := newTestRouter(fs, &fakeTrigger{})

	out := r.Route(context.Background(), testMotionTopic, []byte(`{"status":"ALERT"}`))

	require.Equal(t, ActionStored, out.Action)
	require.Len(t, fs.alerts, 1)
	assert.Nil(t, fs.alerts[0].Value)
}

func TestRoute_AlertDropped(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  error
	}{
		{"missing status", `{"value":3}`, ErrMissingField},
		{"null status", `{"status":null}`, ErrMissingField},
		{"empty status", `{"status":""}`, ErrMissingField},
		{"unknown status", `{"status":"INTRUDER"}`, ErrUnknownStatus},
		{"lowercase status", `{"status":"alert"}`, ErrUnknownStatus},
		{"status as number", `{"status":1}`, ErrMalformedPayload},
		{"not json", `not-json`, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{}
			cam := &fakeTrigger{}
			r := newTestRouter(fs, cam)

			out := r.Route(context.Background(), testMotionTopic, []byte(tt.payload))

			assert.Equal(t, ActionDropped, out.Action)
			assert.ErrorIs(t, out.Err, tt.reason)
			assert.Empty(t, fs.alerts)
			assert.Zero(t, cam.count())
		})
	}
}

func TestRoute_ConfiguredStatuses(t *testing.T) {
	fs := &fakeStore{}
	cam := &fakeTrigger{}
	cfg := testRouterConfig()
	cfg.MotionStatuses = append(cfg.MotionStatuses, "INTRUSION")
	r := NewRouter(cfg, fs, cam, nil, nil, discardLogger())

	out := r.Route(context.Background(), testMotionTopic, []byte(`{"status":"INTRUSION"}`))

	assert.Equal(t, ActionStored, out.Action)
	assert.Equal(t, 1, cam.count())
}

func TestRoute_UnknownTopicIgnored(t *testing.T) {
	fs := &fakeStore{}
	cam := &fakeTrigger{}
	r := newTestRouter(fs, cam)

	out := r.Route(context.Background(), "salle/other", []byte(`{"temp":22.5}`))

	assert.Equal(t, ActionIgnored, out.Action)
	assert.NoError(t, out.Err)
	assert.Empty(t, fs.measurements)
	assert.Empty(t, fs.alerts)
	assert.Zero(t, cam.count())
}

func TestRoute_StoreFailure(t *testing.T) {
	fs := &fakeStore{err: errors.New("database is locked")}
	cam := &fakeTrigger{}
	r := newTestRouter(fs, cam)

	out := r.Route(context.Background(), testSensorsTopic, []byte(`{"temp":22.5}`))
	assert.Equal(t, ActionFailed, out.Action)
	assert.EqualError(t, out.Err, "database is locked")

	// The photo does not depend on the row.
	out = r.Route(context.Background(), testMotionTopic, []byte(`{"status":"ALERT"}`))
	assert.Equal(t, ActionFailed, out.Action)
	assert.True(t, out.CaptureRequested)
	assert.Equal(t, 1, cam.count())
}

func TestRoute_RouterUsableAfterGarbage(t *testing.T) {
	fs := &fakeStore{}
	r := newTestRouter(fs, nil)
	ctx := context.Background()

	r.Route(ctx, testSensorsTopic, []byte(`{{{`))
	r.Route(ctx, testMotionTopic, []byte{0xc3, 0x28})
	out := r.Route(ctx, testSensorsTopic, []byte(`{"temp":21}`))

	assert.Equal(t, ActionStored, out.Action)
	assert.Len(t, fs.measurements, 1)
}

func TestRoute_UpdatesLastValues(t *testing.T) {
	fs := &fakeStore{}
	lv := &fakeLastValues{}
	r := NewRouter(testRouterConfig(), fs, &fakeTrigger{}, lv, nil, discardLogger())
	ctx := context.Background()

	r.Route(ctx, testSensorsTopic, []byte(`{"temp":21}`))
	r.Route(ctx, testMotionTopic, []byte(`{"status":"OK"}`))

	require.NotNil(t, lv.measurement)
	assert.Equal(t, int64(1), lv.measurement.ID)
	assert.Equal(t, fs.measurements[0].Timestamp, lv.measurement.Timestamp)
	require.NotNil(t, lv.alert)
	assert.Equal(t, "OK", lv.alert.AlertType)
}

func TestRoute_LastValuesFailureIsNotFatal(t *testing.T) {
	fs := &fakeStore{}
	lv := &fakeLastValues{err: errors.New("valkey down")}
	r := NewRouter(testRouterConfig(), fs, nil, lv, nil, discardLogger())

	out := r.Route(context.Background(), testSensorsTopic, []byte(`{"temp":21}`))

	assert.Equal(t, ActionStored, out.Action)
	assert.NoError(t, out.Err)
}

func TestRoute_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := NewRouter(testRouterConfig(), &fakeStore{}, nil, nil, metrics, discardLogger())
	ctx := context.Background()

	r.Route(ctx, testSensorsTopic, []byte(`{"temp":21}`))
	r.Route(ctx, testSensorsTopic, []byte(`{"temp":22}`))
	r.Route(ctx, testSensorsTopic, []byte(`nope`))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.messages.WithLabelValues(testSensorsTopic, string(ActionStored))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messages.WithLabelValues(testSensorsTopic, string(ActionDropped))))
}

// The end-to-end scenario against a real SQLite file.
func TestRoute_SQLiteScenario(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "surveillance.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Initialize(ctx))

	cam := &fakeTrigger{}
	r := newTestRouter(db, cam)
	before := time.Now().UTC().Add(-time.Second)

	r.Route(ctx, testSensorsTopic, []byte(`{"temp":22.5,"hum":65.0,"lux":450}`))
	r.Route(ctx, testMotionTopic, []byte(`{"status":"ALERTE","value":12.3}`))
	r.Route(ctx, testMotionTopic, []byte(`{"status":"OK","value":400}`))
	r.Route(ctx, testSensorsTopic, []byte(`not-json`))
	r.Route(ctx, testMotionTopic, []byte(`not-json`))

	measurements, err := db.Measurements(ctx, 100)
	require.NoError(t, err)
	require.Len(t, measurements, 1)
	assert.Equal(t, 22.5, measurements[0].Temperature)
	assert.Equal(t, 65.0, *measurements[0].Humidity)
	assert.Equal(t, int64(450), *measurements[0].Luminosity)
	assert.False(t, measurements[0].Timestamp.Before(before.Truncate(time.Second)))

	alerts, err := db.Alerts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// Newest first.
	assert.Equal(t, "OK", alerts[0].AlertType)
	assert.Equal(t, 400.0, *alerts[0].Value)
	assert.Equal(t, "ALERTE", alerts[1].AlertType)
	assert.Equal(t, 12.3, *alerts[1].Value)

	assert.Equal(t, 1, cam.count())
}
