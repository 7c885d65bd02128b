package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Youtmax654/serversure/internal/store"
)

// PhotoTrigger is what the router needs from the camera. Trigger must
// return immediately; the capture itself runs elsewhere.
type PhotoTrigger interface {
	Trigger(alertID int64)
}

// LastValues is the optional hot path (Valkey). Nil = disabled.
type LastValues interface {
	SetMeasurement(ctx context.Context, m store.Measurement) error
	SetAlert(ctx context.Context, a store.Alert) error
}

// RouterConfig is the part of Config the router cares about.
type RouterConfig struct {
	SensorsTopic      string
	MotionTopic       string
	MotionStatuses    []string
	MotionClearStatus string
	StoreTimeout      time.Duration
}

// Router turns one (topic, payload) pair into at most one row and at most
// one photo request. It never panics on input and never returns an error:
// everything that happened is in the Outcome.
type Router struct {
	cfg      RouterConfig
	statuses map[string]struct{}

	store   store.Writer
	camera  PhotoTrigger
	cache   LastValues
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRouter wires the router. cache and metrics may be nil.
func NewRouter(cfg RouterConfig, w store.Writer, camera PhotoTrigger, cache LastValues, metrics *Metrics, logger *slog.Logger) *Router {
	statuses := make(map[string]struct{}, len(cfg.MotionStatuses))
	for _, s := range cfg.MotionStatuses {
		statuses[s] = struct{}{}
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	return &Router{
		cfg:      cfg,
		statuses: statuses,
		store:    w,
		camera:   camera,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Route processes one message from the bus.
func (r *Router) Route(ctx context.Context, topic string, payload []byte) Outcome {
	var out Outcome

	switch topic {
	case r.cfg.SensorsTopic:
		out = r.routeMeasurement(ctx, payload)
	case r.cfg.MotionTopic:
		out = r.routeAlert(ctx, payload)
	default:
		// Unrelated traffic on the bus, not our business.
		r.logger.Debug("Ignoring message on unhandled topic", "topic", topic)
		out = Outcome{Action: ActionIgnored}
	}
	out.Topic = topic

	r.metrics.observeOutcome(out)
	return out
}

func (r *Router) routeMeasurement(ctx context.Context, payload []byte) Outcome {
	var p SensorPayload
	if err := decodePayload(payload, &p); err != nil {
		return r.drop(r.cfg.SensorsTopic, payload, err)
	}

	// Without temperature the message carries no usable signal.
	if !p.Temp.Valid {
		return r.drop(r.cfg.SensorsTopic, payload, fmt.Errorf("%w: temp", ErrMissingField))
	}

	m := store.Measurement{
		Timestamp:   r.receivedAt(),
		Temperature: p.Temp.Value,
		Humidity:    p.Hum.Ptr(),
	}
	if p.Lux.Valid {
		// float64(math.MaxInt64) rounds up to 2^63, which no longer fits.
		rounded := math.Round(p.Lux.Value)
		if rounded >= math.MaxInt64 || rounded < math.MinInt64 {
			return r.drop(r.cfg.SensorsTopic, payload, fmt.Errorf("%w: lux %g out of range", ErrMalformedPayload, p.Lux.Value))
		}
		lux := int64(rounded)
		m.Luminosity = &lux
	}

	insertCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	id, err := r.store.InsertMeasurement(insertCtx, m)
	if err != nil {
		// The insert is lost, there is no retry queue. Operators see it here.
		r.logger.Error("Failed to store measurement", "temp", m.Temperature, "error", err)
		return Outcome{Action: ActionFailed, Table: "measurements", Err: err}
	}

	m.ID = id
	r.logger.Debug("Measurement stored", "id", id, "temp", m.Temperature, "hum", m.Humidity, "lux", m.Luminosity)

	if r.cache != nil {
		if err := r.cache.SetMeasurement(ctx, m); err != nil {
			r.logger.Warn("Failed to update last measurement in Valkey", "error", err)
		}
	}

	return Outcome{Action: ActionStored, Table: "measurements", RowID: id}
}

func (r *Router) routeAlert(ctx context.Context, payload []byte) Outcome {
	var p MotionPayload
	if err := decodePayload(payload, &p); err != nil {
		return r.drop(r.cfg.MotionTopic, payload, err)
	}

	if !p.Status.Valid || p.Status.Value == "" {
		return r.drop(r.cfg.MotionTopic, payload, fmt.Errorf("%w: status", ErrMissingField))
	}
	status := p.Status.Value
	if _, ok := r.statuses[status]; !ok {
		return r.drop(r.cfg.MotionTopic, payload, fmt.Errorf("%w: %q", ErrUnknownStatus, status))
	}

	a := store.Alert{
		Timestamp: r.receivedAt(),
		AlertType: status,
		Value:     p.Value.Ptr(),
	}
	intrusion := status != r.cfg.MotionClearStatus

	insertCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	id, err := r.store.InsertAlert(insertCtx, a)
	out := Outcome{Action: ActionStored, Table: "alerts", RowID: id}
	if err != nil {
		r.logger.Error("Failed to store alert", "status", status, "error", err)
		out = Outcome{Action: ActionFailed, Table: "alerts", Err: err}
	} else {
		a.ID = id
		r.logger.Info("Motion status stored", "id", id, "status", status, "value", a.Value)

		if r.cache != nil {
			if err := r.cache.SetAlert(ctx, a); err != nil {
				r.logger.Warn("Failed to update last alert in Valkey", "error", err)
			}
		}
	}

	// The photo does not depend on the row: a failed insert still gets
	// its picture, a failed picture never touches the row.
	if intrusion && r.camera != nil {
		r.camera.Trigger(id)
		out.CaptureRequested = true
	}

	return out
}

func (r *Router) drop(topic string, payload []byte, err error) Outcome {
	r.logger.Warn("Message dropped", "topic", topic, "payload", printable(payload), "reason", err)
	return Outcome{Action: ActionDropped, Err: err}
}

// receivedAt is the row timestamp: the wire contract has no time field, so
// rows are stamped with the ingestion time.
func (r *Router) receivedAt() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

// decodePayload checks UTF-8 and decodes the JSON object into v.
func decodePayload(payload []byte, v any) error {
	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: invalid UTF-8", ErrMalformedPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// printable keeps log lines readable when a node sends garbage.
func printable(payload []byte) string {
	const maxLen = 256
	if len(payload) > maxLen {
		payload = payload[:maxLen]
	}
	return strings.ToValidUTF8(string(payload), "\uFFFD")
}
