package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus series of the data-logger, served on /metrics.
// Every method accepts a nil receiver so tests can run without them.
type Metrics struct {
	messages  *prometheus.CounterVec
	captures  *prometheus.CounterVec
	busState  prometheus.Gauge
	reconnect prometheus.Counter
}

// NewMetrics creates the series and registers them in reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serversure",
			Name:      "messages_total",
			Help:      "Bus messages by topic and routing outcome.",
		}, []string{"topic", "action"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serversure",
			Name:      "photo_captures_total",
			Help:      "Photo capture attempts by result.",
		}, []string{"result"}),
		busState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "serversure",
			Name:      "bus_state",
			Help:      "Bus connection state: 0 disconnected, 1 connecting, 2 subscribed.",
		}),
		reconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "serversure",
			Name:      "bus_connection_lost_total",
			Help:      "Times the broker connection was lost.",
		}),
	}
	reg.MustRegister(m.messages, m.captures, m.busState, m.reconnect)
	return m
}

func (m *Metrics) observeOutcome(out Outcome) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(out.Topic, string(out.Action)).Inc()
}

// Capture results.
const (
	captureOK      = "ok"
	captureFailed  = "failed"
	captureSkipped = "skipped"
)

func (m *Metrics) observeCapture(result string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(result).Inc()
}

func (m *Metrics) setBusState(s BusState) {
	if m == nil {
		return
	}
	m.busState.Set(float64(s))
}

func (m *Metrics) connectionLost() {
	if m == nil {
		return
	}
	m.reconnect.Inc()
}
