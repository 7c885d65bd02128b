package main

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttLogWriter implements io.Writer.
// Everything written to it is published to MQTT, so the logs of the Pi can be
// followed from any machine subscribed to the log topic.
type MqttLogWriter struct {
	client mqtt.Client
	topic  string
}

// NewMqttLogWriter creates the writer. topic is e.g. "logs/data-logger".
func NewMqttLogWriter(client mqtt.Client, topic string) *MqttLogWriter {
	return &MqttLogWriter{
		client: client,
		topic:  topic,
	}
}

// Write is called by slog for every log line.
func (w *MqttLogWriter) Write(p []byte) (n int, err error) {
	// Not connected (startup, broker outage): the line still goes to stdout
	// through the MultiWriter, here we just drop it. Publishing now would
	// only queue it in paho or block the caller.
	if w.topic == "" || !w.client.IsConnected() {
		return len(p), nil
	}

	// slog reuses p after Write returns.
	payload := make([]byte, len(p))
	copy(payload, p)

	// Fire-and-forget: no token.Wait(), logging must never slow down routing.
	w.client.Publish(w.topic, 0, false, payload)

	return len(p), nil
}
