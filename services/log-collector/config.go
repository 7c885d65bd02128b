package main

import (
	"os"
	"time"
)

// Config holds the settings of the log collector.
// Everything comes from ENV, so the same binary runs on the Pi and in Docker.
type Config struct {
	MQTTBroker   string
	MQTTClientID string
	KeepAlive    time.Duration

	// LogTopic: the filter we subscribe to. The second level of the topic is
	// the service name (logs/data-logger -> data-logger.log).
	LogTopic string

	// LogDir: directory of the per-service log files.
	LogDir string
}

func LoadConfig() Config {
	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		KeepAlive:    getEnvDuration("MQTT_KEEPALIVE", 60*time.Second),
		LogTopic:     getEnv("LOG_TOPIC", "logs/#"),
		LogDir:       getEnv("LOG_DIR", "dashboard/logs"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
