package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the whole configuration of the data-logger.
// 12-Factor style: everything comes from ENV variables, code only has defaults.
type Config struct {
	// MQTT
	MQTTBroker   string
	MQTTClientID string
	KeepAlive    time.Duration
	SensorsTopic string // Environmental readings, e.g. {"temp":22.5,"hum":65,"lux":450}
	MotionTopic  string // Security events, e.g. {"status":"ALERT","value":12.3}
	LogTopic     string // Where our own JSON log lines are published

	// Motion statuses we accept, and the one meaning "all clear" (no photo).
	MotionStatuses    []string
	MotionClearStatus string

	// Store
	StoreDriver  string // "sqlite" or "postgres"
	StoreDSN     string // file path (sqlite) or connection string (postgres)
	StoreTimeout time.Duration

	// Valkey hot path. Empty = disabled.
	ValkeyAddr string
	ValkeyTTL  time.Duration

	// Camera
	PhotoDir        string
	CameraCommand   string
	PhotoWidth      int
	PhotoHeight     int
	CaptureTimeout  time.Duration
	CaptureQueue    int // triggers waiting behind the running capture
	PhotoMinFreeMB  uint64
	ShutdownTimeout time.Duration

	// Optional S3 mirror of captured photos. Empty bucket = disabled.
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string // MinIO, LocalStack...
	S3UsePathStyle bool

	// App
	LogLevel string
	HTTPPort string
}

// LoadConfig reads the settings. A missing variable falls back to a safe default.
func LoadConfig() Config {
	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "data-logger"),
		KeepAlive:    getEnvDuration("MQTT_KEEPALIVE", 60*time.Second),
		SensorsTopic: getEnv("SENSORS_TOPIC", "salle/sensors"),
		MotionTopic:  getEnv("MOTION_TOPIC", "salle/mouvement"),
		LogTopic:     getEnv("LOG_TOPIC", "logs/data-logger"),

		MotionStatuses:    getEnvList("MOTION_STATUSES", []string{"ALERT", "ALERTE", "OK"}),
		MotionClearStatus: getEnv("MOTION_CLEAR_STATUS", "OK"),

		StoreDriver:  getEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:     getEnv("STORE_DSN", "dashboard/surveillance.db"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		ValkeyAddr: getEnv("VALKEY_ADDR", ""),
		ValkeyTTL:  getEnvDuration("VALKEY_TTL", 24*time.Hour),

		PhotoDir:        getEnv("PHOTOS_DIR", "dashboard/surveillance_photos"),
		CameraCommand:   getEnv("CAMERA_COMMAND", "rpicam-jpeg"),
		PhotoWidth:      getEnvInt("PHOTO_WIDTH", 1024),
		PhotoHeight:     getEnvInt("PHOTO_HEIGHT", 768),
		CaptureTimeout:  getEnvDuration("CAPTURE_TIMEOUT", 5*time.Second),
		CaptureQueue:    getEnvInt("CAPTURE_QUEUE", 8),
		PhotoMinFreeMB:  uint64(getEnvInt("PHOTO_MIN_FREE_MB", 100)),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Prefix:       getEnv("S3_PREFIX", "photos"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),
	}
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvDuration parses values like "5s" or "1m". Invalid value = fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

// getEnvList splits a comma separated value ("ALERT, ALERTE,OK").
func getEnvList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	var list []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return fallback
	}
	return list
}
