package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Youtmax654/serversure/internal/store"
)

func main() {
	os.Exit(run())
}

// run is main with an exit code, so deferred cleanups still run on a fatal
// startup error.
func run() int {
	// 1. Configuration
	cfg := LoadConfig()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(reg)

	// 2. Bus manager. The client must exist BEFORE the logger, because the
	// logger publishes through it (chicken and egg). It does not connect yet.
	bus := NewBusManager(BusConfig{
		Broker:    cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		KeepAlive: cfg.KeepAlive,
		Topics:    []string{cfg.SensorsTopic, cfg.MotionTopic},
	}, func(opts *mqtt.ClientOptions) mqtt.Client { return mqtt.NewClient(opts) }, metrics)

	// 3. Logger: JSON to stdout and to the MQTT log topic
	multi := io.MultiWriter(os.Stdout, NewMqttLogWriter(bus.Client(), cfg.LogTopic))
	logger := slog.New(slog.NewJSONHandler(multi, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	bus.SetLogger(logger)

	logger.Info("Starting data-logger",
		"broker", cfg.MQTTBroker,
		"sensors_topic", cfg.SensorsTopic,
		"motion_topic", cfg.MotionTopic,
		"store_driver", cfg.StoreDriver,
	)

	// 4. Store. Without it there is nothing to log into: exit 1 and let
	// systemd/Docker restart us.
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	db, err := store.Open(initCtx, store.Config{
		Driver:      cfg.StoreDriver,
		DSN:         cfg.StoreDSN,
		BusyTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Error("Critical error: cannot open store", "driver", cfg.StoreDriver, "error", err)
		return 1
	}
	defer db.Close()

	if err := db.Initialize(initCtx); err != nil {
		logger.Error("Critical error: cannot initialize schema", "error", err)
		return 1
	}
	logger.Info("Store ready", "driver", cfg.StoreDriver, "dsn", cfg.StoreDSN)

	// 5. Optional Valkey hot path. Failure only disables it.
	var lastValues LastValues
	if cfg.ValkeyAddr != "" {
		cache, err := store.NewLastValueCache(initCtx, cfg.ValkeyAddr, cfg.ValkeyTTL)
		if err != nil {
			logger.Warn("Valkey unavailable, running without hot path", "addr", cfg.ValkeyAddr, "error", err)
		} else {
			defer cache.Close()
			lastValues = cache
			logger.Info("Valkey hot path enabled", "addr", cfg.ValkeyAddr)
		}
	}

	// 6. Camera with disk guard and optional S3 mirror
	var uploader PhotoUploader
	if cfg.S3Bucket != "" {
		s3u, err := NewS3Uploader(initCtx, S3Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			logger.Warn("S3 mirror disabled", "bucket", cfg.S3Bucket, "error", err)
		} else {
			uploader = s3u
			logger.Info("S3 mirror enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		}
	}

	camera := NewCamera(CameraConfig{
		PhotoDir: cfg.PhotoDir,
		Command:  cfg.CameraCommand,
		Width:    cfg.PhotoWidth,
		Height:   cfg.PhotoHeight,
		Timeout:  cfg.CaptureTimeout,
		Queue:    cfg.CaptureQueue,
	}, NewDiskGuard(cfg.PhotoMinFreeMB), uploader, metrics, logger)
	if err := camera.Prepare(); err != nil {
		// Not fatal: measurements and alerts are still worth logging.
		logger.Error("Photo directory unavailable", "dir", cfg.PhotoDir, "error", err)
	}

	// 7. Router
	router := NewRouter(RouterConfig{
		SensorsTopic:      cfg.SensorsTopic,
		MotionTopic:       cfg.MotionTopic,
		MotionStatuses:    cfg.MotionStatuses,
		MotionClearStatus: cfg.MotionClearStatus,
		StoreTimeout:      cfg.StoreTimeout,
	}, db, camera, lastValues, metrics, logger)

	// 8. Health + metrics server (for Docker/K8s and Prometheus). The host
	// stats measure the volume of the photos, usually shared with the db.
	reg.MustRegister(NewHostCollector(cfg.PhotoDir, logger))
	srv := newHealthServer(cfg.HTTPPort, bus, reg)
	go func() {
		logger.Info("Health server running", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server failed", "error", err)
		}
	}()

	// 9. Connect and run the delivery loop until SIGINT (Ctrl+C) or
	// SIGTERM (docker stop).
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus.Start()
	bus.Run(ctx, func(ctx context.Context, topic string, payload []byte) {
		router.Route(ctx, topic, payload)
	})

	// 10. Graceful shutdown
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := camera.Wait(shutdownCtx); err != nil {
		logger.Warn("Photo capture still running at shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown", "error", err)
	}
	bus.Close()
	// The store and the cache are closed by the defers above.
	return 0
}

// newHealthServer serves /health (200 only while subscribed) and /metrics.
func newHealthServer(port string, bus *BusManager, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(bus))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// busStater is the part of BusManager the health check needs.
type busStater interface {
	State() BusState
}

func healthHandler(bus busStater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := bus.State()
		if state != StateSubscribed {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(state.String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
