package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCaptureBusy is returned when a synchronous capture is asked for while
// another one holds the camera.
var ErrCaptureBusy = errors.New("capture already in progress")

// ErrCaptureQueueFull is logged when an intrusion arrives while the capture
// queue has no room left.
var ErrCaptureQueueFull = errors.New("capture queue full")

const defaultCaptureQueue = 8

// CameraConfig is the part of Config the camera cares about.
type CameraConfig struct {
	PhotoDir string
	Command  string
	Width    int
	Height   int
	Timeout  time.Duration
	// Queue is how many triggers may wait behind the running capture.
	Queue int
}

// CaptureResult is what one capture attempt produced.
type CaptureResult struct {
	Path     string
	OK       bool
	Duration time.Duration
	Err      error
}

// CommandRunner runs the external capture command and returns its combined
// output. The default one is exec based; tests replace it.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// PhotoUploader mirrors a finished photo somewhere else (S3). Optional.
type PhotoUploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Camera is the action executor: it takes a picture by invoking an external
// command (rpicam-jpeg on the Raspberry Pi). The only contract with the
// command is "a file at the given path, or a non-zero exit".
type Camera struct {
	cfg      CameraConfig
	run      CommandRunner
	guard    *DiskGuard
	uploader PhotoUploader
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	// device is held for the whole command run: the camera is a single
	// device, one capture at a time.
	device sync.Mutex
	// queue feeds the capture worker. Triggers wait here in arrival order
	// while a capture is running.
	queue chan int64
	wg    sync.WaitGroup
}

// NewCamera prepares the camera. guard, uploader and metrics may be nil.
func NewCamera(cfg CameraConfig, guard *DiskGuard, uploader PhotoUploader, metrics *Metrics, logger *slog.Logger) *Camera {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = defaultCaptureQueue
	}
	c := &Camera{
		cfg:      cfg,
		run:      execRunner,
		guard:    guard,
		uploader: uploader,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan int64, cfg.Queue),
	}
	go c.worker()
	return c
}

// Prepare creates the photo directory.
func (c *Camera) Prepare() error {
	if err := os.MkdirAll(c.cfg.PhotoDir, 0o755); err != nil {
		return fmt.Errorf("create photo directory: %w", err)
	}
	return nil
}

// Trigger queues a capture for the given alert and returns immediately. The
// message loop never waits for the camera. A trigger is skipped only when
// the queue is full.
func (c *Camera) Trigger(alertID int64) {
	c.wg.Add(1)
	select {
	case c.queue <- alertID:
	default:
		c.wg.Done()
		c.metrics.observeCapture(captureSkipped)
		c.logger.Warn("Photo skipped", "alert_id", alertID, "reason", ErrCaptureQueueFull)
	}
}

// worker runs the queued captures one after another for the life of the
// process.
func (c *Camera) worker() {
	for alertID := range c.queue {
		c.handleTrigger(alertID)
	}
}

func (c *Camera) handleTrigger(alertID int64) {
	defer c.wg.Done()

	c.device.Lock()
	res := c.capture(context.Background())
	c.device.Unlock()
	if !res.OK {
		return
	}
	// The alert id and the path in one line is the only link between
	// the alert row and its photo.
	c.logger.Info("Photo captured", "alert_id", alertID, "path", res.Path, "duration", res.Duration)
	c.upload(res.Path)
}

// CapturePhoto takes one picture synchronously, bounded by the configured
// timeout. A failure is logged and returned, never escalated.
func (c *Camera) CapturePhoto(ctx context.Context) CaptureResult {
	if !c.device.TryLock() {
		c.metrics.observeCapture(captureSkipped)
		return CaptureResult{Err: ErrCaptureBusy}
	}
	defer c.device.Unlock()
	return c.capture(ctx)
}

func (c *Camera) capture(ctx context.Context) CaptureResult {
	if c.guard != nil {
		if err := c.guard.Check(c.cfg.PhotoDir); err != nil {
			c.metrics.observeCapture(captureSkipped)
			c.logger.Error("Photo skipped", "dir", c.cfg.PhotoDir, "error", err)
			return CaptureResult{Err: err}
		}
	}

	path := c.photoPath()
	start := c.now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.run(ctx, c.cfg.Command, c.args(path)...)
	res := CaptureResult{Path: path, Duration: time.Since(start)}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("camera timed out after %s: %w", c.cfg.Timeout, err)
		}
		res.Err = err
		c.metrics.observeCapture(captureFailed)
		c.logger.Error("Photo capture failed", "path", path, "output", strings.TrimSpace(string(out)), "error", err)
		return res
	}

	res.OK = true
	c.metrics.observeCapture(captureOK)
	return res
}

// args is the fixed shape of the rpicam-jpeg command line:
// -t 1 is the minimal warm-up, --nopreview is required without a monitor.
func (c *Camera) args(path string) []string {
	return []string{
		"-o", path,
		"-t", "1",
		"--width", strconv.Itoa(c.cfg.Width),
		"--height", strconv.Itoa(c.cfg.Height),
		"--nopreview",
	}
}

// photoPath names the photo after the capture second, e.g.
// capture_20260211_153045.jpg. Names sort by time. A second photo within the
// same second gets a random suffix instead of overwriting the first.
func (c *Camera) photoPath() string {
	stamp := c.now().Format("20060102_150405")
	path := filepath.Join(c.cfg.PhotoDir, "capture_"+stamp+".jpg")
	if _, err := os.Stat(path); err == nil {
		suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
		path = filepath.Join(c.cfg.PhotoDir, "capture_"+stamp+"_"+suffix+".jpg")
	}
	return path
}

func (c *Camera) upload(path string) {
	if c.uploader == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	key := filepath.Base(path)
	if err := c.uploader.Upload(ctx, path, key); err != nil {
		c.logger.Error("Photo upload failed", "path", path, "error", err)
		return
	}
	c.logger.Debug("Photo uploaded", "path", path, "key", key)
}

// Wait blocks until every queued capture (and its upload) is finished or ctx
// expires. Used on shutdown, after the message loop has stopped.
func (c *Camera) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// After the kill on timeout, do not wait forever for children that
	// still hold the output pipe.
	cmd.WaitDelay = time.Second
	return cmd.CombinedOutput()
}
