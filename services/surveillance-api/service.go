package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Youtmax654/serversure/internal/store"
)

// LatestMeasurementCache is the optional Valkey hot path written by the
// data-logger.
type LatestMeasurementCache interface {
	LastMeasurement(ctx context.Context) (store.Measurement, error)
}

// photoExtensions are the files listed by Photos, compared lowercase.
var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Service reads measurements, alerts and photos. It never writes.
type Service struct {
	db        store.Reader
	cache     LatestMeasurementCache // nil = disabled
	photosDir string
	logger    *slog.Logger
}

// NewService is the constructor (dependency injection). cache may be nil.
func NewService(db store.Reader, cache LatestMeasurementCache, photosDir string, logger *slog.Logger) *Service {
	return &Service{db: db, cache: cache, photosDir: photosDir, logger: logger}
}

// LatestMeasurement returns the newest measurement. Valkey first, because it
// spares the database; on a miss or a Valkey error the store answers.
// Returns store.ErrNotFound when no measurement was ever stored.
func (s *Service) LatestMeasurement(ctx context.Context) (store.Measurement, error) {
	if s.cache != nil {
		m, err := s.cache.LastMeasurement(ctx)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Valkey read failed, falling back to store", "error", err)
		}
	}
	return s.db.LatestMeasurement(ctx)
}

// MeasurementHistory returns the last limit measurements, newest first.
func (s *Service) MeasurementHistory(ctx context.Context, limit int) ([]store.Measurement, error) {
	return s.db.Measurements(ctx, limit)
}

// Alerts returns the last limit alerts, newest first.
func (s *Service) Alerts(ctx context.Context, limit int) ([]store.Alert, error) {
	return s.db.Alerts(ctx, limit)
}

// Photos lists the images of the photo directory, newest modification first.
// A missing directory is not an error: no photo was taken yet.
func (s *Service) Photos(limit int) ([]PhotoInfo, error) {
	entries, err := os.ReadDir(s.photosDir)
	if errors.Is(err, os.ErrNotExist) {
		return []PhotoInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read photo directory: %w", err)
	}

	type photo struct {
		info    PhotoInfo
		modTime time.Time
	}
	photos := make([]photo, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !photoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Deleted between ReadDir and Info.
			continue
		}
		photos = append(photos, photo{
			info: PhotoInfo{
				Filename:  e.Name(),
				URL:       "/photos/" + e.Name(),
				Timestamp: fi.ModTime().Format("2006-01-02 15:04:05"),
				SizeBytes: fi.Size(),
			},
			modTime: fi.ModTime(),
		})
	}

	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].modTime.After(photos[j].modTime)
	})

	result := make([]PhotoInfo, 0, max(min(limit, len(photos)), 0))
	for i := 0; i < len(photos) && i < limit; i++ {
		result = append(result, photos[i].info)
	}
	return result, nil
}

// Ping checks that the store answers.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
