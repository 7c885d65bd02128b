package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Youtmax654/serversure/internal/store"
)

// APIHandler groups the HTTP handlers.
// It holds the Service (data access) and the Logger.
type APIHandler struct {
	svc    *Service
	logger *slog.Logger
}

func NewAPIHandler(svc *Service, logger *slog.Logger) *APIHandler {
	return &APIHandler{svc: svc, logger: logger}
}

// RegisterRoutes maps URL paths to handlers.
// Go 1.22+ ServeMux patterns carry the method and wildcards.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sensors/last", h.handleLatestMeasurement)
	mux.HandleFunc("GET /api/sensors/history", h.handleMeasurementHistory)
	mux.HandleFunc("GET /api/alerts", h.handleAlerts)
	mux.HandleFunc("GET /api/photos", h.handlePhotos)
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /health", h.handleHealth)
	// {$} matches "/" only, not every unknown path.
	mux.HandleFunc("GET /{$}", h.handleRoot)

	// The captures themselves, e.g. /photos/capture_20260211_153045.jpg
	mux.Handle("GET /photos/", http.StripPrefix("/photos/", http.FileServer(http.Dir(h.svc.photosDir))))
}

// Query limits: default and maximum per endpoint.
const (
	historyDefaultLimit = 20
	historyMaxLimit     = 1000
	alertsDefaultLimit  = 10
	alertsMaxLimit      = 1000
	photosDefaultLimit  = 20
	photosMaxLimit      = 100
)

// handleLatestMeasurement: GET /api/sensors/last
func (h *APIHandler) handleLatestMeasurement(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.LatestMeasurement(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "No measurements found in database")
		return
	}
	if err != nil {
		h.logger.Error("Failed to read latest measurement", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// handleMeasurementHistory: GET /api/sensors/history?limit=50
func (h *APIHandler) handleMeasurementHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, historyDefaultLimit, historyMaxLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.svc.MeasurementHistory(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read measurement history", "limit", limit, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	h.writeJSON(w, http.StatusOK, MeasurementHistoryResponse{Count: len(list), Measurements: list})
}

// handleAlerts: GET /api/alerts?limit=10
func (h *APIHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, alertsDefaultLimit, alertsMaxLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.svc.Alerts(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read alerts", "limit", limit, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	h.writeJSON(w, http.StatusOK, AlertHistoryResponse{Count: len(list), Alerts: list})
}

// handlePhotos: GET /api/photos?limit=20
func (h *APIHandler) handlePhotos(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, photosDefaultLimit, photosMaxLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	photos, err := h.svc.Photos(limit)
	if err != nil {
		h.logger.Error("Failed to list photos", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Error listing photos")
		return
	}
	h.writeJSON(w, http.StatusOK, PhotoListResponse{Count: len(photos), Photos: photos})
}

// handleStatus: GET /api/status, a summary for the dashboard footer.
func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, err := os.Stat(h.svc.photosDir)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "online",
		"photos_dir":     h.svc.photosDir,
		"photos_mounted": err == nil,
	})
}

// handleHealth: GET /health. 503 when the store does not answer, so Docker
// restarts us.
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.Error("Health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleRoot: GET /
func (h *APIHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":        "IoT Surveillance API",
		"version":     "1.0.0",
		"description": "REST API for monitoring server room conditions and intrusion detection",
		"endpoints": map[string]string{
			"latest_measurement":  "/api/sensors/last",
			"measurement_history": "/api/sensors/history",
			"alerts":              "/api/alerts",
			"photo_list":          "/api/photos",
			"photos":              "/photos/{filename}",
			"health":              "/health",
		},
	})
}

// parseLimit reads ?limit=N. Missing = def; outside 1..maxLimit is an error.
func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
	}
	return limit, nil
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write JSON response", "error", err)
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, ErrorResponse{Detail: detail})
}

// CorsMiddleware wraps the mux and allows browsers to call the API from any
// origin (the dashboard is served from another port).
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Preflight: answer and stop.
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
