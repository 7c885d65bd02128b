package main

import "github.com/Youtmax654/serversure/internal/store"

// MeasurementHistoryResponse is the body of GET /api/sensors/history.
// Count is redundant with len(Measurements) but the dashboard reads it.
type MeasurementHistoryResponse struct {
	Count        int                 `json:"count"`
	Measurements []store.Measurement `json:"measurements"`
}

// AlertHistoryResponse is the body of GET /api/alerts.
type AlertHistoryResponse struct {
	Count  int           `json:"count"`
	Alerts []store.Alert `json:"alerts"`
}

// PhotoInfo describes one capture. URL points to the static file route.
type PhotoInfo struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	// Timestamp: modification time of the file, local time,
	// "2006-01-02 15:04:05".
	Timestamp string `json:"timestamp"`
	SizeBytes int64  `json:"size_bytes"`
}

type PhotoListResponse struct {
	Count  int         `json:"count"`
	Photos []PhotoInfo `json:"photos"`
}

// ErrorResponse is every non-2xx JSON body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
