package main

import (
	"encoding/json"
	"errors"
)

// Optional is a JSON field that tells apart the three cases a sensor can
// send: key missing (Set=false), key with null (Set=true, Valid=false) and
// key with a value. A value of the wrong JSON type fails decoding of the
// whole payload.
type Optional[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// UnmarshalJSON is only called by encoding/json when the key is present.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// Ptr returns nil for a missing or null field, so it maps straight to a
// nullable column.
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// SensorPayload is the message on the sensors topic (Arduino node).
// Example: {"temp": 24.5, "hum": 50.0, "lux": 300}
type SensorPayload struct {
	Temp Optional[float64] `json:"temp"`
	Hum  Optional[float64] `json:"hum"`
	// Lux is decoded as a number and rounded, some firmwares send 300.0.
	Lux Optional[float64] `json:"lux"`
}

// MotionPayload is the message on the motion topic (ESP32 node).
// Example: {"status": "ALERT", "value": 12}
type MotionPayload struct {
	Status Optional[string]  `json:"status"`
	Value  Optional[float64] `json:"value"`
}

// Reasons a message is dropped by the router.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing required field")
	ErrUnknownStatus    = errors.New("unknown motion status")
)

// Action says what the router did with one message.
type Action string

const (
	ActionStored  Action = "stored"  // one row written
	ActionDropped Action = "dropped" // decode or validation failure, nothing written
	ActionIgnored Action = "ignored" // topic we do not handle
	ActionFailed  Action = "failed"  // valid message, the store refused the insert
)

// Outcome is the result of routing one message. It is returned instead of
// hidden side effects so the router can be tested without a broker.
type Outcome struct {
	Topic  string
	Action Action
	Table  string // "measurements" or "alerts"
	RowID  int64

	// CaptureRequested is true when the message asked the camera for a photo.
	CaptureRequested bool

	// Err is the drop reason (wraps one of the Err* values above) or the
	// store error.
	Err error
}
