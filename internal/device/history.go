package device

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind classifies a history row.
type EventKind string

// Event kinds recorded in the device event journal.
const (
	EventPresence EventKind = "presence"
	EventStatus   EventKind = "status"
)

// Event is a single journal entry for a device as observed on the broker.
//
// The journal is an append-only log of presence and switch status changes.
// It holds no device metadata; that belongs to the application above.
type Event struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	DeviceID string    `json:"device_id"`
	Kind     EventKind `json:"kind"`
	Online   bool      `json:"online"`

	// On is set for status events only.
	On *bool `json:"on,omitempty"`

	// Channel is the status sub-channel, e.g. "switch:0".
	Channel string `json:"channel,omitempty"`

	// Payload carries telemetry captured with a status event.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is when the event was observed (UTC). Zero means now.
	CreatedAt time.Time `json:"created_at"`
}

// EventHistory stores and retrieves the device event journal.
//
// Implementations must be thread-safe and use UTC timestamps.
type EventHistory interface {
	// RecordEvent appends an event to the journal.
	RecordEvent(ctx context.Context, ev Event) error

	// GetHistory returns the most recent events for a device, newest first.
	// The limit is clamped to 1..200; zero or negative means 50.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]Event, error)

	// PruneHistory deletes events older than the given age and returns the
	// number of rows removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
