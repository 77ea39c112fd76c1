package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/stream"
)

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Device is a discovered device as last reported on the broker.
type Device struct {
	ID       string    `json:"id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// StatusUpdate is emitted once per switch status message.
//
// Telemetry fields are nil when the device did not report them.
type StatusUpdate struct {
	DeviceID     string    `json:"device_id"`
	Channel      string    `json:"channel"`
	On           bool      `json:"on"`
	Power        *float64  `json:"apower,omitempty"`
	Voltage      *float64  `json:"voltage,omitempty"`
	TemperatureC *float64  `json:"temperature_c,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Tracker owns the set of discovered devices.
//
// Upsert is the only mutation path besides Clear. Observers read copies
// through Devices/Device/List or subscribe to the Presence and Statuses
// streams; they never touch the map directly.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]Device

	presence stream.Broadcaster[Device]
	statuses stream.Broadcaster[StatusUpdate]

	now    func() time.Time
	logger Logger
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		devices: make(map[string]Device),
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetClock replaces the time source. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Upsert records that id was seen with the given online flag and refreshes
// its LastSeen time. It returns the stored entry and false when id fails
// device.ValidID, in which case nothing changes.
//
// Subscribers of Presence are notified when a device first appears or its
// online flag flips; repeated reports of the same state only advance
// LastSeen.
func (t *Tracker) Upsert(id string, online bool) (Device, bool) {
	if !device.ValidID(id) {
		return Device{}, false
	}

	t.mu.Lock()
	prev, known := t.devices[id]
	d := Device{ID: id, Online: online, LastSeen: t.now()}
	t.devices[id] = d
	t.mu.Unlock()

	if !known || prev.Online != online {
		t.logger.Debug("device presence changed", "device_id", id, "online", online, "new", !known)
		t.presence.Publish(d)
	}
	return d, true
}

// PublishStatus emits a status update to every Statuses subscriber.
// Updates for invalid identifiers are discarded.
func (t *Tracker) PublishStatus(u StatusUpdate) bool {
	if !device.ValidID(u.DeviceID) {
		return false
	}
	if u.Timestamp.IsZero() {
		t.mu.RLock()
		u.Timestamp = t.now()
		t.mu.RUnlock()
	}
	t.statuses.Publish(u)
	return true
}

// Clear forgets every known device.
func (t *Tracker) Clear() {
	t.mu.Lock()
	n := len(t.devices)
	t.devices = make(map[string]Device)
	t.mu.Unlock()

	if n > 0 {
		t.logger.Info("device list cleared", "count", n)
	}
}

// Devices returns a copy of the current device map.
func (t *Tracker) Devices() map[string]Device {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Device, len(t.devices))
	for id, d := range t.devices {
		out[id] = d
	}
	return out
}

// Device returns the entry for id.
func (t *Tracker) Device(id string) (Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[id]
	return d, ok
}

// Len returns the number of known devices.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices)
}

// List returns all devices, online ones first, each group ordered by ID.
func (t *Tracker) List() []Device {
	t.mu.RLock()
	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Presence subscribes to presence changes. Call cancel to unsubscribe.
func (t *Tracker) Presence() (<-chan Device, func()) {
	return t.presence.Subscribe(0)
}

// Statuses subscribes to switch status updates. Call cancel to unsubscribe.
func (t *Tracker) Statuses() (<-chan StatusUpdate, func()) {
	return t.statuses.Subscribe(0)
}

// Close ends every subscription.
func (t *Tracker) Close() {
	t.presence.Close()
	t.statuses.Close()
}
