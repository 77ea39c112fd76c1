package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/infrastructure/config"
	"github.com/nerrad567/shellylink/internal/infrastructure/database"
	"github.com/nerrad567/shellylink/internal/infrastructure/influxdb"
	"github.com/nerrad567/shellylink/internal/presence"
	"github.com/nerrad567/shellylink/migrations"
)

type fakeSource struct {
	presence chan presence.Device
	statuses chan presence.StatusUpdate
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		presence: make(chan presence.Device, 16),
		statuses: make(chan presence.StatusUpdate, 16),
	}
}

func (f *fakeSource) Presence() (<-chan presence.Device, func()) { return f.presence, func() {} }

func (f *fakeSource) Statuses() (<-chan presence.StatusUpdate, func()) {
	return f.statuses, func() {}
}

type fakeTelemetry struct {
	mu       sync.Mutex
	switches []influxdb.SwitchSample
	presence []string
}

func (f *fakeTelemetry) WriteSwitch(s influxdb.SwitchSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, s)
}

func (f *fakeTelemetry) WritePresence(deviceID string, online bool, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	f.presence = append(f.presence, deviceID+":"+state)
}

func (f *fakeTelemetry) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.switches), len(f.presence)
}

type fakeHistory struct {
	mu        sync.Mutex
	events    []device.Event
	prunes    []time.Duration
	recordErr error
}

func (f *fakeHistory) RecordEvent(_ context.Context, ev device.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeHistory) GetHistory(context.Context, string, int) ([]device.Event, error) {
	return nil, nil
}

func (f *fakeHistory) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes = append(f.prunes, olderThan)
	return 0, nil
}

func (f *fakeHistory) snapshot() ([]device.Event, []time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Event(nil), f.events...), append([]time.Duration(nil), f.prunes...)
}

type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}
func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func run(t *testing.T, r *Recorder) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run() error = %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run() did not return after cancel")
		}
	}
}

func ptr(v float64) *float64 { return &v }

func TestRecorder_PresenceAndStatus(t *testing.T) {
	src := newFakeSource()
	hist := &fakeHistory{}
	tel := &fakeTelemetry{}
	r := New(src, Options{History: hist, Telemetry: tel})
	stop := run(t, r)
	defer stop()

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src.presence <- presence.Device{ID: "shellyplus1-aabbcc", Online: true, LastSeen: seen}
	src.statuses <- presence.StatusUpdate{
		DeviceID: "shellyplus1-aabbcc", Channel: "switch:0", On: true,
		Power: ptr(12.5), Timestamp: seen,
	}

	eventually(t, "two history events", func() bool {
		events, _ := hist.snapshot()
		return len(events) == 2
	})

	events, _ := hist.snapshot()
	var pres, status *device.Event
	for i := range events {
		switch events[i].Kind {
		case device.EventPresence:
			pres = &events[i]
		case device.EventStatus:
			status = &events[i]
		}
	}
	if pres == nil || !pres.Online || !pres.CreatedAt.Equal(seen) {
		t.Errorf("presence event = %+v", pres)
	}
	if status == nil || status.On == nil || !*status.On || status.Channel != "switch:0" || !status.Online {
		t.Fatalf("status event = %+v", status)
	}
	if string(status.Payload) != `{"apower":12.5}` {
		t.Errorf("status payload = %s", status.Payload)
	}

	eventually(t, "telemetry points", func() bool {
		sw, pr := tel.counts()
		return sw == 1 && pr == 1
	})
	tel.mu.Lock()
	sample := tel.switches[0]
	tel.mu.Unlock()
	if sample.PowerW == nil || *sample.PowerW != 12.5 || sample.VoltageV != nil {
		t.Errorf("switch sample = %+v", sample)
	}
}

func TestRecorder_StatusWithoutTelemetryHasNoPayload(t *testing.T) {
	src := newFakeSource()
	hist := &fakeHistory{}
	stop := run(t, New(src, Options{History: hist}))
	defer stop()

	src.statuses <- presence.StatusUpdate{DeviceID: "shellyplus1-aabbcc", Channel: "switch:0"}

	eventually(t, "status event", func() bool {
		events, _ := hist.snapshot()
		return len(events) == 1
	})
	events, _ := hist.snapshot()
	if events[0].Payload != nil {
		t.Errorf("payload = %s, want nil", events[0].Payload)
	}
	if events[0].On == nil || *events[0].On {
		t.Errorf("On = %v, want false", events[0].On)
	}
}

func TestRecorder_HistoryErrorsAreLogged(t *testing.T) {
	src := newFakeSource()
	hist := &fakeHistory{recordErr: errors.New("disk full")}
	logger := &captureLogger{}
	stop := run(t, New(src, Options{History: hist, Logger: logger}))
	defer stop()

	src.presence <- presence.Device{ID: "shellyplus1-aabbcc", Online: true}
	src.presence <- presence.Device{ID: "shellyplus1-aabbcc", Online: false}

	eventually(t, "both failures logged", func() bool { return logger.count() == 2 })
}

func TestRecorder_Prunes(t *testing.T) {
	src := newFakeSource()
	hist := &fakeHistory{}
	stop := run(t, New(src, Options{
		History:       hist,
		Retention:     48 * time.Hour,
		PruneInterval: 10 * time.Millisecond,
	}))
	defer stop()

	eventually(t, "repeated prunes", func() bool {
		_, prunes := hist.snapshot()
		return len(prunes) >= 2
	})
	_, prunes := hist.snapshot()
	if prunes[0] != 48*time.Hour {
		t.Errorf("prune age = %v, want 48h", prunes[0])
	}
}

func TestRecorder_NoRetentionNoPrune(t *testing.T) {
	src := newFakeSource()
	hist := &fakeHistory{}
	stop := run(t, New(src, Options{History: hist, PruneInterval: time.Millisecond}))

	time.Sleep(20 * time.Millisecond)
	stop()

	if _, prunes := hist.snapshot(); len(prunes) != 0 {
		t.Errorf("prunes = %v, want none", prunes)
	}
}

func TestRecorder_ReturnsWhenSourceCloses(t *testing.T) {
	tracker := presence.NewTracker()
	r := New(tracker, Options{})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Let Run subscribe; a Close that races ahead still ends Run because
	// later subscriptions receive closed channels.
	time.Sleep(10 * time.Millisecond)
	tracker.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the source closed")
	}
}

func TestRecorder_WithTrackerAndSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	hist := device.NewSQLiteEventHistory(db.DB)

	tracker := presence.NewTracker()
	defer tracker.Close()

	// Subscribe through a wrapper so the test knows when Run is listening.
	ready := make(chan struct{}, 2)
	src := readySource{tracker: tracker, ready: ready}
	stop := run(t, New(src, Options{History: hist}))
	defer stop()
	<-ready
	<-ready

	tracker.Upsert("shellyplus1-aabbcc", true)
	tracker.PublishStatus(presence.StatusUpdate{
		DeviceID: "shellyplus1-aabbcc", Channel: "switch:0", On: true, Voltage: ptr(230.1),
	})

	var events []device.Event
	eventually(t, "events in sqlite", func() bool {
		events, err = hist.GetHistory(ctx, "shellyplus1-aabbcc", 10)
		return err == nil && len(events) == 2
	})

	kinds := []string{string(events[0].Kind), string(events[1].Kind)}
	joined := strings.Join(kinds, ",")
	if !strings.Contains(joined, "presence") || !strings.Contains(joined, "status") {
		t.Errorf("kinds = %v, want presence and status", kinds)
	}
}

type readySource struct {
	tracker *presence.Tracker
	ready   chan struct{}
}

func (s readySource) Presence() (<-chan presence.Device, func()) {
	ch, cancel := s.tracker.Presence()
	s.ready <- struct{}{}
	return ch, cancel
}

func (s readySource) Statuses() (<-chan presence.StatusUpdate, func()) {
	ch, cancel := s.tracker.Statuses()
	s.ready <- struct{}{}
	return ch, cancel
}
