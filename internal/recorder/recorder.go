package recorder

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/infrastructure/influxdb"
	"github.com/nerrad567/shellylink/internal/presence"
)

const (
	// DefaultPruneInterval is how often expired history rows are deleted.
	DefaultPruneInterval = time.Hour

	writeTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Recorder.
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

// Source provides the tracker's event streams.
type Source interface {
	Presence() (<-chan presence.Device, func())
	Statuses() (<-chan presence.StatusUpdate, func())
}

// Telemetry receives time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteSwitch(s influxdb.SwitchSample)
	WritePresence(deviceID string, online bool, at time.Time)
}

// Options configures a Recorder.
type Options struct {
	// History journals events. Nil disables journalling and pruning.
	History device.EventHistory

	// Telemetry receives points. Nil disables telemetry.
	Telemetry Telemetry

	// Retention is the maximum age of history rows. Zero keeps everything.
	Retention time.Duration

	// PruneInterval defaults to DefaultPruneInterval.
	PruneInterval time.Duration

	Logger Logger
}

// Recorder persists tracker events. Failures are logged and never reach
// the session.
type Recorder struct {
	source    Source
	history   device.EventHistory
	telemetry Telemetry

	retention  time.Duration
	pruneEvery time.Duration

	logger Logger
}

// New creates a Recorder reading from source.
func New(source Source, opts Options) *Recorder {
	r := &Recorder{
		source:     source,
		history:    opts.History,
		telemetry:  opts.Telemetry,
		retention:  opts.Retention,
		pruneEvery: opts.PruneInterval,
		logger:     opts.Logger,
	}
	if r.pruneEvery <= 0 {
		r.pruneEvery = DefaultPruneInterval
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// Run consumes events until ctx is cancelled or the source closes its
// streams. It always returns nil unless ctx carried an error.
func (r *Recorder) Run(ctx context.Context) error {
	presenceCh, cancelPresence := r.source.Presence()
	defer cancelPresence()
	statusCh, cancelStatus := r.source.Statuses()
	defer cancelStatus()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case d, ok := <-presenceCh:
				if !ok {
					return nil
				}
				r.recordPresence(gctx, d)
			}
		}
	})

	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case u, ok := <-statusCh:
				if !ok {
					return nil
				}
				r.recordStatus(gctx, u)
			}
		}
	})

	if r.history != nil && r.retention > 0 {
		g.Go(func() error {
			r.pruneLoop(gctx)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

func (r *Recorder) recordPresence(ctx context.Context, d presence.Device) {
	if r.telemetry != nil {
		r.telemetry.WritePresence(d.ID, d.Online, d.LastSeen)
	}
	r.record(ctx, device.Event{
		DeviceID:  d.ID,
		Kind:      device.EventPresence,
		Online:    d.Online,
		CreatedAt: d.LastSeen,
	})
}

// statusPayload is the telemetry journalled with a status event.
type statusPayload struct {
	Power        *float64 `json:"apower,omitempty"`
	Voltage      *float64 `json:"voltage,omitempty"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
}

func (r *Recorder) recordStatus(ctx context.Context, u presence.StatusUpdate) {
	if r.telemetry != nil {
		r.telemetry.WriteSwitch(influxdb.SwitchSample{
			DeviceID:     u.DeviceID,
			Channel:      u.Channel,
			On:           u.On,
			PowerW:       u.Power,
			VoltageV:     u.Voltage,
			TemperatureC: u.TemperatureC,
			Time:         u.Timestamp,
		})
	}

	on := u.On
	ev := device.Event{
		DeviceID:  u.DeviceID,
		Kind:      device.EventStatus,
		Online:    true,
		On:        &on,
		Channel:   u.Channel,
		CreatedAt: u.Timestamp,
	}
	if u.Power != nil || u.Voltage != nil || u.TemperatureC != nil {
		payload, err := json.Marshal(statusPayload{Power: u.Power, Voltage: u.Voltage, TemperatureC: u.TemperatureC})
		if err == nil {
			ev.Payload = payload
		}
	}
	r.record(ctx, ev)
}

func (r *Recorder) record(ctx context.Context, ev device.Event) {
	if r.history == nil {
		return
	}
	// Finish the write even if shutdown starts mid-way.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.history.RecordEvent(writeCtx, ev); err != nil {
		r.logger.Error("failed to record device event",
			"device_id", ev.DeviceID, "kind", string(ev.Kind), "error", err)
	}
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pruneEvery)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.history.PruneHistory(ctx, r.retention)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("history prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		r.logger.Info("pruned device history", "rows", n, "retention", r.retention.String())
	}
}
