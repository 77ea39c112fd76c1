package routing

import (
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/presence"
	"github.com/nerrad567/shellylink/internal/rpc"
)

// Router defaults.
const (
	DefaultLanes     = 4
	DefaultQueueSize = 256
)

// ReplySink receives decoded RPC replies.
type ReplySink interface {
	Resolve(resp *rpc.Response) bool
}

// DeviceSink receives presence and status observations.
type DeviceSink interface {
	Upsert(id string, online bool) (presence.Device, bool)
	PublishStatus(u presence.StatusUpdate) bool
}

// Logger defines the logging interface used by the Router.
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

// Options configures a Router.
type Options struct {
	// Identity is the session identity; replies arrive on "<Identity>/rpc".
	Identity string

	// Lanes is the number of worker goroutines. Zero means DefaultLanes.
	Lanes int

	// QueueSize is the buffer of each lane. Zero means DefaultQueueSize.
	QueueSize int
}

// Stats counts router outcomes since creation.
type Stats struct {
	Handled          uint64 `json:"handled"`
	Stale            uint64 `json:"stale"`
	Unknown          uint64 `json:"unknown"`
	InvalidIdentity  uint64 `json:"invalid_identity"`
	DecodeErrors     uint64 `json:"decode_errors"`
	RecoveredPanics  uint64 `json:"recovered_panics"`
	UnmatchedReplies uint64 `json:"unmatched_replies"`
}

type message struct {
	gen     uint64
	topic   string
	payload []byte
}

// Router classifies inbound broker messages and hands them to the
// correlator or the presence tracker.
//
// Messages are spread over worker lanes by topic hash, so one topic is
// always handled by the same lane in arrival order while different topics
// proceed in parallel. Each message is tagged with the connection
// generation it arrived on; once Advance is called, messages still queued
// from the previous generation are discarded unhandled.
//
// Thread Safety:
//   - Dispatch, Advance and Generation are safe for concurrent use.
type Router struct {
	identity string
	replies  ReplySink
	devices  DeviceSink

	lanes []chan message
	gen   atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool

	now    func() time.Time
	logger Logger

	handled, stale, unknown, invalid, decodeErrs, panics, unmatched atomic.Uint64
}

// New creates a Router. Call Start before dispatching.
func New(opts Options, replies ReplySink, devices DeviceSink) *Router {
	lanes := opts.Lanes
	if lanes <= 0 {
		lanes = DefaultLanes
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	r := &Router{
		identity: opts.Identity,
		replies:  replies,
		devices:  devices,
		lanes:    make([]chan message, lanes),
		stop:     make(chan struct{}),
		now:      time.Now,
		logger:   noopLogger{},
	}
	for i := range r.lanes {
		r.lanes[i] = make(chan message, size)
	}
	return r
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the lane workers. Calling it twice has no effect.
func (r *Router) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	for i, lane := range r.lanes {
		r.wg.Add(1)
		go r.work(i, lane)
	}
}

// Stop terminates the workers. Queued messages are discarded.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Generation returns the current connection generation.
func (r *Router) Generation() uint64 {
	return r.gen.Load()
}

// Advance starts a new generation and returns it. Messages dispatched with
// an older generation are dropped from then on.
func (r *Router) Advance() uint64 {
	return r.gen.Add(1)
}

// Dispatch queues a message received on connection generation gen. It
// blocks while the topic's lane is full and returns ErrRouterStopped once
// the router has been stopped.
func (r *Router) Dispatch(gen uint64, topic string, payload []byte) error {
	if gen != r.gen.Load() {
		r.stale.Add(1)
		return nil
	}

	select {
	case <-r.stop:
		return ErrRouterStopped
	default:
	}

	lane := r.lanes[r.laneFor(topic)]
	select {
	case lane <- message{gen: gen, topic: topic, payload: payload}:
		return nil
	case <-r.stop:
		return ErrRouterStopped
	}
}

func (r *Router) laneFor(topic string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic)) //nolint:errcheck // hash writes never fail
	return int(h.Sum32() % uint32(len(r.lanes)))
}

func (r *Router) work(idx int, lane <-chan message) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case msg := <-lane:
			if msg.gen != r.gen.Load() {
				r.stale.Add(1)
				continue
			}
			r.safeHandle(idx, msg)
		}
	}
}

// safeHandle runs handle with panic recovery so one bad message cannot take
// down a lane.
func (r *Router) safeHandle(idx int, msg message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("panic while routing message",
				"topic", msg.topic,
				"lane", idx,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := r.handle(msg.topic, msg.payload); err != nil {
		switch {
		case errors.Is(err, ErrInvalidIdentity):
			r.invalid.Add(1)
			r.logger.Debug("message dropped", "topic", msg.topic, "error", err)
		case errors.Is(err, ErrDecode), errors.Is(err, rpc.ErrInvalidEnvelope):
			r.decodeErrs.Add(1)
			r.logger.Warn("message dropped", "topic", msg.topic, "error", err)
		default:
			r.logger.Warn("message dropped", "topic", msg.topic, "error", err)
		}
		return
	}
	r.handled.Add(1)
}

// handle routes one message synchronously.
func (r *Router) handle(topic string, payload []byte) error {
	route := Classify(r.identity, topic)
	if route.Kind != KindReply && route.DeviceID != "" && route.DeviceID == r.identity {
		// Our own presence announcement.
		route.Kind = KindUnknown
	}

	switch route.Kind {
	case KindReply:
		resp, err := rpc.DecodeResponse(payload)
		if err != nil {
			return err
		}
		if !r.replies.Resolve(resp) {
			r.unmatched.Add(1)
		}
		return nil

	case KindPresence:
		if !device.ValidID(route.DeviceID) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentity, route.DeviceID)
		}
		online, err := ParsePresence(payload)
		if err != nil {
			return err
		}
		r.devices.Upsert(route.DeviceID, online)
		return nil

	case KindStatus:
		if !device.ValidID(route.DeviceID) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentity, route.DeviceID)
		}
		update, hasOutput, err := ParseStatus(route.DeviceID, route.Channel, payload, r.now())
		if err != nil {
			return err
		}
		r.devices.Upsert(route.DeviceID, true)
		if hasOutput {
			r.devices.PublishStatus(update)
		}
		return nil

	case KindEvent:
		if !device.ValidID(route.DeviceID) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentity, route.DeviceID)
		}
		r.devices.Upsert(route.DeviceID, true)
		return nil

	default:
		r.unknown.Add(1)
		r.logger.Debug("unrecognised topic", "topic", topic)
		return nil
	}
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Handled:          r.handled.Load(),
		Stale:            r.stale.Load(),
		Unknown:          r.unknown.Load(),
		InvalidIdentity:  r.invalid.Load(),
		DecodeErrors:     r.decodeErrs.Load(),
		RecoveredPanics:  r.panics.Load(),
		UnmatchedReplies: r.unmatched.Load(),
	}
}
