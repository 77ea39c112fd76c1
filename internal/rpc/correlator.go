package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout applies to calls made without an explicit timeout.
const DefaultTimeout = 5 * time.Second

// RequestTopic returns the topic a device listens on for requests.
func RequestTopic(deviceID string) string {
	return deviceID + "/rpc"
}

// Publisher hands an encoded request to the transport without waiting for
// any acknowledgement.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Logger defines the logging interface used by the Correlator.
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

// outcome is the single resolution of a pending call.
type outcome struct {
	resp *Response
	err  error
}

// pendingCall is one in-flight request.
//
// It is completed exactly once, by whoever removes it from the pending
// table: a reply, its timer, a cancelled context, a publish failure or a
// reset.
type pendingCall struct {
	id       int
	deviceID string
	method   string
	issued   time.Time
	timer    *time.Timer
	done     chan outcome // capacity 1
}

func (p *pendingCall) complete(o outcome) {
	p.done <- o
}

// Correlator matches replies to outstanding requests by id.
//
// Ids come from a counter that is never reset, so an id from an abandoned
// call is not reissued until the counter wraps, and even then an id still
// pending is skipped.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Completing one call never waits on another.
type Correlator struct {
	source    string
	publisher Publisher
	timeout   time.Duration

	mu      sync.Mutex
	pending map[int]*pendingCall
	lastID  int
	closed  bool

	logger Logger
}

// NewCorrelator creates a Correlator that signs requests with source and
// publishes them through publisher. A non-positive defaultTimeout means
// DefaultTimeout.
func NewCorrelator(source string, publisher Publisher, defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Correlator{
		source:    source,
		publisher: publisher,
		timeout:   defaultTimeout,
		pending:   make(map[int]*pendingCall),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the correlator.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// Source returns the identity placed in the src field of requests.
func (c *Correlator) Source() string {
	return c.source
}

// DefaultTimeout returns the timeout applied when Call is given none.
func (c *Correlator) DefaultTimeout() time.Duration {
	return c.timeout
}

// Call publishes method with params to deviceID and waits for the reply.
//
// It returns when a reply with the same id arrives, the timeout elapses
// (ErrTimeout), ctx is done, or the pending table is reset by the session.
// A reply carrying an application error is returned as a normal *Response;
// inspect Response.Err.
func (c *Correlator) Call(ctx context.Context, deviceID, method string, params json.RawMessage, timeout time.Duration) (*Response, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidEnvelope)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	call, err := c.register(deviceID, method, timeout)
	if err != nil {
		return nil, err
	}

	payload, err := EncodeRequest(Request{
		ID:      call.id,
		Src:     c.source,
		Method:  method,
		Params:  params,
		JSONRPC: Version,
	})
	if err != nil {
		if c.take(call) {
			return nil, err
		}
		return call.wait()
	}

	if err := c.publisher.Publish(RequestTopic(deviceID), payload); err != nil {
		if c.take(call) {
			return nil, fmt.Errorf("%w: device %s: %w", ErrPublishFailed, deviceID, err)
		}
		return call.wait()
	}

	c.logger.Debug("rpc request sent",
		"device_id", deviceID,
		"method", method,
		"id", call.id,
	)

	select {
	case o := <-call.done:
		return o.resp, o.err
	case <-ctx.Done():
		if c.take(call) {
			return nil, fmt.Errorf("rpc: device %s (method %s, id %d): %w", deviceID, method, call.id, ctx.Err())
		}
		return call.wait()
	}
}

func (p *pendingCall) wait() (*Response, error) {
	o := <-p.done
	return o.resp, o.err
}

// register allocates an id and inserts the pending entry with its timer.
func (c *Correlator) register(deviceID, method string, timeout time.Duration) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCorrelatorClosed
	}

	call := &pendingCall{
		id:       c.nextID(),
		deviceID: deviceID,
		method:   method,
		issued:   time.Now(),
		done:     make(chan outcome, 1),
	}
	c.pending[call.id] = call
	call.timer = time.AfterFunc(timeout, func() { c.expire(call, timeout) })

	return call, nil
}

// nextID returns the next positive id not currently pending. Caller holds mu.
func (c *Correlator) nextID() int {
	for {
		c.lastID++
		if c.lastID <= 0 {
			c.lastID = 1
		}
		if _, busy := c.pending[c.lastID]; !busy {
			return c.lastID
		}
	}
}

// take removes call from the table if it is still there. Only the caller
// that gets true may complete it.
func (c *Correlator) take(call *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.pending[call.id]; !ok || cur != call {
		return false
	}
	delete(c.pending, call.id)
	call.timer.Stop()
	return true
}

func (c *Correlator) expire(call *pendingCall, timeout time.Duration) {
	if !c.take(call) {
		return
	}
	c.logger.Warn("rpc request timed out",
		"device_id", call.deviceID,
		"method", call.method,
		"id", call.id,
		"timeout", timeout,
	)
	call.complete(outcome{err: fmt.Errorf("%w: device %s (method %s, id %d) after %v",
		ErrTimeout, call.deviceID, call.method, call.id, timeout)})
}

// Resolve completes the pending call whose id matches resp. It returns false
// when no such call is pending, e.g. a late reply after a timeout; the reply
// is then discarded.
func (c *Correlator) Resolve(resp *Response) bool {
	if resp == nil {
		return false
	}

	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
		call.timer.Stop()
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("rpc reply ignored, no pending request", "id", resp.ID, "src", resp.Src)
		return false
	}

	c.logger.Debug("rpc reply received",
		"device_id", call.deviceID,
		"method", call.method,
		"id", call.id,
		"latency", time.Since(call.issued),
		"app_error", resp.Error != nil,
	)
	call.complete(outcome{resp: resp})
	return true
}

// Reset fails every pending call with an error wrapping cause and empties
// the table. The id counter is kept.
func (c *Correlator) Reset(cause error) int {
	c.mu.Lock()
	old := c.pending
	c.pending = make(map[int]*pendingCall)
	c.mu.Unlock()

	for _, call := range old {
		call.timer.Stop()
		call.complete(outcome{err: fmt.Errorf("%w: device %s (method %s, id %d)",
			cause, call.deviceID, call.method, call.id)})
	}
	if len(old) > 0 {
		c.logger.Info("pending rpc requests abandoned", "count", len(old), "reason", cause)
	}
	return len(old)
}

// Close fails all pending calls and rejects new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Reset(ErrCorrelatorClosed)
}

// Pending returns the number of in-flight calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsPending reports whether id is in flight.
func (c *Correlator) IsPending(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}
