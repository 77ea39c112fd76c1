package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/shellylink/internal/infrastructure/config"
	"github.com/nerrad567/shellylink/internal/infrastructure/mqtt"
	"github.com/nerrad567/shellylink/internal/presence"
	"github.com/nerrad567/shellylink/internal/resolver"
	"github.com/nerrad567/shellylink/internal/routing"
	"github.com/nerrad567/shellylink/internal/rpc"
	"github.com/nerrad567/shellylink/internal/stream"
)

// DefaultIdentityPrefix is used for generated identities.
const DefaultIdentityPrefix = "shellylink"

// Broker is the live broker connection a Session drives.
// *mqtt.Client satisfies it.
type Broker interface {
	PublishAsync(topic string, payload []byte, qos byte) error
	SubscribeAll(filters []string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetLogger(logger mqtt.Logger)
	IsConnected() bool
	Close() error
}

// Dialer opens a broker connection. It must return once the handshake has
// completed or failed.
type Dialer func(ctx context.Context, cfg config.MQTTConfig) (Broker, error)

// DialMQTT is the default Dialer.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig) (Broker, error) {
	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Logger defines the logging interface used by the Session.
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

// Deps holds the collaborators of a Session.
type Deps struct {
	// Identity is the client identity; replies arrive on "<Identity>/rpc".
	// When empty one is generated from IdentityPrefix.
	Identity       string
	IdentityPrefix string

	// Tracker receives presence and status. Nil creates a private one.
	Tracker *presence.Tracker

	// Resolver maps the broker host to an address before dialling. Nil
	// dials the configured host as is.
	Resolver *resolver.Resolver

	// Dial opens the broker connection. Nil means DialMQTT.
	Dial Dialer

	// RPCTimeout is the default call timeout. Zero means rpc.DefaultTimeout.
	RPCTimeout time.Duration

	// Lanes and QueueSize size the inbound router.
	Lanes     int
	QueueSize int

	Logger Logger
}

// Info is a snapshot of the session for diagnostics.
type Info struct {
	Identity  string        `json:"identity"`
	State     State         `json:"state"`
	Broker    string        `json:"broker,omitempty"`
	Address   string        `json:"address,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Pending   int           `json:"pending_requests"`
	Devices   int           `json:"devices"`
	Router    routing.Stats `json:"router"`
}

// Session owns the single broker connection and ties the correlator,
// router and presence tracker to it.
//
// The session never retries a failed Connect on its own; Supervise does
// that for long-running processes.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Connect, Disconnect, Reconnect and Close are serialised.
type Session struct {
	identity string
	tracker  *presence.Tracker
	resolver *resolver.Resolver
	dial     Dialer
	corr     *rpc.Correlator
	router   *routing.Router

	// opMu serialises connection lifecycle operations.
	opMu sync.Mutex

	mu      sync.RWMutex
	broker  Broker
	qos     byte
	state   State
	lastCfg *config.MQTTConfig
	address string
	lastErr error
	closed  bool

	states    stream.Broadcaster[State]
	closeOnce sync.Once

	logger Logger
}

// New creates a Session in StateDisconnected. Call Start before Connect.
func New(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	identity := deps.Identity
	if identity == "" {
		identity = NewIdentity(deps.IdentityPrefix)
	}

	tracker := deps.Tracker
	if tracker == nil {
		tracker = presence.NewTracker()
	}

	dial := deps.Dial
	if dial == nil {
		dial = DialMQTT
	}

	s := &Session{
		identity: identity,
		tracker:  tracker,
		resolver: deps.Resolver,
		dial:     dial,
		state:    StateDisconnected,
		logger:   logger,
	}

	s.corr = rpc.NewCorrelator(identity, s, deps.RPCTimeout)
	s.corr.SetLogger(logger)

	s.router = routing.New(routing.Options{
		Identity:  identity,
		Lanes:     deps.Lanes,
		QueueSize: deps.QueueSize,
	}, s.corr, tracker)
	s.router.SetLogger(logger)

	return s
}

// NewIdentity returns "<prefix>_<32 hex digits>". The identity carries no
// "-", so it never passes device identity validation and the session's own
// topics are not mistaken for a device.
func NewIdentity(prefix string) string {
	if prefix == "" {
		prefix = DefaultIdentityPrefix
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start launches the inbound message workers. The session is closed when
// ctx is done.
func (s *Session) Start(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}

	s.router.Start()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Identity returns the client identity used as the request source.
func (s *Session) Identity() string {
	return s.identity
}

// Correlator returns the request correlator bound to this session.
func (s *Session) Correlator() *rpc.Correlator {
	return s.corr
}

// Tracker returns the presence tracker fed by this session.
func (s *Session) Tracker() *presence.Tracker {
	return s.tracker
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// States subscribes to state transitions. The channel is closed by cancel
// or when the session is closed.
func (s *Session) States() (<-chan State, func()) {
	return s.states.Subscribe(16)
}

// Stats returns the inbound router counters.
func (s *Session) Stats() routing.Stats {
	return s.router.Stats()
}

// Info returns a diagnostic snapshot.
func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		Identity: s.identity,
		State:    s.state,
		Address:  s.address,
	}
	if s.lastCfg != nil {
		info.Broker = fmt.Sprintf("%s:%d", s.lastCfg.Broker.Host, s.lastCfg.Broker.Port)
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	info.Pending = s.corr.Pending()
	info.Devices = s.tracker.Len()
	info.Router = s.router.Stats()
	return info
}

// Connect opens a connection using cfg, tearing down any previous one
// first. Calls pending on the previous connection fail with
// ErrSessionClosed and messages it had queued are discarded.
//
// cfg.Broker.ClientID is replaced by the session identity. Connect blocks
// until the broker handshake and subscriptions complete or fail; failures
// leave the session in StateError and wrap ErrConnectionFailed.
func (s *Session) Connect(ctx context.Context, cfg config.MQTTConfig) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	saved := cfg
	s.lastCfg = &saved
	s.mu.Unlock()

	s.teardown(ErrSessionClosed)
	s.setState(StateConnecting, nil)

	cfg.Broker.ClientID = s.identity
	address := s.resolve(ctx, &cfg)

	gen := s.router.Advance()
	handler := func(topic string, payload []byte) error {
		return s.router.Dispatch(gen, topic, payload)
	}

	broker, err := s.dial(ctx, cfg)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		s.setState(StateError, err)
		s.logger.Error("broker connection failed", "host", cfg.Broker.Host, "port", cfg.Broker.Port, "error", err)
		return err
	}
	broker.SetLogger(s.logger)

	qos := byte(cfg.QoS)
	if err := broker.SubscribeAll(mqtt.Topics{}.SessionFilters(s.identity), qos, handler); err != nil {
		_ = broker.Close()
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		s.setState(StateError, err)
		s.logger.Error("broker subscription failed", "error", err)
		return err
	}

	broker.SetOnDisconnect(func(err error) { s.connectionLost(broker, err) })
	broker.SetOnConnect(func() { s.connectionRestored(broker) })

	s.mu.Lock()
	s.broker = broker
	s.qos = qos
	s.address = address
	s.mu.Unlock()

	s.setState(StateConnected, nil)
	s.logger.Info("connected to broker",
		"host", cfg.Broker.Host,
		"port", cfg.Broker.Port,
		"identity", s.identity,
	)
	return nil
}

// resolve replaces cfg.Broker.Host with the resolved address and returns
// it. TLS connections keep the host name for certificate verification.
func (s *Session) resolve(ctx context.Context, cfg *config.MQTTConfig) string {
	if s.resolver == nil {
		return cfg.Broker.Host
	}
	res := s.resolver.Resolve(ctx, cfg.Broker.Host)
	if cfg.Broker.TLS {
		return res.Address
	}
	cfg.Broker.Host = res.Address
	return res.Address
}

// Disconnect closes the connection, fails pending calls with
// ErrSessionClosed and forgets all discovered devices. It is idempotent.
func (s *Session) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.teardown(ErrSessionClosed)
}

// Reconnect disconnects and connects again with the configuration of the
// last Connect. It does nothing if Connect was never called.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.RLock()
	last := s.lastCfg
	s.mu.RUnlock()
	if last == nil {
		return nil
	}
	return s.Connect(ctx, *last)
}

// teardown is the connection barrier. Caller holds opMu.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	broker := s.broker
	s.broker = nil
	s.address = ""
	s.mu.Unlock()

	// Queued inbound messages of the old connection become stale before any
	// pending call is failed, so none of them can resolve a call.
	s.router.Advance()

	if broker != nil {
		broker.SetOnDisconnect(nil)
		broker.SetOnConnect(nil)
		_ = broker.Close()
	}

	if n := s.corr.Reset(cause); n > 0 {
		s.logger.Debug("pending requests failed on disconnect", "count", n)
	}
	s.tracker.Clear()

	if broker != nil || s.State() != StateDisconnected {
		s.setState(StateDisconnected, nil)
	}
}

// connectionLost handles a broker-initiated drop. Devices are kept; calls
// in flight fail so their callers do not wait for the timeout.
func (s *Session) connectionLost(broker Broker, err error) {
	s.mu.RLock()
	current := s.broker == broker
	s.mu.RUnlock()
	if !current {
		return
	}

	s.logger.Warn("broker connection lost", "error", err)
	s.corr.Reset(ErrConnectionLost)
	s.setState(StateDisconnected, fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

// connectionRestored handles a reconnect performed by the MQTT client.
func (s *Session) connectionRestored(broker Broker) {
	s.mu.RLock()
	current := s.broker == broker
	s.mu.RUnlock()
	if !current {
		return
	}
	if s.setState(StateConnected, nil) {
		s.logger.Info("broker connection restored")
	}
}

// setState records a transition and notifies subscribers. It returns false
// when the state did not change.
func (s *Session) setState(next State, cause error) bool {
	s.mu.Lock()
	if cause != nil {
		s.lastErr = cause
	}
	if s.state == next {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("session state changed", "from", prev.String(), "to", next.String())
	s.states.Publish(next)
	return true
}

// Publish sends payload on topic without waiting for the broker to
// acknowledge it. It satisfies rpc.Publisher.
func (s *Session) Publish(topic string, payload []byte) error {
	s.mu.RLock()
	broker, qos, state := s.broker, s.qos, s.state
	s.mu.RUnlock()

	if broker == nil || state != StateConnected {
		return ErrNotConnected
	}
	if err := broker.PublishAsync(topic, payload, qos); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return err
	}
	return nil
}

// HealthCheck reports whether the session holds a live connection.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session health check: %w", err)
	}

	s.mu.RLock()
	broker, state, closed := s.broker, s.state, s.closed
	s.mu.RUnlock()

	switch {
	case closed:
		return ErrSessionClosed
	case state != StateConnected || broker == nil:
		return fmt.Errorf("%w: state %s", ErrNotConnected, state)
	case !broker.IsConnected():
		return fmt.Errorf("%w: broker link down", ErrNotConnected)
	}
	return nil
}

// Close disconnects, stops the inbound workers and rejects further calls.
// State subscriptions are closed. Calling Close more than once is safe.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.opMu.Lock()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.teardown(ErrSessionClosed)
		s.opMu.Unlock()

		s.router.Stop()
		s.corr.Close()
		s.states.Close()
		s.logger.Info("session closed", "identity", s.identity)
	})
}
