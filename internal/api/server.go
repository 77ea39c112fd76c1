package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/infrastructure/config"
	"github.com/nerrad567/shellylink/internal/infrastructure/logging"
	"github.com/nerrad567/shellylink/internal/presence"
	"github.com/nerrad567/shellylink/internal/session"
	"github.com/nerrad567/shellylink/internal/shelly"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Connection is the part of the transport session the API observes and drives.
type Connection interface {
	Info() session.Info
	States() (<-chan session.State, func())
	Reconnect(ctx context.Context) error
}

// DeviceSource is the presence tracker as seen by the API.
type DeviceSource interface {
	List() []presence.Device
	Device(id string) (presence.Device, bool)
	Presence() (<-chan presence.Device, func())
	Statuses() (<-chan presence.StatusUpdate, func())
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Connection Connection
	Devices    DeviceSource

	// Caller issues RPC calls; normally the session's correlator.
	Caller shelly.Caller

	// RPCTimeout is the per-call timeout. Zero uses the caller's default.
	RPCTimeout time.Duration

	// History is optional; without it the history endpoint answers 503.
	History device.EventHistory

	Version string
}

// Server is the HTTP API server for shellylink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	conn    Connection
	devices DeviceSource
	caller  shelly.Caller
	ctrl    *shelly.Controller
	history device.EventHistory
	limiter *rateLimiter
	prom    *promMetrics
	version string

	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Connection == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if deps.Caller == nil {
		return nil, fmt.Errorf("rpc caller is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		conn:      deps.Connection,
		devices:   deps.Devices,
		caller:    deps.Caller,
		ctrl:      shelly.NewController(deps.Caller, deps.RPCTimeout),
		history:   deps.History,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}
	if deps.Security.RateLimit.Enabled {
		s.limiter = newRateLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}
	if deps.Config.Prometheus {
		s.prom = newPromMetrics(s)
	}
	return s, nil
}

// Handler returns the routed HTTP handler. Used by Start and by tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// It also starts relaying tracker and session events to WebSocket clients.
// The relays stop when ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.hub.Run(srvCtx)
	s.startRelays(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// startRelays forwards tracker and session streams to the hub.
func (s *Server) startRelays(ctx context.Context) {
	presenceCh, cancelPresence := s.devices.Presence()
	statusCh, cancelStatus := s.devices.Statuses()
	stateCh, cancelStates := s.conn.States()

	go func() {
		defer cancelPresence()
		defer cancelStatus()
		defer cancelStates()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-presenceCh:
				if !ok {
					presenceCh = nil
					continue
				}
				s.hub.Broadcast(ChannelDevicePresence, d)
			case u, ok := <-statusCh:
				if !ok {
					statusCh = nil
					continue
				}
				s.hub.Broadcast(ChannelDeviceStatus, u)
			case st, ok := <-stateCh:
				if !ok {
					stateCh = nil
					continue
				}
				s.hub.Broadcast(ChannelConnectionState, map[string]any{
					"state": st,
					"info":  s.conn.Info(),
				})
			}
		}
	}()
}
