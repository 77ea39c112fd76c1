package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/shellylink/internal/session"
)

const metricsNamespace = "shellylink"

var sessionStates = []session.State{
	session.StateDisconnected,
	session.StateConnecting,
	session.StateConnected,
	session.StateError,
}

// promMetrics owns the server's Prometheus registry. Session, router and
// device figures are read at scrape time; only HTTP requests are counted
// as they happen.
type promMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

func newPromMetrics(s *Server) *promMetrics {
	m := &promMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		newSessionCollector(s),
	)
	return m
}

// handler serves the registry in the Prometheus text or OpenMetrics format.
func (m *promMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// observe counts one request. The route label is the chi pattern, so
// device identifiers never become label values.
func (m *promMetrics) observe(r *http.Request, status int) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
	}
	m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
}

// sessionCollector turns Session.Info, the device list and the hub size
// into metrics on every scrape.
type sessionCollector struct {
	s *Server

	state     *prometheus.Desc
	pending   *prometheus.Desc
	messages  *prometheus.Desc
	devices   *prometheus.Desc
	wsClients *prometheus.Desc
}

func newSessionCollector(s *Server) *sessionCollector {
	name := func(n string) string { return prometheus.BuildFQName(metricsNamespace, "", n) }
	return &sessionCollector{
		s: s,
		state: prometheus.NewDesc(name("session_state"),
			"1 for the current broker session state, 0 otherwise.", []string{"state"}, nil),
		pending: prometheus.NewDesc(name("rpc_pending_requests"),
			"RPC calls waiting for a reply.", nil, nil),
		messages: prometheus.NewDesc(name("router_messages_total"),
			"Inbound broker messages by routing outcome.", []string{"outcome"}, nil),
		devices: prometheus.NewDesc(name("devices"),
			"Tracked devices by presence.", []string{"online"}, nil),
		wsClients: prometheus.NewDesc(name("websocket_clients"),
			"Connected WebSocket clients.", nil, nil),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.pending
	ch <- c.messages
	ch <- c.devices
	ch <- c.wsClients
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	info := c.s.conn.Info()

	for _, st := range sessionStates {
		v := 0.0
		if st == info.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.String())
	}

	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(info.Pending))

	outcomes := []struct {
		label string
		n     uint64
	}{
		{"handled", info.Router.Handled},
		{"stale", info.Router.Stale},
		{"unknown_topic", info.Router.Unknown},
		{"invalid_identity", info.Router.InvalidIdentity},
		{"decode_error", info.Router.DecodeErrors},
		{"recovered_panic", info.Router.RecoveredPanics},
		{"unmatched_reply", info.Router.UnmatchedReplies},
	}
	for _, o := range outcomes {
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(o.n), o.label)
	}

	var online, offline int
	for _, d := range c.s.devices.List() {
		if d.Online {
			online++
		} else {
			offline++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(online), "true")
	ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(offline), "false")

	ch <- prometheus.MustNewConstMetric(c.wsClients, prometheus.GaugeValue, float64(c.s.hub.ClientCount()))
}
