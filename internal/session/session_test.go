package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/infrastructure/config"
	"github.com/nerrad567/shellylink/internal/infrastructure/mqtt"
	"github.com/nerrad567/shellylink/internal/resolver"
	"github.com/nerrad567/shellylink/internal/rpc"
)

const (
	testIdentity = "shellylink_test01"
	testDevice   = "shellyplus1-aabbcc"
)

// =============================================================================
// Fakes
// =============================================================================

type published struct {
	topic   string
	payload []byte
	qos     byte
}

// fakeBroker stands in for *mqtt.Client.
type fakeBroker struct {
	mu           sync.Mutex
	filters      []string
	handler      mqtt.MessageHandler
	onConnect    func()
	onDisconnect func(error)
	connected    bool
	closed       bool
	subErr       error
	pubCh        chan published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connected: true, pubCh: make(chan published, 64)}
}

func (b *fakeBroker) PublishAsync(topic string, payload []byte, qos byte) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return mqtt.ErrNotConnected
	}
	select {
	case b.pubCh <- published{topic: topic, payload: payload, qos: qos}:
	default:
	}
	return nil
}

func (b *fakeBroker) SubscribeAll(filters []string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return b.subErr
	}
	b.filters = append([]string(nil), filters...)
	b.handler = handler
	return nil
}

func (b *fakeBroker) SetOnConnect(cb func()) {
	b.mu.Lock()
	b.onConnect = cb
	b.mu.Unlock()
}

func (b *fakeBroker) SetOnDisconnect(cb func(error)) {
	b.mu.Lock()
	b.onDisconnect = cb
	b.mu.Unlock()
}

func (b *fakeBroker) SetLogger(mqtt.Logger) {}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// deliver feeds an inbound message through the subscription handler.
func (b *fakeBroker) deliver(topic, payload string) error {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	return h(topic, []byte(payload))
}

// drop simulates the broker closing the connection.
func (b *fakeBroker) drop(err error) {
	b.mu.Lock()
	b.connected = false
	cb := b.onDisconnect
	b.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// restore simulates the MQTT client reconnecting by itself.
func (b *fakeBroker) restore() {
	b.mu.Lock()
	b.connected = true
	cb := b.onConnect
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// nextRequest waits for the next published request.
func (b *fakeBroker) nextRequest(t *testing.T) (string, rpc.Request) {
	t.Helper()
	select {
	case p := <-b.pubCh:
		req, err := rpc.DecodeRequest(p.payload)
		if err != nil {
			t.Fatalf("DecodeRequest() error = %v", err)
		}
		return p.topic, req
	case <-time.After(2 * time.Second):
		t.Fatal("no request published")
		return "", rpc.Request{}
	}
}

// echo answers every request with a result naming the method.
func (b *fakeBroker) echo(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-b.pubCh:
			req, err := rpc.DecodeRequest(p.payload)
			if err != nil {
				continue
			}
			dev := strings.TrimSuffix(p.topic, "/rpc")
			reply := fmt.Sprintf(`{"id":%d,"src":%q,"dst":%q,"result":{"method":%q}}`, req.ID, dev, req.Src, req.Method)
			_ = b.deliver(req.Src+"/rpc", reply)
		}
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	errs    []error
	subErr  error
	cfgs    []config.MQTTConfig
	brokers []*fakeBroker
}

func (d *fakeDialer) dial(_ context.Context, cfg config.MQTTConfig) (Broker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfgs = append(d.cfgs, cfg)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	b := newFakeBroker()
	b.subErr = d.subErr
	d.brokers = append(d.brokers, b)
	return b, nil
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cfgs)
}

func (d *fakeDialer) last() *fakeBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brokers[len(d.brokers)-1]
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.lan", Port: 1883, ClientID: "ignored"},
		QoS:    1,
	}
}

func newTestSession(t *testing.T, d *fakeDialer, mutate ...func(*Deps)) *Session {
	t.Helper()
	deps := Deps{
		Identity:   testIdentity,
		Dial:       d.dial,
		RPCTimeout: time.Second,
		Lanes:      2,
		QueueSize:  16,
	}
	for _, m := range mutate {
		m(&deps)
	}
	s := New(deps)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

func mustConnect(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Connect(context.Background(), testMQTTConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
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

func drainStates(ch <-chan State) []State {
	var got []State
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, st)
		default:
			return got
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_SubscribesAndTransitions(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	states, cancel := s.States()
	defer cancel()

	mustConnect(t, s)

	if s.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", s.State())
	}
	if got := drainStates(states); len(got) != 2 || got[0] != StateConnecting || got[1] != StateConnected {
		t.Errorf("states = %v, want [connecting connected]", got)
	}

	b := d.last()
	want := mqtt.Topics{}.SessionFilters(testIdentity)
	if strings.Join(b.filters, ",") != strings.Join(want, ",") {
		t.Errorf("filters = %v, want %v", b.filters, want)
	}
	if d.cfgs[0].Broker.ClientID != testIdentity {
		t.Errorf("dialled ClientID = %q, want %q", d.cfgs[0].Broker.ClientID, testIdentity)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	d := &fakeDialer{errs: []error{errors.New("connection refused")}}
	s := newTestSession(t, d)

	err := s.Connect(context.Background(), testMQTTConfig())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if s.State() != StateError {
		t.Errorf("State() = %v, want error", s.State())
	}
	if !strings.Contains(s.Info().LastError, "connection refused") {
		t.Errorf("Info().LastError = %q", s.Info().LastError)
	}
	if err := s.Publish("x/rpc", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}

	// A fresh Connect starts over from Connecting.
	mustConnect(t, s)
	if s.State() != StateConnected {
		t.Errorf("State() after retry = %v, want connected", s.State())
	}
}

func TestConnect_SubscribeFailure(t *testing.T) {
	d := &fakeDialer{subErr: mqtt.ErrSubscribeFailed}
	s := newTestSession(t, d)

	err := s.Connect(context.Background(), testMQTTConfig())
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, mqtt.ErrSubscribeFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed wrapping ErrSubscribeFailed", err)
	}
	if s.State() != StateError {
		t.Errorf("State() = %v, want error", s.State())
	}
	if !d.last().isClosed() {
		t.Error("broker left open after failed subscribe")
	}
}

func TestConnect_UsesResolvedAddress(t *testing.T) {
	res := resolver.New(resolver.Options{
		Lookup: func(context.Context, string) ([]string, error) {
			return []string{"192.168.1.50"}, nil
		},
	})

	tests := []struct {
		name     string
		tls      bool
		wantHost string
	}{
		{"plain", false, "192.168.1.50"},
		{"tls keeps host name", true, "broker.lan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{}
			s := newTestSession(t, d, func(deps *Deps) { deps.Resolver = res })

			cfg := testMQTTConfig()
			cfg.Broker.TLS = tt.tls
			if err := s.Connect(context.Background(), cfg); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if got := d.cfgs[0].Broker.Host; got != tt.wantHost {
				t.Errorf("dialled host = %q, want %q", got, tt.wantHost)
			}
			if s.Info().Address != "192.168.1.50" {
				t.Errorf("Info().Address = %q", s.Info().Address)
			}
		})
	}
}

func TestPublish_NotConnected(t *testing.T) {
	s := newTestSession(t, &fakeDialer{})
	if err := s.Publish("shellyplus1-aabbcc/rpc", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// RPC Tests
// =============================================================================

func TestCall_RoundTrip(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)

	b := d.last()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Inspect the first request, then let the echo loop answer.
	done := make(chan error, 1)
	go func() {
		resp, err := s.Correlator().Call(ctx, testDevice, "Switch.Set", json.RawMessage(`{"id":0,"on":true}`), 0)
		if err == nil && resp.Src != testDevice {
			err = fmt.Errorf("reply src = %q", resp.Src)
		}
		done <- err
	}()

	topic, req := b.nextRequest(t)
	if topic != "shellyplus1-aabbcc/rpc" {
		t.Errorf("request topic = %q", topic)
	}
	if req.Src != testIdentity || req.Method != "Switch.Set" || string(req.Params) != `{"id":0,"on":true}` || req.JSONRPC != "2.0" {
		t.Errorf("request = %+v", req)
	}
	_ = b.deliver(testIdentity+"/rpc", fmt.Sprintf(`{"id":%d,"src":%q,"result":{"was_on":false}}`, req.ID, testDevice))

	if err := <-done; err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if s.Correlator().Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Correlator().Pending())
	}
}

func TestCall_ManyConcurrent(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.last().echo(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			method := fmt.Sprintf("Test.M%d", i)
			resp, err := s.Correlator().Call(ctx, testDevice, method, nil, 0)
			if err != nil {
				errs <- err
				return
			}
			var result struct{ Method string }
			if err := resp.DecodeResult(&result); err != nil || result.Method != method {
				errs <- fmt.Errorf("call %s got %+v (%v)", method, result, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCall_SwitchSetTimeoutNamesDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full 5s default timeout")
	}

	d := &fakeDialer{}
	s := newTestSession(t, d, func(deps *Deps) { deps.RPCTimeout = 5000 * time.Millisecond })
	mustConnect(t, s)
	b := d.last()

	type result struct {
		err     error
		elapsed time.Duration
	}
	done := make(chan result, 1)
	go func() {
		start := time.Now()
		_, err := s.Correlator().Call(context.Background(), testDevice, "Switch.Set", json.RawMessage(`{"id":0,"on":true}`), 0)
		done <- result{err, time.Since(start)}
	}()

	_, req := b.nextRequest(t)
	if !s.Correlator().IsPending(req.ID) {
		t.Fatalf("request %d not pending", req.ID)
	}

	var r result
	select {
	case r = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Call() did not time out")
	}

	if !errors.Is(r.err, rpc.ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", r.err)
	}
	if !strings.Contains(r.err.Error(), testDevice) {
		t.Errorf("error %q does not name %s", r.err, testDevice)
	}
	if r.elapsed < 4900*time.Millisecond {
		t.Errorf("Call() returned after %v, want ~5s", r.elapsed)
	}
	if s.Correlator().IsPending(req.ID) || s.Correlator().Pending() != 0 {
		t.Error("timed out request still in flight")
	}

	// The late reply is ignored.
	_ = b.deliver(testIdentity+"/rpc", fmt.Sprintf(`{"id":%d,"src":%q,"result":{}}`, req.ID, testDevice))
	eventually(t, "unmatched reply counted", func() bool { return s.Stats().UnmatchedReplies == 1 })
}

// =============================================================================
// Barrier Tests
// =============================================================================

func TestDisconnectThenConnect_IsBarrier(t *testing.T) {
	tests := []struct {
		name       string
		disconnect bool
	}{
		{"disconnect then connect", true},
		{"connect over live connection", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{}
			s := newTestSession(t, d)
			mustConnect(t, s)
			old := d.last()

			done := make(chan error, 1)
			go func() {
				_, err := s.Correlator().Call(context.Background(), testDevice, "Switch.GetStatus", json.RawMessage(`{"id":0}`), 10*time.Second)
				done <- err
			}()
			_, req := old.nextRequest(t)

			if tt.disconnect {
				s.Disconnect()
			}
			mustConnect(t, s)
			current := d.last()

			select {
			case err := <-done:
				if !errors.Is(err, ErrSessionClosed) {
					t.Errorf("pending Call() error = %v, want ErrSessionClosed", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("pending call survived the barrier")
			}

			if !old.isClosed() {
				t.Error("previous broker not closed")
			}

			// A reply for the old id on the new connection resolves nothing.
			reply := fmt.Sprintf(`{"id":%d,"src":%q,"result":{"output":true}}`, req.ID, testDevice)
			_ = current.deliver(testIdentity+"/rpc", reply)
			eventually(t, "unmatched reply counted", func() bool { return s.Stats().UnmatchedReplies == 1 })

			// Messages still arriving through the old connection are stale.
			staleBefore := s.Stats().Stale
			_ = old.deliver(testDevice+"/online", "true")
			if s.Stats().Stale != staleBefore+1 {
				t.Errorf("Stats().Stale = %d, want %d", s.Stats().Stale, staleBefore+1)
			}
			if s.Tracker().Len() != 0 {
				t.Errorf("tracker has %d devices from the old connection", s.Tracker().Len())
			}
		})
	}
}

func TestDisconnect_ClearsAndIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)
	b := d.last()

	_ = b.deliver(testDevice+"/online", "true")
	eventually(t, "device tracked", func() bool { return s.Tracker().Len() == 1 })

	states, cancel := s.States()
	defer cancel()

	s.Disconnect()
	s.Disconnect()

	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if s.Tracker().Len() != 0 {
		t.Errorf("tracker has %d devices after Disconnect", s.Tracker().Len())
	}
	if !b.isClosed() {
		t.Error("broker not closed")
	}
	if got := drainStates(states); len(got) != 1 || got[0] != StateDisconnected {
		t.Errorf("states = %v, want one disconnected", got)
	}
}

func TestReconnect(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)

	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() without config = %v", err)
	}
	if d.calls() != 0 {
		t.Fatalf("Reconnect() without config dialled %d times", d.calls())
	}

	mustConnect(t, s)
	first := d.last()
	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if d.calls() != 2 || !first.isClosed() || s.State() != StateConnected {
		t.Errorf("after Reconnect: calls=%d firstClosed=%v state=%v", d.calls(), first.isClosed(), s.State())
	}
	if d.cfgs[1].Broker.Host != "broker.lan" {
		t.Errorf("Reconnect() used host %q", d.cfgs[1].Broker.Host)
	}
}

func TestConnectionLost(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)
	b := d.last()

	_ = b.deliver(testDevice+"/online", "true")
	eventually(t, "device tracked", func() bool { return s.Tracker().Len() == 1 })

	done := make(chan error, 1)
	go func() {
		_, err := s.Correlator().Call(context.Background(), testDevice, "Switch.Toggle", json.RawMessage(`{"id":0}`), 10*time.Second)
		done <- err
	}()
	b.nextRequest(t)

	b.drop(errors.New("EOF"))

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Call() error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed on connection loss")
	}

	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if s.Tracker().Len() != 1 {
		t.Errorf("tracker lost devices on connection loss")
	}
	if err := s.Publish("x/rpc", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	b.restore()
	if s.State() != StateConnected {
		t.Errorf("State() after restore = %v, want connected", s.State())
	}
}

func TestConnectionLost_StaleBrokerIgnored(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)
	old := d.last()

	// Grab the callback before Connect replaces the broker and clears it.
	old.mu.Lock()
	lost := old.onDisconnect
	old.mu.Unlock()

	mustConnect(t, s)
	lost(errors.New("late"))

	if s.State() != StateConnected {
		t.Errorf("State() = %v, want connected", s.State())
	}
}

// =============================================================================
// Inbound Scenarios
// =============================================================================

func TestStatusMessage_MarksOnlineAndEmits(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)

	statuses, cancel := s.Tracker().Statuses()
	defer cancel()

	_ = d.last().deliver("shellyplus1-aabbcc/status/switch:0", `{"id":0,"source":"MQTT","output":true,"apower":12.5,"voltage":230.1}`)

	select {
	case u := <-statuses:
		if u.DeviceID != testDevice || !u.On || u.Channel != "switch:0" {
			t.Errorf("status update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status update")
	}
	dev, ok := s.Tracker().Device(testDevice)
	if !ok || !dev.Online {
		t.Errorf("Device() = %+v, %v, want online", dev, ok)
	}
}

func TestBogusOnline_NoStateChange(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)

	presenceCh, cancel := s.Tracker().Presence()
	defer cancel()

	_ = d.last().deliver("bogus/online", "true")
	eventually(t, "invalid identity counted", func() bool { return s.Stats().InvalidIdentity == 1 })

	if s.Tracker().Len() != 0 {
		t.Errorf("tracker has %d devices", s.Tracker().Len())
	}
	select {
	case dev := <-presenceCh:
		t.Errorf("unexpected presence event %+v", dev)
	default:
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestClose(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d)
	mustConnect(t, s)
	states, cancel := s.States()
	defer cancel()

	s.Close()
	s.Close()

	if err := s.Connect(context.Background(), testMQTTConfig()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Connect() after Close = %v, want ErrSessionClosed", err)
	}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("HealthCheck() after Close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Correlator().Call(context.Background(), testDevice, "Shelly.GetDeviceInfo", nil, 0); !errors.Is(err, rpc.ErrCorrelatorClosed) {
		t.Errorf("Call() after Close = %v, want ErrCorrelatorClosed", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start() after Close = %v, want ErrSessionClosed", err)
	}

	drainStates(states)
	if _, ok := <-states; ok {
		t.Error("state channel still open after Close")
	}
}

func TestStartContextClosesSession(t *testing.T) {
	s := New(Deps{Identity: testIdentity, Dial: (&fakeDialer{}).dial})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	eventually(t, "session closed", func() bool {
		return errors.Is(s.HealthCheck(context.Background()), ErrSessionClosed)
	})
}

func TestNewIdentity(t *testing.T) {
	tests := []struct {
		prefix, want string
	}{
		{"", "shellylink_"},
		{"kitchen", "kitchen_"},
	}
	for _, tt := range tests {
		id := NewIdentity(tt.prefix)
		if !strings.HasPrefix(id, tt.want) || len(id) != len(tt.want)+32 {
			t.Errorf("NewIdentity(%q) = %q", tt.prefix, id)
		}
		if strings.ContainsAny(id, "-/+#") {
			t.Errorf("NewIdentity(%q) = %q contains a reserved character", tt.prefix, id)
		}
		if device.ValidID(id) {
			t.Errorf("NewIdentity(%q) = %q passes device validation", tt.prefix, id)
		}
	}
	if NewIdentity("") == NewIdentity("") {
		t.Error("NewIdentity() returned the same identity twice")
	}

	s := New(Deps{})
	if !strings.HasPrefix(s.Identity(), DefaultIdentityPrefix+"_") {
		t.Errorf("generated Identity() = %q", s.Identity())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateError, "error"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}

	data, err := json.Marshal(map[string]State{"state": StateConnected})
	if err != nil || string(data) != `{"state":"connected"}` {
		t.Errorf("json.Marshal() = %s, %v", data, err)
	}

	var back map[string]State
	if err := json.Unmarshal(data, &back); err != nil || back["state"] != StateConnected {
		t.Errorf("json.Unmarshal() = %v, %v", back, err)
	}
	var st State
	if err := st.UnmarshalText([]byte("unknown")); err == nil {
		t.Error("UnmarshalText(unknown) should fail")
	}
}
