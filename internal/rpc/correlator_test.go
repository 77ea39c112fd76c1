package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingPublisher captures published requests and lets tests reply.
type recordingPublisher struct {
	mu       sync.Mutex
	requests []published
	err      error
	notify   chan published
}

type published struct {
	topic string
	req   Request
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notify: make(chan published, 64)}
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}

	req, decodeErr := DecodeRequest(payload)
	if decodeErr != nil {
		return decodeErr
	}
	rec := published{topic: topic, req: req}

	p.mu.Lock()
	p.requests = append(p.requests, rec)
	p.mu.Unlock()
	p.notify <- rec
	return nil
}

func (p *recordingPublisher) next(t *testing.T) published {
	t.Helper()
	select {
	case rec := <-p.notify:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
	return published{}
}

type callResult struct {
	resp *Response
	err  error
}

func goCall(c *Correlator, device, method string, params json.RawMessage, timeout time.Duration) <-chan callResult {
	out := make(chan callResult, 1)
	go func() {
		resp, err := c.Call(context.Background(), device, method, params, timeout)
		out <- callResult{resp, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call result")
	}
	return callResult{}
}

func TestCall_RoundTrip(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("android_app_test", pub, 0)

	res := goCall(c, "shellyplus1-aabbcc", "Switch.GetStatus", json.RawMessage(`{"id":0}`), time.Second)
	rec := pub.next(t)

	if rec.topic != "shellyplus1-aabbcc/rpc" {
		t.Errorf("topic = %q, want %q", rec.topic, "shellyplus1-aabbcc/rpc")
	}
	if rec.req.Src != "android_app_test" || rec.req.JSONRPC != "2.0" || rec.req.Method != "Switch.GetStatus" {
		t.Errorf("request = %+v", rec.req)
	}
	if !c.IsPending(rec.req.ID) {
		t.Fatalf("IsPending(%d) = false while waiting", rec.req.ID)
	}

	ok := c.Resolve(&Response{ID: rec.req.ID, Src: "shellyplus1-aabbcc", Result: json.RawMessage(`{"output":true}`)})
	if !ok {
		t.Fatal("Resolve() = false for pending id")
	}

	r := await(t, res)
	if r.err != nil {
		t.Fatalf("Call() error = %v", r.err)
	}
	if string(r.resp.Result) != `{"output":true}` {
		t.Errorf("Result = %s", r.resp.Result)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCall_IndependentConcurrentCalls(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)

	resA := goCall(c, "shellyplus1-aaaaaa", "Switch.Set", json.RawMessage(`{"id":0,"on":true}`), 2*time.Second)
	recA := pub.next(t)
	resB := goCall(c, "shellyplus1-bbbbbb", "Switch.Set", json.RawMessage(`{"id":0,"on":false}`), 2*time.Second)
	recB := pub.next(t)

	if recA.req.ID == recB.req.ID {
		t.Fatalf("concurrent calls share id %d", recA.req.ID)
	}

	// Resolve B first; A must stay pending and untouched.
	c.Resolve(&Response{ID: recB.req.ID, Src: "shellyplus1-bbbbbb"})
	rb := await(t, resB)
	if rb.err != nil || rb.resp.ID != recB.req.ID {
		t.Fatalf("B result = %+v, %v", rb.resp, rb.err)
	}
	if !c.IsPending(recA.req.ID) {
		t.Fatal("resolving B removed A")
	}
	select {
	case r := <-resA:
		t.Fatalf("A completed early: %+v", r)
	default:
	}

	c.Resolve(&Response{ID: recA.req.ID, Src: "shellyplus1-aaaaaa"})
	ra := await(t, resA)
	if ra.err != nil || ra.resp.ID != recA.req.ID {
		t.Fatalf("A result = %+v, %v", ra.resp, ra.err)
	}
}

func TestCall_TimeoutThenLateReplyIgnored(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)

	res := goCall(c, "shellyplus1-aabbcc", "Switch.Set", json.RawMessage(`{"id":0,"on":true}`), 50*time.Millisecond)
	rec := pub.next(t)

	r := await(t, res)
	if !errors.Is(r.err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", r.err)
	}
	if !strings.Contains(r.err.Error(), "shellyplus1-aabbcc") {
		t.Errorf("timeout error %q does not name the device", r.err)
	}
	if c.IsPending(rec.req.ID) {
		t.Error("timed out id still pending")
	}

	if c.Resolve(&Response{ID: rec.req.ID}) {
		t.Error("late reply resolved a call")
	}
}

func TestCall_DefaultTimeout(t *testing.T) {
	c := NewCorrelator("client", newRecordingPublisher(), 0)
	if c.DefaultTimeout() != 5*time.Second {
		t.Errorf("DefaultTimeout() = %v, want 5s", c.DefaultTimeout())
	}
}

func TestCall_ApplicationError(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)

	res := goCall(c, "shellyplus1-aabbcc", "Switch.Set", json.RawMessage(`{"id":7,"on":true}`), time.Second)
	rec := pub.next(t)
	c.Resolve(&Response{ID: rec.req.ID, Error: &Error{Code: -105, Message: "Argument 'id', value 7 not found!"}})

	r := await(t, res)
	if r.err != nil {
		t.Fatalf("Call() error = %v, want nil for application error", r.err)
	}
	var appErr *Error
	if !errors.As(r.resp.Err(), &appErr) || appErr.Code != -105 {
		t.Errorf("Response.Err() = %v, want code -105", r.resp.Err())
	}
}

func TestCall_PublishFailure(t *testing.T) {
	pub := newRecordingPublisher()
	pub.err = errors.New("not connected")
	c := NewCorrelator("client", pub, 0)

	_, err := c.Call(context.Background(), "shellyplus1-aabbcc", "Switch.Set", nil, time.Second)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Call() error = %v, want ErrPublishFailed", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCall_ContextCancelled(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "shellyplus1-aabbcc", "Shelly.GetDeviceInfo", nil, 5*time.Second)
		out <- err
	}()
	pub.next(t)
	cancel()

	select {
	case err := <-out:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Call() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call() did not return after cancel")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestReset(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)
	errLost := errors.New("connection lost")

	var results []<-chan callResult
	for i := 0; i < 3; i++ {
		results = append(results, goCall(c, fmt.Sprintf("shellyplus1-%06d", i), "Switch.GetStatus", nil, 5*time.Second))
		pub.next(t)
	}

	if n := c.Reset(errLost); n != 3 {
		t.Errorf("Reset() = %d, want 3", n)
	}
	for i, res := range results {
		r := await(t, res)
		if !errors.Is(r.err, errLost) {
			t.Errorf("call %d error = %v, want wrapped cause", i, r.err)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestReset_IDsNotReused(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)

	res := goCall(c, "shellyplus1-aabbcc", "Switch.GetStatus", nil, 5*time.Second)
	before := pub.next(t)
	c.Reset(errors.New("disconnect"))
	await(t, res)

	res = goCall(c, "shellyplus1-aabbcc", "Switch.GetStatus", nil, 5*time.Second)
	after := pub.next(t)
	defer func() {
		c.Reset(errors.New("done"))
		await(t, res)
	}()

	if after.req.ID == before.req.ID {
		t.Fatalf("id %d reissued after reset", after.req.ID)
	}
	// A reply for the abandoned id must not resolve the new call.
	if c.Resolve(&Response{ID: before.req.ID}) {
		t.Error("reply for abandoned id resolved a call")
	}
	if !c.IsPending(after.req.ID) {
		t.Error("new call no longer pending")
	}
}

func TestNextID_SkipsPendingAndWraps(t *testing.T) {
	c := NewCorrelator("client", newRecordingPublisher(), 0)

	c.mu.Lock()
	c.pending[1] = &pendingCall{id: 1}
	c.pending[2] = &pendingCall{id: 2}
	c.lastID = int(^uint(0) >> 1) // max int
	id := c.nextID()
	c.mu.Unlock()

	if id != 3 {
		t.Errorf("nextID() = %d, want 3", id)
	}
}

func TestClose(t *testing.T) {
	c := NewCorrelator("client", newRecordingPublisher(), 0)
	c.Close()

	if _, err := c.Call(context.Background(), "shellyplus1-aabbcc", "Switch.Set", nil, 0); !errors.Is(err, ErrCorrelatorClosed) {
		t.Errorf("Call() after Close error = %v, want ErrCorrelatorClosed", err)
	}
}

func TestCall_ManyConcurrent(t *testing.T) {
	pub := newRecordingPublisher()
	c := NewCorrelator("client", pub, 0)

	// Echo every request back as its reply.
	go func() {
		for rec := range pub.notify {
			c.Resolve(&Response{ID: rec.req.ID, Src: strings.TrimSuffix(rec.topic, "/rpc"), Result: rec.req.Params})
		}
	}()
	defer close(pub.notify)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
			resp, err := c.Call(context.Background(), "shellyplus1-aabbcc", "Echo", params, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if string(resp.Result) != string(params) {
				errs <- fmt.Errorf("call %d got %s", i, resp.Result)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
