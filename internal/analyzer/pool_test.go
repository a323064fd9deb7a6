package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn whose responses are scripted by the test.
type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	incoming chan *Response

	// handler is invoked for every written request; returning nil sends
	// nothing (the request is swallowed).
	handler func(*Request) *Response
}

func newFakeConn(handler func(*Request) *Response) *fakeConn {
	return &fakeConn{
		incoming: make(chan *Response, 16),
		handler:  handler,
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("write on closed conn")
	}
	f.mu.Unlock()

	req := v.(*Request)
	if f.handler != nil {
		if resp := f.handler(req); resp != nil {
			f.incoming <- resp
		}
	}
	return nil
}

func (f *fakeConn) ReadJSON(v interface{}) error {
	resp, ok := <-f.incoming
	if !ok {
		return errors.New("conn closed")
	}
	*v.(*Response) = *resp
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.incoming)
	}
	return nil
}

// inject delivers an unsolicited response, as a late or duplicate reply would.
func (f *fakeConn) inject(resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.incoming <- resp
	}
}

// fakeDialer hands out fakeConns, or fails when broken.
type fakeDialer struct {
	mu     sync.Mutex
	conn   *fakeConn
	broken bool
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.broken {
		return nil, errors.New("connection refused")
	}
	return d.conn, nil
}

func echoHandler(status string) func(*Request) *Response {
	return func(req *Request) *Response {
		return &Response{RequestID: req.RequestID, Type: req.Type + "_response", Status: status}
	}
}

func testPool(d Dialer, endpoints map[string][]string) *Pool {
	return NewPool(endpoints, 200*time.Millisecond, WithDialer(d))
}

func TestSend_NoEndpointConfigured(t *testing.T) {
	pool := testPool(&fakeDialer{}, map[string][]string{})

	_, err := pool.Send(context.Background(), "s3", &Request{Type: TypeRunTool})
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
	if Retryable(err) {
		t.Error("ErrNoEndpoint must not be classified retryable")
	}
}

func TestSend_HappyPath(t *testing.T) {
	d := &fakeDialer{conn: newFakeConn(echoHandler(StatusOK))}
	pool := testPool(d, map[string][]string{"s1": {"ws://s1/ws"}})

	resp, err := pool.Send(context.Background(), "s1", &Request{Type: TypeHealthCheck})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != StatusOK {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if resp.RequestID == "" {
		t.Error("expected generated request id to round-trip")
	}
}

func TestSend_ReusesConnection(t *testing.T) {
	d := &fakeDialer{conn: newFakeConn(echoHandler(StatusOK))}
	pool := testPool(d, map[string][]string{"s1": {"ws://s1/ws"}})

	for i := 0; i < 3; i++ {
		if _, err := pool.Send(context.Background(), "s1", &Request{Type: TypeHealthCheck}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if d.dials != 1 {
		t.Errorf("expected 1 dial for 3 sends, got %d", d.dials)
	}
}

func TestSend_InterleavedCorrelation(t *testing.T) {
	// Delay the first request's reply so responses arrive out of order.
	conn := newFakeConn(nil)
	var handlerMu sync.Mutex
	first := true
	conn.handler = func(req *Request) *Response {
		handlerMu.Lock()
		delayed := first
		first = false
		handlerMu.Unlock()

		resp := &Response{RequestID: req.RequestID, Status: StatusOK}
		if delayed {
			go func() {
				time.Sleep(20 * time.Millisecond)
				conn.inject(resp)
			}()
			return nil
		}
		return resp
	}

	pool := testPool(&fakeDialer{conn: conn}, map[string][]string{"s1": {"ws://s1/ws"}})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	ids := []string{"req-a", "req-b"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := pool.Send(context.Background(), "s1", &Request{RequestID: ids[i], Type: TypeRunTool})
			if err == nil && resp.RequestID != ids[i] {
				err = fmt.Errorf("response %q delivered to request %q", resp.RequestID, ids[i])
			}
			errs[i] = err
		}(i)
		time.Sleep(5 * time.Millisecond) // make request order deterministic
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d: %v", i, err)
		}
	}
}

func TestSend_AllEndpointsUnreachable(t *testing.T) {
	d := &fakeDialer{broken: true}
	pool := testPool(d, map[string][]string{"s1": {"ws://a/ws", "ws://b/ws"}})

	_, err := pool.Send(context.Background(), "s1", &Request{Type: TypeRunTool})
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if !Retryable(err) {
		t.Error("connect failures must be retryable")
	}
	if d.dials != 2 {
		t.Errorf("expected both endpoints attempted, got %d dials", d.dials)
	}
}

func TestSend_Timeout(t *testing.T) {
	// Handler swallows the request: no response ever arrives.
	conn := newFakeConn(func(*Request) *Response { return nil })
	pool := NewPool(map[string][]string{"s1": {"ws://s1/ws"}}, 30*time.Millisecond,
		WithDialer(&fakeDialer{conn: conn}))

	_, err := pool.Send(context.Background(), "s1", &Request{RequestID: "slow", Type: TypeRunTool})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !Retryable(err) {
		t.Error("timeouts must be retryable")
	}

	// A late response for the abandoned request must be dropped, not
	// delivered to the next caller.
	conn.inject(&Response{RequestID: "slow", Status: StatusOK})
	time.Sleep(10 * time.Millisecond)

	resp, err := pool.Send(context.Background(), "s1", &Request{RequestID: "next", Type: TypeHealthCheck})
	if err != nil {
		t.Fatalf("Send after late response: %v", err)
	}
	if resp.RequestID != "next" {
		t.Errorf("late response misdelivered: got id %q", resp.RequestID)
	}
}

func TestSetEndpoints_RefreshesService(t *testing.T) {
	d := &fakeDialer{conn: newFakeConn(echoHandler(StatusOK))}
	pool := testPool(d, map[string][]string{})

	if _, err := pool.Send(context.Background(), "s1", &Request{Type: TypeHealthCheck}); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint before refresh, got %v", err)
	}

	pool.SetEndpoints("s1", []string{"ws://s1/ws"})
	if _, err := pool.Send(context.Background(), "s1", &Request{Type: TypeHealthCheck}); err != nil {
		t.Fatalf("Send after refresh: %v", err)
	}
}

func TestServices_Sorted(t *testing.T) {
	pool := testPool(&fakeDialer{}, map[string][]string{
		"zeta": {"ws://z/ws"}, "alpha": {"ws://a/ws"},
	})
	got := pool.Services()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("expected sorted services, got %v", got)
	}
}

// freshDialer hands out a new fakeConn per dial so endpoints do not share a
// read channel.
type freshDialer struct {
	handler func(*Request) *Response
}

func (d *freshDialer) Dial(ctx context.Context, url string) (Conn, error) {
	return newFakeConn(d.handler), nil
}

func TestHealthLoop_SweepsAllServices(t *testing.T) {
	var mu sync.Mutex
	checks := 0
	handler := func(req *Request) *Response {
		if req.Type == TypeHealthCheck {
			mu.Lock()
			checks++
			mu.Unlock()
		}
		return &Response{RequestID: req.RequestID, Status: StatusOK}
	}
	pool := testPool(&freshDialer{handler: handler}, map[string][]string{
		"svc-a": {"ws://a:1"},
		"svc-b": {"ws://b:1"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.HealthLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := checks
		mu.Unlock()
		if n >= 4 { // both services swept at least twice
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health checks = %d, want >= 4", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HealthLoop did not stop on context cancel")
	}
}

func TestHealthLoop_RecoversBrokenService(t *testing.T) {
	dialer := &fakeDialer{conn: newFakeConn(echoHandler(StatusOK)), broken: true}
	pool := testPool(dialer, map[string][]string{"svc": {"ws://svc:1"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.HealthLoop(ctx, 5*time.Millisecond)

	// Sweeps against an unreachable endpoint must not wedge the pool.
	time.Sleep(20 * time.Millisecond)
	dialer.mu.Lock()
	dialer.broken = false
	dialer.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := pool.HealthCheck(context.Background(), "svc")
		if err == nil && resp.Status == StatusOK {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("service never recovered: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
