// Package analyzer maintains persistent WebSocket connections to backend
// analyzer services and correlates concurrent requests with their responses.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNoEndpoint indicates a service has no configured endpoint. It is an
// infrastructure condition, never a tool failure, and is not retryable: no
// amount of retrying conjures an endpoint into the config.
var ErrNoEndpoint = errors.New("no reachable endpoint")

// ErrConnect indicates every configured endpoint refused the connection.
// Transient connectivity flaps look like this, so it is retryable.
var ErrConnect = errors.New("connect failed")

// ErrTimeout indicates no correlated response arrived within the caller's
// timeout. Retryable.
var ErrTimeout = errors.New("request timed out")

// Retryable classifies pool errors for the retry policy: connection failures
// and timeouts are transient, a missing endpoint is not.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnect) || errors.Is(err, ErrTimeout)
}

// Conn is the subset of *websocket.Conn the pool uses, extracted so tests can
// substitute fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens a connection to an analyzer endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// wsDialer is the production Dialer backed by gorilla/websocket.
type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serviceConn owns one persistent connection: a single reader goroutine
// dispatches incoming responses to whichever pending request they correlate
// with; unmatched or late responses are dropped.
type serviceConn struct {
	conn Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Response
	closed  bool
}

func newServiceConn(conn Conn) *serviceConn {
	sc := &serviceConn{
		conn:    conn,
		pending: make(map[string]chan *Response),
	}
	go sc.readLoop()
	return sc
}

func (sc *serviceConn) readLoop() {
	for {
		var resp Response
		if err := sc.conn.ReadJSON(&resp); err != nil {
			sc.fail()
			return
		}
		sc.mu.Lock()
		ch, ok := sc.pending[resp.RequestID]
		if ok {
			delete(sc.pending, resp.RequestID)
		}
		sc.mu.Unlock()
		if ok {
			// Buffered channel; never blocks the reader.
			ch <- &resp
		}
	}
}

// fail closes every pending waiter so callers see a connection error rather
// than hanging until their timeout.
func (sc *serviceConn) fail() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.closed = true
	for id, ch := range sc.pending {
		close(ch)
		delete(sc.pending, id)
	}
	_ = sc.conn.Close()
}

func (sc *serviceConn) register(id string) (chan *Response, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil, false
	}
	ch := make(chan *Response, 1)
	sc.pending[id] = ch
	return ch, true
}

func (sc *serviceConn) unregister(id string) {
	sc.mu.Lock()
	delete(sc.pending, id)
	sc.mu.Unlock()
}

func (sc *serviceConn) send(req *Request) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteJSON(req)
}

// Pool manages reachable endpoints per backend service and performs
// request/response correlation over shared persistent connections.
type Pool struct {
	dialer  Dialer
	timeout time.Duration

	// endpointMu guards only the mutation path: reads snapshot under RLock
	// so concurrent dispatch never serializes on endpoint refreshes.
	endpointMu sync.RWMutex
	endpoints  map[string][]string

	connMu sync.Mutex
	conns  map[string]*serviceConn // keyed by endpoint URL
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialer substitutes the connection dialer (used by tests).
func WithDialer(d Dialer) Option {
	return func(p *Pool) { p.dialer = d }
}

// NewPool creates a Pool for the given service→endpoints table. timeout
// bounds each Send when the caller's context carries no earlier deadline.
func NewPool(endpoints map[string][]string, timeout time.Duration, opts ...Option) *Pool {
	eps := make(map[string][]string, len(endpoints))
	for svc, list := range endpoints {
		eps[svc] = append([]string(nil), list...)
	}
	p := &Pool{
		dialer:    wsDialer{},
		timeout:   timeout,
		endpoints: eps,
		conns:     make(map[string]*serviceConn),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Endpoints returns a snapshot of the configured endpoints for a service.
func (p *Pool) Endpoints(service string) []string {
	p.endpointMu.RLock()
	defer p.endpointMu.RUnlock()
	return append([]string(nil), p.endpoints[service]...)
}

// Services returns the configured service names, sorted.
func (p *Pool) Services() []string {
	p.endpointMu.RLock()
	defer p.endpointMu.RUnlock()
	names := make([]string, 0, len(p.endpoints))
	for svc := range p.endpoints {
		names = append(names, svc)
	}
	sort.Strings(names)
	return names
}

// SetEndpoints replaces the endpoint list for a service.
func (p *Pool) SetEndpoints(service string, endpoints []string) {
	p.endpointMu.Lock()
	defer p.endpointMu.Unlock()
	p.endpoints[service] = append([]string(nil), endpoints...)
}

// Send delivers a correlated request to one of the service's endpoints and
// waits for the matching response. A missing endpoint list fails fast with
// ErrNoEndpoint; connection failures across all endpoints surface ErrConnect;
// an expired wait surfaces ErrTimeout. If req.RequestID is empty a new
// correlation id is generated.
func (p *Pool) Send(ctx context.Context, service string, req *Request) (*Response, error) {
	endpoints := p.Endpoints(service)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("service %q: %w", service, ErrNoEndpoint)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var lastErr error
	for _, ep := range endpoints {
		sc, err := p.connFor(ctx, ep)
		if err != nil {
			lastErr = err
			continue
		}

		ch, ok := sc.register(req.RequestID)
		if !ok {
			// Connection died between lookup and registration.
			p.dropConn(ep, sc)
			lastErr = fmt.Errorf("endpoint %s closed", ep)
			continue
		}

		if err := sc.send(req); err != nil {
			sc.unregister(req.RequestID)
			p.dropConn(ep, sc)
			lastErr = err
			continue
		}

		select {
		case resp, open := <-ch:
			if !open {
				p.dropConn(ep, sc)
				lastErr = fmt.Errorf("endpoint %s closed mid-request", ep)
				continue
			}
			return resp, nil
		case <-ctx.Done():
			// Remove the correlation entry so a late response is dropped
			// by the read loop instead of being misdelivered.
			sc.unregister(req.RequestID)
			return nil, fmt.Errorf("service %q request %s: %w", service, req.RequestID, ErrTimeout)
		}
	}

	return nil, fmt.Errorf("service %q: %v: %w", service, lastErr, ErrConnect)
}

// HealthCheck sends a health_check to the service and returns its response.
func (p *Pool) HealthCheck(ctx context.Context, service string) (*Response, error) {
	return p.Send(ctx, service, &Request{Type: TypeHealthCheck})
}

// HealthLoop health-checks every configured service at the given interval
// until ctx is cancelled. A failed check runs through Send's error handling,
// which drops the broken connection so the next dispatch redials instead of
// inheriting a dead socket.
func (p *Pool) HealthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, service := range p.Services() {
				_, _ = p.HealthCheck(ctx, service)
			}
		}
	}
}

// connFor returns the live connection for an endpoint, dialing if needed.
func (p *Pool) connFor(ctx context.Context, endpoint string) (*serviceConn, error) {
	p.connMu.Lock()
	if sc, ok := p.conns[endpoint]; ok && !sc.isClosed() {
		p.connMu.Unlock()
		return sc, nil
	}
	p.connMu.Unlock()

	conn, err := p.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	sc := newServiceConn(conn)
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if existing, ok := p.conns[endpoint]; ok && !existing.isClosed() {
		// Another caller dialed concurrently; keep theirs.
		sc.fail()
		return existing, nil
	}
	p.conns[endpoint] = sc
	return sc, nil
}

func (sc *serviceConn) isClosed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.closed
}

// dropConn discards a broken connection so the next Send redials.
func (p *Pool) dropConn(endpoint string, sc *serviceConn) {
	sc.fail()
	p.connMu.Lock()
	if p.conns[endpoint] == sc {
		delete(p.conns, endpoint)
	}
	p.connMu.Unlock()
}

// Close tears down every open connection.
func (p *Pool) Close() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	for ep, sc := range p.conns {
		sc.fail()
		delete(p.conns, ep)
	}
}
