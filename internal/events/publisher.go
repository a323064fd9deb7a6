// Package events provides best-effort emission of task lifecycle events.
// Publication never blocks and never fails the caller: the buffer drops on
// overflow and sink errors are swallowed. Telemetry must not be able to
// affect orchestration outcome.
package events

import (
	"sync"
	"time"
)

// Event is one lifecycle observation for a task.
type Event struct {
	TaskID    string
	Type      string
	Detail    string
	Timestamp time.Time
}

// Well-known event types.
const (
	TypeStatusChange = "status_change"
	TypeRetry        = "retry"
	TypeDowngrade    = "downgrade"
	TypeHeartbeat    = "heartbeat"
	TypeDispatch     = "dispatch"
	TypeAggregated   = "aggregated"
)

// Sink receives events from the publisher's consumer goroutine.
type Sink interface {
	Record(e Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event) error

// Record implements Sink.
func (f SinkFunc) Record(e Event) error { return f(e) }

// Publisher fans events into a bounded buffer consumed by one goroutine.
type Publisher struct {
	ch      chan Event
	sink    Sink
	metrics *Metrics

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// DefaultBuffer is the event buffer size used when 0 is passed to NewPublisher.
const DefaultBuffer = 256

// NewPublisher starts a publisher draining into sink. metrics may be nil.
func NewPublisher(sink Sink, buffer int, metrics *Metrics) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	p := &Publisher{
		ch:      make(chan Event, buffer),
		sink:    sink,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go p.consume()
	return p
}

// Publish enqueues an event. It never blocks: when the buffer is full the
// event is counted as dropped and discarded.
func (p *Publisher) Publish(taskID, eventType, detail string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	e := Event{TaskID: taskID, Type: eventType, Detail: detail, Timestamp: time.Now().UTC()}
	select {
	case p.ch <- e:
		if p.metrics != nil {
			p.metrics.EventsPublished.Inc()
		}
	default:
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
	}
}

// consume drains the buffer. Sink errors are ignored by design.
func (p *Publisher) consume() {
	defer close(p.done)
	for e := range p.ch {
		if p.sink != nil {
			_ = p.sink.Record(e)
		}
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.ch)
	})
	<-p.done
}
