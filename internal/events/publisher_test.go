package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// collectSink records every event it receives.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{} // when set, Record waits until it is closed
}

func (s *collectSink) Record(e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return s.err
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPublish_DeliversToSink(t *testing.T) {
	sink := &collectSink{}
	p := NewPublisher(sink, 8, nil)

	p.Publish("t1", TypeStatusChange, "pending→running")
	p.Publish("t1", TypeRetry, "attempt 2")
	p.Close()

	if sink.count() != 2 {
		t.Fatalf("expected 2 events, got %d", sink.count())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0].Type != TypeStatusChange || sink.events[1].Type != TypeRetry {
		t.Errorf("unexpected event order: %v", sink.events)
	}
	if sink.events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &collectSink{block: block}
	m := NewMetrics()
	p := NewPublisher(sink, 2, m)

	// Consumer is blocked on the first event; buffer holds two more; the
	// rest must be dropped without blocking this goroutine.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish("t1", TypeHeartbeat, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}

	close(block)
	p.Close()

	if got := sink.count(); got > 3 {
		t.Errorf("expected at most 3 delivered events, got %d", got)
	}
}

func TestPublish_SinkErrorsSwallowed(t *testing.T) {
	sink := &collectSink{err: errors.New("sink down")}
	p := NewPublisher(sink, 8, nil)

	// Must not panic or propagate anywhere.
	p.Publish("t1", TypeStatusChange, "x")
	p.Close()

	if sink.count() != 1 {
		t.Fatalf("expected event to reach sink despite its error, got %d", sink.count())
	}
}

func TestPublish_AfterCloseIsNoop(t *testing.T) {
	sink := &collectSink{}
	p := NewPublisher(sink, 8, nil)
	p.Close()

	p.Publish("t1", TypeStatusChange, "ignored")

	if sink.count() != 0 {
		t.Errorf("expected no events after close, got %d", sink.count())
	}
}
