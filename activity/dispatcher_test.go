package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard-api/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, ev domain.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	d := NewDispatcher(sink, Options{Workers: 2, Buffer: 16}, logger)
	for i := 0; i < 10; i++ {
		d.Publish(context.Background(), domain.Event{ID: "e", Type: domain.TaskCreated})
	}
	d.Close()
	if got := sink.count(); got != 10 {
		t.Fatalf("delivered %d events, want 10", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, Options{Workers: 1, Buffer: 1}, logger)

	// one event held by the worker, one in the buffer, the rest dropped
	d.Publish(context.Background(), domain.Event{ID: "1"})
	deadline := time.Now().Add(time.Second)
	for len(d.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Publish(context.Background(), domain.Event{ID: "2"})
	d.Publish(context.Background(), domain.Event{ID: "3"})

	close(sink.block)
	d.Close()

	if got := sink.count(); got != 2 {
		t.Fatalf("delivered %d events, want 2", got)
	}
	dropped := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			dropped++
		}
	}
	if dropped != 1 {
		t.Fatalf("logged %d drops, want 1", dropped)
	}
}

func TestDispatcherLogsSendFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &recordingSink{err: errors.New("queue unavailable")}
	d := NewDispatcher(sink, Options{Workers: 1}, logger)
	d.Publish(context.Background(), domain.Event{ID: "e1", Type: domain.TaskDeleted})
	d.Close()
	if hook.LastEntry() == nil || hook.LastEntry().Level != log.ErrorLevel {
		t.Fatalf("expected an error entry, got %+v", hook.LastEntry())
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &recordingSink{}
	d := NewDispatcher(sink, Options{Workers: 1}, logger)
	d.Close()
	d.Close()
	d.Publish(context.Background(), domain.Event{ID: "late"})
	if sink.count() != 0 {
		t.Fatalf("expected no delivery after close")
	}
	if hook.LastEntry().Level != log.WarnLevel {
		t.Fatalf("expected drop warning, got %v", hook.LastEntry().Level)
	}
}

func TestTryEnqueueWaitsForCapacity(t *testing.T) {
	d := &Dispatcher{jobs: make(chan domain.Event, 1), opts: Options{HandoffTimeout: 50 * time.Millisecond}}
	d.jobs <- domain.Event{}

	done := make(chan bool, 1)
	go func() {
		done <- d.tryEnqueue(domain.Event{})
	}()

	select {
	case <-done:
		t.Fatal("tryEnqueue returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	<-d.jobs

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful enqueue after capacity freed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for enqueue completion")
	}
}

func TestTryEnqueueNoWaitWhenZeroTimeout(t *testing.T) {
	d := &Dispatcher{jobs: make(chan domain.Event, 1)}
	d.jobs <- domain.Event{}

	start := time.Now()
	if d.tryEnqueue(domain.Event{}) {
		t.Fatal("expected enqueue to fail on a full channel")
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("tryEnqueue waited with a zero handoff timeout")
	}
}

func TestEncodeEvent(t *testing.T) {
	msg, err := encodeEvent(domain.Event{ID: "e1", Type: domain.TaskMoved, Data: []byte(`{"from":"p1"}`)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"id":"e1","entityId":"","entityType":"","type":"task-moved","userId":"","data":{"from":"p1"},"timestamp":0}`
	if msg != want {
		t.Fatalf("encodeEvent = %s, want %s", msg, want)
	}
}
