package progress

import (
	"sync"
	"testing"
	"time"
)

// collectingSink gathers every event it is handed.
type collectingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectingSink) Consume(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *collectingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestPublishReachesSink(t *testing.T) {
	sink := &collectingSink{}
	bus := NewBus(sink, nil, WithFlushInterval(10*time.Millisecond))

	bus.Publish(Started("task-1", "Artist - Title"))
	bus.Publish(Progressed("task-1", 512, 1024, 256.0))
	bus.Publish(Finished("task-1", "completed"))
	bus.Close()

	events := sink.snapshot()
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Type != EventStarted || events[2].Type != EventFinished {
		t.Error("Per-task event order not preserved")
	}
}

func TestCloseDrainsPendingEvents(t *testing.T) {
	sink := &collectingSink{}
	// A long flush interval so draining happens via Close, not the ticker.
	bus := NewBus(sink, nil, WithFlushInterval(time.Hour), WithQueueSize(100))

	for i := 0; i < 50; i++ {
		bus.Publish(Progressed("task", int64(i), 50, 0))
	}
	bus.Close()

	if got := len(sink.snapshot()); got != 50 {
		t.Errorf("Expected all 50 events after Close, got %d", got)
	}
}

func TestPublishNeverBlocksOnSaturatedConsumer(t *testing.T) {
	blocked := make(chan struct{})
	sink := SinkFunc(func(events []Event) {
		<-blocked // consumer wedged until the test finishes
	})
	bus := NewBus(sink, nil, WithQueueSize(8), WithFlushInterval(time.Millisecond))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(Progressed("task", int64(i), 10000, 0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a saturated consumer")
	}

	if bus.Dropped() == 0 {
		t.Error("Expected drops on a full queue")
	}
	close(blocked)
}

func TestSinkPanicDoesNotKillConsumer(t *testing.T) {
	var mu sync.Mutex
	var calls int

	sink := SinkFunc(func(events []Event) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("renderer exploded")
		}
	})
	bus := NewBus(sink, nil, WithFlushInterval(5*time.Millisecond), WithBatchSize(1))

	bus.Publish(Started("a", "first"))
	time.Sleep(30 * time.Millisecond)
	bus.Publish(Started("b", "second"))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("Expected consumer to survive sink panic, got %d sink calls", calls)
	}
}

func TestBatchSizeTriggersEarlyFlush(t *testing.T) {
	batches := make(chan int, 16)
	sink := SinkFunc(func(events []Event) {
		batches <- len(events)
	})
	bus := NewBus(sink, nil, WithFlushInterval(time.Hour), WithBatchSize(4))

	for i := 0; i < 4; i++ {
		bus.Publish(Progressed("t", int64(i), 4, 0))
	}

	select {
	case n := <-batches:
		if n != 4 {
			t.Errorf("Expected a batch of 4, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Batch never flushed despite reaching batch size")
	}
	bus.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus(&collectingSink{}, nil)
	bus.Close()
	bus.Close() // must not panic or deadlock
}
