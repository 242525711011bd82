// Package progress decouples download workers from whatever renders their
// progress. Workers publish into a bounded queue and never block on the
// consumer; a slow or broken UI can cost events, never downloads.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ripstream/ripstream/internal/monitoring"
)

// Sink consumes batched events. Implementations render progress bars, write
// JSON lines, or discard. The bus tolerates panicking sinks.
type Sink interface {
	Consume(events []Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(events []Event)

// Consume implements Sink.
func (f SinkFunc) Consume(events []Event) { f(events) }

const (
	defaultQueueSize  = 1024
	defaultBatchSize  = 64
	defaultFlushEvery = 250 * time.Millisecond
)

// Bus is a bounded, drop-on-full event channel with a single draining
// consumer. Publish is safe from any goroutine.
type Bus struct {
	queue   chan Event
	dropped atomic.Int64
	sink    Sink
	logger  *zap.Logger

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Option configures a Bus.
type Option func(*busOptions)

type busOptions struct {
	queueSize  int
	batchSize  int
	flushEvery time.Duration
}

// WithQueueSize overrides the bounded queue capacity.
func WithQueueSize(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithBatchSize overrides the max events per sink call.
func WithBatchSize(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithFlushInterval overrides the batching window.
func WithFlushInterval(d time.Duration) Option {
	return func(o *busOptions) {
		if d > 0 {
			o.flushEvery = d
		}
	}
}

// NewBus creates a bus and starts its consumer goroutine.
func NewBus(sink Sink, logger *zap.Logger, opts ...Option) *Bus {
	options := busOptions{
		queueSize:  defaultQueueSize,
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		queue:   make(chan Event, options.queueSize),
		sink:    sink,
		logger:  logger,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.consume(options.batchSize, options.flushEvery)
	return b
}

// Publish enqueues an event without blocking. When the queue is full the
// event is dropped and counted; download correctness never depends on
// progress delivery.
func (b *Bus) Publish(event Event) {
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
		monitoring.ProgressEventsDropped.Inc()
	}
}

// Dropped returns how many events were discarded on a full queue.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting the consumer loop, drains remaining events to the
// sink, and returns once the consumer has exited. Safe to call more than
// once. Publishes racing with Close may be dropped.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closing)
		<-b.done
	})
}

// consume drains the queue, forwarding batches to the sink every flush
// interval or when a batch fills, whichever comes first.
func (b *Bus) consume(batchSize int, flushEvery time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.forward(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-b.queue:
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.closing:
			// Drain whatever is still queued, then flush and exit.
			for {
				select {
				case event := <-b.queue:
					batch = append(batch, event)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// forward hands a batch to the sink, isolating sink panics from the
// download path.
func (b *Bus) forward(batch []Event) {
	if b.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("progress sink panicked", zap.Any("panic", r))
		}
	}()

	events := make([]Event, len(batch))
	copy(events, batch)
	b.sink.Consume(events)
}
