package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull trades completeness for latency: a full queue drops the
	// event instead of blocking the request.
	DropIfFull bool
	// OnDrop, when set, is called synchronously with every dropped event.
	OnDrop func(Event)
}

// Dispatcher relays gate events to a Sink from a single goroutine, so sinks
// never run on the request path.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	queue   chan Event
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
	closing atomic.Bool
	dropped atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	d.stopped.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.stopped.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	// Request contexts are gone by now; sinks get a fresh one.
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. With DropIfFull a full queue drops and counts the event;
// otherwise Emit blocks until there is room, ctx is done or the dispatcher
// closes.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if !d.cfg.DropIfFull {
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case d.queue <- ev:
		case <-ctx.Done():
		case <-d.stop:
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-d.stop:
	default:
		d.dropped.Add(1)
		if d.cfg.OnDrop != nil {
			d.cfg.OnDrop(ev)
		}
	}
}

// Close stops accepting events, flushes the queue into the sink and waits for
// the delivery goroutine. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.stopped.Wait()
	})
}

// Dropped reports how many events a full queue has discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
