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
	// DropIfFull drops events while the buffer is full instead of
	// blocking the navigation that produced them.
	DropIfFull bool
}

type queued struct {
	ctx   context.Context
	event Event
}

// Dispatcher relays audit events to a sink on one goroutine, so a slow
// sink never sits on the evaluation path. Events keep the values of the
// context they were emitted with but not its cancellation.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	mu      sync.RWMutex
	closed  bool
	queue   chan queued
	stopped chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher starts the relay. It returns nil when cfg is disabled; a
// nil *Dispatcher ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan queued, max(cfg.BufferSize, 1)),
		stopped:    make(chan struct{}),
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.stopped)
	for q := range d.queue {
		d.deliver(q)
	}
}

// deliver hands one event to the sink. A panicking sink costs that event,
// not the relay.
func (d *Dispatcher) deliver(q queued) {
	defer func() {
		if recover() != nil {
			d.dropped.Add(1)
		}
	}()
	d.sink.Emit(q.ctx, q.event)
}

// Emit queues event. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q := queued{ctx: context.WithoutCancel(ctx), event: event}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	if d.dropIfFull {
		select {
		case d.queue <- q:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- q:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close delivers every queued event and stops the relay.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped counts events lost to a full buffer, a cancelled emitter or a
// panicking sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
