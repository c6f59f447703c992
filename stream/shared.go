package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by [Subscription.Next] once the subscription closed.
var ErrClosed = errors.New("subscription closed")

// Shared multicasts one upstream to many subscribers.
//
// The upstream function runs from the first Subscribe until the last
// subscription closes. The most recent value is replayed to new subscribers
// and values equal to the previous emission are dropped.
type Shared[T any] struct {
	run    func(ctx context.Context, emit func(T))
	equal  func(a, b T) bool
	onIdle func()

	mu      sync.Mutex
	subs    map[uint64]member[T]
	nextID  uint64
	gen     uint64
	cancel  context.CancelFunc
	last    T
	hasLast bool
}

// NewShared builds a shared subscription around run. equal may be nil, in
// which case every emission is forwarded.
func NewShared[T any](run func(ctx context.Context, emit func(T)), equal func(a, b T) bool) *Shared[T] {
	return &Shared[T]{
		run:   run,
		equal: equal,
		subs:  make(map[uint64]member[T]),
	}
}

// Subscription is one consumer of a [Shared] stream. C receives the latest
// value; it is closed by Close.
type Subscription[T any] struct {
	C <-chan T

	done  <-chan struct{}
	once  sync.Once
	close func()
}

type member[T any] struct {
	ch   chan T
	done chan struct{}
}

func (m member[T]) end() {
	close(m.ch)
	close(m.done)
}

// Done is closed once the subscription ended, either through Close or
// because the stream itself was closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Next blocks for the next value, ctx cancellation or close.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.C:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.close)
}

// Subscribe registers a consumer and starts the upstream if it is idle.
func (s *Shared[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	m := member[T]{ch: make(chan T, 1), done: make(chan struct{})}
	s.subs[id] = m
	if s.hasLast {
		m.ch <- s.last
	}

	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.gen++
		gen := s.gen
		go s.run(ctx, func(v T) { s.publish(gen, v) })
	}

	return &Subscription[T]{
		C:     m.ch,
		done:  m.done,
		close: func() { s.unsubscribe(id) },
	}
}

// Refs returns the number of live subscriptions.
func (s *Shared[T]) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close drops every subscriber and stops the upstream.
func (s *Shared[T]) Close() {
	s.mu.Lock()
	for id, m := range s.subs {
		delete(s.subs, id)
		m.end()
	}
	idle := s.stopLocked()
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

func (s *Shared[T]) publish(gen uint64, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A cancelled upstream may still be unwinding.
	if gen != s.gen || s.cancel == nil {
		return
	}
	if s.hasLast && s.equal != nil && s.equal(s.last, v) {
		return
	}
	s.last = v
	s.hasLast = true

	for _, m := range s.subs {
		ch := m.ch
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (s *Shared[T]) unsubscribe(id uint64) {
	s.mu.Lock()
	m, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, id)
	m.end()
	idle := false
	if len(s.subs) == 0 {
		idle = s.stopLocked()
	}
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

func (s *Shared[T]) stopLocked() bool {
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	var zero T
	s.last = zero
	s.hasLast = false
	return true
}
