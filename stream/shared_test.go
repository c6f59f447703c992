package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSharedCoalescesEqualValues(t *testing.T) {
	emitC := make(chan int, 8)
	s := NewShared(func(ctx context.Context, emit func(int)) {
		for {
			select {
			case v := <-emitC:
				emit(v)
			case <-ctx.Done():
				return
			}
		}
	}, func(a, b int) bool { return a == b })

	sub := s.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	emitC <- 1
	if v, err := sub.Next(ctx); err != nil || v != 1 {
		t.Fatalf("expected 1, got %d (%v)", v, err)
	}
	emitC <- 1
	emitC <- 2
	if v, err := sub.Next(ctx); err != nil || v != 2 {
		t.Fatalf("expected duplicate to be dropped and 2 delivered, got %d (%v)", v, err)
	}
}

func TestSharedSlowSubscriberSeesLatest(t *testing.T) {
	done := make(chan struct{})
	s := NewShared(func(ctx context.Context, emit func(int)) {
		for i := 1; i <= 100; i++ {
			emit(i)
		}
		close(done)
		<-ctx.Done()
	}, nil)

	sub := s.Subscribe()
	defer sub.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("upstream blocked on a slow subscriber")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if v != 100 {
		t.Fatalf("expected latest value 100, got %d", v)
	}
}

func TestSharedCloseReleasesSubscribers(t *testing.T) {
	var running atomic.Int32
	s := NewShared(func(ctx context.Context, emit func(int)) {
		running.Add(1)
		defer running.Add(-1)
		emit(7)
		<-ctx.Done()
	}, nil)

	sub := s.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}

	other := s.Subscribe()
	other.Close()
	select {
	case <-other.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	s.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after the stream closed")
	}
	if _, err := sub.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if s.Refs() != 0 {
		t.Fatalf("expected no refs, got %d", s.Refs())
	}

	eventually(t, func() bool { return running.Load() == 0 }, "upstream still running after Close")
	sub.Close()
}

func TestSharedStaleUpstreamIgnored(t *testing.T) {
	release := make(chan struct{})
	firstStarted := make(chan struct{})
	var starts atomic.Int32
	s := NewShared(func(ctx context.Context, emit func(int)) {
		n := starts.Add(1)
		if n == 1 {
			close(firstStarted)
			<-ctx.Done()
			<-release
			emit(-1)
			return
		}
		emit(int(n))
		<-ctx.Done()
	}, nil)

	first := s.Subscribe()
	<-firstStarted
	first.Close()

	second := s.Subscribe()
	defer second.Close()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := second.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected value from the live upstream, got %d", v)
	}
}
