package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "guard_denied"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(sink.release)
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if uint64(len(sink.got))+d.Dropped() != 10 {
		t.Fatalf("delivered %d + dropped %d != 10", len(sink.got), d.Dropped())
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "sign_in_success"})
	}
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after_close"})

	if n := len(sink.Events()); n != 3 {
		t.Fatalf("expected 3 drained events, got %d", n)
	}
}

type panicSink struct{ next Sink }

func (s panicSink) Emit(ctx context.Context, e Event) {
	if e.EventType == "boom" {
		panic("sink failure")
	}
	s.next.Emit(ctx, e)
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	out := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{next: out})
	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "sign_out"})
	d.Close()

	if d.Dropped() != 1 {
		t.Fatalf("expected the panicking event to count as dropped, got %d", d.Dropped())
	}
	if n := len(out.Events()); n != 1 {
		t.Fatalf("expected the next event to be delivered, got %d", n)
	}
}

func TestDispatcherDetachesCancellation(t *testing.T) {
	out := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, ctxSink{out: out})
	ctx, cancel := context.WithCancel(context.Background())
	d.Emit(ctx, Event{EventType: "forced_sign_out"})
	cancel()
	d.Close()

	select {
	case ev := <-out.Events():
		if ev.Metadata["ctx_err"] != "" {
			t.Fatalf("sink saw a cancelled context: %v", ev.Metadata["ctx_err"])
		}
	default:
		t.Fatal("event not delivered")
	}
}

type ctxSink struct{ out *ChannelSink }

func (s ctxSink) Emit(ctx context.Context, e Event) {
	e.Metadata = map[string]string{"ctx_err": ""}
	if err := ctx.Err(); err != nil {
		e.Metadata["ctx_err"] = err.Error()
	}
	s.out.Emit(ctx, e)
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp:    time.Unix(0, 0).UTC(),
		EventType:    "guard_denied",
		NavigationID: "01H",
		Path:         "/admin",
		Metadata:     map[string]string{"kind": "unauthorized"},
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("invalid json %q: %v", line, err)
	}
	if decoded["navigation_id"] != "01H" || decoded["path"] != "/admin" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
	if _, ok := decoded["user_id"]; ok {
		t.Fatal("empty user_id must be omitted")
	}
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.records = append(p.records, r)
	promise(r, p.err)
}

func TestKafkaSinkProducesJSON(t *testing.T) {
	p := &fakeProducer{}
	sink := NewKafkaSink(p, "gate-audit")
	sink.Emit(context.Background(), Event{EventType: "sign_out", UserID: "u1"})

	if len(p.records) != 1 {
		t.Fatalf("expected one record, got %d", len(p.records))
	}
	rec := p.records[0]
	if rec.Topic != "gate-audit" || string(rec.Key) != "u1" {
		t.Fatalf("unexpected record: topic=%q key=%q", rec.Topic, rec.Key)
	}
	if len(rec.Headers) != 1 || string(rec.Headers[0].Value) != "sign_out" {
		t.Fatalf("unexpected headers: %+v", rec.Headers)
	}
	var ev Event
	if err := json.Unmarshal(rec.Value, &ev); err != nil || ev.EventType != "sign_out" {
		t.Fatalf("bad value: %v %+v", err, ev)
	}
}

func TestKafkaSinkCountsFailures(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker down")}
	sink := NewKafkaSink(p, "")
	var reported error
	sink.OnError = func(err error) { reported = err }

	sink.Emit(context.Background(), Event{EventType: "registration"})
	if sink.Failed() != 1 || reported == nil {
		t.Fatalf("expected one failure, got %d (%v)", sink.Failed(), reported)
	}
}
