package audit

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client used by [KafkaSink].
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaSink publishes events as JSON records keyed by user id. Produce is
// asynchronous; delivery failures are counted and reported to OnError.
type KafkaSink struct {
	producer Producer
	topic    string
	failed   atomic.Uint64

	// OnError, if set, is called from the producer goroutine.
	OnError func(error)
}

// NewKafkaSink wraps producer. An empty topic relies on the client's
// default produce topic.
func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// NewKafkaClient builds a franz-go client for brokers with topic as the
// default produce topic.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.producer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.fail(err)
		return
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.UserID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	s.producer.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			s.fail(err)
		}
	})
}

// Failed returns the number of records that could not be delivered.
func (s *KafkaSink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

func (s *KafkaSink) fail(err error) {
	s.failed.Add(1)
	if s.OnError != nil {
		s.OnError(err)
	}
}
