package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink exports domain events to a topic, best effort. Publishing never
// fails the operation that raised the event.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaSink builds a sink. With no brokers or topic it returns nil and
// the caller skips subscription.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	sink := &KafkaSink{logger: logger.Named("kafka")}
	sink.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				sink.logger.Warn("event export failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return sink
}

// Attach subscribes the sink to every published event type.
func (s *KafkaSink) Attach(d Dispatcher) {
	for _, eventType := range AllEventTypes {
		d.Subscribe(eventType, s.Handle)
	}
}

// Handle writes one event keyed by ticket id so a ticket's events stay ordered
// within a partition.
func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := event.TicketID
	if key == "" {
		key = event.ID
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

// Close flushes pending writes.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// ParseBrokers splits "host1:9092,host2:9092" into a slice.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
