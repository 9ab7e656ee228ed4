// README: Completion event publishing to Kafka and fan-out across sinks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"hailing/internal/modules/ride"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes one message per completed ride, keyed by request id
// so events for the same ride land on the same partition.
type KafkaEmitter struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaEmitter(w messageWriter) *KafkaEmitter {
	return &KafkaEmitter{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaEmitter) RideCompleted(ctx context.Context, ev ride.CompletionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RequestID), Value: b, Time: ev.CompletedAt}); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}

func (k *KafkaEmitter) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Fanout delivers each event to every sink in order. Every sink runs even
// when an earlier one fails.
type Fanout []ride.CompletionSink

func (f Fanout) RideCompleted(ctx context.Context, ev ride.CompletionEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.RideCompleted(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
