package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each payload as one message keyed by
// market:ymd:slot, so a topic partition holds one market's history in
// order.
type KafkaSink struct {
	w     MessageWriter
	topic string
}

// NewKafkaSink builds a hash-balanced writer for brokers.
func NewKafkaSink(brokers []string, topic string, writeTimeout time.Duration) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: writeTimeout,
	}
	return &KafkaSink{w: w, topic: topic}, nil
}

// newKafkaSinkWithWriter is used by tests.
func newKafkaSinkWithWriter(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{w: w, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

// Publish writes p to the topic.
func (k *KafkaSink) Publish(ctx context.Context, p *Payload) error {
	v, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(p.Market + ":" + p.YmdEffective + ":" + p.Slot),
		Value: v,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "market", Value: []byte(p.Market)},
			{Key: "slot", Value: []byte(p.Slot)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error { return k.w.Close() }
