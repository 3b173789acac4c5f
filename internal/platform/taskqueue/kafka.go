package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w   kafkaWriter
	now func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		now: time.Now,
	}
}

// Enqueue keys messages by task name so each task type keeps its order.
func (p *KafkaPublisher) Enqueue(ctx context.Context, task string, payload interface{}) error {
	body, err := NewEnvelope(task, payload, p.now())
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(task), Value: body}); err != nil {
		return fmt.Errorf("write %s: %w", task, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
