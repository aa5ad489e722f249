package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"sessionkit/internal/platform/kafka/producer"
)

// RecordProducer is the subset of producer.Producer the Kafka store needs.
type RecordProducer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaStore publishes events as JSON records keyed by user ID, so one user's
// events land on one partition in order.
type KafkaStore struct {
	producer RecordProducer
	topic    string
}

func NewKafkaStore(p RecordProducer, topic string) *KafkaStore {
	return &KafkaStore{producer: p, topic: topic}
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	key := event.UserID
	if key == "" {
		key = event.TabID
	}
	return s.producer.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			"action": string(event.Action),
			"tab_id": event.TabID,
		},
	})
}

// MultiStore appends to every store and returns the first error.
type MultiStore []Store

func (m MultiStore) Append(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
