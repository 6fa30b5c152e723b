package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// NewDLQPublisher создаёт паблишер в dead letter topic.
func NewDLQPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return NewOutboxPublisher(producer, topic)
}

// Topic возвращает целевой topic паблишера.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

// Publish отправляет сообщение как Envelope с ключом по идентификатору заказа.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	envelope, err := NewEnvelope(event, p.now())
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return p.producer.Send(ctx, p.topic, envelope.Key(), value, map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
