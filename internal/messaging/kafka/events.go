package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers публикуемых сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderReplayedFrom  = "x-replayed-from"
)

// Envelope задаёт JSON-представление outbox-сообщения в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope заворачивает outbox-сообщение. Payload, не являющийся JSON, кладётся строкой.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) (Envelope, error) {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	} else if !json.Valid(payload) {
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return Envelope{}, err
		}
		payload = quoted
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at.UTC(),
	}, nil
}

// DecodeEnvelope разбирает значение сообщения из топика.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.EventType == "" {
		return Envelope{}, errors.New("decode envelope: event_type is empty")
	}
	return envelope, nil
}

// Key возвращает ключ партиционирования, события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// Message возвращает outbox-сообщение, из которого построен конверт.
func (e Envelope) Message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       append([]byte(nil), e.Payload...),
	}
}
