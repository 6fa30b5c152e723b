package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AggregateOrder — тип агрегата для событий заказа в outbox.
	AggregateOrder = "order"

	// EventOrderPlaced — заказ оформлен и остатки списаны.
	EventOrderPlaced = "order.placed"
	// EventOrderReconciliationRequired — заказ сохранён без списания остатков.
	EventOrderReconciliationRequired = "order.reconciliation_required"
)

// OrderPlacedLine: позиция в событии order.placed.
type OrderPlacedLine struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// OrderPlacedPayload: тело события order.placed.
type OrderPlacedPayload struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id"`
	Lines      []OrderPlacedLine `json:"lines"`
	Total      decimal.Decimal   `json:"total"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// ReconciliationPayload: тело события order.reconciliation_required.
type ReconciliationPayload struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewOrderPlacedMessage формирует outbox-сообщение о созданном заказе.
func NewOrderPlacedMessage(order Order) (OutboxMessage, error) {
	lines := make([]OrderPlacedLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderPlacedLine{
			ProductID: line.ProductID,
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}
	payload, err := json.Marshal(OrderPlacedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Lines:      lines,
		Total:      order.Total(),
		PlacedAt:   order.CreatedAt,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     EventOrderPlaced,
		Payload:       payload,
	}, nil
}

// NewReconciliationMessage формирует outbox-сообщение о заказе, требующем ручной сверки остатков.
func NewReconciliationMessage(order Order, reason error, at time.Time) (OutboxMessage, error) {
	text := ""
	if reason != nil {
		text = reason.Error()
	}
	payload, err := json.Marshal(ReconciliationPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Reason:     text,
		DetectedAt: at,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     EventOrderReconciliationRequired,
		Payload:       payload,
	}, nil
}

// DeadLetter — конверт события, которое не удалось опубликовать после всех попыток.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetterMessage заворачивает сообщение outbox в DeadLetter для отправки в DLQ.
func NewDeadLetterMessage(msg OutboxMessage, publishErr error, at time.Time) (OutboxMessage, error) {
	text := ""
	if publishErr != nil {
		text = publishErr.Error()
	}
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return OutboxMessage{}, err
		}
		payload = quoted
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   text,
		DLQPublishedAt: at,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       body,
	}, nil
}

// Original восстанавливает исходное сообщение outbox из конверта.
func (d DeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       append([]byte(nil), d.Payload...),
	}
}
