package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestInitKafkaPublishers_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	publishers, err := initKafkaPublishers(Config{}, logger)
	if err != nil {
		t.Fatalf("expected no error for empty brokers, got %v", err)
	}
	if publishers.producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
	if publishers.events == nil {
		t.Fatal("expected log publisher for empty brokers")
	}
	if publishers.dlq != nil {
		t.Error("expected dlq to be disabled without kafka")
	}
}

func TestInitKafkaPublishers_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	publishers, err := initKafkaPublishers(Config{KafkaBrokers: "invalid-broker:9999, other:9999"}, logger)
	if err == nil {
		closeKafka(publishers.producer, logger)
		t.Fatal("expected error for unreachable brokers")
	}
	if publishers.producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	// Не должно паниковать
	closeKafka(nil, log.WithField("test", "kafka"))
}

func TestLogPublisher_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.JSONFormatter{})

	publisher := logPublisher{logger: log.NewEntry(logger)}
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "evt-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderPlaced,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"event_id":"evt-1"`, `"aggregate_id":"order-1"`, `"event_type":"order.placed"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output %s", want, out)
		}
	}
}
