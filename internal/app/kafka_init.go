package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// eventPublishers получают события и dead letters от outbox worker.
type eventPublishers struct {
	producer *kafka.Producer
	events   domain.OutboxPublisher
	dlq      domain.OutboxPublisher
}

// initKafkaPublishers создаёт Kafka producer, если заданы брокеры.
// Без брокеров события пишутся в лог, DLQ отключена.
func initKafkaPublishers(cfg Config, logger *log.Entry) (eventPublishers, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, order events go to the log")
		return eventPublishers{events: logPublisher{logger: logger.WithField("publisher", "log")}}, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return eventPublishers{}, err
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")

	publishers := eventPublishers{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
	}
	if cfg.KafkaDLQTopic != "" {
		publishers.dlq = kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic)
	}
	return publishers, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// logPublisher «публикует» событие записью в лог.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":       event.ID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
	}).Info("order event")
	return nil
}
