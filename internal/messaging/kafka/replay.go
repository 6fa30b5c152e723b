package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultReplayIdleTimeout = 2 * time.Second

// OffsetClient покрывает часть sarama.Client, нужную для обхода партиций.
type OffsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

// PartitionConsumer повторяет нужную часть sarama.PartitionConsumer.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает чтение партиции с заданного offset.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
}

// MessageSender отправляет сообщения; его реализует sarama.SyncProducer.
type MessageSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// SaramaPartitionSource адаптирует sarama.Consumer к PartitionSource.
func SaramaPartitionSource(consumer sarama.Consumer) PartitionSource {
	return saramaPartitionSource{consumer: consumer}
}

type saramaPartitionSource struct {
	consumer sarama.Consumer
}

func (s saramaPartitionSource) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// ReplayConfig задаёт параметры повторной публикации из DLQ.
type ReplayConfig struct {
	SourceTopic string
	TargetTopic string
	Limit       int
	// При Execute=false кандидаты только логируются (dry-run).
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// ReplayStats подводит итог прохода по DLQ.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

func (s *ReplayStats) add(other ReplayStats) {
	s.Processed += other.Processed
	s.Replayed += other.Replayed
	s.Skipped += other.Skipped
}

// Replayer перечитывает DLQ и возвращает исходные события в рабочий topic.
type Replayer struct {
	client OffsetClient
	source PartitionSource
	sender MessageSender
	logger *log.Entry
	now    func() time.Time
}

// NewReplayer создаёт Replayer. sender может быть nil для dry-run.
func NewReplayer(client OffsetClient, source PartitionSource, sender MessageSender, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.WithField("component", "dlq-replay")
	}
	return &Replayer{
		client: client,
		source: source,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// Run обходит партиции по возрастанию номера, пока не наберётся cfg.Limit сообщений.
func (r *Replayer) Run(ctx context.Context, cfg ReplayConfig) (ReplayStats, error) {
	var total ReplayStats
	if r.client == nil || r.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.Execute && r.sender == nil {
		return total, errors.New("producer is required in execute mode")
	}
	if cfg.TargetTopic == "" {
		cfg.TargetTopic = TopicOrderEvents
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultReplayIdleTimeout
	}

	partitions, err := r.client.Partitions(cfg.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.SourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", cfg.SourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := cfg.Limit - total.Processed
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, cfg, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.Execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *Replayer) replayPartition(ctx context.Context, cfg ReplayConfig, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.client.GetOffset(cfg.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(cfg.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.FromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}

	pc, err := r.source.ConsumePartition(cfg.SourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.IdleTimeout)

			stats.Processed++
			replayed, err := r.replayMessage(cfg, msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.Replayed++
			} else {
				stats.Skipped++
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idle.C:
			return stats, nil
		}
	}
	return stats, nil
}

// replayMessage возвращает false, если сообщение не похоже на DeadLetter и пропущено.
func (r *Replayer) replayMessage(cfg ReplayConfig, msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	letter, err := DecodeDeadLetter(msg.Value)
	if err != nil {
		logger.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}

	envelope, err := NewEnvelope(letter.Original(), r.now())
	if err != nil {
		logger.WithError(err).Warn("skip dlq message with broken payload")
		return false, nil
	}

	if !cfg.Execute {
		logger.WithFields(log.Fields{
			"target_topic": cfg.TargetTopic,
			"key":          envelope.Key(),
			"event_type":   envelope.EventType,
		}).Info("dlq replay candidate")
		return true, nil
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return false, fmt.Errorf("encode replay envelope: %w", err)
	}
	_, _, err = r.sender.SendMessage(&sarama.ProducerMessage{
		Topic:     cfg.TargetTopic,
		Key:       sarama.StringEncoder(envelope.Key()),
		Value:     sarama.ByteEncoder(value),
		Timestamp: r.now().UTC(),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(envelope.EventType)},
			{Key: []byte(HeaderReplayedFrom), Value: []byte(cfg.SourceTopic)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("publish replay message: %w", err)
	}
	return true, nil
}

// DecodeDeadLetter разбирает сообщение DLQ: Envelope, в payload которого лежит domain.DeadLetter.
func DecodeDeadLetter(value []byte) (domain.DeadLetter, error) {
	envelope, err := DecodeEnvelope(value)
	if err != nil {
		return domain.DeadLetter{}, err
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if letter.EventType == "" || len(letter.Payload) == 0 {
		return domain.DeadLetter{}, errors.New("dead letter does not contain original event")
	}
	if letter.OutboxID == "" {
		letter.OutboxID = envelope.ID
	}
	return letter, nil
}
