package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers []string
	replay  kafka.ReplayConfig
}

// replayDeps хранит открытые подключения к Kafka и функцию их закрытия.
type replayDeps struct {
	client kafka.OffsetClient
	source kafka.PartitionSource
	sender kafka.MessageSender
	close  func()
}

var newReplayDependencies = func(cfg config) (replayDeps, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := replayDeps{
		client: client,
		source: kafka.SaramaPartitionSource(consumer),
		close: func() {
			_ = consumer.Close()
			_ = client.Close()
		},
	}
	if !cfg.replay.Execute {
		return deps, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig())
	if err != nil {
		deps.close()
		return replayDeps{}, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.sender = producer
	closeConsumer := deps.close
	deps.close = func() {
		_ = producer.Close()
		closeConsumer()
	}
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: STOREFRONT_KAFKA_BROKERS)")
	flag.StringVar(&cfg.replay.SourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.replay.TargetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	flag.IntVar(&cfg.replay.Limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.replay.Execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.replay.FromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.replay.IdleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("STOREFRONT_KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or STOREFRONT_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.replay.SourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.replay.TargetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.replay.Limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.replay.IdleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "dlq-replay")
	logger.WithFields(log.Fields{
		"source_topic": cfg.replay.SourceTopic,
		"target_topic": cfg.replay.TargetTopic,
		"limit":        cfg.replay.Limit,
		"execute":      cfg.replay.Execute,
		"from_newest":  cfg.replay.FromNewest,
	}).Info("starting dlq replay")

	deps, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	if deps.close != nil {
		defer deps.close()
	}

	_, err = kafka.NewReplayer(deps.client, deps.source, deps.sender, logger).Run(ctx, cfg.replay)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
