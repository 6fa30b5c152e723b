package app

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Хранилища ключей идемпотентности. Пустое значение означает хранилище из StorageDriver.
const (
	IdempotencyBackendStorage = "storage"
	IdempotencyBackendRedis   = "redis"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers: брокеры через запятую. Без брокеров события пишутся в лог.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IdempotencyBackend          string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending: порог backlog, выше которого readiness становится degraded. 0 отключает проверку.
	OutboxMaxPending int

	RequestTimeout  time.Duration
	TracingExporter string
	Environment     string
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		IdempotencyBackend:          IdempotencyBackendStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		RequestTimeout:  15 * time.Second,
		TracingExporter: tracing.ExporterNone,
		Environment:     "local",
	}
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
