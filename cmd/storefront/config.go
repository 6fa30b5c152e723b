package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "STOREFRONT_KAFKA_BROKERS"
	envKafkaTopic                  = "STOREFRONT_KAFKA_TOPIC"
	envKafkaDLQTopic               = "STOREFRONT_KAFKA_DLQ_TOPIC"
	envRedisAddr                   = "STOREFRONT_REDIS_ADDR"
	envRedisPassword               = "STOREFRONT_REDIS_PASSWORD"
	envRedisDB                     = "STOREFRONT_REDIS_DB"
	envIdempotencyBackend          = "STOREFRONT_IDEMPOTENCY_BACKEND"
	envIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "STOREFRONT_OUTBOX_MAX_PENDING"
	envRequestTimeout              = "STOREFRONT_REQUEST_TIMEOUT"
	envTracingExporter             = "STOREFRONT_TRACING"
	envEnvironment                 = "STOREFRONT_ENV"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string, normalize func(string) string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			v = strings.TrimSpace(v)
			if normalize != nil {
				v = normalize(v)
			}
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr, nil)
	str(envGRPCAddr, &cfg.GRPCAddr, nil)
	str(envMetricsAddr, &cfg.MetricsAddr, nil)
	str(envStorageDriver, &cfg.StorageDriver, strings.ToLower)
	str(envPostgresDSN, &cfg.PostgresDSN, nil)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envKafkaBrokers, &cfg.KafkaBrokers, nil)
	str(envKafkaTopic, &cfg.KafkaTopic, nil)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic, nil)
	str(envRedisAddr, &cfg.RedisAddr, nil)
	str(envRedisPassword, &cfg.RedisPassword, nil)
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	str(envIdempotencyBackend, &cfg.IdempotencyBackend, strings.ToLower)
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	str(envTracingExporter, &cfg.TracingExporter, strings.ToLower)
	str(envEnvironment, &cfg.Environment, nil)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
