package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

// runtimeDependencies содержит репозитории и проверки, созданные по Config.
type runtimeDependencies struct {
	uow             domain.UnitOfWork
	customers       domain.CustomerRepository
	products        domain.ProductRepository
	orders          domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// initRuntimeDependencies открывает хранилище и backend идемпотентности.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps.uow = store
		deps.customers = memory.NewCustomerRepository(store)
		deps.products = memory.NewProductRepository(store)
		deps.orders = memory.NewOrderRepository(store)
		deps.outboxRepo = memory.NewOutboxRepository(store)
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return deps, errors.New("postgres storage selected but postgres dsn is empty")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return deps, fmt.Errorf("open postgres storage: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return deps, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		deps.uow = store
		deps.customers = postgres.NewCustomerRepository(store)
		deps.products = postgres.NewProductRepository(store)
		deps.orders = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store)
		logger.Info("using postgres storage")
	default:
		return deps, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.IdempotencyBackend)) {
	case "", IdempotencyBackendStorage:
	case IdempotencyBackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return deps, errors.New("redis idempotency backend selected but redis addr is empty")
		}
		client, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return deps, fmt.Errorf("open redis: %w", err)
		}
		deps.closers = append(deps.closers, client.Close)
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
		deps.checkers["redis"] = healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.WithField("addr", cfg.RedisAddr).Info("using redis idempotency backend")
	default:
		return deps, fmt.Errorf("unsupported idempotency backend %q", cfg.IdempotencyBackend)
	}

	return deps, nil
}

// close освобождает подключения в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage connection")
		}
	}
	d.closers = nil
}
