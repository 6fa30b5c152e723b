// Package redis хранит ключи идемпотентности в Redis, когда несколько реплик
// API не делят одну PostgreSQL-базу или нужна разгрузка основной БД.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultKeyPrefix = "storefront:idempotency:"
	opTimeout        = 2 * time.Second
	// minExpiry не даёт записи исчезнуть раньше, чем её успеют прочитать.
	minExpiry = time.Second
	// maxWatchRetries ограничивает повторы оптимистичной транзакции WATCH/MULTI.
	maxWatchRetries = 5
)

// IdempotencyRepository реализует domain.IdempotencyRepository поверх Redis.
// Срок жизни записи задаётся TTL ключа, поэтому DeleteExpired ничего не делает.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open подключается к Redis и проверяет доступность сервера.
func Open(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// stringGetter читает ключ и через клиента, и через *goredis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (r *IdempotencyRepository) redisKey(key string) string {
	return r.prefix + key
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.DefaultIdempotencyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		existing domain.IdempotencyRecord
		conflict bool
	)
	err := r.watch(ctx, key, func(tx *goredis.Tx) error {
		conflict = false
		current, err := r.load(ctx, tx, key)
		switch {
		case err == nil && current.TTLAt.After(now):
			existing, conflict = current, true
			return nil
		case err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound):
			return err
		}
		return r.store(ctx, tx, record)
	})
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	if conflict {
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
	return record, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.load(ctx, r.client, key)
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не удаляет: Redis сам вычищает ключи по TTL.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.watch(ctx, key, func(tx *goredis.Tx) error {
		record, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		record.Status = status
		record.ResponseBody = append([]byte(nil), responseBody...)
		record.HTTPStatus = httpStatus
		record.UpdatedAt = r.now()
		return r.store(ctx, tx, record)
	})
}

// watch выполняет fn под WATCH ключа и повторяет её, если ключ изменили параллельно.
func (r *IdempotencyRepository) watch(ctx context.Context, key string, fn func(tx *goredis.Tx) error) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, fn, r.redisKey(key))
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("idempotency key %s: %w", key, goredis.TxFailedErr)
}

func (r *IdempotencyRepository) load(ctx context.Context, c stringGetter, key string) (domain.IdempotencyRecord, error) {
	raw, err := c.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var record domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", record.Status, key)
	}
	return record, nil
}

// store пишет запись в MULTI/EXEC; срок жизни ключа совпадает с TTLAt записи.
func (r *IdempotencyRepository) store(ctx context.Context, tx *goredis.Tx, record domain.IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	expiry := record.TTLAt.Sub(r.now())
	if expiry < minExpiry {
		expiry = minExpiry
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.redisKey(record.Key), raw, expiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	return nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
