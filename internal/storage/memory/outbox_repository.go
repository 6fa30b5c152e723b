package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepositoryInMemory — transactional outbox поверх общего Store:
// сообщения откатываются вместе с заказом.
type outboxRepositoryInMemory struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{store: store}
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *outboxRepositoryInMemory) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	err := r.store.write(ctx, func() error {
		r.store.outboxSeq++
		now := time.Now().UTC()
		r.store.outbox[msg.ID] = outboxRecord{
			msg:       msg,
			seq:       r.store.outboxSeq,
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		}
		return nil
	})
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (r *outboxRepositoryInMemory) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	release := r.store.rlock(ctx)
	pending := make([]outboxRecord, 0)
	for _, rec := range r.store.outbox {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	release()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r *outboxRepositoryInMemory) Stats(ctx context.Context) (domain.OutboxStats, error) {
	defer r.store.rlock(ctx)()

	var stats domain.OutboxStats
	for _, rec := range r.store.outbox {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepositoryInMemory) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusFailed)
}

func (r *outboxRepositoryInMemory) markStatus(ctx context.Context, id, status string) error {
	return r.store.write(ctx, func() error {
		record, ok := r.store.outbox[id]
		if !ok {
			return domain.ErrOutboxPublish
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = time.Now().UTC()
		r.store.outbox[id] = record
		return nil
	})
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
