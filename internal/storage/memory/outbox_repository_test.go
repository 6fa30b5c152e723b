package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	repo := NewOutboxRepository(NewStore())
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, aggregate := range []string{"order-1", "order-2", "order-3"} {
		saved, err := repo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   aggregate,
			EventType:     domain.EventOrderPlaced,
			Payload:       []byte(`{"order_id":"` + aggregate + `"}`),
		})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if saved.ID == "" {
			t.Fatal("expected generated id")
		}
		ids = append(ids, saved.ID)
	}

	pending, err := repo.PullPending(ctx, 2)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[1] {
		t.Fatalf("expected first two messages in enqueue order, got %+v", pending)
	}

	if err := repo.MarkSent(ctx, ids[0]); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, ids[1]); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := repo.MarkSent(ctx, "unknown"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}

func TestOutboxRepository_RolledBackWithUnitOfWork(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "order-1", EventType: domain.EventOrderPlaced}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected rolled back outbox, got %d messages", len(pending))
	}
}
