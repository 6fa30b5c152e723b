package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func seedProduct(t *testing.T, repo domain.ProductRepository, id, name string, qty int) domain.Product {
	t.Helper()
	product, err := repo.Create(context.Background(), domain.Product{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString("9.99"),
		Quantity: qty,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
	return product
}

func TestProductRepository_CreateAndFind(t *testing.T) {
	repo := memory.NewProductRepository(memory.NewStore())
	ctx := context.Background()

	created := seedProduct(t, repo, "p-1", "Keyboard", 3)
	if created.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	if _, err := repo.Create(ctx, domain.Product{Name: "Keyboard"}); !errors.Is(err, domain.ErrProductNameInUse) {
		t.Fatalf("expected ErrProductNameInUse, got %v", err)
	}

	byName, err := repo.FindByName(ctx, "Keyboard")
	if err != nil || byName.ID != "p-1" {
		t.Fatalf("find by name: %+v, %v", byName, err)
	}
	if _, err := repo.FindByID(ctx, "nope"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_FindAllByIDReturnsExistingSubset(t *testing.T) {
	repo := memory.NewProductRepository(memory.NewStore())
	seedProduct(t, repo, "p-1", "Keyboard", 3)
	seedProduct(t, repo, "p-2", "Mouse", 1)

	found, err := repo.FindAllByID(context.Background(), []string{"p-2", "missing", "p-1", "p-2"})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(found) != 2 || found[0].ID != "p-2" || found[1].ID != "p-1" {
		t.Fatalf("unexpected subset %+v", found)
	}
}

func TestProductRepository_UpdateQuantityOverwritesAndSkipsUnknown(t *testing.T) {
	repo := memory.NewProductRepository(memory.NewStore())
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "Keyboard", 3)

	updated, err := repo.UpdateQuantity(ctx, []domain.QuantityUpdate{
		{ProductID: "p-1", Quantity: 10},
		{ProductID: "ghost", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if len(updated) != 1 || updated[0].Quantity != 10 {
		t.Fatalf("unexpected updated products %+v", updated)
	}

	if _, err := repo.UpdateQuantity(ctx, []domain.QuantityUpdate{{ProductID: "p-1", Quantity: -1}}); !errors.Is(err, domain.ErrProductQuantityInvalid) {
		t.Fatalf("expected ErrProductQuantityInvalid, got %v", err)
	}
}

func TestProductRepository_ReserveStockIsAllOrNothing(t *testing.T) {
	repo := memory.NewProductRepository(memory.NewStore())
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "Keyboard", 5)
	seedProduct(t, repo, "p-2", "Mouse", 1)

	err := repo.ReserveStock(ctx, []domain.StockReservation{
		{ProductID: "p-1", Quantity: 2},
		{ProductID: "p-2", Quantity: 2},
	})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductName != "Mouse" {
		t.Fatalf("expected insufficient stock for Mouse, got %v", err)
	}

	keyboard, _ := repo.FindByID(ctx, "p-1")
	if keyboard.Quantity != 5 {
		t.Fatalf("partial reservation applied: keyboard quantity %d", keyboard.Quantity)
	}

	if err := repo.ReserveStock(ctx, []domain.StockReservation{{ProductID: "p-1", Quantity: 5}}); err != nil {
		t.Fatalf("reserve exact stock: %v", err)
	}
	keyboard, _ = repo.FindByID(ctx, "p-1")
	if keyboard.Quantity != 0 {
		t.Fatalf("expected zero stock, got %d", keyboard.Quantity)
	}

	err = repo.ReserveStock(ctx, []domain.StockReservation{{ProductID: "ghost", Quantity: 1}})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_ConcurrentReservationsNeverOversell(t *testing.T) {
	repo := memory.NewProductRepository(memory.NewStore())
	seedProduct(t, repo, "p-1", "Keyboard", 10)

	var (
		wg      sync.WaitGroup
		success atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.ReserveStock(context.Background(), []domain.StockReservation{{ProductID: "p-1", Quantity: 1}}); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := success.Load(); got != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", got)
	}
	product, _ := repo.FindByID(context.Background(), "p-1")
	if product.Quantity != 0 {
		t.Fatalf("expected stock 0, got %d", product.Quantity)
	}
}
