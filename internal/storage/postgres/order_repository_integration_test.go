package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func seedCatalog(t *testing.T, store *Store) (domain.Customer, domain.Product, domain.Product) {
	t.Helper()
	ctx := context.Background()

	customer, err := NewCustomerRepository(store).Create(ctx, domain.Customer{ID: "customer-1", Name: "Ann", Email: "Ann@Example.com"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	products := NewProductRepository(store)
	keyboard, err := products.Create(ctx, domain.Product{ID: "p-1", Name: "Keyboard", Price: decimal.RequireFromString("49.90"), Quantity: 5})
	if err != nil {
		t.Fatalf("create keyboard: %v", err)
	}
	mouse, err := products.Create(ctx, domain.Product{ID: "p-2", Name: "Mouse", Price: decimal.RequireFromString("19.999"), Quantity: 1})
	if err != nil {
		t.Fatalf("create mouse: %v", err)
	}
	return customer, keyboard, mouse
}

func sampleOrder(id, customerID string, createdAt time.Time, lines ...domain.OrderLine) domain.Order {
	return domain.Order{
		ID:         id,
		CustomerID: customerID,
		Lines:      lines,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestOrderRepository_PostgresCreateGetAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	customer, keyboard, mouse := seedCatalog(t, store)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	if customer.Email != "ann@example.com" {
		t.Fatalf("expected normalised email, got %q", customer.Email)
	}
	if !mouse.Price.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("expected price rounded to cents, got %s", mouse.Price)
	}

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", customer.ID, now.Add(-2*time.Minute),
		domain.OrderLine{ProductID: mouse.ID, Price: mouse.Price, Quantity: 1},
		domain.OrderLine{ProductID: keyboard.ID, Price: keyboard.Price, Quantity: 2},
	)
	order2 := sampleOrder("order-2", customer.ID, now.Add(-time.Minute),
		domain.OrderLine{ProductID: keyboard.ID, Price: keyboard.Price, Quantity: 1},
	)

	created, err := repo.Create(ctx, order1)
	if err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if created.Customer.Email != customer.Email || created.Lines[0].ID == "" {
		t.Fatalf("unexpected created order: %+v", created)
	}
	if _, err := repo.Create(ctx, order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if len(got.Lines) != 2 || got.Lines[0].ProductID != mouse.ID || got.Lines[1].ProductID != keyboard.ID {
		t.Fatalf("expected lines in request order, got %+v", got.Lines)
	}
	if !got.Total().Equal(decimal.RequireFromString("119.80")) {
		t.Fatalf("unexpected total %s", got.Total())
	}
	if got.Customer.Name != "Ann" {
		t.Fatalf("expected customer attached, got %+v", got.Customer)
	}

	listed, err := repo.ListByCustomer(ctx, customer.ID, 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListByCustomer(ctx, customer.ID, 0)
	if err != nil {
		t.Fatalf("list by customer without limit: %v", err)
	}
	if len(all) != 2 || len(all[1].Lines) != 2 {
		t.Fatalf("unexpected orders: %+v", all)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	customer, keyboard, _ := seedCatalog(t, store)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", customer.ID, now,
		domain.OrderLine{ProductID: keyboard.ID, Price: keyboard.Price, Quantity: 1})

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if _, err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if _, err := repo.Create(ctx, base); !errors.Is(err, domain.ErrOrderIDConflict) {
		t.Fatalf("expected ErrOrderIDConflict on duplicate create, got %v", err)
	}

	orphan := sampleOrder("order-orphan", "ghost", now)
	if _, err := repo.Create(ctx, orphan); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	badLine := sampleOrder("order-bad-line", customer.ID, now,
		domain.OrderLine{ProductID: "ghost", Price: decimal.NewFromInt(1), Quantity: 1})
	if _, err := repo.Create(ctx, badLine); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, badLine.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected failed order rolled back, got %v", err)
	}
}

func TestProductRepository_PostgresReserveStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	_, keyboard, mouse := seedCatalog(t, store)
	products := NewProductRepository(store)
	ctx := context.Background()

	err := products.ReserveStock(ctx, []domain.StockReservation{
		{ProductID: keyboard.ID, Quantity: 2},
		{ProductID: mouse.ID, Quantity: 2},
	})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductName != "Mouse" || stockErr.Available != 1 {
		t.Fatalf("expected insufficient stock for Mouse, got %v", err)
	}
	got, err := products.FindByID(ctx, keyboard.ID)
	if err != nil || got.Quantity != 5 {
		t.Fatalf("expected keyboard untouched, got %+v, %v", got, err)
	}

	if err := products.ReserveStock(ctx, []domain.StockReservation{{ProductID: keyboard.ID, Quantity: 5}}); err != nil {
		t.Fatalf("reserve exact stock: %v", err)
	}
	got, _ = products.FindByID(ctx, keyboard.ID)
	if got.Quantity != 0 {
		t.Fatalf("expected zero stock, got %d", got.Quantity)
	}

	if err := products.ReserveStock(ctx, []domain.StockReservation{{ProductID: "ghost", Quantity: 1}}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_PostgresFindAllAndUpdateQuantity(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	_, keyboard, mouse := seedCatalog(t, store)
	products := NewProductRepository(store)
	ctx := context.Background()

	found, err := products.FindAllByID(ctx, []string{mouse.ID, "ghost", keyboard.ID})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(found) != 2 || found[0].ID != mouse.ID || found[1].ID != keyboard.ID {
		t.Fatalf("unexpected subset: %+v", found)
	}

	err = store.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := products.FindAllByID(ctx, []string{keyboard.ID})
		if err != nil {
			return err
		}
		if len(locked) != 1 {
			t.Errorf("expected locked keyboard, got %+v", locked)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("find all in tx: %v", err)
	}

	updated, err := products.UpdateQuantity(ctx, []domain.QuantityUpdate{
		{ProductID: keyboard.ID, Quantity: 12},
		{ProductID: "ghost", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if len(updated) != 1 || updated[0].Quantity != 12 {
		t.Fatalf("unexpected updated products: %+v", updated)
	}

	if _, err := products.Create(ctx, domain.Product{Name: "Keyboard", Price: decimal.NewFromInt(1)}); !errors.Is(err, domain.ErrProductNameInUse) {
		t.Fatalf("expected ErrProductNameInUse, got %v", err)
	}
	byName, err := products.FindByName(ctx, "Mouse")
	if err != nil || byName.ID != mouse.ID {
		t.Fatalf("find by name: %+v, %v", byName, err)
	}
}

func TestCustomerRepository_PostgresEmailUnique(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	customer, _, _ := seedCatalog(t, store)
	customers := NewCustomerRepository(store)
	ctx := context.Background()

	if _, err := customers.Create(ctx, domain.Customer{Name: "Other", Email: "ANN@example.com"}); !errors.Is(err, domain.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	found, err := customers.FindByEmail(ctx, " ann@example.COM")
	if err != nil || found.ID != customer.ID {
		t.Fatalf("find by email: %+v, %v", found, err)
	}
}
