//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func setupPostgresContainer(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("storefront_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(ctx)
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	require.NoError(t, store.MigrateUp(ctx, 0))
	return store
}

func TestContainer_ConcurrentReservationsNeverOversell(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	store := setupPostgresContainer(t)
	products := NewProductRepository(store)
	ctx := context.Background()

	_, err := products.Create(ctx, domain.Product{ID: "p-hot", Name: "Hot item", Price: decimal.NewFromInt(5), Quantity: 10})
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		outOfStock int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunInTx(ctx, func(ctx context.Context) error {
				if _, err := products.FindAllByID(ctx, []string{"p-hot"}); err != nil {
					return err
				}
				return products.ReserveStock(ctx, []domain.StockReservation{{ProductID: "p-hot", Quantity: 1}})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStock++
			default:
				t.Errorf("unexpected reservation error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	require.Equal(t, 20, outOfStock)

	product, err := products.FindByID(ctx, "p-hot")
	require.NoError(t, err)
	require.Zero(t, product.Quantity)
}

func TestContainer_MigrationsRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	store := setupPostgresContainer(t)
	ctx := context.Background()

	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationState{Version: 3, Applied: 3}, state)

	require.NoError(t, store.MigrateDown(ctx, 3))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, state.Pending)

	require.NoError(t, store.MigrateUp(ctx, 0))
}
