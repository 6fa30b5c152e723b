package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов поверх общего Store.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)

	err := r.store.write(ctx, func() error {
		if _, exists := r.store.orders[order.ID]; exists {
			return domain.ErrOrderIDConflict
		}
		stored := order
		stored.Customer = domain.Customer{}
		r.store.orders[order.ID] = stored
		order.Customer = r.store.customers[order.CustomerID]
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	defer r.store.rlock(ctx)()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.withCustomer(order), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	defer r.store.rlock(ctx)()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, r.withCustomer(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// withCustomer вызывается под rlock.
func (r *orderRepositoryInMemory) withCustomer(order domain.Order) domain.Order {
	order.Customer = r.store.customers[order.CustomerID]
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
