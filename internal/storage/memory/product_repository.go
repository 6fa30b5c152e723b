package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepositoryInMemory struct {
	store *Store
}

// NewProductRepository возвращает каталог товаров поверх общего Store.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepositoryInMemory{store: store}
}

func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.Price = product.Price.Round(domain.PriceScale)
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}

	err := r.store.write(ctx, func() error {
		for _, existing := range r.store.products {
			if existing.Name == product.Name {
				return domain.ErrProductNameInUse
			}
		}
		r.store.products[product.ID] = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (r *productRepositoryInMemory) FindByID(ctx context.Context, id string) (domain.Product, error) {
	defer r.store.rlock(ctx)()

	product, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) FindByName(ctx context.Context, name string) (domain.Product, error) {
	defer r.store.rlock(ctx)()

	for _, product := range r.store.products {
		if product.Name == name {
			return product, nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

// FindAllByID возвращает найденные товары в порядке первого упоминания в ids.
func (r *productRepositoryInMemory) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	defer r.store.rlock(ctx)()

	result := make([]domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if product, ok := r.store.products[id]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

func (r *productRepositoryInMemory) UpdateQuantity(ctx context.Context, updates []domain.QuantityUpdate) ([]domain.Product, error) {
	for _, u := range updates {
		if u.Quantity < 0 {
			return nil, domain.ErrProductQuantityInvalid
		}
	}

	updated := make([]domain.Product, 0, len(updates))
	err := r.store.write(ctx, func() error {
		now := time.Now().UTC()
		for _, u := range updates {
			product, ok := r.store.products[u.ProductID]
			if !ok {
				continue
			}
			product.Quantity = u.Quantity
			product.UpdatedAt = now
			r.store.products[u.ProductID] = product
			updated = append(updated, product)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReserveStock сначала проверяет все позиции и только затем списывает, поэтому частичного списания не бывает.
func (r *productRepositoryInMemory) ReserveStock(ctx context.Context, reservations []domain.StockReservation) error {
	order, need := mergeReservations(reservations)

	return r.store.write(ctx, func() error {
		var missing []string
		for _, id := range order {
			product, ok := r.store.products[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			if product.Quantity < need[id] {
				return &domain.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Available:   product.Quantity,
					Requested:   need[id],
				}
			}
		}
		if len(missing) > 0 {
			return &domain.ProductNotFoundError{IDs: missing}
		}

		now := time.Now().UTC()
		for _, id := range order {
			product := r.store.products[id]
			product.Quantity -= need[id]
			product.UpdatedAt = now
			r.store.products[id] = product
		}
		return nil
	})
}

// mergeReservations суммирует списания по товару, сохраняя порядок первого упоминания.
func mergeReservations(reservations []domain.StockReservation) ([]string, map[string]int) {
	order := make([]string, 0, len(reservations))
	need := make(map[string]int, len(reservations))
	for _, res := range reservations {
		if _, ok := need[res.ProductID]; !ok {
			order = append(order, res.ProductID)
		}
		need[res.ProductID] += res.Quantity
	}
	return order, need
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
