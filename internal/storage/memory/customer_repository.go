package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepositoryInMemory struct {
	store *Store
}

// NewCustomerRepository возвращает справочник клиентов поверх общего Store.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepositoryInMemory{store: store}
}

func (r *customerRepositoryInMemory) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	defer r.store.rlock(ctx)()

	customer, ok := r.store.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	email = domain.NormalizeEmail(email)

	defer r.store.rlock(ctx)()

	for _, customer := range r.store.customers {
		if customer.Email == email {
			return customer, nil
		}
	}
	return domain.Customer{}, domain.ErrCustomerNotFound
}

func (r *customerRepositoryInMemory) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	customer.Email = domain.NormalizeEmail(customer.Email)
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	if customer.UpdatedAt.IsZero() {
		customer.UpdatedAt = customer.CreatedAt
	}

	err := r.store.write(ctx, func() error {
		for _, existing := range r.store.customers {
			if existing.Email == customer.Email {
				return domain.ErrEmailInUse
			}
		}
		r.store.customers[customer.ID] = customer
		return nil
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
