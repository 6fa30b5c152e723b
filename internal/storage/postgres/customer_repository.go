package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepository struct {
	store *Store
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{store: store}
}

const customerColumns = `id, name, email, created_at, updated_at`

func (r *customerRepository) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.findOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
}

func (r *customerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.findOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, domain.NormalizeEmail(email))
}

func (r *customerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

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

	_, err := r.store.q(ctx).ExecContext(ctx, `
		INSERT INTO customers (id, name, email, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Email, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Customer{}, domain.ErrEmailInUse
		}
		return domain.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return customer, nil
}

func (r *customerRepository) findOne(ctx context.Context, query string, arg any) (domain.Customer, error) {
	var customer domain.Customer
	err := r.store.q(ctx).QueryRowContext(ctx, query, arg).Scan(
		&customer.ID, &customer.Name, &customer.Email, &customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
