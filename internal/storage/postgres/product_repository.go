package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	store *Store
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

const productColumns = `id, name, price, quantity, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

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

	_, err := r.store.q(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, product.ID, product.Name, product.Price, product.Quantity, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return domain.Product{}, domain.ErrProductNameInUse
		case pgCheckViolation:
			if pgConstraint(err) == "products_price_non_negative" {
				return domain.Product{}, domain.ErrProductPriceInvalid
			}
			return domain.Product{}, domain.ErrProductQuantityInvalid
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) FindByID(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.store.q(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) FindByName(ctx context.Context, name string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.store.q(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product by name: %w", err)
	}
	return product, nil
}

// FindAllByID внутри транзакции берёт FOR UPDATE в порядке id, чтобы конкурентные заказы
// с пересекающимися товарами не взаимоблокировались.
func (r *productRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}

	rows, err := r.store.q(ctx).QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		byID[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	result := make([]domain.Product, 0, len(byID))
	for _, id := range ids {
		if product, ok := byID[id]; ok {
			result = append(result, product)
			delete(byID, id)
		}
	}
	return result, nil
}

func (r *productRepository) UpdateQuantity(ctx context.Context, updates []domain.QuantityUpdate) ([]domain.Product, error) {
	for _, u := range updates {
		if u.Quantity < 0 {
			return nil, domain.ErrProductQuantityInvalid
		}
	}

	updated := make([]domain.Product, 0, len(updates))
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		for _, u := range updates {
			product, err := scanProduct(r.store.q(ctx).QueryRowContext(ctx, `
				UPDATE products
				SET quantity = $2, updated_at = NOW()
				WHERE id = $1
				RETURNING `+productColumns,
				u.ProductID, u.Quantity,
			))
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("update product quantity: %w", err)
			}
			updated = append(updated, product)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReserveStock списывает остатки условным UPDATE: строка меняется, только если остатка хватает.
// Вне транзакции открывает собственную, поэтому частичного списания не бывает.
func (r *productRepository) ReserveStock(ctx context.Context, reservations []domain.StockReservation) error {
	ids, need := mergeReservations(reservations)

	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		var missing []string
		for _, id := range ids {
			res, err := r.store.q(ctx).ExecContext(ctx, `
				UPDATE products
				SET quantity = quantity - $2, updated_at = NOW()
				WHERE id = $1 AND quantity >= $2
			`, id, need[id])
			if err != nil {
				return fmt.Errorf("reserve product stock: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("reserve rows affected: %w", err)
			}
			if affected == 1 {
				continue
			}

			product, err := r.FindByID(ctx, id)
			if errors.Is(err, domain.ErrProductNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
			return &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   need[id],
			}
		}
		if len(missing) > 0 {
			return &domain.ProductNotFoundError{IDs: missing}
		}
		return nil
	})
}

// mergeReservations суммирует списания по товару и упорядочивает id для стабильного порядка блокировок.
func mergeReservations(reservations []domain.StockReservation) ([]string, map[string]int) {
	need := make(map[string]int, len(reservations))
	ids := make([]string, 0, len(reservations))
	for _, res := range reservations {
		if _, ok := need[res.ProductID]; !ok {
			ids = append(ids, res.ProductID)
		}
		need[res.ProductID] += res.Quantity
	}
	sort.Strings(ids)
	return ids, need
}

var _ domain.ProductRepository = (*productRepository)(nil)
