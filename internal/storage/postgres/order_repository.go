package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

const orderSelect = `
	SELECT o.id, COALESCE(o.customer_id, ''), o.created_at, o.updated_at,
	       COALESCE(c.id, ''), COALESCE(c.name, ''), COALESCE(c.email, ''),
	       COALESCE(c.created_at, o.created_at), COALESCE(c.updated_at, o.updated_at)
	FROM orders o
	LEFT JOIN customers c ON c.id = o.customer_id
`

// Create сохраняет шапку заказа и позиции; вне RunInTx открывает собственную транзакцию.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	for i := range order.Lines {
		if order.Lines[i].ID == "" {
			order.Lines[i].ID = uuid.NewString()
		}
		if order.Lines[i].CreatedAt.IsZero() {
			order.Lines[i].CreatedAt = order.CreatedAt
		}
	}

	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		q := r.store.q(ctx)
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4)
		`, order.ID, order.CustomerID, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			switch pgErrorCode(err) {
			case pgUniqueViolation:
				return domain.ErrOrderIDConflict
			case pgForeignKeyViolation:
				return domain.ErrCustomerNotFound
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for pos, line := range order.Lines {
			_, err := q.ExecContext(ctx, `
				INSERT INTO orders_products (
					id, order_id, product_id, position, price, quantity, created_at, updated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
			`, line.ID, order.ID, line.ProductID, pos, line.Price, line.Quantity, line.CreatedAt)
			if err != nil {
				if pgErrorCode(err) == pgForeignKeyViolation {
					return &domain.ProductNotFoundError{IDs: []string{line.ProductID}}
				}
				return fmt.Errorf("insert order line: %w", err)
			}
		}

		customer, err := r.store.customerByID(ctx, order.CustomerID)
		if err != nil {
			return err
		}
		order.Customer = customer
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.store.q(ctx).QueryRowContext(ctx, orderSelect+` WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := orderSelect + ` WHERE o.customer_id = $1 ORDER BY o.created_at DESC, o.id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.store.q(ctx).QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.store.q(ctx).QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		lines, err := r.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID, &order.CustomerID, &order.CreatedAt, &order.UpdatedAt,
		&order.Customer.ID, &order.Customer.Name, &order.Customer.Email,
		&order.Customer.CreatedAt, &order.Customer.UpdatedAt,
	)
	return order, err
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.store.q(ctx).QueryContext(ctx, `
		SELECT id, product_id, price, quantity, created_at
		FROM orders_products
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var (
			line      domain.OrderLine
			productID sql.NullString
		)
		if err := rows.Scan(&line.ID, &productID, &line.Price, &line.Quantity, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.ProductID = productID.String
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
