package domain

import "context"

// CustomerRepository хранит справочник клиентов.
type CustomerRepository interface {
	// FindByID возвращает клиента или ErrCustomerNotFound.
	FindByID(ctx context.Context, id string) (Customer, error)
	// FindByEmail возвращает клиента по нормализованному email или ErrCustomerNotFound.
	FindByEmail(ctx context.Context, email string) (Customer, error)
	// Create сохраняет клиента; ErrEmailInUse при занятом email.
	Create(ctx context.Context, customer Customer) (Customer, error)
}

// ProductRepository хранит каталог товаров и их остатки.
type ProductRepository interface {
	// Create сохраняет товар; ErrProductNameInUse при занятом названии.
	Create(ctx context.Context, product Product) (Product, error)
	// FindByID возвращает товар или ErrProductNotFound.
	FindByID(ctx context.Context, id string) (Product, error)
	// FindByName возвращает товар по точному названию или ErrProductNotFound.
	FindByName(ctx context.Context, name string) (Product, error)
	// FindAllByID возвращает только существующие товары из списка, без ошибки за отсутствующие.
	// Внутри RunInTx строки блокируются до конца транзакции.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// UpdateQuantity перезаписывает остатки; неизвестные ID молча пропускаются.
	UpdateQuantity(ctx context.Context, updates []QuantityUpdate) ([]Product, error)
	// ReserveStock списывает остатки только если их хватает.
	// При нехватке возвращает *InsufficientStockError и ничего не меняет.
	ReserveStock(ctx context.Context, reservations []StockReservation) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями атомарно.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ с позициями и клиентом или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента от новых к старым; при limit<=0 без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}
