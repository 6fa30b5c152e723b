package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderLineRequest — запрошенная покупателем позиция: товар и количество.
type OrderLineRequest struct {
	ProductID string
	Quantity  int
}

// OrderLine — позиция заказа. Цена фиксируется на момент оформления
// и не меняется при последующем изменении цены товара.
type OrderLine struct {
	ID        string
	ProductID string
	Price     decimal.Decimal
	Quantity  int
	CreatedAt time.Time
}

// Subtotal возвращает стоимость позиции: price * quantity.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order — оформленный заказ. После создания не изменяется.
type Order struct {
	ID         string
	CustomerID string
	// Customer заполняется при чтении и в ответе PlaceOrder.
	Customer  Customer
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total возвращает сумму всех позиций заказа.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// ValidateLineRequests проверяет запрос на оформление заказа до обращения к хранилищу.
// Один и тот же товар не может встречаться в запросе дважды.
func ValidateLineRequests(customerID string, lines []OrderLineRequest) error {
	if strings.TrimSpace(customerID) == "" {
		return ErrCustomerIDRequired
	}
	if len(lines) == 0 {
		return ErrLinesRequired
	}

	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return ErrProductIDRequired
		}
		if line.Quantity <= 0 {
			return ErrLineQuantityInvalid
		}
		if _, dup := seen[line.ProductID]; dup {
			return ErrDuplicateProduct
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}
