package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale задаёт число знаков после запятой в ценах (decimal(10,2) в БД).
const PriceScale = 2

// Product — позиция каталога с текущей ценой и остатком.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет поля товара перед созданием.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrProductNameRequired
	}
	if p.Price.IsNegative() {
		return ErrProductPriceInvalid
	}
	if p.Quantity < 0 {
		return ErrProductQuantityInvalid
	}
	return nil
}

// QuantityUpdate задаёт новое абсолютное значение остатка товара.
type QuantityUpdate struct {
	ProductID string
	Quantity  int
}

// StockReservation описывает относительное списание остатка под заказ.
type StockReservation struct {
	ProductID string
	Quantity  int
}
