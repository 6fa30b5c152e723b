package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCustomerNotFound возвращается, если клиента с указанным идентификатором нет.
	ErrCustomerNotFound = errors.New("customer does not exist")
	// ErrProductNotFound возвращается, если хотя бы один запрошенный товар не найден.
	ErrProductNotFound = errors.New("some of requested products do not exist")
	// ErrInsufficientStock — на складе меньше единиц товара, чем запрошено.
	ErrInsufficientStock = errors.New("product is out of stock")
	// ErrEmailInUse — email уже занят другим клиентом.
	ErrEmailInUse = errors.New("email is already in use")
	// ErrProductNameInUse — товар с таким названием уже существует.
	ErrProductNameInUse = errors.New("product name is already in use")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPersistence — хранилище не смогло сохранить заказ.
	ErrPersistence = errors.New("order persistence failed")
	// ErrInventoryReservationFailed — заказ сохранён, но списание остатков не удалось.
	ErrInventoryReservationFailed = errors.New("inventory reservation failed")
	// ErrOrderIDConflict — заказ с таким ID уже сохранён.
	ErrOrderIDConflict = errors.New("order id conflict")

	// Ошибки валидации входных данных.
	ErrCustomerIDRequired     = errors.New("customer_id is required")
	ErrLinesRequired          = errors.New("order must contain at least one product")
	ErrProductIDRequired      = errors.New("product id is required")
	ErrLineQuantityInvalid    = errors.New("product quantity must be greater than zero")
	ErrDuplicateProduct       = errors.New("product is requested more than once")
	ErrCustomerNameRequired   = errors.New("customer name is required")
	ErrCustomerEmailInvalid   = errors.New("customer email is invalid")
	ErrProductNameRequired    = errors.New("product name is required")
	ErrProductPriceInvalid    = errors.New("product price must be non-negative")
	ErrProductQuantityInvalid = errors.New("product quantity must be non-negative")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки ключей идемпотентности.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
)

var validationErrors = []error{
	ErrCustomerIDRequired,
	ErrLinesRequired,
	ErrProductIDRequired,
	ErrLineQuantityInvalid,
	ErrDuplicateProduct,
	ErrCustomerNameRequired,
	ErrCustomerEmailInvalid,
	ErrProductNameRequired,
	ErrProductPriceInvalid,
	ErrProductQuantityInvalid,
}

// ProductNotFoundError перечисляет идентификаторы товаров, которых нет в каталоге.
type ProductNotFoundError struct {
	IDs []string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProductNotFound, strings.Join(e.IDs, ", "))
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError описывает первую позицию, для которой не хватило остатка.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: %s (available %d, requested %d)", ErrInsufficientStock, e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ReservationError — заказ создан, но остатки не списаны.
// Err содержит исходную причину отказа хранилища.
type ReservationError struct {
	OrderID string
	Err     error
}

func (e *ReservationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: order %s", ErrInventoryReservationFailed, e.OrderID)
	}
	return fmt.Sprintf("%s: order %s: %v", ErrInventoryReservationFailed, e.OrderID, e.Err)
}

func (e *ReservationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInventoryReservationFailed}
	}
	return []error{ErrInventoryReservationFailed, e.Err}
}

// PersistenceError оборачивает сбой хранилища так, чтобы errors.Is находил ErrPersistence.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistence, err))
}

// IsValidationError проверяет, относится ли ошибка к ошибкам входных данных.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDomainError проверяет, что ошибка описывает отказ бизнес-правил, а не сбой инфраструктуры.
func IsDomainError(err error) bool {
	if IsValidationError(err) {
		return true
	}
	for _, target := range []error{
		ErrCustomerNotFound,
		ErrProductNotFound,
		ErrInsufficientStock,
		ErrEmailInUse,
		ErrProductNameInUse,
		ErrOrderNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
