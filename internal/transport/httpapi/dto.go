package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CreateCustomerRequest описывает тело POST /customers.
type CreateCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CustomerResponse представляет клиента в ответах API.
type CustomerResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProductRequest описывает тело POST /products.
type CreateProductRequest struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// ProductResponse представляет товар в ответах API.
type ProductResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// QuantityUpdateRequest: элемент тела PUT /products/quantities.
type QuantityUpdateRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// PlaceOrderRequest описывает тело POST /orders.
type PlaceOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Products   []OrderLineRequest `json:"products"`
}

// OrderLineRequest: запрошенный товар и количество.
type OrderLineRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// OrderResponse представляет заказ в ответах API.
type OrderResponse struct {
	ID            string              `json:"id"`
	Customer      CustomerResponse    `json:"customer"`
	OrderProducts []OrderLineResponse `json:"order_products"`
	Total         decimal.Decimal     `json:"total"`
	CreatedAt     time.Time           `json:"created_at"`
}

// OrderLineResponse: позиция заказа с зафиксированной ценой.
type OrderLineResponse struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func toCustomerResponse(c domain.Customer) CustomerResponse {
	return CustomerResponse{ID: c.ID, Name: c.Name, Email: c.Email, CreatedAt: c.CreatedAt}
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toProductResponses(products []domain.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}

func toOrderResponse(o domain.Order) OrderResponse {
	lines := make([]OrderLineResponse, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, OrderLineResponse{
			ProductID: line.ProductID,
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}
	customer := o.Customer
	if customer.ID == "" {
		customer.ID = o.CustomerID
	}
	return OrderResponse{
		ID:            o.ID,
		Customer:      toCustomerResponse(customer),
		OrderProducts: lines,
		Total:         o.Total(),
		CreatedAt:     o.CreatedAt,
	}
}

func (r PlaceOrderRequest) lines() []domain.OrderLineRequest {
	lines := make([]domain.OrderLineRequest, 0, len(r.Products))
	for _, p := range r.Products {
		lines = append(lines, domain.OrderLineRequest{ProductID: p.ID, Quantity: p.Quantity})
	}
	return lines
}
