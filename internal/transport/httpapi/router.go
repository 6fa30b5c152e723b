package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// DefaultRequestTimeout ограничивает обработку одного запроса.
const DefaultRequestTimeout = 15 * time.Second

// CustomerService: операции справочника клиентов.
type CustomerService interface {
	Create(ctx context.Context, name, email string) (domain.Customer, error)
	Get(ctx context.Context, id string) (domain.Customer, error)
}

// CatalogService: операции каталога товаров.
type CatalogService interface {
	Create(ctx context.Context, name string, price decimal.Decimal, quantity int) (domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
	Restock(ctx context.Context, updates []domain.QuantityUpdate) ([]domain.Product, error)
}

// OrderService оформляет и читает заказы.
type OrderService interface {
	PlaceOrder(ctx context.Context, customerID string, lines []domain.OrderLineRequest) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
}

// Dependencies собирает всё, что нужно HTTP API.
// Idempotency и Tracer необязательны.
type Dependencies struct {
	Customers      CustomerService
	Catalog        CatalogService
	Orders         OrderService
	Idempotency    *idempotency.Guard
	Tracer         trace.Tracer
	Logger         *log.Entry
	RequestTimeout time.Duration
}

// NewRouter собирает chi-роутер публичного API магазина.
func NewRouter(deps Dependencies) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)
	if deps.Tracer != nil {
		r.Use(tracing(deps.Tracer))
	}
	r.Use(middleware.Timeout(timeout))

	base := responder{logger: logger}
	(&customerHandler{responder: base, customers: deps.Customers, orders: deps.Orders}).Register(r)
	(&productHandler{responder: base, catalog: deps.Catalog}).Register(r)
	(&orderHandler{responder: base, orders: deps.Orders, guard: deps.Idempotency}).Register(r)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
	})
	return r
}
