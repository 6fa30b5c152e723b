package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	store     *memory.Store
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
}

func newFixture() *fixture {
	store := memory.NewStore()
	return &fixture{
		store:     store,
		customers: memory.NewCustomerRepository(store),
		products:  memory.NewProductRepository(store),
		orders:    memory.NewOrderRepository(store),
		outbox:    memory.NewOutboxRepository(store),
	}
}

func (f *fixture) service(opts ...Option) *Service {
	return NewService(f.customers, f.products, f.orders, f.outbox, f.store, testLogger(), opts...)
}

func (f *fixture) customer(t *testing.T, email string) domain.Customer {
	t.Helper()
	c, err := f.customers.Create(context.Background(), domain.Customer{Name: "Customer", Email: email})
	require.NoError(t, err)
	return c
}

func (f *fixture) product(t *testing.T, id, price string, qty int) domain.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), domain.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		Quantity: qty,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) quantity(t *testing.T, id string) int {
	t.Helper()
	p, err := f.products.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func (f *fixture) events(t *testing.T) []domain.OutboxMessage {
	t.Helper()
	pending, err := f.outbox.PullPending(context.Background(), 100)
	require.NoError(t, err)
	return pending
}

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "ordering-test")
}

func TestPlaceOrder_SnapshotsPriceAndDecrementsStock(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)

	order, err := f.service().PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{
		{ProductID: "P1", Quantity: 3},
	})
	require.NoError(t, err)

	require.Len(t, order.Lines, 1)
	assert.Equal(t, "P1", order.Lines[0].ProductID)
	assert.Equal(t, 3, order.Lines[0].Quantity)
	assert.True(t, order.Lines[0].Price.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, customer.ID, order.Customer.ID)
	assert.Equal(t, customer.Email, order.Customer.Email)
	assert.True(t, order.Total().Equal(decimal.RequireFromString("15")))
	assert.Equal(t, 7, f.quantity(t, "P1"))

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderPlaced, events[0].EventType)
	assert.Equal(t, order.ID, events[0].AggregateID)
}

func TestPlaceOrder_StoredOrderMatchesPlacedOrder(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	f.product(t, "P2", "1.25", 4)
	svc := f.service()

	placed, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{
		{ProductID: "P2", Quantity: 4},
		{ProductID: "P1", Quantity: 1},
	})
	require.NoError(t, err)

	stored, err := svc.Get(context.Background(), placed.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.CustomerID, stored.CustomerID)
	require.Len(t, stored.Lines, len(placed.Lines))
	for i := range placed.Lines {
		assert.Equal(t, placed.Lines[i].ProductID, stored.Lines[i].ProductID)
		assert.Equal(t, placed.Lines[i].Quantity, stored.Lines[i].Quantity)
		assert.True(t, placed.Lines[i].Price.Equal(stored.Lines[i].Price))
	}
	assert.Equal(t, 0, f.quantity(t, "P2"))
	assert.Equal(t, 9, f.quantity(t, "P1"))
}

func TestPlaceOrder_InsufficientStockLeavesCatalogUntouched(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 2)

	_, err := f.service().PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{
		{ProductID: "P1", Quantity: 5},
	})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, "Product P1", stockErr.ProductName)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 2, f.quantity(t, "P1"))
	assert.Empty(t, f.events(t))
}

func TestPlaceOrder_RejectsWholeRequestWhenOneLineIsShort(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	f.product(t, "P2", "2.00", 1)
	svc := f.service()

	_, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{
		{ProductID: "P1", Quantity: 3},
		{ProductID: "P2", Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 10, f.quantity(t, "P1"))
	assert.Equal(t, 1, f.quantity(t, "P2"))

	orders, err := svc.ListByCustomer(context.Background(), customer.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)

	_, err := f.service().PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P9", Quantity: 1},
	})

	var notFound *domain.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"P9"}, notFound.IDs)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, 10, f.quantity(t, "P1"))
	assert.Empty(t, f.events(t))
}

func TestPlaceOrder_UnknownCustomer(t *testing.T) {
	f := newFixture()
	f.product(t, "P1", "5.00", 10)

	_, err := f.service().PlaceOrder(context.Background(), "ghost", []domain.OrderLineRequest{
		{ProductID: "P1", Quantity: 1},
	})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.Equal(t, 10, f.quantity(t, "P1"))
	assert.Empty(t, f.events(t))
}

func TestPlaceOrder_ValidatesRequest(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	svc := f.service()

	tests := []struct {
		name       string
		customerID string
		lines      []domain.OrderLineRequest
		want       error
	}{
		{name: "missing customer", customerID: "", lines: []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}}, want: domain.ErrCustomerIDRequired},
		{name: "no lines", customerID: customer.ID, want: domain.ErrLinesRequired},
		{name: "zero quantity", customerID: customer.ID, lines: []domain.OrderLineRequest{{ProductID: "P1", Quantity: 0}}, want: domain.ErrLineQuantityInvalid},
		{name: "negative quantity", customerID: customer.ID, lines: []domain.OrderLineRequest{{ProductID: "P1", Quantity: -2}}, want: domain.ErrLineQuantityInvalid},
		{name: "blank product", customerID: customer.ID, lines: []domain.OrderLineRequest{{ProductID: " ", Quantity: 1}}, want: domain.ErrProductIDRequired},
		{
			name:       "duplicate product",
			customerID: customer.ID,
			lines:      []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}, {ProductID: "P1", Quantity: 2}},
			want:       domain.ErrDuplicateProduct,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), tt.customerID, tt.lines)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsValidationError(err))
		})
	}
	assert.Equal(t, 10, f.quantity(t, "P1"))
}

func TestPlaceOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "1.00", 5)
	svc := f.service()

	var (
		wg        sync.WaitGroup
		placed    atomic.Int64
		shortages atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}})
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortages.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), placed.Load())
	assert.Equal(t, int64(15), shortages.Load())
	assert.Equal(t, 0, f.quantity(t, "P1"))

	orders, err := svc.ListByCustomer(context.Background(), customer.ID, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 5)
}

type failingReservations struct {
	domain.ProductRepository
	err error
}

func (f failingReservations) ReserveStock(context.Context, []domain.StockReservation) error {
	return f.err
}

type failingOrders struct {
	domain.OrderRepository
	err error
}

func (f failingOrders) Create(context.Context, domain.Order) (domain.Order, error) {
	return domain.Order{}, f.err
}

func TestPlaceOrder_ReservationFailureRollsBackOrder(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	reg := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(reg)

	svc := NewService(f.customers, failingReservations{ProductRepository: f.products, err: errors.New("connection reset")},
		f.orders, f.outbox, f.store, testLogger(), WithMetrics(m), WithIDGenerator(sequentialIDs()))

	_, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}})

	var resErr *domain.ReservationError
	require.ErrorAs(t, err, &resErr)
	assert.ErrorIs(t, err, domain.ErrInventoryReservationFailed)
	assert.Equal(t, "id-1", resErr.OrderID)

	_, getErr := f.orders.Get(context.Background(), "id-1")
	assert.ErrorIs(t, getErr, domain.ErrOrderNotFound)
	assert.Empty(t, f.events(t))
	assert.Equal(t, 10, f.quantity(t, "P1"))
	assert.Equal(t, 0.0, counterTotal(t, reg, "storefront_order_reconciliation_required_total"))
}

func TestPlaceOrder_ReservationFailureWithoutTransactionFlagsReconciliation(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	reg := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(reg)

	svc := NewService(f.customers, failingReservations{ProductRepository: f.products, err: errors.New("timeout")},
		f.orders, f.outbox, nil, testLogger(), WithMetrics(m), WithIDGenerator(sequentialIDs()))

	_, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrInventoryReservationFailed)

	stored, getErr := f.orders.Get(context.Background(), "id-1")
	require.NoError(t, getErr)
	assert.Equal(t, customer.ID, stored.CustomerID)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderReconciliationRequired, events[0].EventType)

	var payload domain.ReconciliationPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "id-1", payload.OrderID)
	assert.Contains(t, payload.Reason, "timeout")

	assert.Equal(t, 1.0, counterTotal(t, reg, "storefront_order_reconciliation_required_total"))
}

func TestPlaceOrder_StockRaceWithoutTransactionReportsStoredOrder(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	reg := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(reg)

	stockErr := &domain.InsufficientStockError{ProductID: "P1", ProductName: "P1", Available: 0, Requested: 1}
	svc := NewService(f.customers, failingReservations{ProductRepository: f.products, err: stockErr},
		f.orders, f.outbox, nil, testLogger(), WithMetrics(m), WithIDGenerator(sequentialIDs()))

	_, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrInventoryReservationFailed)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	var resErr *domain.ReservationError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "id-1", resErr.OrderID)

	_, getErr := f.orders.Get(context.Background(), "id-1")
	require.NoError(t, getErr)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderReconciliationRequired, events[0].EventType)
	assert.Equal(t, 1.0, counterTotal(t, reg, "storefront_order_reconciliation_required_total"))
}

type cancellingReservations struct {
	domain.ProductRepository
	cancel context.CancelFunc
	err    error
}

func (c cancellingReservations) ReserveStock(context.Context, []domain.StockReservation) error {
	c.cancel()
	return c.err
}

type contextAwareOrders struct {
	domain.OrderRepository
}

func (o contextAwareOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return o.OrderRepository.Get(ctx, id)
}

type contextAwareOutbox struct {
	domain.OutboxRepository
}

func (o contextAwareOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}
	return o.OutboxRepository.Enqueue(ctx, msg)
}

func TestPlaceOrder_ReconciliationSurvivesCanceledRequest(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)
	reg := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	products := cancellingReservations{ProductRepository: f.products, cancel: cancel, err: errors.New("timeout")}
	svc := NewService(f.customers, products, contextAwareOrders{f.orders}, contextAwareOutbox{f.outbox}, nil,
		testLogger(), WithMetrics(m), WithIDGenerator(sequentialIDs()))

	_, err := svc.PlaceOrder(ctx, customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrInventoryReservationFailed)
	require.Error(t, ctx.Err())

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderReconciliationRequired, events[0].EventType)
	assert.Equal(t, 1.0, counterTotal(t, reg, "storefront_order_reconciliation_required_total"))
}

func TestPlaceOrder_PersistenceFailure(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)

	svc := NewService(f.customers, f.products, failingOrders{OrderRepository: f.orders, err: errors.New("disk full")},
		f.outbox, f.store, testLogger())

	_, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.False(t, domain.IsDomainError(err))
	assert.Equal(t, 10, f.quantity(t, "P1"))
}

func TestPlaceOrder_RecordsMetricsAndSpans(t *testing.T) {
	f := newFixture()
	customer := f.customer(t, "c1@example.com")
	f.product(t, "P1", "5.00", 10)

	reg := prometheus.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := f.service(
		WithMetrics(metrics.NewOrderMetricsWithRegisterer(reg)),
		WithTracer(provider.Tracer("test")),
		WithClock(func() time.Time { return fixed }),
	)

	order, err := svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, order.CreatedAt.Equal(fixed))

	_, err = svc.PlaceOrder(context.Background(), customer.ID, []domain.OrderLineRequest{{ProductID: "P1", Quantity: 50}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 1.0, counterTotal(t, reg, "storefront_orders_placed_total"))
	assert.Equal(t, 1.0, counterTotal(t, reg, "storefront_order_lines_total"))

	names := make(map[string]int)
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 2, names["ordering.PlaceOrder"])
	assert.Equal(t, 1, names["ordering.ReserveStock"])
	assert.Equal(t, 1, names["ordering.PersistOrder"])
	assert.Equal(t, 2, names["ordering.ResolveProducts"])
}

func TestListByCustomer_UnknownCustomer(t *testing.T) {
	f := newFixture()
	_, err := f.service().ListByCustomer(context.Background(), "ghost", 10)
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: domain.ErrLinesRequired, want: metrics.ReasonValidation},
		{err: domain.ErrCustomerNotFound, want: metrics.ReasonCustomerNotFound},
		{err: &domain.ProductNotFoundError{IDs: []string{"x"}}, want: metrics.ReasonProductNotFound},
		{err: &domain.InsufficientStockError{}, want: metrics.ReasonInsufficientStock},
		{err: &domain.ReservationError{OrderID: "o"}, want: metrics.ReasonReservation},
		{err: domain.PersistenceError("create order", errors.New("x")), want: metrics.ReasonPersistence},
		{err: errors.New("other"), want: metrics.ReasonInternal},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

// counterTotal суммирует значения счётчика name по всем labels.
func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
