// Package ordering реализует оформление заказа: проверку клиента и товаров,
// фиксацию цен в позициях, сохранение заказа и списание остатков в одной единице работы.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/storefront/internal/service/ordering"

// Service оформляет заказы и отдаёт их на чтение.
type Service struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	uow       domain.UnitOfWork

	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics включает prometheus-метрики оформления заказов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer задаёт tracer; по умолчанию используется глобальный provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов и позиций.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService создаёт сервис оформления заказов.
// outbox может быть nil, тогда события не пишутся.
// Без uow шаги выполняются без транзакции, и сбой списания остатков
// может оставить сохранённый заказ; такие заказы помечаются для сверки.
func NewService(
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	uow domain.UnitOfWork,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "ordering")
	}
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	s := &Service{
		customers: customers,
		products:  products,
		orders:    orders,
		outbox:    outbox,
		uow:       uow,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder оформляет заказ клиента на перечисленные позиции.
// Либо заказ сохранён и остатки всех товаров уменьшены, либо возвращается ошибка
// и каталог не изменён. Исключение: *domain.ReservationError при хранилище
// без транзакций: тогда заказ помечается событием order.reconciliation_required.
func (s *Service) PlaceOrder(ctx context.Context, customerID string, lines []domain.OrderLineRequest) (order domain.Order, err error) {
	started := time.Now()
	s.metrics.RecordPlacementStarted()

	ctx, span := s.tracer.Start(ctx, "ordering.PlaceOrder", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.Int("order.lines", len(lines)),
	))
	defer func() {
		s.metrics.RecordPlacementFinished(time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.RecordOrderFailed(failureReason(err))
		} else {
			span.SetAttributes(attribute.String("order.id", order.ID))
			s.metrics.RecordOrderPlaced(len(order.Lines))
		}
		span.End()
	}()

	if err := domain.ValidateLineRequests(customerID, lines); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	draft := domain.Order{
		ID:         s.newID(),
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	logger := s.logger.WithFields(log.Fields{
		"order_id":    draft.ID,
		"customer_id": customerID,
	})

	// Ошибка списания после сохранения заказа: нужна для сверки, если откат невозможен.
	var reservationFailure error

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		customer, err := s.findCustomer(ctx, customerID)
		if err != nil {
			return err
		}

		products, err := s.resolveProducts(ctx, lines)
		if err != nil {
			return err
		}

		orderLines, reservations, err := s.buildLines(lines, products, now)
		if err != nil {
			return err
		}
		draft.Lines = orderLines

		created, err := s.persist(ctx, draft)
		if err != nil {
			return err
		}

		if err := s.reserve(ctx, created.ID, reservations); err != nil {
			reservationFailure = err
			return err
		}

		if err := s.enqueuePlaced(ctx, created); err != nil {
			return err
		}

		created.Customer = customer
		order = created
		return nil
	})
	if err != nil {
		if reservationFailure != nil && s.reconcile(context.WithoutCancel(ctx), logger, draft, reservationFailure) {
			var resErr *domain.ReservationError
			if !errors.As(err, &resErr) {
				err = &domain.ReservationError{OrderID: draft.ID, Err: reservationFailure}
			}
		}
		s.logFailure(logger, err)
		return domain.Order{}, err
	}

	logger.WithFields(log.Fields{
		"lines": len(order.Lines),
		"total": order.Total().StringFixed(domain.PriceScale),
	}).Info("order placed")
	return order, nil
}

// Get возвращает заказ с позициями и клиентом.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	return order, nil
}

// ListByCustomer возвращает заказы существующего клиента, новые первыми.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.ListByCustomer", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	if _, err := s.findCustomer(ctx, customerID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	orders, err := s.orders.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *Service) findCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	var customer domain.Customer
	err := s.step(ctx, "FindCustomer", func(ctx context.Context) error {
		found, err := s.customers.FindByID(ctx, customerID)
		if err != nil {
			if errors.Is(err, domain.ErrCustomerNotFound) {
				return err
			}
			return fmt.Errorf("find customer: %w", err)
		}
		customer = found
		return nil
	})
	return customer, err
}

// resolveProducts загружает товары одним запросом и проверяет наличие каждого идентификатора.
func (s *Service) resolveProducts(ctx context.Context, lines []domain.OrderLineRequest) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	byID := make(map[string]domain.Product, len(ids))
	err := s.step(ctx, "ResolveProducts", func(ctx context.Context) error {
		found, err := s.products.FindAllByID(ctx, ids)
		if err != nil {
			return fmt.Errorf("find products: %w", err)
		}
		for _, product := range found {
			byID[product.ID] = product
		}

		var missing []string
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return &domain.ProductNotFoundError{IDs: missing}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return byID, nil
}

// buildLines проверяет остатки в порядке запроса и фиксирует текущие цены.
func (s *Service) buildLines(
	lines []domain.OrderLineRequest,
	products map[string]domain.Product,
	now time.Time,
) ([]domain.OrderLine, []domain.StockReservation, error) {
	orderLines := make([]domain.OrderLine, 0, len(lines))
	reservations := make([]domain.StockReservation, 0, len(lines))

	for _, line := range lines {
		product := products[line.ProductID]
		if product.Quantity < line.Quantity {
			return nil, nil, &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   line.Quantity,
			}
		}
		orderLines = append(orderLines, domain.OrderLine{
			ID:        s.newID(),
			ProductID: product.ID,
			Price:     product.Price,
			Quantity:  line.Quantity,
			CreatedAt: now,
		})
		reservations = append(reservations, domain.StockReservation{
			ProductID: product.ID,
			Quantity:  line.Quantity,
		})
	}
	return orderLines, reservations, nil
}

func (s *Service) persist(ctx context.Context, order domain.Order) (domain.Order, error) {
	var created domain.Order
	err := s.step(ctx, "PersistOrder", func(ctx context.Context) error {
		stored, err := s.orders.Create(ctx, order)
		if err != nil {
			if domain.IsDomainError(err) {
				return err
			}
			return domain.PersistenceError("create order", err)
		}
		created = stored
		return nil
	})
	return created, err
}

// reserve применяет списания. Нехватка остатка на этом шаге означает, что остаток
// изменился после проверки; такая ошибка возвращается как есть, а если заказ
// после неё остался в хранилище, PlaceOrder оборачивает её в ReservationError.
func (s *Service) reserve(ctx context.Context, orderID string, reservations []domain.StockReservation) error {
	return s.step(ctx, "ReserveStock", func(ctx context.Context) error {
		err := s.products.ReserveStock(ctx, reservations)
		if err == nil {
			return nil
		}
		var stockErr *domain.InsufficientStockError
		var notFoundErr *domain.ProductNotFoundError
		if errors.As(err, &stockErr) || errors.As(err, &notFoundErr) {
			return err
		}
		return &domain.ReservationError{OrderID: orderID, Err: err}
	})
}

func (s *Service) enqueuePlaced(ctx context.Context, order domain.Order) error {
	if s.outbox == nil {
		return nil
	}
	return s.step(ctx, "EnqueueOrderPlaced", func(ctx context.Context) error {
		msg, err := domain.NewOrderPlacedMessage(order)
		if err != nil {
			return fmt.Errorf("encode order.placed: %w", err)
		}
		if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
			return domain.PersistenceError("enqueue order.placed", err)
		}
		s.metrics.RecordOutboxEvent()
		return nil
	})
}

// reconcile помечает заказ, оставшийся в хранилище после неудачного списания,
// и сообщает, найден ли он. При транзакционном хранилище заказ уже откатан.
// ctx не должен быть отменяемым: сверка выполняется и после отмены запроса.
func (s *Service) reconcile(ctx context.Context, logger *log.Entry, draft domain.Order, cause error) bool {
	if _, err := s.orders.Get(ctx, draft.ID); err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			logger.WithError(err).Warn("failed to check order after reservation failure")
		}
		return false
	}

	logger.WithError(cause).Error("order persisted without stock reservation, reconciliation required")
	s.metrics.RecordReconciliationRequired()

	if s.outbox == nil {
		return true
	}
	msg, err := domain.NewReconciliationMessage(draft, cause, s.now())
	if err != nil {
		logger.WithError(err).Error("failed to encode reconciliation event")
		return true
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		logger.WithError(err).Error("failed to enqueue reconciliation event")
		return true
	}
	s.metrics.RecordOutboxEvent()
	return true
}

func (s *Service) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ordering."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Service) logFailure(logger *log.Entry, err error) {
	switch {
	case domain.IsValidationError(err):
		logger.WithError(err).Debug("order request rejected")
	case domain.IsDomainError(err):
		logger.WithError(err).Info("order rejected")
	default:
		logger.WithError(err).Error("order placement failed")
	}
}

func failureReason(err error) string {
	switch {
	case domain.IsValidationError(err):
		return metrics.ReasonValidation
	case errors.Is(err, domain.ErrCustomerNotFound):
		return metrics.ReasonCustomerNotFound
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ReasonProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ReasonInsufficientStock
	case errors.Is(err, domain.ErrInventoryReservationFailed):
		return metrics.ReasonReservation
	case errors.Is(err, domain.ErrPersistence):
		return metrics.ReasonPersistence
	default:
		return metrics.ReasonInternal
	}
}

// noopUnitOfWork выполняет шаги без транзакции.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
