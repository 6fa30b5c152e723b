package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа в оформлении заказа (значения label reason).
const (
	ReasonValidation        = "validation"
	ReasonCustomerNotFound  = "customer_not_found"
	ReasonProductNotFound   = "product_not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonPersistence       = "persistence"
	ReasonReservation       = "reservation"
	ReasonInternal          = "internal"
)

// OrderMetrics содержит метрики оформления заказов.
type OrderMetrics struct {
	ordersPlaced   prometheus.Counter
	orderFailures  *prometheus.CounterVec
	reconciliation prometheus.Counter
	orderLines     prometheus.Counter
	outboxEvents   prometheus.Counter

	placementDuration prometheus.Histogram

	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		orderFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_failures_total",
			Help: "Total number of rejected order placements by reason",
		}, []string{"reason"}),
		reconciliation: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_order_reconciliation_required_total",
			Help: "Orders persisted without a matching stock reservation",
		}),
		orderLines: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_order_lines_total",
			Help: "Total number of order lines in placed orders",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_enqueued_total",
			Help: "Total number of domain events written to the outbox",
		}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_placement_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_order_placements_in_flight",
			Help: "Number of order placements currently in progress",
		}),
	}
}

// RecordPlacementStarted увеличивает количество оформляемых заказов.
func (m *OrderMetrics) RecordPlacementStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordPlacementFinished уменьшает количество оформляемых заказов и пишет длительность.
func (m *OrderMetrics) RecordPlacementFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.placementDuration.Observe(duration.Seconds())
}

// RecordOrderPlaced учитывает успешно оформленный заказ.
func (m *OrderMetrics) RecordOrderPlaced(lines int) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.orderLines.Add(float64(lines))
}

// RecordOrderFailed учитывает отказ с причиной reason.
func (m *OrderMetrics) RecordOrderFailed(reason string) {
	if m == nil {
		return
	}
	m.orderFailures.WithLabelValues(reason).Inc()
}

// RecordReconciliationRequired учитывает заказ, требующий ручной сверки остатков.
func (m *OrderMetrics) RecordReconciliationRequired() {
	if m == nil {
		return
	}
	m.reconciliation.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
