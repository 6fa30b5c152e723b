package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultSweepInterval   = 10 * time.Minute
	defaultSweepBatchSize  = 500
	defaultSweepMaxBatches = 20
)

type sweeperMetrics struct {
	runs        *prometheus.CounterVec
	removed     prometheus.Counter
	lastRemoved prometheus.Gauge
	duration    prometheus.Histogram
}

func newSweeperMetrics(registerer prometheus.Registerer) *sweeperMetrics {
	factory := promauto.With(registerer)
	return &sweeperMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_idempotency_sweep_runs_total",
			Help: "Idempotency key sweeps by outcome (ok, backlog, error)",
		}, []string{"result"}),
		removed: factory.NewCounter(prometheus.CounterOpts{
			Name: "storefront_idempotency_keys_removed_total",
			Help: "Expired Idempotency-Key records removed from storage",
		}),
		lastRemoved: factory.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_idempotency_sweep_last_removed",
			Help: "Records removed by the most recent sweep",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_idempotency_sweep_duration_seconds",
			Help:    "Duration of a single idempotency key sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

var defaultSweeperMetrics = newSweeperMetrics(prometheus.DefaultRegisterer)

// SweepReport описывает результат одного прохода очистки.
type SweepReport struct {
	Cutoff  time.Time
	Removed int
	Batches int
	// Backlog выставляется, когда проход упёрся в лимит пачек и просроченные ключи могли остаться.
	Backlog bool
	Took    time.Duration
}

// KeySweeper удаляет просроченные записи Idempotency-Key, чтобы таблица ключей не росла бесконечно.
type KeySweeper struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *sweeperMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	clock      func() time.Time
}

// SweeperOption настраивает KeySweeper.
type SweeperOption func(*KeySweeper)

func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(s *KeySweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *KeySweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSweepBatchSize(size int) SweeperOption {
	return func(s *KeySweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSweepMaxBatches ограничивает число пачек за проход; остаток дочищается следующим тиком.
func WithSweepMaxBatches(limit int) SweeperOption {
	return func(s *KeySweeper) {
		if limit > 0 {
			s.maxBatches = limit
		}
	}
}

func WithSweepClock(clock func() time.Time) SweeperOption {
	return func(s *KeySweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSweepRegisterer регистрирует метрики очистки в отдельном registerer (для тестов).
func WithSweepRegisterer(registerer prometheus.Registerer) SweeperOption {
	return func(s *KeySweeper) {
		if registerer != nil {
			s.metrics = newSweeperMetrics(registerer)
		}
	}
}

// NewKeySweeper создаёт очистку ключей поверх репозитория идемпотентности.
func NewKeySweeper(repo domain.IdempotencyRepository, options ...SweeperOption) *KeySweeper {
	s := &KeySweeper{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-sweeper"),
		metrics:    defaultSweeperMetrics,
		interval:   defaultSweepInterval,
		batchSize:  defaultSweepBatchSize,
		maxBatches: defaultSweepMaxBatches,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Run чистит ключи сразу и затем каждые interval, пока ctx не отменён.
func (s *KeySweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper disabled: no repository configured")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		report, err := s.Sweep(ctx, time.Time{})
		s.observe(report, err)
		timer.Reset(s.interval)
	}
}

func (s *KeySweeper) observe(report SweepReport, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	entry := s.logger.WithFields(log.Fields{
		"cutoff":  report.Cutoff.Format(time.RFC3339),
		"removed": report.Removed,
		"batches": report.Batches,
		"took_ms": report.Took.Milliseconds(),
	})
	switch {
	case err != nil:
		s.metrics.runs.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("idempotency key sweep failed")
	case report.Backlog:
		s.metrics.runs.WithLabelValues("backlog").Inc()
		entry.Warn("idempotency key sweep hit batch limit, expired keys may remain")
	default:
		s.metrics.runs.WithLabelValues("ok").Inc()
		if report.Removed > 0 {
			entry.Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет ключи с ttl не позже cutoff (нулевой cutoff означает «сейчас»)
// пачками по batchSize, но не более maxBatches пачек за вызов.
func (s *KeySweeper) Sweep(ctx context.Context, cutoff time.Time) (report SweepReport, err error) {
	started := time.Now()
	if cutoff.IsZero() {
		cutoff = s.clock()
	}
	report = SweepReport{Cutoff: cutoff}
	defer func() {
		report.Took = time.Since(started)
		s.metrics.duration.Observe(report.Took.Seconds())
		s.metrics.lastRemoved.Set(float64(report.Removed))
	}()

	for report.Batches < s.maxBatches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		removed, deleteErr := s.repo.DeleteExpired(ctx, cutoff, s.batchSize)
		if deleteErr != nil {
			return report, deleteErr
		}
		report.Batches++
		report.Removed += removed
		s.metrics.removed.Add(float64(removed))

		if removed < s.batchSize {
			return report, nil
		}
	}

	report.Backlog = true
	return report, nil
}
