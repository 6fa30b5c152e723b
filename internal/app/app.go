package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/customers"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	serviceName     = "storefront"
	shutdownTimeout = 5 * time.Second
)

// Run поднимает HTTP API, ops HTTP (метрики, health), gRPC health и фоновые воркеры
// и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	tracerProvider, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Exporter:    cfg.TracingExporter,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracer shutdown with error")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer deps.close(logger)

	publishers, err := initKafkaPublishers(cfg, logger.WithField("layer", "kafka"))
	if err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	defer closeKafka(publishers.producer, logger)

	orderingSvc := ordering.NewService(
		deps.customers,
		deps.products,
		deps.orders,
		deps.outboxRepo,
		deps.uow,
		logger.WithField("layer", "ordering"),
		ordering.WithMetrics(metrics.NewOrderMetrics()),
		ordering.WithTracer(tracerProvider.Tracer(serviceName+"/ordering")),
	)
	router := httpapi.NewRouter(httpapi.Dependencies{
		Customers: customers.NewService(deps.customers, logger.WithField("layer", "customers")),
		Catalog:   catalog.NewService(deps.products, logger.WithField("layer", "catalog")),
		Orders:    orderingSvc,
		Idempotency: idempotency.NewGuard(deps.idempotencyRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
		),
		Tracer:         tracerProvider.Tracer(serviceName + "/http"),
		Logger:         logger.WithField("layer", "http"),
		RequestTimeout: cfg.RequestTimeout,
	})

	healthHandler := newHealthHandler(cfg, deps)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, publishers, logger)

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopWorkers()
		workers.Wait()
		return fmt.Errorf("listen grpc: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	stopWorkers()
	workers.Wait()
	shutdownHTTP(metricsSrv, logger)
	return runErr
}

// newHealthHandler регистрирует проверки хранилищ и backlog outbox.
func newHealthHandler(cfg Config, deps *runtimeDependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		handler.RegisterChecker(name, checker)
	}
	if cfg.OutboxMaxPending > 0 {
		handler.RegisterChecker("outbox_backlog", healthcheck.NewThresholdChecker(
			"outbox_backlog",
			float64(cfg.OutboxMaxPending),
			func(ctx context.Context) (float64, error) {
				stats, err := deps.outboxRepo.Stats(ctx)
				if err != nil {
					return 0, err
				}
				return float64(stats.PendingCount), nil
			},
		))
	}
	return handler
}

// startWorkers запускает outbox worker и очистку ключей идемпотентности.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *runtimeDependencies,
	publishers eventPublishers,
	logger *log.Entry,
) {
	outboxWorker := outbox.NewWorker(deps.outboxRepo, publishers.events,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(publishers.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	keySweeper := idempotency.NewKeySweeper(deps.idempotencyRepo,
		idempotency.WithSweepLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithSweepInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithSweepBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		keySweeper.Run(ctx)
	}()
}

// newGRPCServer создаёт gRPC сервер со стандартным health-сервисом, reflection и метриками.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных RPC, но не дольше shutdownTimeout.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает ops HTTP сервер: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
