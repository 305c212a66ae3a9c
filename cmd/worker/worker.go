package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/certificate"
	"github.com/gridcert/issuance-worker/internal/config"
	"github.com/gridcert/issuance-worker/internal/contract"
	"github.com/gridcert/issuance-worker/internal/correlation"
	"github.com/gridcert/issuance-worker/internal/db"
	"github.com/gridcert/issuance-worker/internal/issuance"
	"github.com/gridcert/issuance-worker/internal/issuer"
	"github.com/gridcert/issuance-worker/internal/measurement"
	"github.com/gridcert/issuance-worker/internal/metrics"
	"github.com/gridcert/issuance-worker/internal/mq"
	"github.com/gridcert/issuance-worker/internal/relation"
	"github.com/gridcert/issuance-worker/internal/scheduler"
	"github.com/gridcert/issuance-worker/internal/syncsvc"
	"github.com/gridcert/issuance-worker/internal/window"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	resolver *correlation.Resolver,
	sched *scheduler.Scheduler,
) (*mq.Consumer, error) {
	// Context for the consumer and scheduler, cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.ConfirmationQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.ConfirmationExchange,
		RoutingKey:       cfg.RabbitMQ.ConfirmationRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: resolver.HandleMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting confirmation consumer",
				zap.String("queue", cfg.RabbitMQ.ConfirmationQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			if err := consumer.Start(ctx); err != nil {
				return err
			}

			go func() {
				defer close(done)
				sched.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				logger.Warn("scheduler did not stop before shutdown deadline")
			}
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideMetrics registers the worker metrics on the default registry
func ProvideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideContractSource creates the metering point source
func ProvideContractSource(pool *pgxpool.Pool) *contract.PostgresSource {
	return contract.NewPostgresSource(pool)
}

// ProvideWindowStore creates the sliding window store
func ProvideWindowStore(pool *pgxpool.Pool) *window.PostgresStore {
	return window.NewPostgresStore(pool)
}

// ProvideCertificateStore creates the certificate store
func ProvideCertificateStore(pool *pgxpool.Pool) *certificate.PostgresStore {
	return certificate.NewPostgresStore(pool)
}

// ProvideLedger creates the issuance request ledger
func ProvideLedger(pool *pgxpool.Pool, windows *window.PostgresStore) *issuance.PostgresLedger {
	return issuance.NewPostgresLedger(pool, windows)
}

// ProvideRelationClient creates the customer-relation registry client
func ProvideRelationClient(cfg *config.Config) *relation.Client {
	return relation.NewClient(cfg.Registry.BaseURL, cfg.Registry.Timeout)
}

// ProvideMeasurementClient creates the measurement source client
func ProvideMeasurementClient(cfg *config.Config) *measurement.Client {
	return measurement.NewClient(cfg.Measurement.BaseURL, cfg.Measurement.Timeout)
}

// ProvideCorrelationCache creates the command correlation cache
func ProvideCorrelationCache() *correlation.Cache {
	return correlation.NewCache()
}

// ProvideResolver creates the confirmation resolver
func ProvideResolver(
	cache *correlation.Cache,
	certificates *certificate.PostgresStore,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *correlation.Resolver {
	return correlation.NewResolver(
		cache,
		certificates,
		cfg.Correlation.LookupAttempts,
		cfg.Correlation.LookupDelay,
		logger,
		m,
	)
}

// ProvidePublisher creates the registry command publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.CommandExchange, cfg.RabbitMQ.CommandRoutingKey, logger)
}

// ProvideDispatcher creates the issuance command dispatcher
func ProvideDispatcher(
	ledger *issuance.PostgresLedger,
	certificates *certificate.PostgresStore,
	resolver *correlation.Resolver,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *issuer.Dispatcher {
	return issuer.NewDispatcher(ledger, certificates, resolver, publisher, cfg.Sync.DispatchBatch, logger, m)
}

// ProvideSynchronizer creates the measurement synchronizer
func ProvideSynchronizer(
	points *contract.PostgresSource,
	windows *window.PostgresStore,
	validator *relation.Client,
	measurements *measurement.Client,
	ledger *issuance.PostgresLedger,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *syncsvc.Synchronizer {
	return syncsvc.New(points, windows, validator, measurements, ledger, syncsvc.Options{
		MinimumAge:  time.Duration(cfg.Sync.MinimumAgeHours) * time.Hour,
		CatchUp:     cfg.Sync.CatchUp,
		Parallelism: cfg.Sync.Parallelism,
	}, logger, m)
}

// ProvideScheduler creates the scheduler driving the pipeline. One tick
// synchronizes all active metering points, then dispatches the resulting
// pending requests to the registry.
func ProvideScheduler(
	sync *syncsvc.Synchronizer,
	dispatcher *issuer.Dispatcher,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *scheduler.Scheduler {
	tick := func(ctx context.Context) {
		if err := sync.SyncAll(ctx); err != nil {
			logger.Error("synchronization pass failed", zap.Error(err))
		}
		if err := dispatcher.DispatchPending(ctx); err != nil {
			logger.Error("dispatch pass failed", zap.Error(err))
		}
	}

	return scheduler.New(tick, scheduler.Options{
		Mode:     cfg.Scheduler.Mode,
		Interval: cfg.Scheduler.Interval,
	}, logger, m)
}
