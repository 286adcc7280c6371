// Package bootstrap wires internal/config's RuntimeConfig into a concrete
// storage.Facade, shared by cmd/hub-server and cmd/worker so both binaries
// connect to Postgres/MinIO/MongoDB (or, in dev mode, in-memory stores)
// the same way.
package bootstrap

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskhub/internal/config"
	huberrors "taskhub/internal/errors"
	"taskhub/internal/logging"
	"taskhub/internal/storage"
	"taskhub/internal/storage/inmemory"
	logstorepkg "taskhub/internal/storage/logstore"
	"taskhub/internal/storage/objectstore"
	"taskhub/internal/storage/postgres"
)

// initTracing installs the process-wide tracer provider the executor adapter
// and API middleware emit spans through. Without an exporter configured the
// spans stay in-process; deployments attach one via the standard OTEL env
// variables.
func initTracing(serviceName string) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Closer releases every resource Build opened.
type Closer func()

// Build connects to every concrete store named in cfg and composes them
// into a storage.Facade, applying the resilience decorators (retry +
// circuit breaker + Prometheus observation on the object store). dev, when
// true, swaps every concrete store for its
// in-memory/in-process equivalent so the hub and workers can run without
// Postgres/MinIO/MongoDB present, useful for local iteration and for the
// test suite's end-to-end scenarios.
func Build(ctx context.Context, cfg config.RuntimeConfig, dev bool) (*storage.Facade, Closer, error) {
	log := logging.NewComponentLogger("bootstrap")
	shutdownTracing := initTracing("taskhub")

	if dev {
		facade := storage.New(inmemory.NewStore(), objectstore.NewInMemoryStore("http://localhost"+cfg.HubHTTPAddr), logstorepkg.NewInMemoryStore(), defaultPresignTTL(cfg))
		return facade, func() { _ = shutdownTracing(context.Background()) }, nil
	}

	closers := []func(){func() { _ = shutdownTracing(context.Background()) }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, huberrors.NewStorageUnavailable(err, "connecting to postgres")
	}
	closers = append(closers, pool.Close)

	taskStore := postgres.NewStore(pool)

	var objects objectstore.Store
	minioStore, err := objectstore.NewMinIOStore(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOSecure)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	observed := objectstore.NewObservedStore(minioStore, objectstore.NewPrometheusObserver(prometheus.DefaultRegisterer))
	retrying := objectstore.NewRetryingStore(observed, objectstore.DefaultBackOff)
	objects = objectstore.NewCircuitStore(retrying, huberrors.NewCircuitBreaker("minio", huberrors.DefaultCircuitBreakerConfig()))

	var logs logstorepkg.Store
	mongoLogs, err := logstorepkg.NewMongoStore(ctx, cfg.MongoDBURL, "taskhub", "agent_logs")
	if err != nil {
		log.Warn("log store unavailable, diagnostics will be dropped: %v", err)
	} else {
		logs = mongoLogs
	}

	facade := storage.New(taskStore, objects, logs, defaultPresignTTL(cfg))
	if err := facade.EnsureReady(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}

	return facade, closeAll, nil
}

func defaultPresignTTL(cfg config.RuntimeConfig) time.Duration {
	return 15 * time.Minute
}
