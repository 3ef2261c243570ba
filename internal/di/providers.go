package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/wire"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"storefront-backend/internal/application/loaders"
	"storefront-backend/internal/config"
	"storefront-backend/internal/infrastructure/cache"
	"storefront-backend/internal/infrastructure/observability"
	"storefront-backend/internal/infrastructure/persistence/caching"
	"storefront-backend/internal/infrastructure/persistence/memory"
	"storefront-backend/internal/interfaces/http/rest"
	"storefront-backend/internal/repository"
)

const metricsNamespace = "storefront"

// ObservabilityProviders provides logging, metrics and tracing.
var ObservabilityProviders = wire.NewSet(
	ProvideLogging,
	ProvideLogger,
	ProvideCollector,
	ProvideTracing,
)

// CacheProviders provides both tiers, the loaders and the page cache.
var CacheProviders = wire.NewSet(
	ProvideCacheContext,
	ProvideDataLoaders,
	ProvidePaginationCache,
)

// PersistenceProviders provides the catalog store and its cache decorator.
var PersistenceProviders = wire.NewSet(
	ProvideCatalogStore,
	ProvideCatalogRepository,
	wire.Bind(new(rest.CatalogRepository), new(*caching.CatalogRepository)),
)

// InterfaceProviders provides the HTTP handlers and router.
var InterfaceProviders = wire.NewSet(
	rest.NewCacheHandler,
	rest.NewCatalogHandler,
	ProvideRouter,
	ProvideHTTPHandler,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ObservabilityProviders,
	CacheProviders,
	PersistenceProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

// ProvideLogging builds the process logger at the configured level.
func ProvideLogging(cfg *config.Config) (*Logging, error) {
	logger, level, err := observability.NewLogger(string(cfg.Environment), cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return &Logging{Logger: logger, Level: level}, nil
}

func ProvideLogger(l *Logging) *zap.Logger {
	return l.Logger
}

func ProvideCollector() *observability.Collector {
	return observability.NewCollector(metricsNamespace)
}

// ProvideTracing exports spans over OTLP when tracing is enabled and falls
// back to a no-op tracer otherwise.
func ProvideTracing(cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	if !cfg.Tracing.Enabled {
		return observability.NoopTracing(cfg.Tracing.ServiceName), func() {}, nil
	}
	tp, err := observability.InitTracing(cfg.Tracing.ServiceName, string(cfg.Environment), cfg.Tracing.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// CacheContextConfig maps the service configuration onto the cache tiers.
func CacheContextConfig(cfg *config.Config) cache.ContextConfig {
	c := cfg.Cache
	return cache.ContextConfig{
		Local: cache.MemoryCacheConfig{
			MaxBytes:      c.Local.MaxBytes,
			SweepInterval: c.Local.SweepInterval,
		},
		Remote: cache.RemoteConfig{
			Host:           c.Redis.Host,
			Port:           c.Redis.Port,
			Username:       c.Redis.Username,
			Password:       c.Redis.Password,
			DB:             c.Redis.DB,
			ConnectTimeout: c.Redis.ConnectTimeout,
			OpTimeout:      c.Redis.OpTimeout,
			HealthInterval: c.Redis.HealthInterval,
			KeyPrefix:      c.KeyPrefix,
		},
		RemoteEnabled: c.Redis.Enabled,
		Orchestrator: cache.OrchestratorConfig{
			Dedupe:      c.Dedupe,
			LocalMaxTTL: c.Local.MaxTTL,
		},
		StatsReportInterval: c.StatsReportInterval,
	}
}

// ProvideCacheContext builds the cache tiers. They are not connected until
// Container.Start; the cleanup stops them.
func ProvideCacheContext(cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) (*cache.CacheContext, func()) {
	cc := cache.NewCacheContext(CacheContextConfig(cfg), cache.NewDefaultRegistry(), metrics, logger)
	metrics.TrackLocalUsage(cc.Local.Usage)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := cc.Stop(ctx); err != nil {
			logger.Warn("Cache shutdown failed", zap.Error(err))
		}
	}
	return cc, cleanup
}

// ProvideCatalogStore creates the in-memory catalog, seeded when configured.
func ProvideCatalogStore(ctx context.Context, cfg *config.Config) (*memory.CatalogStore, error) {
	store := memory.NewCatalogStore()
	if cfg.Cache.SeedProducts > 0 {
		if err := memory.Seed(ctx, store, cfg.Cache.SeedProducts); err != nil {
			return nil, fmt.Errorf("failed to seed catalog: %w", err)
		}
	}
	return store, nil
}

func ProvideDataLoaders(
	store *memory.CatalogStore,
	cc *cache.CacheContext,
	metrics *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *loaders.DataLoaderService {
	return loaders.NewDataLoaderService(store, store, store, store, cc.Orchestrator, metrics, loaders.Config{
		BatchWindow:  cfg.Cache.Batch.Window,
		MaxBatchSize: cfg.Cache.Batch.MaxBatchSize,
		MemoSize:     cfg.Cache.Batch.MemoSize,
	}, logger)
}

func ProvidePaginationCache(
	cc *cache.CacheContext,
	metrics *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *repository.PaginationCache {
	return repository.NewPaginationCache(cc.Orchestrator, repository.PaginationConfig{
		DefaultLimit:       cfg.Cache.Pagination.DefaultLimit,
		MaxLimit:           cfg.Cache.Pagination.MaxLimit,
		SlowQueryThreshold: cfg.Cache.Pagination.SlowQuery,
	}, metrics, logger)
}

func ProvideCatalogRepository(
	store *memory.CatalogStore,
	cc *cache.CacheContext,
	pages *repository.PaginationCache,
	dl *loaders.DataLoaderService,
	logger *zap.Logger,
) *caching.CatalogRepository {
	return caching.NewCatalogRepository(store, cc.Orchestrator, pages, dl, logger)
}

// ProvideRouter mounts the metrics endpoint only when metrics are enabled.
func ProvideRouter(
	cacheHandler *rest.CacheHandler,
	catalogHandler *rest.CatalogHandler,
	metrics *observability.Collector,
	tp *observability.TracerProvider,
	cfg *config.Config,
	logger *zap.Logger,
) *rest.Router {
	rc := rest.RouterConfig{AllowedOrigins: cfg.Server.AllowedOrigins}
	if cfg.Metrics.Enabled {
		rc.MetricsPath = cfg.Metrics.Path
		rc.MetricsHandler = metrics.Handler()
	}
	var tracer trace.Tracer
	if cfg.Tracing.Enabled {
		tracer = tp.Tracer()
	}
	return rest.NewRouter(cacheHandler, catalogHandler, metrics, tracer, rc, logger)
}

func ProvideHTTPHandler(router *rest.Router) http.Handler {
	return router.Setup()
}
