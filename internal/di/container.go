// Package di wires the storefront cache service together with Wire.
package di

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"storefront-backend/internal/application/loaders"
	"storefront-backend/internal/config"
	"storefront-backend/internal/infrastructure/cache"
	"storefront-backend/internal/infrastructure/observability"
	"storefront-backend/internal/infrastructure/persistence/caching"
	"storefront-backend/internal/infrastructure/persistence/memory"
	"storefront-backend/internal/repository"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logging    *Logging
	Logger     *zap.Logger
	Metrics    *observability.Collector
	Tracing    *observability.TracerProvider
	Cache      *cache.CacheContext
	Store      *memory.CatalogStore
	Loaders    *loaders.DataLoaderService
	Pages      *repository.PaginationCache
	Repository *caching.CatalogRepository
	Handler    http.Handler
}

// Logging is the process logger together with its adjustable level.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// Start connects the cache tiers and starts their background tasks.
func (c *Container) Start(ctx context.Context) {
	c.Cache.Start(ctx)
}
