// Package caching decorates the catalog store with the cache layer: reads go
// through the orchestrator and writes invalidate every cached view of the
// changed entity.
package caching

import (
	"context"

	"go.uber.org/zap"

	"storefront-backend/internal/domain/catalog"
	"storefront-backend/internal/infrastructure/cache"
	"storefront-backend/internal/repository"
)

// Store is the persistence surface the decorator wraps.
type Store interface {
	GetProduct(ctx context.Context, id string) (catalog.Product, bool, error)
	UpsertProduct(ctx context.Context, p catalog.Product) error
	DeleteProduct(ctx context.Context, id string) error
	UpsertCategory(ctx context.Context, c catalog.Category) error
	UpsertUser(ctx context.Context, u catalog.User) error
	AddReview(ctx context.Context, r catalog.Review) error
	Products(filter catalog.ProductFilter) repository.Query[catalog.Product]
}

// LoaderInvalidator drops memoized batch-loader results.
type LoaderInvalidator interface {
	Clear(dataType, id string) error
}

// CatalogRepository is a cache-aside decorator around Store.
//
// Reads:
//   - GetProduct: L1 → L2 → store, found products cached with the products strategy
//   - ListProducts: PaginationCache keyed by the filter, page window and sort
//
// Writes hit the store first. Only after a successful write are the entity
// key, every batch key containing the id and the listing pages dropped.
// Invalidation is best effort; a failed write leaves the cache untouched.
type CatalogRepository struct {
	inner   Store
	orch    *cache.Orchestrator
	pages   *repository.PaginationCache
	loaders LoaderInvalidator
	logger  *zap.Logger
}

// NewCatalogRepository creates the decorator. loaders may be nil; a nil pages
// runs every listing against the store.
func NewCatalogRepository(
	inner Store,
	orch *cache.Orchestrator,
	pages *repository.PaginationCache,
	loaders LoaderInvalidator,
	logger *zap.Logger,
) *CatalogRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pages == nil {
		pages = repository.NewPaginationCache(nil, repository.PaginationConfig{}, nil, logger)
	}
	return &CatalogRepository{
		inner:   inner,
		orch:    orch,
		pages:   pages,
		loaders: loaders,
		logger:  logger.With(zap.String("component", "catalog_repository")),
	}
}

// GetProduct returns the product with id. found is false when it does not
// exist; absence is not cached.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (catalog.Product, bool, error) {
	fetch := func(ctx context.Context) (catalog.Product, bool, error) {
		return r.inner.GetProduct(ctx, id)
	}
	p, found, err := cache.Get(ctx, r.orch, cache.TypeProducts, id, fetch)
	if err != nil || !found {
		return p, found, err
	}

	if r.orch.ShouldRefresh(cache.TypeProducts, id) {
		go r.refreshProduct(context.WithoutCancel(ctx), id)
	}
	return p, true, nil
}

// refreshProduct reloads a product whose cached copy is close to expiry.
func (r *CatalogRepository) refreshProduct(ctx context.Context, id string) {
	p, found, err := r.inner.GetProduct(ctx, id)
	if err != nil {
		r.logger.Warn("Background refresh failed", zap.String("id", id), zap.Error(err))
		return
	}
	if !found {
		r.orch.Delete(ctx, cache.TypeProducts, id)
		return
	}
	if err := cache.Set(ctx, r.orch, cache.TypeProducts, id, p); err != nil {
		r.logger.Warn("Background refresh not cached", zap.String("id", id), zap.Error(err))
	}
}

// ListProducts returns one page of products matching filter.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter catalog.ProductFilter, opts repository.PageOptions) (*repository.PaginatedResult[catalog.Product], error) {
	return repository.Paginate(ctx, r.pages, r.inner.Products(filter), opts)
}

// UpsertProduct writes p and invalidates its cached views.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if err := r.inner.UpsertProduct(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx, cache.TypeProducts, p.ID)
	r.invalidatePages(ctx)
	return nil
}

// DeleteProduct removes a product and its reviews from the store and the cache.
func (r *CatalogRepository) DeleteProduct(ctx context.Context, id string) error {
	if err := r.inner.DeleteProduct(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, cache.TypeProducts, id)
	r.invalidate(ctx, cache.TypeReviews, id)
	r.invalidatePages(ctx)
	return nil
}

// UpsertCategory writes c and invalidates its cached views.
func (r *CatalogRepository) UpsertCategory(ctx context.Context, c catalog.Category) error {
	if err := r.inner.UpsertCategory(ctx, c); err != nil {
		return err
	}
	r.invalidate(ctx, cache.TypeCategories, c.ID)
	return nil
}

// UpsertUser writes u and invalidates its cached views.
func (r *CatalogRepository) UpsertUser(ctx context.Context, u catalog.User) error {
	if err := r.inner.UpsertUser(ctx, u); err != nil {
		return err
	}
	r.invalidate(ctx, cache.TypeUsers, u.ID)
	return nil
}

// AddReview stores a review and drops the cached review list of its product.
func (r *CatalogRepository) AddReview(ctx context.Context, rv catalog.Review) error {
	if err := r.inner.AddReview(ctx, rv); err != nil {
		return err
	}
	r.invalidate(ctx, cache.TypeReviews, rv.ProductID)
	return nil
}

// invalidate drops dataType entries whose key contains id. The substring match
// also catches batch keys ("batch:a,id,z") and may drop a few unrelated keys
// with overlapping ids.
func (r *CatalogRepository) invalidate(ctx context.Context, dataType, id string) {
	n := r.orch.InvalidatePattern(ctx, dataType, id)
	if r.loaders != nil {
		if err := r.loaders.Clear(dataType, id); err != nil {
			r.logger.Warn("Failed to clear loader entry",
				zap.String("data_type", dataType),
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}
	r.logger.Debug("Invalidated entity",
		zap.String("data_type", dataType),
		zap.String("id", id),
		zap.Int("removed", n),
	)
}

func (r *CatalogRepository) invalidatePages(ctx context.Context) {
	r.pages.Invalidate(ctx, "products")
}
