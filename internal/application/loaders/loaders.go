package loaders

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"storefront-backend/internal/application/ports"
	"storefront-backend/internal/domain/catalog"
	cerrors "storefront-backend/internal/errors"
	"storefront-backend/internal/infrastructure/cache"
)

// Config holds the settings shared by every entity loader.
type Config struct {
	BatchWindow  time.Duration
	MaxBatchSize int
	MemoSize     int
}

func (c Config) batcher(name string) BatcherConfig {
	return BatcherConfig{
		Name:         name,
		BatchWindow:  c.BatchWindow,
		MaxBatchSize: c.MaxBatchSize,
		MemoSize:     c.MemoSize,
	}
}

// ProductLoader provides batched loading of products
type ProductLoader struct {
	*Batcher[string, catalog.Product]
}

// NewProductLoader creates a new product loader
func NewProductLoader(repo ports.ProductRepository, orch *cache.Orchestrator, observer SizeObserver, cfg Config, logger *zap.Logger) *ProductLoader {
	return &ProductLoader{
		Batcher: NewBatcher(cfg.batcher(cache.TypeProducts), repo.GetProductsByIDs, orch, observer, logger),
	}
}

// CategoryLoader provides batched loading of categories
type CategoryLoader struct {
	*Batcher[string, catalog.Category]
}

// NewCategoryLoader creates a new category loader
func NewCategoryLoader(repo ports.CategoryRepository, orch *cache.Orchestrator, observer SizeObserver, cfg Config, logger *zap.Logger) *CategoryLoader {
	return &CategoryLoader{
		Batcher: NewBatcher(cfg.batcher(cache.TypeCategories), repo.GetCategoriesByIDs, orch, observer, logger),
	}
}

// UserLoader provides batched loading of users
type UserLoader struct {
	*Batcher[string, catalog.User]
}

// NewUserLoader creates a new user loader
func NewUserLoader(repo ports.UserRepository, orch *cache.Orchestrator, observer SizeObserver, cfg Config, logger *zap.Logger) *UserLoader {
	return &UserLoader{
		Batcher: NewBatcher(cfg.batcher(cache.TypeUsers), repo.GetUsersByIDs, orch, observer, logger),
	}
}

// ReviewLoader provides batched loading of the reviews of a product
type ReviewLoader struct {
	*Batcher[string, []catalog.Review]
}

// NewReviewLoader creates a new review loader. A product without reviews
// loads as an empty list rather than nil.
func NewReviewLoader(repo ports.ReviewRepository, orch *cache.Orchestrator, observer SizeObserver, cfg Config, logger *zap.Logger) *ReviewLoader {
	batchFn := func(ctx context.Context, productIDs []string) (map[string][]catalog.Review, error) {
		reviews, err := repo.GetReviewsByProductIDs(ctx, productIDs)
		if err != nil {
			return nil, err
		}
		result := make(map[string][]catalog.Review, len(productIDs))
		for _, id := range productIDs {
			if r, ok := reviews[id]; ok {
				result[id] = r
			} else {
				result[id] = []catalog.Review{}
			}
		}
		return result, nil
	}
	return &ReviewLoader{
		Batcher: NewBatcher(cfg.batcher(cache.TypeReviews), batchFn, orch, observer, logger),
	}
}

// LoadByProductID loads the reviews of one product.
func (l *ReviewLoader) LoadByProductID(ctx context.Context, productID string) ([]catalog.Review, error) {
	reviews, err := l.Load(ctx, productID)
	if err != nil || reviews == nil {
		return nil, err
	}
	return *reviews, nil
}

// memoizing is the data-type independent surface the service needs.
type memoizing interface {
	Clear(key string)
	ClearAll()
	Metrics() BatcherMetrics
}

// DataLoaderService provides all data loaders. Each loader has its own batch
// window and batch key space.
type DataLoaderService struct {
	Products   *ProductLoader
	Categories *CategoryLoader
	Users      *UserLoader
	Reviews    *ReviewLoader

	byType map[string]memoizing
	logger *zap.Logger
}

// NewDataLoaderService creates a new data loader service
func NewDataLoaderService(
	products ports.ProductRepository,
	categories ports.CategoryRepository,
	users ports.UserRepository,
	reviews ports.ReviewRepository,
	orch *cache.Orchestrator,
	observer SizeObserver,
	cfg Config,
	logger *zap.Logger,
) *DataLoaderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DataLoaderService{
		Products:   NewProductLoader(products, orch, observer, cfg, logger),
		Categories: NewCategoryLoader(categories, orch, observer, cfg, logger),
		Users:      NewUserLoader(users, orch, observer, cfg, logger),
		Reviews:    NewReviewLoader(reviews, orch, observer, cfg, logger),
		logger:     logger,
	}
	s.byType = map[string]memoizing{
		cache.TypeProducts:   s.Products,
		cache.TypeCategories: s.Categories,
		cache.TypeUsers:      s.Users,
		cache.TypeReviews:    s.Reviews,
	}
	return s
}

// Clear drops one memoized result of dataType.
func (s *DataLoaderService) Clear(dataType, id string) error {
	l, ok := s.byType[dataType]
	if !ok {
		return cerrors.NewUnknownDataType(dataType)
	}
	l.Clear(id)
	s.logger.Debug("Cleared loader entry", zap.String("loader", dataType), zap.String("id", id))
	return nil
}

// ClearAll drops the memoized results of every loader. Entries stored in the
// cache orchestrator are not touched; invalidate those separately.
func (s *DataLoaderService) ClearAll() {
	for _, l := range s.byType {
		l.ClearAll()
	}
	s.logger.Info("Cleared all loader caches")
}

// Metrics returns the metrics of every loader, sorted by name.
func (s *DataLoaderService) Metrics() []BatcherMetrics {
	out := make([]BatcherMetrics, 0, len(s.byType))
	for _, l := range s.byType {
		out = append(out, l.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
