package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-backend/internal/infrastructure/cache"
)

// QueryShape is everything that determines the rows of a query apart from
// paging: the collection, filter conditions, projection and populated
// relations. It must serialize deterministically.
type QueryShape struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter,omitempty"`
	Projection []string       `json:"projection,omitempty"`
	Populate   []string       `json:"populate,omitempty"`
}

// FindSpec is the page window handed to Query.Find.
type FindSpec struct {
	Skip  int
	Limit int
	Sort  []SortField
}

// Query is a re-executable query supplied by a persistence adapter.
type Query[T any] interface {
	Shape() QueryShape
	Find(ctx context.Context, spec FindSpec) ([]T, error)
	Count(ctx context.Context) (int, error)
}

// QueryObserver is told how long every Paginate call took.
type QueryObserver interface {
	ObservePaginationQuery(collection string, cached bool, d time.Duration)
}

// PaginationConfig tunes the pagination cache.
type PaginationConfig struct {
	DefaultLimit       int
	MaxLimit           int
	SlowQueryThreshold time.Duration
}

// PaginationCache is a cache-aside wrapper for paged queries. Pages are
// stored in the orchestrator under the "pages" data type with keys of the
// form "<collection>:<hash>".
type PaginationCache struct {
	orch     *cache.Orchestrator
	cfg      PaginationConfig
	observer QueryObserver
	logger   *zap.Logger
}

// NewPaginationCache creates a pagination cache. orch may be nil, in which
// case every call runs the query; observer may be nil.
func NewPaginationCache(orch *cache.Orchestrator, cfg PaginationConfig, observer QueryObserver, logger *zap.Logger) *PaginationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultPageSize
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxPageSize
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 100 * time.Millisecond
	}
	return &PaginationCache{
		orch:     orch,
		cfg:      cfg,
		observer: observer,
		logger:   logger.With(zap.String("component", "pagination_cache")),
	}
}

// resolve applies the cursor and the limit bounds. Only a bad cursor fails.
func (pc *PaginationCache) resolve(opts PageOptions) (PageOptions, error) {
	if opts.Cursor != "" {
		c, err := DecodeCursor(opts.Cursor)
		if err != nil {
			return opts, err
		}
		opts.Page, opts.Limit = c.Page, c.Limit
		opts.SortBy, opts.SortOrder = c.SortBy, c.SortOrder
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = pc.cfg.DefaultLimit
	}
	if opts.Limit > pc.cfg.MaxLimit {
		opts.Limit = pc.cfg.MaxLimit
	}
	// Keeps (Page-1)*Limit and the skip+limit window inside int.
	if maxPage := math.MaxInt / opts.Limit; opts.Page > maxPage {
		opts.Page = maxPage
	}
	return opts, nil
}

type keyMaterial struct {
	Shape QueryShape  `json:"shape"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Sort  []SortField `json:"sort"`
}

// DeriveKey returns the cache key of a page: the collection followed by a
// 64-bit xxhash of the canonical JSON of the query shape and page window.
// encoding/json sorts map keys, so equal filters hash equally.
func DeriveKey(shape QueryShape, page, limit int, sort []SortField) (string, error) {
	data, err := json.Marshal(keyMaterial{Shape: shape, Page: page, Limit: limit, Sort: sort})
	if err != nil {
		return "", fmt.Errorf("failed to serialize query shape: %w", err)
	}
	return fmt.Sprintf("%s:%016x", shape.Collection, xxhash.Sum64(data)), nil
}

// Paginate returns one page of q. Invalid cursors and invalid explicit cache
// keys fail before any I/O; errors from the query itself are returned
// unchanged. Cache trouble is never returned.
func Paginate[T any](ctx context.Context, pc *PaginationCache, q Query[T], opts PageOptions) (*PaginatedResult[T], error) {
	start := time.Now()

	opts, err := pc.resolve(opts)
	if err != nil {
		return nil, err
	}
	shape := q.Shape()
	sort := ParseSort(opts.SortBy, opts.SortOrder)

	var key string
	if opts.CacheKey != "" {
		if err := ValidateCacheKey(opts.CacheKey); err != nil {
			return nil, err
		}
		key = shape.Collection + ":" + opts.CacheKey
	} else if key, err = DeriveKey(shape, opts.Page, opts.Limit, sort); err != nil {
		return nil, err
	}

	if pc.orch != nil {
		cached, ok, _ := cache.Get[PaginatedResult[T]](ctx, pc.orch, cache.TypePages, key, nil)
		if ok {
			elapsed := time.Since(start)
			cached.Meta = Meta{Cached: true, QueryTimeMs: millis(elapsed)}
			pc.finish(shape.Collection, &cached.Pagination, true, elapsed)
			return &cached, nil
		}
	}

	var (
		data  []T
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = q.Find(gctx, FindSpec{Skip: (opts.Page - 1) * opts.Limit, Limit: opts.Limit, Sort: sort})
		return err
	})
	g.Go(func() error {
		var err error
		total, err = q.Count(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if data == nil {
		data = []T{}
	}
	if len(data) > opts.Limit {
		data = data[:opts.Limit]
	}
	result := &PaginatedResult[T]{
		Data:       data,
		Pagination: NewPagination(opts.Page, opts.Limit, total),
	}
	if result.Pagination.HasNext {
		result.Pagination.NextCursor = EncodeCursor(CursorData{
			Page:      opts.Page + 1,
			Limit:     opts.Limit,
			SortBy:    opts.SortBy,
			SortOrder: opts.SortOrder,
		})
	}

	if pc.orch != nil {
		if err := cache.SetWithTTL(ctx, pc.orch, cache.TypePages, key, result, opts.CacheTTL); err != nil {
			pc.logger.Warn("Failed to cache page", zap.String("key", key), zap.Error(err))
		}
	}

	elapsed := time.Since(start)
	result.Meta = Meta{Cached: false, QueryTimeMs: millis(elapsed)}
	pc.finish(shape.Collection, &result.Pagination, false, elapsed)
	return result, nil
}

// finish reports timing and flags slow queries.
func (pc *PaginationCache) finish(collection string, p *Pagination, cached bool, elapsed time.Duration) {
	if pc.observer != nil {
		pc.observer.ObservePaginationQuery(collection, cached, elapsed)
	}
	if elapsed > pc.cfg.SlowQueryThreshold {
		pc.logger.Warn("Slow paginated query",
			zap.String("collection", collection),
			zap.Int("total", p.Total),
			zap.Int("page", p.Page),
			zap.Bool("cached", cached),
			zap.Duration("duration", elapsed),
		)
	}
}

// Invalidate drops every cached page of collection.
func (pc *PaginationCache) Invalidate(ctx context.Context, collection string) int {
	if pc.orch == nil {
		return 0
	}
	return pc.orch.InvalidatePattern(ctx, cache.TypePages, collection+":")
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
