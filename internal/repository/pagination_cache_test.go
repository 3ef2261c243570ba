package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	cerrors "storefront-backend/internal/errors"
	"storefront-backend/internal/infrastructure/cache"
)

type item struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

type sliceQuery struct {
	items    []item
	filter   map[string]any
	finds    atomic.Int32
	counts   atomic.Int32
	findErr  error
	delay    time.Duration
	lastSpec FindSpec
}

func newSliceQuery(n int) *sliceQuery {
	q := &sliceQuery{filter: map[string]any{"active": true}}
	for i := 0; i < n; i++ {
		// Only five distinct scores so the tiebreak matters.
		q.items = append(q.items, item{ID: fmt.Sprintf("i%02d", i), Score: i % 5})
	}
	return q
}

func (q *sliceQuery) Shape() QueryShape {
	return QueryShape{Collection: "items", Filter: q.filter}
}

func (q *sliceQuery) Find(ctx context.Context, spec FindSpec) ([]item, error) {
	q.finds.Add(1)
	q.lastSpec = spec
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	if q.findErr != nil {
		return nil, q.findErr
	}
	sorted := append([]item(nil), q.items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, f := range spec.Sort {
			var less, greater bool
			switch f.Field {
			case "score":
				less, greater = sorted[i].Score < sorted[j].Score, sorted[i].Score > sorted[j].Score
			case "id":
				less, greater = sorted[i].ID < sorted[j].ID, sorted[i].ID > sorted[j].ID
			}
			if f.Descending {
				less, greater = greater, less
			}
			if less {
				return true
			}
			if greater {
				return false
			}
		}
		return false
	})
	if spec.Skip >= len(sorted) {
		return nil, nil
	}
	end := min(spec.Skip+spec.Limit, len(sorted))
	return sorted[spec.Skip:end], nil
}

func (q *sliceQuery) Count(ctx context.Context) (int, error) {
	q.counts.Add(1)
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	return len(q.items), nil
}

type queryRecorder struct {
	cached, uncached atomic.Int32
}

func (r *queryRecorder) ObservePaginationQuery(_ string, cached bool, _ time.Duration) {
	if cached {
		r.cached.Add(1)
	} else {
		r.uncached.Add(1)
	}
}

func newTestPaginationCache(observer QueryObserver) *PaginationCache {
	local := cache.NewMemoryCache(cache.MemoryCacheConfig{MaxBytes: 1 << 20}, nil)
	orch := cache.NewOrchestrator(local, nil, cache.NewDefaultRegistry(), cache.NewStats(nil), cache.OrchestratorConfig{}, nil)
	return NewPaginationCache(orch, PaginationConfig{}, observer, nil)
}

func TestPaginate(t *testing.T) {
	ctx := context.Background()

	t.Run("Should cache identical queries", func(t *testing.T) {
		rec := &queryRecorder{}
		pc := newTestPaginationCache(rec)
		q := newSliceQuery(45)
		opts := PageOptions{Page: 1, Limit: 20, SortBy: "score"}

		first, err := Paginate[item](ctx, pc, q, opts)
		require.NoError(t, err)
		assert.False(t, first.Meta.Cached)

		second, err := Paginate[item](ctx, pc, q, opts)
		require.NoError(t, err)
		assert.True(t, second.Meta.Cached)

		assert.Equal(t, first.Data, second.Data)
		assert.Equal(t, first.Pagination, second.Pagination)
		assert.Equal(t, int32(1), q.finds.Load())
		assert.Equal(t, int32(1), q.counts.Load())
		assert.Equal(t, int32(1), rec.cached.Load())
		assert.Equal(t, int32(1), rec.uncached.Load())
	})

	t.Run("Should return disjoint stable pages", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(45)

		p1, err := Paginate[item](ctx, pc, q, PageOptions{Page: 1, Limit: 20, SortBy: "score"})
		require.NoError(t, err)
		p2, err := Paginate[item](ctx, pc, q, PageOptions{Page: 2, Limit: 20, SortBy: "score"})
		require.NoError(t, err)

		seen := map[string]bool{}
		for _, it := range p1.Data {
			seen[it.ID] = true
		}
		for _, it := range p2.Data {
			assert.False(t, seen[it.ID], "item %s on both pages", it.ID)
		}

		assert.Len(t, p1.Data, 20)
		assert.Equal(t, 45, p2.Pagination.Total)
		assert.Equal(t, 3, p2.Pagination.Pages)
		assert.True(t, p2.Pagination.HasPrev)
		assert.True(t, p2.Pagination.HasNext)
		assert.Equal(t, []SortField{{Field: "score", Descending: true}, {Field: "id"}}, q.lastSpec.Sort)
		assert.Equal(t, 20, q.lastSpec.Skip)
	})

	t.Run("Should follow the next cursor", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(45)

		p1, err := Paginate[item](ctx, pc, q, PageOptions{Limit: 20})
		require.NoError(t, err)
		require.NotEmpty(t, p1.Pagination.NextCursor)

		p2, err := Paginate[item](ctx, pc, q, PageOptions{Cursor: p1.Pagination.NextCursor})
		require.NoError(t, err)
		assert.Equal(t, 2, p2.Pagination.Page)
		assert.Equal(t, 20, p2.Pagination.Limit)

		p3, err := Paginate[item](ctx, pc, q, PageOptions{Cursor: p2.Pagination.NextCursor})
		require.NoError(t, err)
		assert.Len(t, p3.Data, 5)
		assert.False(t, p3.Pagination.HasNext)
		assert.Empty(t, p3.Pagination.NextCursor)
	})

	t.Run("Should clamp page and limit", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(150)

		res, err := Paginate[item](ctx, pc, q, PageOptions{Page: -3, Limit: 500})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Pagination.Page)
		assert.Equal(t, MaxPageSize, res.Pagination.Limit)
		assert.LessOrEqual(t, len(res.Data), MaxPageSize)

		res, err = Paginate[item](ctx, pc, q, PageOptions{})
		require.NoError(t, err)
		assert.Equal(t, DefaultPageSize, res.Pagination.Limit)
	})

	t.Run("Should clamp a page whose offset would overflow", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(30)

		res, err := Paginate[item](ctx, pc, q, PageOptions{Page: math.MaxInt64 / 10, Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, res.Data)
		assert.GreaterOrEqual(t, q.lastSpec.Skip, 0)
		assert.Equal(t, math.MaxInt/100, res.Pagination.Page)
		assert.False(t, res.Pagination.HasNext)

		huge := EncodeCursor(CursorData{Page: math.MaxInt, Limit: 20})
		res, err = Paginate[item](ctx, pc, q, PageOptions{Cursor: huge})
		require.NoError(t, err)
		assert.Empty(t, res.Data)
		assert.GreaterOrEqual(t, q.lastSpec.Skip, 0)
	})

	t.Run("Should return an empty list past the end", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		res, err := Paginate[item](ctx, pc, newSliceQuery(5), PageOptions{Page: 9})
		require.NoError(t, err)
		assert.NotNil(t, res.Data)
		assert.Empty(t, res.Data)
	})

	t.Run("Should fail fast on a bad cursor or cache key", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(5)

		_, err := Paginate[item](ctx, pc, q, PageOptions{Cursor: "!!"})
		assert.ErrorIs(t, err, cerrors.ErrInvalidCursor)

		_, err = Paginate[item](ctx, pc, q, PageOptions{CacheKey: "bad key"})
		assert.ErrorIs(t, err, cerrors.ErrInvalidCacheKey)

		assert.Equal(t, int32(0), q.finds.Load())
	})

	t.Run("Should propagate query errors and cache nothing", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(5)
		q.findErr = errors.New("query failed")

		_, err := Paginate[item](ctx, pc, q, PageOptions{})
		assert.ErrorIs(t, err, q.findErr)

		q.findErr = nil
		res, err := Paginate[item](ctx, pc, q, PageOptions{})
		require.NoError(t, err)
		assert.False(t, res.Meta.Cached)
	})

	t.Run("Should run find and count concurrently", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(5)
		q.delay = 100 * time.Millisecond

		start := time.Now()
		_, err := Paginate[item](ctx, pc, q, PageOptions{})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 190*time.Millisecond)
	})

	t.Run("Should use and invalidate an explicit cache key", func(t *testing.T) {
		pc := newTestPaginationCache(nil)
		q := newSliceQuery(5)
		opts := PageOptions{CacheKey: "homepage"}

		_, err := Paginate[item](ctx, pc, q, opts)
		require.NoError(t, err)
		res, err := Paginate[item](ctx, pc, q, opts)
		require.NoError(t, err)
		assert.True(t, res.Meta.Cached)

		assert.Positive(t, pc.Invalidate(ctx, "items"))
		res, err = Paginate[item](ctx, pc, q, opts)
		require.NoError(t, err)
		assert.False(t, res.Meta.Cached)
	})

	t.Run("Should work without an orchestrator", func(t *testing.T) {
		pc := NewPaginationCache(nil, PaginationConfig{}, nil, nil)
		q := newSliceQuery(5)

		for i := 0; i < 2; i++ {
			res, err := Paginate[item](ctx, pc, q, PageOptions{})
			require.NoError(t, err)
			assert.False(t, res.Meta.Cached)
		}
		assert.Equal(t, 0, pc.Invalidate(ctx, "items"))
	})
}

func TestPaginateSlowQueryWarning(t *testing.T) {
	ctx := context.Background()

	t.Run("Should warn once with the query details", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		pc := NewPaginationCache(nil, PaginationConfig{SlowQueryThreshold: time.Nanosecond}, nil, zap.New(core))
		q := newSliceQuery(12)
		q.delay = time.Millisecond

		_, err := Paginate[item](ctx, pc, q, PageOptions{Page: 2, Limit: 5})
		require.NoError(t, err)

		slow := logs.FilterMessage("Slow paginated query").All()
		require.Len(t, slow, 1)
		fields := slow[0].ContextMap()
		assert.Equal(t, "items", fields["collection"])
		assert.EqualValues(t, 12, fields["total"])
		assert.EqualValues(t, 2, fields["page"])
		assert.Equal(t, false, fields["cached"])
	})

	t.Run("Should stay quiet under the threshold", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		pc := NewPaginationCache(nil, PaginationConfig{SlowQueryThreshold: time.Hour}, nil, zap.New(core))

		_, err := Paginate[item](ctx, pc, newSliceQuery(12), PageOptions{})
		require.NoError(t, err)
		assert.Zero(t, logs.FilterMessage("Slow paginated query").Len())
	})
}

func TestDeriveKey(t *testing.T) {
	sortSpec := ParseSort("price", "asc")
	shape := QueryShape{Collection: "products", Filter: map[string]any{"a": 1, "b": "x"}}
	same := QueryShape{Collection: "products", Filter: map[string]any{"b": "x", "a": 1}}

	k1, err := DeriveKey(shape, 1, 20, sortSpec)
	require.NoError(t, err)
	k2, err := DeriveKey(same, 1, 20, sortSpec)
	require.NoError(t, err)
	k3, err := DeriveKey(shape, 2, 20, sortSpec)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Regexp(t, `^products:[0-9a-f]{16}$`, k1)
}
