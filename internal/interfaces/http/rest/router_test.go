package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-backend/internal/application/loaders"
	"storefront-backend/internal/domain/catalog"
	"storefront-backend/internal/infrastructure/cache"
	"storefront-backend/internal/infrastructure/persistence/caching"
	"storefront-backend/internal/infrastructure/persistence/memory"
	"storefront-backend/internal/repository"
)

type testServer struct {
	handler http.Handler
	cc      *cache.CacheContext
	loaders *loaders.DataLoaderService
	store   *memory.CatalogStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store := memory.NewCatalogStore()
	require.NoError(t, memory.Seed(ctx, store, 25))

	cc := cache.NewCacheContext(cache.ContextConfig{
		Local:        cache.MemoryCacheConfig{MaxBytes: 4 << 20},
		Orchestrator: cache.OrchestratorConfig{Dedupe: true},
	}, nil, nil, nil)

	dl := loaders.NewDataLoaderService(store, store, store, store, cc.Orchestrator, nil,
		loaders.Config{BatchWindow: time.Millisecond}, nil)
	pages := repository.NewPaginationCache(cc.Orchestrator, repository.PaginationConfig{}, nil, nil)
	repo := caching.NewCatalogRepository(store, cc.Orchestrator, pages, dl, nil)

	router := NewRouter(
		NewCacheHandler(cc, dl, zapNop()),
		NewCatalogHandler(repo, dl, zapNop()),
		nil,
		nil,
		RouterConfig{AllowedOrigins: []string{"*"}, MetricsPath: "/metrics", MetricsHandler: promhttp.Handler()},
		zapNop(),
	)
	return &testServer{handler: router.Setup(), cc: cc, loaders: dl, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, HealthResponse{Status: "ok", Remote: "disabled"}, decode[HealthResponse](t, w))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCacheAdmin(t *testing.T) {
	t.Run("Should report statistics for every tier", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodGet, "/api/v1/products/p1", "")
		s.do(t, http.MethodGet, "/api/v1/products/p1", "")

		w := s.do(t, http.MethodGet, "/admin/cache/stats", "")
		require.Equal(t, http.StatusOK, w.Code)
		stats := decode[StatsResponse](t, w)

		var products cache.CacheStats
		for _, st := range stats.DataTypes {
			if st.DataType == cache.TypeProducts {
				products = st
			}
		}
		assert.Equal(t, int64(1), products.Hits)
		assert.Equal(t, int64(1), products.Misses)
		assert.Greater(t, stats.Local.TotalEntries, 0)
		assert.Nil(t, stats.Remote)
		assert.Len(t, stats.Loaders, 4)
		assert.Contains(t, stats.Strategies, cache.TypeProducts)
	})

	t.Run("Should reset statistics", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodGet, "/api/v1/products/p1", "")

		w := s.do(t, http.MethodPost, "/admin/cache/stats/reset", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, s.cc.Orchestrator.Stats())
	})

	t.Run("Should flush everything idempotently", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodGet, "/api/v1/products/p1", "")

		for i := 0; i < 2; i++ {
			w := s.do(t, http.MethodDelete, "/admin/cache", "")
			assert.Equal(t, http.StatusOK, w.Code)
		}
		assert.Zero(t, s.cc.Local.Usage().TotalEntries)
	})

	t.Run("Should flush by prefix and pattern", func(t *testing.T) {
		s := newTestServer(t)
		ctx := context.Background()
		require.NoError(t, cache.Set(ctx, s.cc.Orchestrator, cache.TypeProducts, "42", catalog.Product{ID: "42"}))
		require.NoError(t, cache.Set(ctx, s.cc.Orchestrator, cache.TypeProducts, "7", catalog.Product{ID: "7"}))

		w := s.do(t, http.MethodDelete, "/admin/cache/products?pattern=42", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, float64(1), body["removed"])

		_, ok := s.cc.Orchestrator.GetRaw(ctx, cache.TypeProducts, "7")
		assert.True(t, ok)
	})

	t.Run("Should reject glob characters in patterns", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodDelete, "/admin/cache/products?pattern=*", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_CACHE_KEY")
	})

	t.Run("Should clear loader caches", func(t *testing.T) {
		s := newTestServer(t)
		_, err := s.loaders.Products.Load(context.Background(), "p1")
		require.NoError(t, err)

		w := s.do(t, http.MethodDelete, "/admin/loaders/products/p1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Zero(t, s.loaders.Products.Metrics().MemoEntries)

		w = s.do(t, http.MethodDelete, "/admin/loaders/widgets/p1", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = s.do(t, http.MethodDelete, "/admin/loaders", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Should expose metrics", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCatalogEndpoints(t *testing.T) {
	t.Run("Should page through products and serve repeats from cache", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodGet, "/api/v1/products?limit=10&sortBy=price&sortOrder=asc", "")
		require.Equal(t, http.StatusOK, w.Code)
		first := decode[repository.PaginatedResult[catalog.Product]](t, w)
		assert.Len(t, first.Data, 10)
		assert.Equal(t, 25, first.Pagination.Total)
		assert.True(t, first.Pagination.HasNext)
		assert.False(t, first.Meta.Cached)
		require.NotEmpty(t, first.Pagination.NextCursor)

		w = s.do(t, http.MethodGet, "/api/v1/products?limit=10&sortBy=price&sortOrder=asc", "")
		assert.True(t, decode[repository.PaginatedResult[catalog.Product]](t, w).Meta.Cached)

		w = s.do(t, http.MethodGet, "/api/v1/products?cursor="+first.Pagination.NextCursor, "")
		require.Equal(t, http.StatusOK, w.Code)
		second := decode[repository.PaginatedResult[catalog.Product]](t, w)
		assert.Equal(t, 2, second.Pagination.Page)
		assert.True(t, second.Pagination.HasPrev)
		assert.NotEqual(t, first.Data[0].ID, second.Data[0].ID)
	})

	t.Run("Should reject malformed cursors and numbers", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodGet, "/api/v1/products?cursor=%25%25%25", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_CURSOR")

		w = s.do(t, http.MethodGet, "/api/v1/products?page=two", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should answer an empty page for an enormous page number", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodGet, "/api/v1/products?page=922337203685477580&limit=100", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[repository.PaginatedResult[catalog.Product]](t, w)
		assert.Empty(t, res.Data)
		assert.Equal(t, 25, res.Pagination.Total)
		assert.False(t, res.Pagination.HasNext)
	})

	t.Run("Should expand a product through the loaders", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodGet, "/api/v1/products/p3?expand=true", "")
		require.Equal(t, http.StatusOK, w.Code)
		detail := decode[ProductDetail](t, w)

		assert.Equal(t, "p3", detail.ID)
		require.NotNil(t, detail.Category)
		assert.Equal(t, detail.CategoryID, detail.Category.ID)
		require.Len(t, detail.Reviews, 1)
		require.NotNil(t, detail.Reviews[0].Author)
		assert.Equal(t, "u3", detail.Reviews[0].Author.ID)
	})

	t.Run("Should answer 404 for unknown products", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodGet, "/api/v1/products/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Should batch load products with nulls for unknown ids", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodGet, "/api/v1/products/batch?ids=p2,nope,p1", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[struct {
			Data []*catalog.Product `json:"data"`
		}](t, w)
		require.Len(t, body.Data, 3)
		assert.Equal(t, "p2", body.Data[0].ID)
		assert.Nil(t, body.Data[1])
		assert.Equal(t, "p1", body.Data[2].ID)

		w = s.do(t, http.MethodGet, "/api/v1/products/batch?ids=p1,,p2", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should serve fresh data after an update", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodGet, "/api/v1/products/p4", "")
		s.do(t, http.MethodGet, "/api/v1/products?limit=5", "")

		w := s.do(t, http.MethodPut, "/api/v1/products/p4", `{"name":"Walnut desk","price":420,"stock":3,"active":true}`)
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/products/p4", "")
		assert.Equal(t, "Walnut desk", decode[catalog.Product](t, w).Name)

		w = s.do(t, http.MethodGet, "/api/v1/products?limit=5", "")
		assert.False(t, decode[repository.PaginatedResult[catalog.Product]](t, w).Meta.Cached)
	})

	t.Run("Should create, review and delete a product", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodPut, "/api/v1/products/new-1", `{"name":"Stool","price":35}`)
		require.Equal(t, http.StatusCreated, w.Code)

		w = s.do(t, http.MethodPost, "/api/v1/products/new-1/reviews", `{"userId":"u1","rating":4}`)
		require.Equal(t, http.StatusCreated, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/products/new-1?expand=true", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[ProductDetail](t, w).Reviews, 1)

		w = s.do(t, http.MethodDelete, "/api/v1/products/new-1", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = s.do(t, http.MethodGet, "/api/v1/products/new-1", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Should validate request bodies", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodPut, "/api/v1/products/p1", `{"price":-1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, http.MethodPost, "/api/v1/products/p1/reviews", `{"userId":"u1","rating":9}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, http.MethodPost, "/api/v1/products/nope/reviews", `{"userId":"u1","rating":3}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
