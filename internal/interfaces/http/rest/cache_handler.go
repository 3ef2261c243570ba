package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-backend/internal/application/loaders"
	cerrors "storefront-backend/internal/errors"
	"storefront-backend/internal/infrastructure/cache"
	"storefront-backend/pkg/api"
)

// CacheHandler serves the cache statistics and administration endpoints.
// Every operation is idempotent.
type CacheHandler struct {
	cache   *cache.CacheContext
	loaders *loaders.DataLoaderService
	logger  *zap.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cc *cache.CacheContext, dl *loaders.DataLoaderService, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{cache: cc, loaders: dl, logger: logger}
}

// StatsResponse is the body of GET /admin/cache/stats.
type StatsResponse struct {
	DataTypes  []cache.CacheStats        `json:"dataTypes"`
	Local      cache.MemoryUsage         `json:"local"`
	Remote     *cache.RemoteStats        `json:"remote,omitempty"`
	Loaders    []loaders.BatcherMetrics  `json:"loaders"`
	Strategies map[string]cache.Strategy `json:"strategies"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Remote string `json:"remote"`
}

// Health always answers 200: a missing remote tier degrades latency, not
// correctness.
func (h *CacheHandler) Health(w http.ResponseWriter, r *http.Request) {
	remote := "disabled"
	if h.cache.Remote != nil {
		remote = "degraded"
		if h.cache.Remote.Ready() {
			remote = "ready"
		}
	}
	api.Success(w, http.StatusOK, HealthResponse{Status: "ok", Remote: remote})
}

// Stats handles GET /admin/cache/stats
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		DataTypes:  h.cache.Orchestrator.Stats(),
		Local:      h.cache.Local.Usage(),
		Strategies: make(map[string]cache.Strategy),
	}
	if h.cache.Remote != nil {
		rs := h.cache.Remote.Stats()
		resp.Remote = &rs
	}
	if h.loaders != nil {
		resp.Loaders = h.loaders.Metrics()
	}
	for _, dt := range h.cache.Registry.DataTypes() {
		resp.Strategies[dt] = h.cache.Registry.Lookup(dt)
	}
	api.Success(w, http.StatusOK, resp)
}

// ResetStats handles POST /admin/cache/stats/reset
func (h *CacheHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.cache.Orchestrator.ResetStats()
	h.logger.Info("Cache statistics reset", zap.String("remote_addr", r.RemoteAddr))
	api.Success(w, http.StatusOK, map[string]string{"status": "reset"})
}

// FlushAll handles DELETE /admin/cache
func (h *CacheHandler) FlushAll(w http.ResponseWriter, r *http.Request) {
	h.cache.Orchestrator.FlushAll(r.Context())
	api.Success(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// FlushPrefix handles DELETE /admin/cache/{prefix}?pattern=
func (h *CacheHandler) FlushPrefix(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	pattern := r.URL.Query().Get("pattern")
	if strings.ContainsAny(prefix, ":*?[]") {
		api.FromError(w, cerrors.NewInvalidCacheKey(prefix, "prefix contains reserved characters"))
		return
	}
	if strings.ContainsAny(pattern, "*?[]") {
		api.FromError(w, cerrors.NewInvalidCacheKey(pattern, "pattern contains glob characters"))
		return
	}

	removed := h.cache.Orchestrator.InvalidatePattern(r.Context(), prefix, pattern)
	h.logger.Info("Cache pattern flushed",
		zap.String("prefix", prefix),
		zap.String("pattern", pattern),
		zap.Int("removed", removed),
	)
	api.Success(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"pattern": pattern,
		"removed": removed,
	})
}

// ClearLoaders handles DELETE /admin/loaders
func (h *CacheHandler) ClearLoaders(w http.ResponseWriter, r *http.Request) {
	h.loaders.ClearAll()
	api.Success(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ClearLoaderEntry handles DELETE /admin/loaders/{type}/{id}
func (h *CacheHandler) ClearLoaderEntry(w http.ResponseWriter, r *http.Request) {
	dataType, id := chi.URLParam(r, "type"), chi.URLParam(r, "id")
	if err := h.loaders.Clear(dataType, id); err != nil {
		if errors.Is(err, cerrors.ErrUnknownDataType) {
			api.Error(w, http.StatusNotFound, "unknown loader type: "+dataType)
			return
		}
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]string{"status": "cleared", "type": dataType, "id": id})
}
