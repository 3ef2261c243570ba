// Package rest exposes the cache administration surface and the catalog
// read/write endpoints over chi.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"storefront-backend/internal/middleware"
)

// RouterConfig holds what the router needs besides the handlers.
type RouterConfig struct {
	AllowedOrigins []string
	// MetricsPath is where MetricsHandler is mounted; empty disables it.
	MetricsPath    string
	MetricsHandler http.Handler
}

// Router creates and configures the HTTP router
type Router struct {
	cacheHandler   *CacheHandler
	catalogHandler *CatalogHandler
	observer       middleware.HTTPObserver
	tracer         trace.Tracer
	cfg            RouterConfig
	logger         *zap.Logger
}

// NewRouter creates a new router instance. observer and tracer may be nil.
func NewRouter(
	cacheHandler *CacheHandler,
	catalogHandler *CatalogHandler,
	observer middleware.HTTPObserver,
	tracer trace.Tracer,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		cacheHandler:   cacheHandler,
		catalogHandler: catalogHandler,
		observer:       observer,
		tracer:         tracer,
		cfg:            cfg,
		logger:         logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Recovery(rt.logger))
	router.Use(middleware.Logger(rt.logger, rt.observer))
	if rt.tracer != nil {
		router.Use(middleware.Tracing(rt.tracer))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", rt.cacheHandler.Health)
	if rt.cfg.MetricsPath != "" && rt.cfg.MetricsHandler != nil {
		router.Method(http.MethodGet, rt.cfg.MetricsPath, rt.cfg.MetricsHandler)
	}

	router.Route("/admin", func(r chi.Router) {
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", rt.cacheHandler.Stats)
			r.Post("/stats/reset", rt.cacheHandler.ResetStats)
			r.Delete("/", rt.cacheHandler.FlushAll)
			r.Delete("/{prefix}", rt.cacheHandler.FlushPrefix)
		})
		r.Route("/loaders", func(r chi.Router) {
			r.Delete("/", rt.cacheHandler.ClearLoaders)
			r.Delete("/{type}/{id}", rt.cacheHandler.ClearLoaderEntry)
		})
	})

	if rt.catalogHandler != nil {
		router.Route("/api/v1/products", func(r chi.Router) {
			r.Get("/", rt.catalogHandler.ListProducts)
			r.Get("/batch", rt.catalogHandler.BatchProducts)
			r.Get("/{productID}", rt.catalogHandler.GetProduct)
			r.Put("/{productID}", rt.catalogHandler.PutProduct)
			r.Delete("/{productID}", rt.catalogHandler.DeleteProduct)
			r.Post("/{productID}/reviews", rt.catalogHandler.AddReview)
		})
	}

	return router
}
