package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-backend/internal/application/loaders"
	"storefront-backend/internal/domain/catalog"
	"storefront-backend/internal/repository"
	"storefront-backend/pkg/api"
)

// CatalogRepository is what the catalog endpoints read and write through.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (catalog.Product, bool, error)
	ListProducts(ctx context.Context, filter catalog.ProductFilter, opts repository.PageOptions) (*repository.PaginatedResult[catalog.Product], error)
	UpsertProduct(ctx context.Context, p catalog.Product) error
	DeleteProduct(ctx context.Context, id string) error
	AddReview(ctx context.Context, r catalog.Review) error
}

// CatalogHandler serves the product endpoints. Related entities are resolved
// through the batch loaders so a page of products costs one query per entity
// type.
type CatalogHandler struct {
	repo     CatalogRepository
	loaders  *loaders.DataLoaderService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(repo CatalogRepository, dl *loaders.DataLoaderService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		repo:     repo,
		loaders:  dl,
		validate: validator.New(),
		logger:   logger,
	}
}

// UpsertProductRequest represents the request body for creating or replacing a product
type UpsertProductRequest struct {
	Name       string  `json:"name" validate:"required,min=1,max=200"`
	Slug       string  `json:"slug,omitempty" validate:"omitempty,max=200"`
	CategoryID string  `json:"categoryId,omitempty" validate:"omitempty,max=64"`
	Price      float64 `json:"price" validate:"gte=0"`
	Stock      int     `json:"stock" validate:"gte=0"`
	Active     bool    `json:"active"`
}

// AddReviewRequest represents the request body for reviewing a product
type AddReviewRequest struct {
	UserID  string `json:"userId" validate:"required,max=64"`
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"max=2000"`
}

// ReviewView is a review with its author resolved.
type ReviewView struct {
	catalog.Review
	Author *catalog.User `json:"author,omitempty"`
}

// ProductDetail is a product with its category and reviews resolved.
type ProductDetail struct {
	catalog.Product
	Category *catalog.Category `json:"category,omitempty"`
	Reviews  []ReviewView      `json:"reviews"`
}

// ListProducts handles GET /products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := repository.PageOptions{
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Cursor:    q.Get("cursor"),
	}
	var err error
	if opts.Page, err = intParam(q.Get("page")); err != nil {
		api.Error(w, http.StatusBadRequest, "page must be a number")
		return
	}
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		api.Error(w, http.StatusBadRequest, "limit must be a number")
		return
	}

	filter := catalog.ProductFilter{
		CategoryID: q.Get("category"),
		ActiveOnly: q.Get("active") == "true",
		Search:     strings.TrimSpace(q.Get("q")),
	}
	if filter.MinPrice, err = floatParam(q.Get("minPrice")); err != nil {
		api.Error(w, http.StatusBadRequest, "minPrice must be a number")
		return
	}
	if filter.MaxPrice, err = floatParam(q.Get("maxPrice")); err != nil {
		api.Error(w, http.StatusBadRequest, "maxPrice must be a number")
		return
	}

	page, err := h.repo.ListProducts(r.Context(), filter, opts)
	if err != nil {
		h.logger.Warn("Failed to list products", zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, page)
}

// GetProduct handles GET /products/{productID}. With ?expand=true the category
// and reviews (with authors) are included.
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "productID")

	p, found, err := h.repo.GetProduct(ctx, id)
	if err != nil {
		h.logger.Error("Failed to get product", zap.String("id", id), zap.Error(err))
		api.FromError(w, err)
		return
	}
	if !found {
		api.Error(w, http.StatusNotFound, "product not found")
		return
	}
	if r.URL.Query().Get("expand") != "true" {
		api.Success(w, http.StatusOK, p)
		return
	}

	detail, err := h.expand(ctx, p)
	if err != nil {
		h.logger.Error("Failed to expand product", zap.String("id", id), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, detail)
}

// expand resolves the relations of p through the loaders: category and
// reviews concurrently, then every review author in one batch.
func (h *CatalogHandler) expand(ctx context.Context, p catalog.Product) (*ProductDetail, error) {
	detail := &ProductDetail{Product: p}
	var reviews []catalog.Review

	g, gctx := errgroup.WithContext(ctx)
	if p.CategoryID != "" {
		g.Go(func() error {
			c, err := h.loaders.Categories.Load(gctx, p.CategoryID)
			detail.Category = c
			return err
		})
	}
	g.Go(func() error {
		var err error
		reviews, err = h.loaders.Reviews.LoadByProductID(gctx, p.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	userIDs := make([]string, len(reviews))
	for i, rv := range reviews {
		userIDs[i] = rv.UserID
	}
	authors, err := h.loaders.Users.LoadMany(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	detail.Reviews = make([]ReviewView, len(reviews))
	for i, rv := range reviews {
		detail.Reviews[i] = ReviewView{Review: rv, Author: authors[i]}
	}
	return detail, nil
}

// BatchProducts handles GET /products/batch?ids=a,b,c. Unknown ids come back
// as null in their position.
func (h *CatalogHandler) BatchProducts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		api.Error(w, http.StatusBadRequest, "ids is required")
		return
	}
	ids := strings.Split(raw, ",")
	if len(ids) > 100 {
		api.Error(w, http.StatusBadRequest, "at most 100 ids per request")
		return
	}

	products, err := h.loaders.Products.LoadMany(r.Context(), ids)
	if err != nil {
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]any{"data": products})
}

// PutProduct handles PUT /products/{productID}
func (h *CatalogHandler) PutProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "productID")

	var req UpsertProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.Error(w, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	existing, found, err := h.repo.GetProduct(ctx, id)
	if err != nil {
		api.FromError(w, err)
		return
	}
	createdAt := time.Now().UTC()
	if found {
		createdAt = existing.CreatedAt
	}

	p := catalog.Product{
		ID:         id,
		Name:       req.Name,
		Slug:       req.Slug,
		CategoryID: req.CategoryID,
		Price:      req.Price,
		Stock:      req.Stock,
		Rating:     existing.Rating,
		Active:     req.Active,
		CreatedAt:  createdAt,
	}
	if err := h.repo.UpsertProduct(ctx, p); err != nil {
		h.logger.Error("Failed to save product", zap.String("id", id), zap.Error(err))
		api.FromError(w, err)
		return
	}

	status := http.StatusOK
	if !found {
		status = http.StatusCreated
	}
	api.Success(w, status, p)
}

// DeleteProduct handles DELETE /products/{productID}
func (h *CatalogHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	if err := h.repo.DeleteProduct(r.Context(), id); err != nil {
		h.logger.Error("Failed to delete product", zap.String("id", id), zap.Error(err))
		api.FromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddReview handles POST /products/{productID}/reviews
func (h *CatalogHandler) AddReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := chi.URLParam(r, "productID")

	var req AddReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.Error(w, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if _, found, err := h.repo.GetProduct(ctx, productID); err != nil {
		api.FromError(w, err)
		return
	} else if !found {
		api.Error(w, http.StatusNotFound, "product not found")
		return
	}

	review := catalog.Review{
		ID:        uuid.New().String(),
		ProductID: productID,
		UserID:    req.UserID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.AddReview(ctx, review); err != nil {
		h.logger.Error("Failed to add review", zap.String("product_id", productID), zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, review)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func floatParam(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
