// Package memory is an in-process catalog store. It stands in for the
// document database behind the cache layer in development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"storefront-backend/internal/domain/catalog"
	"storefront-backend/internal/repository"
)

// CatalogStore keeps products, categories, users and reviews in maps.
type CatalogStore struct {
	mu         sync.RWMutex
	products   map[string]catalog.Product
	categories map[string]catalog.Category
	users      map[string]catalog.User
	reviews    map[string][]catalog.Review // by product id
}

// NewCatalogStore creates an empty store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products:   make(map[string]catalog.Product),
		categories: make(map[string]catalog.Category),
		users:      make(map[string]catalog.User),
		reviews:    make(map[string][]catalog.Review),
	}
}

// UpsertProduct creates or replaces a product.
func (s *CatalogStore) UpsertProduct(_ context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

// DeleteProduct removes a product and its reviews.
func (s *CatalogStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	delete(s.reviews, id)
	return nil
}

// UpsertCategory creates or replaces a category.
func (s *CatalogStore) UpsertCategory(_ context.Context, c catalog.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
	return nil
}

// UpsertUser creates or replaces a user.
func (s *CatalogStore) UpsertUser(_ context.Context, u catalog.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// AddReview appends a review to its product.
func (s *CatalogStore) AddReview(_ context.Context, r catalog.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.ProductID] = append(s.reviews[r.ProductID], r)
	return nil
}

// GetProduct returns one product.
func (s *CatalogStore) GetProduct(ctx context.Context, id string) (catalog.Product, bool, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Product{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok, nil
}

// GetProductsByIDs implements ports.ProductRepository.
func (s *CatalogStore) GetProductsByIDs(ctx context.Context, ids []string) (map[string]catalog.Product, error) {
	return collect(ctx, &s.mu, s.products, ids)
}

// GetCategoriesByIDs implements ports.CategoryRepository.
func (s *CatalogStore) GetCategoriesByIDs(ctx context.Context, ids []string) (map[string]catalog.Category, error) {
	return collect(ctx, &s.mu, s.categories, ids)
}

// GetUsersByIDs implements ports.UserRepository.
func (s *CatalogStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]catalog.User, error) {
	return collect(ctx, &s.mu, s.users, ids)
}

// GetReviewsByProductIDs implements ports.ReviewRepository.
func (s *CatalogStore) GetReviewsByProductIDs(ctx context.Context, productIDs []string) (map[string][]catalog.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]catalog.Review, len(productIDs))
	for _, id := range productIDs {
		if r, ok := s.reviews[id]; ok {
			out[id] = append([]catalog.Review(nil), r...)
		}
	}
	return out, nil
}

func collect[V any](ctx context.Context, mu *sync.RWMutex, src map[string]V, ids []string) (map[string]V, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]V, len(ids))
	for _, id := range ids {
		if v, ok := src[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// ProductQuery is a re-executable product listing.
type ProductQuery struct {
	store  *CatalogStore
	filter catalog.ProductFilter
}

// Products returns a listing query over the store.
func (s *CatalogStore) Products(filter catalog.ProductFilter) repository.Query[catalog.Product] {
	return &ProductQuery{store: s, filter: filter}
}

// Shape implements repository.Query.
func (q *ProductQuery) Shape() repository.QueryShape {
	filter := map[string]any{}
	if q.filter.CategoryID != "" {
		filter["categoryId"] = q.filter.CategoryID
	}
	if q.filter.ActiveOnly {
		filter["active"] = true
	}
	if q.filter.MinPrice > 0 {
		filter["minPrice"] = q.filter.MinPrice
	}
	if q.filter.MaxPrice > 0 {
		filter["maxPrice"] = q.filter.MaxPrice
	}
	if q.filter.Search != "" {
		filter["search"] = strings.ToLower(q.filter.Search)
	}
	return repository.QueryShape{Collection: "products", Filter: filter}
}

func (q *ProductQuery) matching() []catalog.Product {
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()
	out := make([]catalog.Product, 0, len(q.store.products))
	for _, p := range q.store.products {
		if q.filter.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Find implements repository.Query.
func (q *ProductQuery) Find(ctx context.Context, spec repository.FindSpec) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := q.matching()
	sort.Slice(rows, func(i, j int) bool {
		return lessProduct(rows[i], rows[j], spec.Sort)
	})

	skip := max(spec.Skip, 0)
	if skip >= len(rows) {
		return []catalog.Product{}, nil
	}
	end := len(rows)
	if spec.Limit > 0 && spec.Limit < end-skip {
		end = skip + spec.Limit
	}
	return rows[skip:end], nil
}

// Count implements repository.Query.
func (q *ProductQuery) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(q.matching()), nil
}

// lessProduct orders by the sort fields in turn. Unknown fields compare equal.
func lessProduct(a, b catalog.Product, fields []repository.SortField) bool {
	for _, f := range fields {
		c := compareProduct(a, b, f.Field)
		if f.Descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func compareProduct(a, b catalog.Product, field string) int {
	switch field {
	case "id":
		return strings.Compare(a.ID, b.ID)
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "slug":
		return strings.Compare(a.Slug, b.Slug)
	case "categoryId":
		return strings.Compare(a.CategoryID, b.CategoryID)
	case "price":
		return compareFloat(a.Price, b.Price)
	case "rating":
		return compareFloat(a.Rating, b.Rating)
	case "stock":
		return a.Stock - b.Stock
	case "createdAt":
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
