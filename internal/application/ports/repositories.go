// Package ports declares what the caching and batching layers need from the
// persistence layer. Implementations live under infrastructure/persistence.
package ports

import (
	"context"

	"storefront-backend/internal/domain/catalog"
)

// ProductRepository loads products in bulk. Ids that do not exist are simply
// absent from the result.
type ProductRepository interface {
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// CategoryRepository loads categories in bulk.
type CategoryRepository interface {
	GetCategoriesByIDs(ctx context.Context, ids []string) (map[string]catalog.Category, error)
}

// UserRepository loads users in bulk.
type UserRepository interface {
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]catalog.User, error)
}

// ReviewRepository loads the reviews of many products at once, keyed by
// product id.
type ReviewRepository interface {
	GetReviewsByProductIDs(ctx context.Context, productIDs []string) (map[string][]catalog.Review, error)
}
