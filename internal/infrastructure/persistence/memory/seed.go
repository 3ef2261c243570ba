package memory

import (
	"context"
	"fmt"
	"time"

	"storefront-backend/internal/domain/catalog"
)

// Seed fills the store with a small deterministic catalog for local runs.
func Seed(ctx context.Context, s *CatalogStore, products int) error {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	categories := []catalog.Category{
		{ID: "c1", Name: "Furniture", Slug: "furniture"},
		{ID: "c2", Name: "Lighting", Slug: "lighting"},
		{ID: "c3", Name: "Desk lamps", Slug: "desk-lamps", ParentID: "c2"},
	}
	for _, c := range categories {
		if err := s.UpsertCategory(ctx, c); err != nil {
			return err
		}
	}

	for i := 1; i <= products; i++ {
		p := catalog.Product{
			ID:         fmt.Sprintf("p%d", i),
			Name:       fmt.Sprintf("Product %d", i),
			Slug:       fmt.Sprintf("product-%d", i),
			CategoryID: categories[i%len(categories)].ID,
			Price:      float64(10 + (i*7)%90),
			Stock:      i % 13,
			Rating:     float64(i%5) + 0.5,
			Active:     i%10 != 0,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.UpsertProduct(ctx, p); err != nil {
			return err
		}
		if err := s.UpsertUser(ctx, catalog.User{
			ID:        fmt.Sprintf("u%d", i),
			Name:      fmt.Sprintf("Customer %d", i),
			Email:     fmt.Sprintf("customer%d@example.com", i),
			CreatedAt: base,
		}); err != nil {
			return err
		}
		if i%3 == 0 {
			if err := s.AddReview(ctx, catalog.Review{
				ID:        fmt.Sprintf("r%d", i),
				ProductID: p.ID,
				UserID:    fmt.Sprintf("u%d", i),
				Rating:    i%5 + 1,
				Comment:   "Works as described",
				CreatedAt: p.CreatedAt.Add(24 * time.Hour),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
