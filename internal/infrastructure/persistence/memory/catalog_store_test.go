package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-backend/internal/domain/catalog"
	"storefront-backend/internal/repository"
)

func seeded(t *testing.T, n int) *CatalogStore {
	t.Helper()
	s := NewCatalogStore()
	require.NoError(t, Seed(context.Background(), s, n))
	return s
}

func TestCatalogStoreBulkReads(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 12)

	t.Run("Should return only existing ids", func(t *testing.T) {
		got, err := s.GetProductsByIDs(ctx, []string{"p1", "p2", "missing"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "Product 2", got["p2"].Name)
	})

	t.Run("Should group reviews by product", func(t *testing.T) {
		got, err := s.GetReviewsByProductIDs(ctx, []string{"p3", "p4"})
		require.NoError(t, err)
		assert.Len(t, got["p3"], 1)
		_, ok := got["p4"]
		assert.False(t, ok)
	})

	t.Run("Should load categories and users", func(t *testing.T) {
		cats, err := s.GetCategoriesByIDs(ctx, []string{"c3"})
		require.NoError(t, err)
		assert.Equal(t, "c2", cats["c3"].ParentID)

		users, err := s.GetUsersByIDs(ctx, []string{"u5"})
		require.NoError(t, err)
		assert.Equal(t, "customer5@example.com", users["u5"].Email)
	})

	t.Run("Should honour a canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.GetProductsByIDs(cctx, []string{"p1"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Should delete a product with its reviews", func(t *testing.T) {
		s := seeded(t, 6)
		require.NoError(t, s.DeleteProduct(ctx, "p6"))
		_, found, err := s.GetProduct(ctx, "p6")
		require.NoError(t, err)
		assert.False(t, found)
		reviews, err := s.GetReviewsByProductIDs(ctx, []string{"p6"})
		require.NoError(t, err)
		assert.Empty(t, reviews)
	})
}

func TestProductQuery(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 30)

	t.Run("Should describe the filter in its shape", func(t *testing.T) {
		shape := s.Products(catalog.ProductFilter{CategoryID: "c1", Search: "Lamp"}).Shape()
		assert.Equal(t, "products", shape.Collection)
		assert.Equal(t, map[string]any{"categoryId": "c1", "search": "lamp"}, shape.Filter)
	})

	t.Run("Should count and page with a stable order", func(t *testing.T) {
		q := s.Products(catalog.ProductFilter{ActiveOnly: true})
		total, err := q.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 27, total)

		sort := repository.ParseSort("price", "asc")
		first, err := q.Find(ctx, repository.FindSpec{Skip: 0, Limit: 10, Sort: sort})
		require.NoError(t, err)
		second, err := q.Find(ctx, repository.FindSpec{Skip: 10, Limit: 10, Sort: sort})
		require.NoError(t, err)
		require.Len(t, first, 10)
		require.Len(t, second, 10)

		seen := map[string]bool{}
		for _, p := range append(first, second...) {
			assert.False(t, seen[p.ID], "duplicate %s", p.ID)
			seen[p.ID] = true
			assert.True(t, p.Active)
		}
		assert.LessOrEqual(t, first[9].Price, second[0].Price)
	})

	t.Run("Should return an empty page past the end", func(t *testing.T) {
		rows, err := s.Products(catalog.ProductFilter{}).Find(ctx, repository.FindSpec{Skip: 100, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
	t.Run("Should treat a negative skip as zero", func(t *testing.T) {
		rows, err := s.Products(catalog.ProductFilter{}).Find(ctx, repository.FindSpec{Skip: -80, Limit: 5})
		require.NoError(t, err)
		assert.Len(t, rows, 5)
	})

	t.Run("Should not overflow on a window at the end of int", func(t *testing.T) {
		q := s.Products(catalog.ProductFilter{})
		rows, err := q.Find(ctx, repository.FindSpec{Skip: 3, Limit: math.MaxInt})
		require.NoError(t, err)
		assert.Len(t, rows, 27)

		rows, err = q.Find(ctx, repository.FindSpec{Skip: math.MaxInt - 10, Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
