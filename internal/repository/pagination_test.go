package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "storefront-backend/internal/errors"
)

func TestParseSort(t *testing.T) {
	tests := []struct {
		name   string
		sortBy string
		order  string
		want   []SortField
	}{
		{
			name: "default field descending with tiebreak",
			want: []SortField{{Field: "createdAt", Descending: true}, {Field: "id"}},
		},
		{
			name:   "explicit ascending order",
			sortBy: "price",
			order:  "asc",
			want:   []SortField{{Field: "price"}, {Field: "id"}},
		},
		{
			name:   "signed fields override order",
			sortBy: "-rating, +name",
			order:  "asc",
			want:   []SortField{{Field: "rating", Descending: true}, {Field: "name"}, {Field: "id"}},
		},
		{
			name:   "explicit id is not duplicated",
			sortBy: "-id",
			want:   []SortField{{Field: "id", Descending: true}},
		},
		{
			name:   "empty and repeated parts are dropped",
			sortBy: "price,,price",
			order:  "desc",
			want:   []SortField{{Field: "price", Descending: true}, {Field: "id"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSort(tt.sortBy, tt.order))
		})
	}
}

func TestNewPagination(t *testing.T) {
	t.Run("Should compute pages and neighbours", func(t *testing.T) {
		p := NewPagination(2, 20, 45)
		assert.Equal(t, 3, p.Pages)
		assert.True(t, p.HasNext)
		assert.True(t, p.HasPrev)
		require.NotNil(t, p.NextPage)
		require.NotNil(t, p.PrevPage)
		assert.Equal(t, 3, *p.NextPage)
		assert.Equal(t, 1, *p.PrevPage)
	})

	t.Run("Should have no neighbours on a single page", func(t *testing.T) {
		p := NewPagination(1, 20, 20)
		assert.Equal(t, 1, p.Pages)
		assert.False(t, p.HasNext)
		assert.False(t, p.HasPrev)
		assert.Nil(t, p.NextPage)
		assert.Nil(t, p.PrevPage)
	})

	t.Run("Should report zero pages for an empty result", func(t *testing.T) {
		p := NewPagination(1, 20, 0)
		assert.Equal(t, 0, p.Pages)
		assert.False(t, p.HasNext)
	})
}

func TestCursor(t *testing.T) {
	t.Run("Should encode and decode tokens", func(t *testing.T) {
		in := CursorData{Page: 3, Limit: 25, SortBy: "-price", SortOrder: "desc"}
		token := EncodeCursor(in)
		require.NotEmpty(t, token)

		out, err := DecodeCursor(token)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	for _, bad := range []string{"%%%", "bm90IGpzb24", EncodeCursor(CursorData{Page: 0, Limit: 10})} {
		t.Run("Should reject "+bad, func(t *testing.T) {
			_, err := DecodeCursor(bad)
			assert.ErrorIs(t, err, cerrors.ErrInvalidCursor)
			assert.True(t, cerrors.IsValidation(err))
		})
	}
}

func TestValidateCacheKey(t *testing.T) {
	assert.NoError(t, ValidateCacheKey("featured-products"))

	for _, bad := range []string{"", "   ", "with space", "glob*", strings.Repeat("k", 201)} {
		assert.ErrorIs(t, ValidateCacheKey(bad), cerrors.ErrInvalidCacheKey, "key %q", bad)
	}
}
