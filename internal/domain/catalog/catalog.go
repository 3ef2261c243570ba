// Package catalog holds the storefront read models that flow through the
// caching and batching layers.
package catalog

import (
	"strings"
	"time"
)

// Product is a sellable catalog item.
type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	CategoryID string    `json:"categoryId"`
	Price      float64   `json:"price"`
	Stock      int       `json:"stock"`
	Rating     float64   `json:"rating"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Category groups products. ParentID is empty for top-level categories.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parentId,omitempty"`
}

// User is the public profile of a customer.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Review is a customer's rating of a product.
type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProductFilter narrows a product listing.
type ProductFilter struct {
	CategoryID string  `json:"categoryId,omitempty"`
	ActiveOnly bool    `json:"activeOnly,omitempty"`
	MinPrice   float64 `json:"minPrice,omitempty"`
	MaxPrice   float64 `json:"maxPrice,omitempty"`
	Search     string  `json:"search,omitempty"`
}

// Match reports whether p passes every set condition.
func (f ProductFilter) Match(p Product) bool {
	switch {
	case f.CategoryID != "" && p.CategoryID != f.CategoryID:
		return false
	case f.ActiveOnly && !p.Active:
		return false
	case f.MinPrice > 0 && p.Price < f.MinPrice:
		return false
	case f.MaxPrice > 0 && p.Price > f.MaxPrice:
		return false
	case f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)):
		return false
	}
	return true
}
