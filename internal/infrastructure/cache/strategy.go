package cache

import (
	"sort"
	"sync"
	"time"
)

// TTL presets used as registry defaults.
const (
	TTLShort    = 300 * time.Second
	TTLMedium   = 1800 * time.Second
	TTLLong     = 3600 * time.Second
	TTLVeryLong = 86400 * time.Second
)

// Data-type tags. The tag doubles as the key prefix inside the base namespace.
const (
	TypeProducts   = "products"
	TypeCategories = "categories"
	TypeUsers      = "users"
	TypeSessions   = "sessions"
	TypeReviews    = "reviews"
	TypeOrders     = "orders"
	TypeCarts      = "carts"
	TypeSearch     = "search"
	TypePages      = "pages"
)

// Strategy describes how entries of one data type are cached.
//
// RefreshThreshold is advisory: when an entry's remaining TTL drops below it a
// caller may choose to refresh in the background. Nothing refreshes entries
// automatically.
type Strategy struct {
	TTL              time.Duration `json:"ttl"`
	RefreshThreshold time.Duration `json:"refreshThreshold"`
	Compression      bool          `json:"compression"`
}

// DefaultStrategy is used for data types that were never registered.
var DefaultStrategy = Strategy{TTL: TTLMedium, RefreshThreshold: TTLShort}

// Registry maps a data-type tag to its Strategy. It is populated at startup and
// read-only afterwards.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewDefaultRegistry returns the storefront registry: catalog structure changes
// rarely, session and user data stay short for freshness, search results and
// listing pages go stale quickly.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeCategories, Strategy{TTL: TTLVeryLong, RefreshThreshold: TTLLong, Compression: true})
	r.Register(TypeProducts, Strategy{TTL: TTLMedium, RefreshThreshold: TTLShort})
	r.Register(TypeReviews, Strategy{TTL: TTLMedium, RefreshThreshold: TTLShort})
	r.Register(TypeUsers, Strategy{TTL: TTLShort, RefreshThreshold: 60 * time.Second})
	r.Register(TypeSessions, Strategy{TTL: TTLShort, RefreshThreshold: 60 * time.Second})
	r.Register(TypeOrders, Strategy{TTL: TTLShort, RefreshThreshold: 60 * time.Second})
	r.Register(TypeCarts, Strategy{TTL: TTLShort, RefreshThreshold: 60 * time.Second})
	r.Register(TypeSearch, Strategy{TTL: TTLShort, RefreshThreshold: 60 * time.Second, Compression: true})
	r.Register(TypePages, Strategy{TTL: TTLShort, RefreshThreshold: 60 * time.Second, Compression: true})
	return r
}

// Register records the strategy for a data type. Intended for startup only.
func (r *Registry) Register(dataType string, s Strategy) {
	if s.TTL <= 0 {
		s.TTL = DefaultStrategy.TTL
	}
	r.mu.Lock()
	r.strategies[dataType] = s
	r.mu.Unlock()
}

// Lookup returns the strategy for dataType, falling back to DefaultStrategy.
func (r *Registry) Lookup(dataType string) Strategy {
	r.mu.RLock()
	s, ok := r.strategies[dataType]
	r.mu.RUnlock()
	if !ok {
		return DefaultStrategy
	}
	return s
}

// DataTypes lists the registered tags in sorted order.
func (r *Registry) DataTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ShouldRefresh reports whether an entry with the given remaining lifetime has
// crossed the refresh threshold of dataType.
func (r *Registry) ShouldRefresh(dataType string, remaining time.Duration) bool {
	return remaining < r.Lookup(dataType).RefreshThreshold
}
