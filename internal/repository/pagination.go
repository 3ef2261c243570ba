// Package repository holds the query-side contracts shared by persistence
// adapters and the cache-aside pagination layer.
package repository

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	cerrors "storefront-backend/internal/errors"
)

// Constants for pagination
const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// DefaultSortField is used when no sort is requested.
	DefaultSortField = "createdAt"
	// TiebreakField is appended to every sort so that pages are stable even
	// when the primary key has duplicates.
	TiebreakField = "id"
)

// PageOptions are the caller-supplied paging parameters.
type PageOptions struct {
	Page      int           `json:"page"`
	Limit     int           `json:"limit"`
	SortBy    string        `json:"sortBy,omitempty"`    // comma-separated, "-field" is descending
	SortOrder string        `json:"sortOrder,omitempty"` // "asc" or "desc", applies to unsigned fields
	CacheTTL  time.Duration `json:"-"`
	CacheKey  string        `json:"-"`
	Cursor    string        `json:"cursor,omitempty"`
}

// SortField is one normalized sort criterion.
type SortField struct {
	Field      string `json:"f"`
	Descending bool   `json:"d,omitempty"`
}

// ParseSort normalizes a comma-separated sort spec. Fields prefixed with "-"
// sort descending, "+" ascending, and bare fields follow order ("desc" unless
// "asc"). The id tiebreak is appended unless already present.
func ParseSort(sortBy, order string) []SortField {
	defaultDesc := !strings.EqualFold(strings.TrimSpace(order), "asc")
	if strings.TrimSpace(sortBy) == "" {
		sortBy = DefaultSortField
	}

	fields := make([]SortField, 0, 2)
	seen := make(map[string]bool)
	for _, part := range strings.Split(sortBy, ",") {
		part = strings.TrimSpace(part)
		desc := defaultDesc
		switch {
		case strings.HasPrefix(part, "-"):
			desc, part = true, strings.TrimSpace(part[1:])
		case strings.HasPrefix(part, "+"):
			desc, part = false, strings.TrimSpace(part[1:])
		}
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		fields = append(fields, SortField{Field: part, Descending: desc})
	}
	if !seen[TiebreakField] {
		fields = append(fields, SortField{Field: TiebreakField})
	}
	return fields
}

// Pagination is the paging block of a PaginatedResult.
type Pagination struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Total      int    `json:"total"`
	Pages      int    `json:"pages"`
	HasNext    bool   `json:"hasNext"`
	HasPrev    bool   `json:"hasPrev"`
	NextPage   *int   `json:"nextPage"`
	PrevPage   *int   `json:"prevPage"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// NewPagination derives the paging block. pages is ceil(total/limit).
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	p := Pagination{
		Page:    page,
		Limit:   limit,
		Total:   total,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
	if p.HasNext {
		next := page + 1
		p.NextPage = &next
	}
	if p.HasPrev {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

// Meta describes how a page was produced.
type Meta struct {
	Cached      bool    `json:"cached"`
	QueryTimeMs float64 `json:"queryTimeMs"`
}

// PaginatedResult represents a paginated response with metadata
type PaginatedResult[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
	Meta       Meta       `json:"meta"`
}

// CursorData is the content of an opaque page token.
type CursorData struct {
	Page      int    `json:"p"`
	Limit     int    `json:"l"`
	SortBy    string `json:"s,omitempty"`
	SortOrder string `json:"o,omitempty"`
}

// EncodeCursor creates a base64 encoded page token.
func EncodeCursor(c CursorData) string {
	jsonData, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(jsonData)
}

// DecodeCursor decodes a page token. Any malformed token is an
// INVALID_CURSOR error.
func DecodeCursor(cursor string) (CursorData, error) {
	var c CursorData
	jsonData, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return c, cerrors.NewInvalidCursor(cursor, err)
	}
	if err := json.Unmarshal(jsonData, &c); err != nil {
		return c, cerrors.NewInvalidCursor(cursor, err)
	}
	if c.Page < 1 || c.Limit < 1 {
		return c, cerrors.NewInvalidCursor(cursor, errors.New("page and limit must be positive"))
	}
	return c, nil
}

const maxCacheKeyLength = 200

// ValidateCacheKey checks an explicitly supplied cache key.
func ValidateCacheKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return cerrors.NewInvalidCacheKey(key, "key is empty")
	case len(key) > maxCacheKeyLength:
		return cerrors.NewInvalidCacheKey(key, "key exceeds 200 characters")
	case strings.ContainsAny(key, " \t\r\n*"):
		return cerrors.NewInvalidCacheKey(key, "key contains whitespace or '*'")
	}
	return nil
}
