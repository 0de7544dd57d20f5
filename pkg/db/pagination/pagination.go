package pagination

import "fmt"

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 250
)

// Pagination is an offset page request bound from the query string.
type Pagination struct {
	Page  int `form:"page" json:"page" binding:"omitempty,gte=1"`
	Limit int `form:"limit" json:"limit" binding:"omitempty,gte=1,lte=250"`
}

// PageInfo is returned alongside a page of results.
type PageInfo struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// Normalize fills defaults for unset fields and rejects out of range values.
func (p Pagination) Normalize() (Pagination, error) {
	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Page < 1 {
		return p, fmt.Errorf("page must be >= 1")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	}
	return p, nil
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
