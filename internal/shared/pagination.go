package shared

// Page size bounds for listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
}

// NewPagination clamps page and perPage and derives the page count. A page
// past the end is kept so the caller returns an empty slice for it.
func NewPagination(page, perPage, total int) Pagination {
	switch {
	case perPage <= 0:
		perPage = DefaultPageSize
	case perPage > MaxPageSize:
		perPage = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	if total < 0 {
		total = 0
	}
	totalPages := (total + perPage - 1) / perPage
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages, HasNext: page < totalPages}
}

// Bounds returns the half-open slice range of the current page.
func (p Pagination) Bounds() (start, end int) {
	start = min((p.Page-1)*p.PerPage, p.Total)
	end = min(start+p.PerPage, p.Total)
	return start, end
}
