package domain

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PageRequest is the {page, limit} pair accepted by list operations.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize clamps the request to the supported window.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// Page is one window of a list result.
type Page[T any] struct {
	Data       []T
	Pagination Pagination
}

// NewPage builds the pagination block for a window of total items.
func NewPage[T any](data []T, req PageRequest, total int) Page[T] {
	req = req.Normalize()
	if data == nil {
		data = []T{}
	}
	pages := 0
	if total > 0 {
		pages = (total + req.Limit - 1) / req.Limit
	}
	return Page[T]{
		Data: data,
		Pagination: Pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: pages,
		},
	}
}

// Paginate slices an in-memory list into the requested window.
func Paginate[T any](all []T, req PageRequest) Page[T] {
	req = req.Normalize()
	start := req.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + req.Limit
	if end > len(all) {
		end = len(all)
	}
	window := make([]T, end-start)
	copy(window, all[start:end])
	return NewPage(window, req, len(all))
}
