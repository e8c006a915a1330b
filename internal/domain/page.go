package domain

// Pagination describes the slice of a larger ordered collection that a
// listing returned. Derived per query, never stored.
type Pagination struct {
	TotalCount  int `json:"totalCount"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}
