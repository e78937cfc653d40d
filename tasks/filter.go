package tasks

// FilterOption changes one key of the list query. Only the keys named by the
// given options change; the rest keep their current values.
type FilterOption func(*listRequest)

type listRequest struct {
	filters Filters
	page    int // 0 means unchanged
	limit   int // 0 means unchanged
}

// WithStatus filters by status.
func WithStatus(s Status) FilterOption {
	return func(r *listRequest) { r.filters.Status = s }
}

// WithoutStatus clears the status filter.
func WithoutStatus() FilterOption {
	return func(r *listRequest) { r.filters.Status = "" }
}

// WithPriority filters by priority.
func WithPriority(p Priority) FilterOption {
	return func(r *listRequest) { r.filters.Priority = p }
}

// WithoutPriority clears the priority filter.
func WithoutPriority() FilterOption {
	return func(r *listRequest) { r.filters.Priority = "" }
}

// WithSearch sets the text search applied to the loaded page.
func WithSearch(q string) FilterOption {
	return func(r *listRequest) { r.filters.Search = q }
}

// WithoutSearch clears the text search.
func WithoutSearch() FilterOption {
	return func(r *listRequest) { r.filters.Search = "" }
}

// WithPage requests a page. It overrides the reset to page 1 that a filter
// change would otherwise cause.
func WithPage(page int) FilterOption {
	return func(r *listRequest) {
		if page > 0 {
			r.page = page
		}
	}
}

// WithLimit sets the page size.
func WithLimit(limit int) FilterOption {
	return func(r *listRequest) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// resolve applies opts to the current filters and pagination. Changing any
// filter value resets the page to 1 unless a page was requested.
func resolve(cur Filters, pg Pagination, opts []FilterOption) (Filters, Pagination) {
	req := listRequest{filters: cur}
	for _, opt := range opts {
		opt(&req)
	}

	next := pg
	if req.limit > 0 && req.limit != pg.Limit {
		next.Limit = req.limit
		next.Page = 1
	}
	if req.filters != cur {
		next.Page = 1
	}
	if req.page > 0 {
		next.Page = req.page
	}
	return req.filters, next
}
