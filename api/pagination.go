package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// pageInfo describes one page of a list view.
type pageInfo struct {
	Total      int
	Limit      int
	Offset     int
	NextOffset int
	HasMore    bool
}

// parsePagination reads "limit" and "offset" query parameters from the
// request. Missing or invalid values fall back to defaults (offset=0,
// limit=defaultPageLimit). Negative values are ignored; limit is capped at
// maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()

	limit = defaultPageLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxPageLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

// paginateSlice returns (start, end) indices for slicing a collection of
// total items. If offset exceeds total, start == end (empty page).
func paginateSlice(total, limit, offset int) (start, end int, info pageInfo) {
	start = min(offset, total)
	end = min(start+limit, total)
	info = pageInfo{
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		NextOffset: end,
		HasMore:    end < total,
	}
	return start, end, info
}
