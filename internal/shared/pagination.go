package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// PageRequest carries limit/offset for list queries.
type PageRequest struct {
	Limit  int
	Offset int
}

// Normalize clamps limit and offset to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageFromQuery reads limit and offset query parameters.
func PageFromQuery(q url.Values) PageRequest {
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return PageRequest{Limit: limit, Offset: offset}.Normalize()
}
