package shared

import (
	"net/url"
	"strconv"
	"strings"

	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ListFilters represents standard master data list filters
type ListFilters struct {
	Search   string
	SortBy   string
	SortDir  string
	IsActive *bool
	Page     internalShared.PageRequest

	// Entity specific filters
	Type string
}

// FiltersFromQuery reads search, sort, dir, active, type, limit and offset.
func FiltersFromQuery(q url.Values) ListFilters {
	filters := ListFilters{
		Search:  strings.TrimSpace(q.Get("search")),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
		Type:    strings.ToUpper(strings.TrimSpace(q.Get("type"))),
		Page:    internalShared.PageFromQuery(q),
	}
	if raw := q.Get("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &active
		}
	}
	return filters
}

// Direction normalises SortDir to an SQL keyword.
func (f ListFilters) Direction() string {
	if strings.EqualFold(f.SortDir, SortDesc) {
		return "DESC"
	}
	return "ASC"
}
