// Package pagination reads page, limit and status filters from list
// endpoint query strings and turns them into store offsets.
package pagination

import (
	"net/url"
	"strconv"
	"strings"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page   int32  // Current page number (1-based)
	Limit  int32  // Number of items per page
	Offset int32  // Offset for store queries
	Status string // Send status filter, empty for all

	allowed []string
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit int32 = 100
	// DefaultPage is the default page number when not specified
	DefaultPage int32 = 1
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit int32 = 25
)

func calculateOffset(page, limit int32) int32 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// Option configures the defaults applied before the query is read.
type Option func(*Params)

func WithDefaultLimit(limit int32) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// WithStatuses restricts the status filter to the given values, matched
// case-insensitively. Without it the filter is ignored.
func WithStatuses(statuses ...string) Option {
	return func(p *Params) {
		p.allowed = statuses
	}
}

// FromQuery extracts pagination parameters from URL query values.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(&params)
	}

	if val, err := strconv.ParseInt(q.Get("page"), 10, 32); err == nil && val > 0 {
		params.Page = int32(val)
	}
	if val, err := strconv.ParseInt(q.Get("limit"), 10, 32); err == nil && val > 0 {
		params.Limit = int32(val)
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	params.Offset = calculateOffset(params.Page, params.Limit)

	if status := strings.TrimSpace(q.Get("status")); status != "" {
		for _, allowed := range params.allowed {
			if strings.EqualFold(status, allowed) {
				params.Status = allowed
				break
			}
		}
	}
	params.allowed = nil
	return params
}

// HasNext reports whether items remain after the current page.
func HasNext(offset, limit, count int32) bool {
	return (offset + limit) < count
}

// Window returns the [start, end) bounds of a page over n in-memory items.
func Window(p Params, n int) (int, int) {
	start := int(p.Offset)
	if start > n {
		start = n
	}
	end := start + int(p.Limit)
	if end > n {
		end = n
	}
	return start, end
}
