package dune

import (
	"strconv"
	"strings"
)

// SortOrder is the direction of a result sort.
type SortOrder string

// Sort orders.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ResultOptions shapes a results request. Unset fields are omitted and the
// service default applies.
type ResultOptions struct {
	Limit   *int
	Offset  *int
	SortBy  string
	Order   SortOrder
	Columns []string
	Filters string
}

// WithLimit returns a copy with the page size set.
func (o ResultOptions) WithLimit(n int) ResultOptions {
	o.Limit = &n
	return o
}

// WithOffset returns a copy with the row offset set.
func (o ResultOptions) WithOffset(n int) ResultOptions {
	o.Offset = &n
	return o
}

// WithSort returns a copy sorted by column in the given order. An empty
// order leaves the service default.
func (o ResultOptions) WithSort(column string, order SortOrder) ResultOptions {
	o.SortBy = column
	o.Order = order
	return o
}

// WithColumns returns a copy restricted to the named columns.
func (o ResultOptions) WithColumns(columns ...string) ResultOptions {
	o.Columns = append([]string(nil), columns...)
	return o
}

// WithFilters returns a copy with a filter expression.
func (o ResultOptions) WithFilters(expr string) ResultOptions {
	o.Filters = expr
	return o
}

// QueryPair is one encoded query-string key/value.
type QueryPair struct {
	Key   string
	Value string
}

// QueryPairs encodes the set options in the fixed order limit, offset,
// sort_by, order, columns, filters.
func (o ResultOptions) QueryPairs() []QueryPair {
	var pairs []QueryPair
	if o.Limit != nil {
		pairs = append(pairs, QueryPair{Key: "limit", Value: strconv.Itoa(*o.Limit)})
	}
	if o.Offset != nil {
		pairs = append(pairs, QueryPair{Key: "offset", Value: strconv.Itoa(*o.Offset)})
	}
	if o.SortBy != "" {
		pairs = append(pairs, QueryPair{Key: "sort_by", Value: o.SortBy})
	}
	if o.Order != "" {
		pairs = append(pairs, QueryPair{Key: "order", Value: string(o.Order)})
	}
	if len(o.Columns) > 0 {
		pairs = append(pairs, QueryPair{Key: "columns", Value: strings.Join(o.Columns, ",")})
	}
	if o.Filters != "" {
		pairs = append(pairs, QueryPair{Key: "filters", Value: o.Filters})
	}
	return pairs
}
