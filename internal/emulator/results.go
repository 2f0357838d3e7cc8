package emulator

import (
	"cmp"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"dune-client/pkg/dune"
)

// resultQuery is the parsed form of the results endpoint query string.
type resultQuery struct {
	limit   int // 0 means all rows
	offset  int
	sortBy  string
	desc    bool
	columns []string
}

// badRequestError is reported to the caller as HTTP 400.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func parseResultQuery(q url.Values, known []string) (resultQuery, error) {
	var rq resultQuery
	if q.Get("filters") != "" {
		return rq, badRequest("filters are not supported")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rq, badRequest("invalid limit %q", v)
		}
		rq.limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rq, badRequest("invalid offset %q", v)
		}
		rq.offset = n
	}
	if v := q.Get("sort_by"); v != "" {
		if !slices.Contains(known, v) {
			return rq, badRequest("unknown sort column %q", v)
		}
		rq.sortBy = v
	}
	switch order := q.Get("order"); order {
	case "", "asc":
	case "desc":
		rq.desc = true
	default:
		return rq, badRequest("invalid order %q", order)
	}
	if v := q.Get("columns"); v != "" {
		for _, c := range strings.Split(v, ",") {
			c = strings.TrimSpace(c)
			if !slices.Contains(known, c) {
				return rq, badRequest("unknown column %q", c)
			}
			rq.columns = append(rq.columns, c)
		}
	}
	return rq, nil
}

// page is the shaped slice of a result set.
type page struct {
	columns []string
	types   []string
	rows    [][]any
	total   int
	next    *int64
}

func shape(f Fixture, rq resultQuery) page {
	rows := slices.Clone(f.Rows)
	if rq.sortBy != "" {
		idx := slices.Index(f.Columns, rq.sortBy)
		slices.SortStableFunc(rows, func(a, b []any) int {
			c := compareValues(a[idx], b[idx])
			if rq.desc {
				return -c
			}
			return c
		})
	}

	p := page{total: len(rows), columns: f.Columns, types: f.Types}
	start := min(rq.offset, len(rows))
	end := len(rows)
	if rq.limit > 0 {
		end = min(start+rq.limit, len(rows))
	}
	rows = rows[start:end]
	if end < p.total {
		next := int64(end)
		p.next = &next
	}

	if len(rq.columns) > 0 {
		projected := make([][]any, len(rows))
		for i, row := range rows {
			out := make([]any, len(rq.columns))
			for j, c := range rq.columns {
				out[j] = row[slices.Index(f.Columns, c)]
			}
			projected[i] = out
		}
		rows = projected

		var types []string
		for _, c := range rq.columns {
			if i := slices.Index(f.Columns, c); i < len(f.Types) {
				types = append(types, f.Types[i])
			}
		}
		p.columns, p.types = rq.columns, types
	}
	p.rows = rows
	return p
}

func (p page) resultData(base dune.ResultMetadata) *dune.ResultData {
	md := base
	md.ColumnNames = p.columns
	md.ColumnTypes = p.types
	md.TotalRowCount = int64(p.total)
	md.DatapointCount = int64(len(p.rows))

	rows := make([]dune.Row, len(p.rows))
	for i, values := range p.rows {
		row := make(dune.Row, len(p.columns))
		for j, c := range p.columns {
			row[c] = values[j]
		}
		rows[i] = row
	}
	if data, err := json.Marshal(rows); err == nil {
		size := int64(len(data))
		md.ResultSetBytes = &size
	}
	return &dune.ResultData{Metadata: md, Rows: rows}
}

func (p page) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(p.columns); err != nil {
		return err
	}
	record := make([]string, len(p.columns))
	for _, row := range p.rows {
		for i, v := range row {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any, map[string]any:
		data, _ := json.Marshal(x)
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

// compareValues orders numbers numerically and everything else as text.
func compareValues(a, b any) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
