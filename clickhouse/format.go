package clickhouse

import (
	"fmt"
	"strings"
)

// Format renders a QueryResult as compact tab-separated text for LLM
// consumption. It is pure and total: any result, including a failed or
// degenerate one, renders without panicking.
func Format(r *QueryResult) string {
	if r == nil {
		return "Query executed but no results were returned."
	}
	if !r.Success {
		msg := r.Err
		if msg == "" {
			msg = "Unknown error"
		}
		return "Error executing query: " + msg
	}
	if r.Err != "" {
		return "Error: " + r.Err
	}
	if len(r.Rows) == 0 {
		return fmt.Sprintf("Query executed. Rows returned: %d", r.RowCount)
	}

	lines := make([]string, 0, len(r.Rows)+3)
	lines = append(lines, strings.Join(r.Columns, "\t"))

	for _, row := range r.Rows {
		lines = append(lines, formatRow(row, r.Columns))
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Total rows: %d (showing first %d)", r.RowCount, len(r.Rows)))
	return strings.Join(lines, "\n")
}

func formatRow(row Row, columns []string) string {
	switch row.Kind {
	case RowMapping:
		cells := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row.Mapping[col]; ok {
				cells[i] = toString(v)
			}
		}
		return strings.Join(cells, "\t")
	case RowPositional:
		cells := make([]string, len(row.Values))
		for i, v := range row.Values {
			cells[i] = toString(v)
		}
		return strings.Join(cells, "\t")
	default:
		return toString(row.Scalar)
	}
}

// toString renders a single cell. nil renders as the empty string, which
// is what a missing mapping key also produces.
func toString(v any) string {
	if v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		// JSON numbers decode as float64; render integral values as
		// integers so counts don't pick up an exponent.
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
