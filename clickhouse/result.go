// Package clickhouse implements the read-only query path against a
// ClickHouse server: dual-transport execution (native protocol and HTTP),
// normalization of the heterogeneous result shapes both transports produce
// into one canonical row/column model, and formatting of that model into
// LLM-readable text.
package clickhouse

import "fmt"

// RowKind tags the shape of a single result row. The three shapes map to
// what the two ClickHouse wire formats actually return: JSON rows are
// mappings, JSONCompact/TSV/native rows are positional, and statements
// with no row set (e.g. SELECT 1 over the native protocol) produce a bare
// scalar.
type RowKind int

const (
	// RowMapping is a column-name→value row. Order holds the key order so
	// column names survive Go's unordered maps.
	RowMapping RowKind = iota

	// RowPositional is an ordered sequence of values.
	RowPositional

	// RowScalar is a single bare value.
	RowScalar
)

// Row is a tagged variant of the three row shapes. Shapes are never mixed
// within one QueryResult.
type Row struct {
	Kind    RowKind
	Mapping map[string]any
	Order   []string
	Values  []any
	Scalar  any
}

// MappingRow builds a RowMapping row with the given key order.
func MappingRow(m map[string]any, order []string) Row {
	return Row{Kind: RowMapping, Mapping: m, Order: order}
}

// PositionalRow builds a RowPositional row.
func PositionalRow(values ...any) Row {
	return Row{Kind: RowPositional, Values: values}
}

// ScalarRow builds a RowScalar row.
func ScalarRow(v any) Row {
	return Row{Kind: RowScalar, Scalar: v}
}

// QueryResult is the canonical result record all transports converge to.
// It is immutable once produced except for truncation by the gateway.
type QueryResult struct {
	// Success reports whether the query executed and parsed cleanly.
	Success bool

	// Rows holds the result rows. A nil slice means no data was produced
	// at all; a non-nil empty slice means the statement ran and returned
	// zero rows. Both render as a bare row count.
	Rows []Row

	// Err is the failure message when Success is false.
	Err string

	// RowCount is the number of rows the server produced before any
	// truncation to the caller's row cap. On paths where the untruncated
	// count is not derivable it equals len(Rows) at normalization time.
	RowCount int

	// Columns is the ordered column-name list. Empty when the source
	// carried no column metadata.
	Columns []string
}

// ErrorResult builds a failed QueryResult from a message.
func ErrorResult(format string, args ...any) *QueryResult {
	return &QueryResult{
		Success: false,
		Err:     fmt.Sprintf(format, args...),
	}
}

// Truncate caps Rows at max while leaving RowCount untouched, preserving
// the pre-truncation count for callers that want it.
func (r *QueryResult) Truncate(max int) {
	if max > 0 && len(r.Rows) > max {
		r.Rows = r.Rows[:max]
	}
}

// Value extracts the named column from a row, falling back to the
// positional index when the row is not a mapping. The second return is
// false when the row has no such cell.
func (r *QueryResult) Value(row Row, column string) (any, bool) {
	switch row.Kind {
	case RowMapping:
		v, ok := row.Mapping[column]
		return v, ok
	case RowPositional:
		for i, name := range r.Columns {
			if name == column {
				if i < len(row.Values) {
					return row.Values[i], true
				}
				return nil, false
			}
		}
		return nil, false
	case RowScalar:
		if len(r.Columns) > 0 && r.Columns[0] == column {
			return row.Scalar, true
		}
		return nil, false
	}
	return nil, false
}
