package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		result *QueryResult
		want   string
	}{
		{
			name:   "nil result",
			result: nil,
			want:   "Query executed but no results were returned.",
		},
		{
			name:   "failure",
			result: ErrorResult("Table default.missing does not exist"),
			want:   "Error executing query: Table default.missing does not exist",
		},
		{
			name:   "failure without message",
			result: &QueryResult{Success: false},
			want:   "Error executing query: Unknown error",
		},
		{
			name:   "success with error message",
			result: &QueryResult{Success: true, Err: "partial read"},
			want:   "Error: partial read",
		},
		{
			name:   "no row set",
			result: &QueryResult{Success: true, RowCount: 3},
			want:   "Query executed. Rows returned: 3",
		},
		{
			name:   "zero rows",
			result: &QueryResult{Success: true, Rows: []Row{}},
			want:   "Query executed. Rows returned: 0",
		},
		{
			name: "mapping rows ordered by columns",
			result: &QueryResult{
				Success: true,
				Columns: []string{"id", "name"},
				Rows: []Row{
					MappingRow(map[string]any{"name": "alpha", "id": float64(1)}, []string{"id", "name"}),
					MappingRow(map[string]any{"name": "beta", "id": float64(2)}, []string{"id", "name"}),
				},
				RowCount: 2,
			},
			want: "id\tname\n1\talpha\n2\tbeta\n\nTotal rows: 2 (showing first 2)",
		},
		{
			name: "truncated result reports full count",
			result: &QueryResult{
				Success:  true,
				Columns:  []string{"n"},
				Rows:     []Row{PositionalRow(float64(1))},
				RowCount: 500,
			},
			want: "n\n1\n\nTotal rows: 500 (showing first 1)",
		},
		{
			name: "missing mapping key renders empty cell",
			result: &QueryResult{
				Success:  true,
				Columns:  []string{"a", "b"},
				Rows:     []Row{MappingRow(map[string]any{"a": "x"}, []string{"a", "b"})},
				RowCount: 1,
			},
			want: "a\tb\nx\t\n\nTotal rows: 1 (showing first 1)",
		},
		{
			name: "scalar row",
			result: &QueryResult{
				Success:  true,
				Columns:  []string{"result"},
				Rows:     []Row{ScalarRow("1")},
				RowCount: 1,
			},
			want: "result\n1\n\nTotal rows: 1 (showing first 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.result))
		})
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "x", "x"},
		{"bytes", []byte("raw"), "raw"},
		{"integral float", float64(42), "42"},
		{"large integral float", float64(1e6), "1000000"},
		{"fractional float", 2.5, "2.5"},
		{"int", 7, "7"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toString(tt.in))
		})
	}
}

func TestQueryResultTruncate(t *testing.T) {
	r := &QueryResult{
		Success:  true,
		Rows:     []Row{PositionalRow(1), PositionalRow(2), PositionalRow(3)},
		RowCount: 3,
	}
	r.Truncate(2)
	assert.Len(t, r.Rows, 2)
	assert.Equal(t, 3, r.RowCount)

	r.Truncate(0)
	assert.Len(t, r.Rows, 2)
}
