package clickhouse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{
			name:  "select",
			query: "SELECT 1",
		},
		{
			name:  "select lowercase",
			query: "select number from system.numbers limit 3",
		},
		{
			name:  "leading whitespace",
			query: "   SELECT 1",
		},
		{
			name:  "show tables",
			query: "SHOW TABLES",
		},
		{
			name:  "describe",
			query: "DESCRIBE system.tables",
		},
		{
			name:  "desc shorthand",
			query: "DESC system.tables",
		},
		{
			name:  "explain",
			query: "EXPLAIN SELECT 1",
		},
		{
			name:  "trailing semicolon",
			query: "SELECT 1;",
		},
		{
			name:    "insert rejected",
			query:   "INSERT INTO t VALUES (1)",
			wantErr: "Only read operations",
		},
		{
			name:    "drop rejected",
			query:   "DROP TABLE t",
			wantErr: "Only read operations",
		},
		{
			name:    "empty rejected",
			query:   "",
			wantErr: "Only read operations",
		},
		{
			name:    "stacked statements rejected",
			query:   "SELECT 1; DROP TABLE t",
			wantErr: "Multiple statements",
		},
		{
			name:    "semicolon inside statement rejected",
			query:   "SELECT 1; SELECT 2;",
			wantErr: "Multiple statements",
		},
		{
			// The prefix check is string-based on purpose: it fails closed,
			// so an odd-but-harmless statement may be refused.
			name:    "settings rejected",
			query:   "SET max_threads = 1",
			wantErr: "Only read operations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReadOnly(tt.query)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "Rejected query:")
			assert.Equal(t, tt.query, verr.Query)
		})
	}
}

func TestClassifyStatement(t *testing.T) {
	tests := []struct {
		query string
		want  StatementKind
	}{
		{"SELECT 1", StatementSelect},
		{"  select *  from t", StatementSelect},
		{"SHOW TABLES", StatementShowTables},
		{"show tables from db", StatementShowTables},
		{"SHOW DATABASES", StatementShow},
		{"DESCRIBE t", StatementDescribe},
		{"DESC t", StatementDescribe},
		{"EXPLAIN SELECT 1", StatementExplain},
		{"INSERT INTO t VALUES (1)", StatementOther},
		{"", StatementOther},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatement(tt.query))
		})
	}
}

func TestSubstituteParams(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		params map[string]any
		want   string
	}{
		{
			name:   "string quoted",
			query:  "SELECT * FROM t WHERE name = {name}",
			params: map[string]any{"name": "alice"},
			want:   "SELECT * FROM t WHERE name = 'alice'",
		},
		{
			name:   "string escaped",
			query:  "SELECT * FROM t WHERE name = {name}",
			params: map[string]any{"name": `o'brien\x`},
			want:   `SELECT * FROM t WHERE name = 'o\'brien\\x'`,
		},
		{
			name:   "integer unquoted",
			query:  "SELECT * FROM t LIMIT {n}",
			params: map[string]any{"n": 5},
			want:   "SELECT * FROM t LIMIT 5",
		},
		{
			name:   "float unquoted",
			query:  "SELECT {x}",
			params: map[string]any{"x": 2.5},
			want:   "SELECT 2.5",
		},
		{
			name:   "bool unquoted",
			query:  "SELECT {b}",
			params: map[string]any{"b": true},
			want:   "SELECT true",
		},
		{
			name:   "nil renders NULL",
			query:  "SELECT {v}",
			params: map[string]any{"v": nil},
			want:   "SELECT NULL",
		},
		{
			name:   "missing placeholder skipped",
			query:  "SELECT 1",
			params: map[string]any{"unused": "x"},
			want:   "SELECT 1",
		},
		{
			name:   "repeated placeholder",
			query:  "SELECT {a}, {a}",
			params: map[string]any{"a": 1},
			want:   "SELECT 1, 1",
		},
		{
			name:  "no params",
			query: "SELECT 1",
			want:  "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SubstituteParams(tt.query, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstituteParamsRejectsComposites(t *testing.T) {
	_, err := SubstituteParams("SELECT {v}", map[string]any{"v": []any{1, 2}})
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "Error processing query parameters")
}
