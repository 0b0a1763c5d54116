package clickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// httpJSONEnvelope is the shape of a ClickHouse JSON/JSONCompact response:
// column metadata under "meta", rows under "data", and server-side row
// accounting. Rows are kept raw because the two formats disagree on row
// shape (objects vs arrays).
type httpJSONEnvelope struct {
	Meta []struct {
		Name string `json:"name"`
	} `json:"meta"`
	Data                   []json.RawMessage `json:"data"`
	Rows                   *int              `json:"rows"`
	RowsBeforeLimitAtLeast *int              `json:"rows_before_limit_at_least"`
}

// NormalizeHTTPJSON converts a ClickHouse JSON-family response body into a
// QueryResult. Column names come from "meta" when present, otherwise from
// the first row's key order when rows are objects. A body without a
// "data" key is an empty successful result, not an error.
func NormalizeHTTPJSON(body []byte) (*QueryResult, error) {
	var envelope httpJSONEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &ParseError{Err: err}
	}

	if envelope.Data == nil {
		return &QueryResult{Success: true, Rows: []Row{}}, nil
	}

	columns := make([]string, 0, len(envelope.Meta))
	for _, col := range envelope.Meta {
		columns = append(columns, col.Name)
	}

	rows := make([]Row, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		row, err := decodeJSONRow(raw)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		if len(columns) == 0 && row.Kind == RowMapping {
			columns = row.Order
		}
		rows = append(rows, row)
	}

	// The server reports the pre-LIMIT row count when it knows it; fall
	// back to what we actually parsed.
	rowCount := len(rows)
	if envelope.RowsBeforeLimitAtLeast != nil && *envelope.RowsBeforeLimitAtLeast > rowCount {
		rowCount = *envelope.RowsBeforeLimitAtLeast
	}

	return &QueryResult{
		Success:  true,
		Rows:     rows,
		RowCount: rowCount,
		Columns:  columns,
	}, nil
}

// decodeJSONRow decodes one raw data element into the matching Row shape:
// JSON objects become mapping rows, arrays become positional rows, and
// anything else is a scalar.
func decodeJSONRow(raw json.RawMessage) (Row, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Row{}, fmt.Errorf("empty data element")
	}

	switch trimmed[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return Row{}, err
		}
		order, err := objectKeys(trimmed)
		if err != nil {
			return Row{}, err
		}
		return MappingRow(m, order), nil
	case '[':
		var values []any
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return Row{}, err
		}
		return PositionalRow(values...), nil
	default:
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Row{}, err
		}
		return ScalarRow(v), nil
	}
}

// objectKeys returns the top-level keys of a JSON object in document
// order, which encoding/json's map decoding throws away.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil { // consume '{'
		return nil, err
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in object", tok)
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); ok && (delim == '{' || delim == '[') {
		depth := 1
		for depth > 0 {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			if d, ok := tok.(json.Delim); ok {
				switch d {
				case '{', '[':
					depth++
				case '}', ']':
					depth--
				}
			}
		}
	}
	return nil
}

// NormalizeHTTPText converts a TSV or plain-text response body into a
// QueryResult. A single line with no tab is one scalar row under the
// synthetic column "result". Multi-line content becomes positional rows;
// column names start as "value" and are upgraded to column_1..column_N
// the first time a row carries more fields than the current name count.
// Text parsing is total: it never fails.
func NormalizeHTTPText(body string) *QueryResult {
	text := strings.TrimSpace(body)
	if text == "" {
		return &QueryResult{Success: true, Rows: []Row{}}
	}

	lines := strings.Split(text, "\n")
	if len(lines) == 1 && !strings.Contains(lines[0], "\t") {
		return &QueryResult{
			Success:  true,
			Rows:     []Row{ScalarRow(lines[0])},
			RowCount: 1,
			Columns:  []string{"result"},
		}
	}

	rows := make([]Row, 0, len(lines))
	columns := []string{"value"}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.Contains(line, "\t") {
			fields := strings.Split(line, "\t")
			values := make([]any, len(fields))
			for i, f := range fields {
				values[i] = f
			}
			rows = append(rows, PositionalRow(values...))
			if len(columns) < len(fields) {
				columns = make([]string, len(fields))
				for i := range fields {
					columns[i] = fmt.Sprintf("column_%d", i+1)
				}
			}
		} else {
			rows = append(rows, PositionalRow(line))
		}
	}

	return &QueryResult{
		Success:  true,
		Rows:     rows,
		RowCount: len(rows),
		Columns:  columns,
	}
}

// NormalizeNativeScalar converts a bare non-row-set native result (for
// example the integer SELECT 1 yields) into a single-row, single-column
// result under the synthetic column "result".
func NormalizeNativeScalar(v any) *QueryResult {
	return &QueryResult{
		Success:  true,
		Rows:     []Row{ScalarRow(v)},
		RowCount: 1,
		Columns:  []string{"result"},
	}
}

// NormalizeNative converts a native row set into a QueryResult. The
// native protocol returns SHOW/DESCRIBE output without usable metadata,
// so column names for those statements are presets; other positional row
// sets get synthetic column_N names sized to the first row, and mapping
// rows contribute their own key order.
func NormalizeNative(kind StatementKind, rows []Row) *QueryResult {
	if len(rows) == 0 {
		return &QueryResult{Success: true, Rows: []Row{}}
	}

	result := &QueryResult{
		Success:  true,
		Rows:     rows,
		RowCount: len(rows),
	}

	first := rows[0]
	switch kind {
	case StatementShowTables, StatementShow, StatementDescribe:
		switch first.Kind {
		case RowScalar:
			result.Columns = []string{"value"}
		case RowMapping:
			result.Columns = first.Order
		default:
			result.Columns = nativeColumnPreset(kind, len(first.Values))
		}
	default:
		switch first.Kind {
		case RowMapping:
			result.Columns = first.Order
		case RowPositional:
			result.Columns = syntheticColumns(len(first.Values))
		case RowScalar:
			result.Columns = syntheticColumns(1)
		}
	}

	return result
}

func nativeColumnPreset(kind StatementKind, width int) []string {
	switch kind {
	case StatementShowTables:
		return []string{"table_name"}
	case StatementDescribe:
		return []string{"name", "type", "default_type", "default_expression"}
	default:
		return syntheticColumns(width)
	}
}

func syntheticColumns(n int) []string {
	columns := make([]string, n)
	for i := range columns {
		columns[i] = fmt.Sprintf("column_%d", i)
	}
	return columns
}
