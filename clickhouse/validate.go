package clickhouse

import (
	"fmt"
	"strings"
)

// StatementKind classifies a read-only statement. The native-result
// normalizer uses it to pick column-name presets for statements the
// native protocol returns without metadata.
type StatementKind int

const (
	StatementSelect StatementKind = iota
	StatementShow
	StatementShowTables
	StatementDescribe
	StatementExplain
	StatementOther
)

// readOnlyPrefixes are the only statement keywords this system permits.
var readOnlyPrefixes = []string{"select", "show", "describe", "desc", "explain"}

// ClassifyStatement returns the StatementKind for a statement. The input
// does not have to be pre-validated.
func ClassifyStatement(query string) StatementKind {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(q, "show tables"):
		return StatementShowTables
	case strings.HasPrefix(q, "show"):
		return StatementShow
	case strings.HasPrefix(q, "describe"), strings.HasPrefix(q, "desc"):
		return StatementDescribe
	case strings.HasPrefix(q, "explain"):
		return StatementExplain
	case strings.HasPrefix(q, "select"):
		return StatementSelect
	}
	return StatementOther
}

// ValidateReadOnly rejects any statement that is not a single read-only
// statement. It fails closed: unless the trimmed statement starts with
// one of SELECT/SHOW/DESCRIBE/DESC/EXPLAIN it is refused, and a ";" is
// only allowed as the very last character so multi-statement payloads
// never reach the server.
func ValidateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	allowed := false
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{
			Query:  query,
			Reason: "Only read operations (SELECT, SHOW, DESCRIBE, EXPLAIN) are allowed",
		}
	}

	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return &ValidationError{
			Query:  query,
			Reason: "Multiple statements are not allowed",
		}
	}

	return nil
}

// SubstituteParams replaces {name} placeholders that literally appear in
// the statement with their bound values. String values are single-quoted
// with ClickHouse escaping; other scalars are stringified unquoted. A
// parameter whose placeholder is absent from the statement is silently
// skipped. Composite values (maps, slices) are rejected as malformed.
func SubstituteParams(query string, params map[string]any) (string, error) {
	for name, value := range params {
		placeholder := "{" + name + "}"
		if !strings.Contains(query, placeholder) {
			continue
		}
		rendered, err := renderParam(value)
		if err != nil {
			return "", &ValidationError{
				Query:  query,
				Reason: fmt.Sprintf("Error processing query parameters: %v", err),
			}
		}
		query = strings.ReplaceAll(query, placeholder, rendered)
	}
	return query, nil
}

func renderParam(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return "'" + escapeString(v) + "'", nil
	case nil:
		return "NULL", nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprintf("%v", v), nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", value)
	}
}

// escapeString escapes backslashes and single quotes the way the
// ClickHouse string literal syntax expects.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}
