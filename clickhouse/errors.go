package clickhouse

import "fmt"

// ValidationError reports a statement rejected before any transport call:
// a non-read-only statement, an embedded statement separator, or a
// malformed parameter value. The rejected statement is echoed verbatim so
// the caller can see exactly what was refused.
type ValidationError struct {
	Query  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s. Rejected query: %s", e.Reason, e.Query)
}

// ConnectivityError reports that no transport could be established at
// startup; every query fails fast with this until the process restarts.
type ConnectivityError struct {
	Host string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("could not connect to ClickHouse at %s over any transport", e.Host)
}

// TransportError wraps a failure from one transport, carrying the
// transport name so fallback errors stay attributable.
type TransportError struct {
	Transport Transport
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports a response that could not be normalized into a
// QueryResult. It degrades to a failed result at the transport boundary
// and never propagates as a fault to the tool layer.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
