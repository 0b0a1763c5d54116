package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"reflect"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// nativeClient executes queries over the ClickHouse binary protocol via
// clickhouse-go. The wire protocol does not tolerate interleaved requests
// on one socket, so a mutex serializes all use of the shared connection;
// concurrent workloads should prefer the HTTP transport.
type nativeClient struct {
	cfg  Config
	mu   sync.Mutex
	conn driver.Conn
}

func newNativeClient(cfg Config) (*nativeClient, error) {
	cfg = cfg.withDefaults()

	opts := &clickhouse.Options{
		Addr: []string{cfg.nativeAddr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		// The server enforces read-only on this session even if
		// statement validation were ever bypassed.
		Settings: clickhouse.Settings{
			"readonly": 1,
		},
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.QueryTimeout,
	}
	if cfg.TLS {
		opts.TLS = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening native connection: %w", err)
	}
	return &nativeClient{cfg: cfg, conn: conn}, nil
}

func (c *nativeClient) Name() Transport {
	return TransportNative
}

// Probe checks connectivity and that a trivial statement executes;
// connecting alone does not count.
func (c *nativeClient) Probe(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	result, err := c.Execute(ctx, "SELECT 1", 1)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("probe query: %s", result.Err)
	}
	return nil
}

// Execute runs one statement on the shared native connection. SELECT-class
// statements produce mapping rows keyed by the driver's column metadata;
// SHOW/DESCRIBE output is positional so the normalizer's column presets
// apply.
func (c *nativeClient) Execute(ctx context.Context, query string, maxRows int) (*QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("native query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	kind := ClassifyStatement(query)
	normalized, err := scanRows(rows, kind)
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	return normalized, nil
}

// scanRows drains a native result set into the canonical row model using
// the driver's scan types.
func scanRows(rows driver.Rows, kind StatementKind) (*QueryResult, error) {
	columns := rows.Columns()
	types := rows.ColumnTypes()

	mapping := rowShapeFor(kind)

	var out []Row
	for rows.Next() {
		targets := make([]any, len(types))
		for i, ct := range types {
			st := ct.ScanType()
			if st == nil {
				var v any
				targets[i] = &v
				continue
			}
			targets[i] = reflect.New(st).Interface()
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, &ParseError{Err: err}
		}

		values := make([]any, len(targets))
		for i, t := range targets {
			values[i] = reflect.ValueOf(t).Elem().Interface()
		}

		if mapping {
			m := make(map[string]any, len(columns))
			for i, col := range columns {
				if i < len(values) {
					m[col] = values[i]
				}
			}
			out = append(out, MappingRow(m, columns))
		} else {
			out = append(out, PositionalRow(values...))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &ParseError{Err: err}
	}

	// A single-cell SELECT is the bare-value shape the HTTP text path also
	// produces; collapse it to the synthetic "result" column so the two
	// transports agree on it.
	if kind == StatementSelect && len(out) == 1 {
		if v, ok := singleCell(out[0]); ok {
			return NormalizeNativeScalar(v), nil
		}
	}
	return NormalizeNative(kind, out), nil
}

// singleCell extracts the lone value from a one-column row.
func singleCell(row Row) (any, bool) {
	switch row.Kind {
	case RowMapping:
		if len(row.Order) == 1 {
			return row.Mapping[row.Order[0]], true
		}
	case RowPositional:
		if len(row.Values) == 1 {
			return row.Values[0], true
		}
	case RowScalar:
		return row.Scalar, true
	}
	return nil, false
}

// rowShapeFor reports whether a statement's native rows should be built
// as mappings. SHOW/DESCRIBE stay positional: their native metadata is
// not trustworthy and the normalizer carries presets for them.
func rowShapeFor(kind StatementKind) bool {
	switch kind {
	case StatementShow, StatementShowTables, StatementDescribe:
		return false
	}
	return true
}

func (c *nativeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
