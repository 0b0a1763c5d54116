package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxRows is the row cap applied when a caller does not ask for
	// one.
	DefaultMaxRows = 10

	// MaxRowsCeiling is the hard upper bound on rows any single call may
	// return.
	MaxRowsCeiling = 100
)

// ClampMaxRows folds an arbitrary requested row cap into the permitted
// range. Zero or negative means "use the default".
func ClampMaxRows(requested int) int {
	if requested <= 0 {
		return DefaultMaxRows
	}
	if requested > MaxRowsCeiling {
		return MaxRowsCeiling
	}
	return requested
}

// Gateway is the single entry point for running a query: it validates,
// substitutes parameters, executes on the active transport with a bounded
// timeout, retries once on the alternate transport when the primary
// attempt fails, and truncates the result to the caller's row cap.
type Gateway struct {
	manager *Manager
	timeout time.Duration
	logger  *slog.Logger
}

func NewGateway(manager *Manager, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		manager: manager,
		timeout: manager.cfg.QueryTimeout,
		logger:  logger,
	}
}

// Execute runs one read-only statement. It never returns a Go error:
// every failure mode, from validation to transport loss, is folded into a
// failed QueryResult so the tool boundary above always has something
// renderable.
func (g *Gateway) Execute(ctx context.Context, query string, params map[string]any, maxRows int) *QueryResult {
	if err := ValidateReadOnly(query); err != nil {
		return ErrorResult("%v", err)
	}

	substituted, err := SubstituteParams(query, params)
	if err != nil {
		return ErrorResult("%v", err)
	}

	maxRows = ClampMaxRows(maxRows)

	primary, primaryName := g.manager.Active()
	if primary == nil {
		return ErrorResult("%v", &ConnectivityError{Host: g.manager.cfg.Host})
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, primaryErr := g.run(ctx, primary, substituted, maxRows)
	if primaryErr == nil {
		result.Truncate(maxRows)
		return result
	}

	// The alternate handle is built lazily so a healthy primary never
	// pays for a second connection.
	alternate, cleanup, altErr := g.manager.Alternate()
	alternateAvailable := altErr == nil
	if alternateAvailable {
		defer cleanup()
	}

	switch chooseTransport(primaryErr, alternateAvailable) {
	case decisionFallback:
		g.logger.Warn("query failed on primary transport, retrying on alternate",
			"primary", primaryName, "alternate", alternate.Name(), "error", primaryErr)
		fallbackResult, fallbackErr := g.run(ctx, alternate, substituted, maxRows)
		if fallbackErr != nil {
			return ErrorResult("Primary connection (%s) error: %v\nAlternate connection (%s) error: %v",
				primaryName, primaryErr, alternate.Name(), fallbackErr)
		}
		fallbackResult.Truncate(maxRows)
		return fallbackResult

	default:
		// The alternate transport could not even be built; its failure
		// reason still belongs in the message next to the primary's.
		return ErrorResult("Primary connection (%s) error: %v\nAlternate connection (%s) error: %v",
			primaryName, primaryErr, primaryName.alternate(), altErr)
	}
}

// run wraps one transport attempt. A transport-level Go error and a failed
// QueryResult are both failures for fallback purposes, matching the
// retry-on-any-failure contract.
func (g *Gateway) run(ctx context.Context, client transportClient, query string, maxRows int) (*QueryResult, error) {
	result, err := client.Execute(ctx, query, maxRows)
	if err != nil {
		return nil, &TransportError{Transport: client.Name(), Err: err}
	}
	if !result.Success {
		return nil, &TransportError{Transport: client.Name(), Err: fmt.Errorf("%s", result.Err)}
	}
	return result, nil
}
