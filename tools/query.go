// Package tools defines the MCP tools exposed by the ClickHouse server:
// the read-only query tool and the schema discovery tools built on top of
// it.
package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	mcpclickhouse "github.com/clickhouse-contrib/mcp-clickhouse"
	"github.com/clickhouse-contrib/mcp-clickhouse/clickhouse"
)

// ExecuteReadQueryParams defines the parameters for the read-only query
// tool.
type ExecuteReadQueryParams struct {
	Query   string         `json:"query" jsonschema:"required,description=SQL statement to execute. Only read operations are allowed: SELECT\\, SHOW\\, DESCRIBE\\, EXPLAIN. A single trailing semicolon is permitted."`
	Params  map[string]any `json:"params,omitempty" jsonschema:"description=Values substituted for {name} placeholders in the query. Strings are quoted and escaped\\, other scalars are inserted as-is."`
	MaxRows int            `json:"max_rows,omitempty" jsonschema:"description=Maximum number of rows to return. Range 1-100\\, default 10. The full row count is still reported."`
}

const executeReadQueryName = "clickhouse_execute_read"

const executeReadQueryDesc = `Execute a read-only SQL query against ClickHouse and return the result as tab-separated text with a header row and a total-row footer.

Only SELECT, SHOW, DESCRIBE and EXPLAIN statements are accepted. Use {name} placeholders with the params object for safe value substitution.`

// executeReadQuery runs one read-only statement through the query
// gateway. Query failures come back as renderable text, never as a tool
// fault; only a missing gateway (a deployment problem) is a hard error.
func executeReadQuery(ctx context.Context, args ExecuteReadQueryParams) (string, error) {
	gateway := mcpclickhouse.GatewayFromContext(ctx)
	if gateway == nil {
		return "", &mcpclickhouse.HardError{Err: errors.New("no ClickHouse connection configured")}
	}

	maxRows := args.MaxRows
	if maxRows <= 0 {
		if d := mcpclickhouse.ConfigFromContext(ctx).DefaultMaxRows; d > 0 {
			maxRows = d
		}
	}

	result := gateway.Execute(ctx, args.Query, args.Params, maxRows)
	return clickhouse.Format(result), nil
}

// ExecuteReadQuery is the read-only SQL query tool.
var ExecuteReadQuery = mcpclickhouse.MustTool(
	executeReadQueryName,
	executeReadQueryDesc,
	executeReadQuery,
	mcp.WithTitleAnnotation("Execute read-only ClickHouse query"),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithReadOnlyHintAnnotation(true),
)

// AddQueryTools registers the query tool. A non-empty resourceDesc (the
// operator's description of what the database holds) is appended to the
// tool description so agents see it without a discovery round trip.
func AddQueryTools(adder mcpclickhouse.ToolAdder, resourceDesc string) {
	tool := ExecuteReadQuery
	if resourceDesc != "" {
		tool = mcpclickhouse.MustTool(
			executeReadQueryName,
			executeReadQueryDesc+"\n\nDatabase contents:\n"+resourceDesc,
			executeReadQuery,
			mcp.WithTitleAnnotation("Execute read-only ClickHouse query"),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithReadOnlyHintAnnotation(true),
		)
	}
	tool.Register(adder)
}
