package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	mcpclickhouse "github.com/clickhouse-contrib/mcp-clickhouse"
	"github.com/clickhouse-contrib/mcp-clickhouse/clickhouse"
)

// schemaQuery runs one discovery statement through the gateway and turns
// a failed result back into an error so the tool layer reports it as an
// IsError result the caller can react to.
func schemaQuery(ctx context.Context, query string, params map[string]any) (*clickhouse.QueryResult, error) {
	gateway := mcpclickhouse.GatewayFromContext(ctx)
	if gateway == nil {
		return nil, &mcpclickhouse.HardError{Err: errors.New("no ClickHouse connection configured")}
	}

	result := gateway.Execute(ctx, query, params, clickhouse.MaxRowsCeiling)
	if !result.Success {
		return nil, fmt.Errorf("schema query failed: %s", result.Err)
	}
	return result, nil
}

// ListDatabasesParams defines the parameters for listing databases. There
// are none.
type ListDatabasesParams struct{}

// DatabaseInfo describes one database visible to the configured user.
type DatabaseInfo struct {
	Name   string `json:"name"`
	Engine string `json:"engine,omitempty"`
}

func listDatabases(ctx context.Context, args ListDatabasesParams) ([]DatabaseInfo, error) {
	result, err := schemaQuery(ctx, "SELECT name, engine FROM system.databases ORDER BY name", nil)
	if err != nil {
		return nil, err
	}

	databases := make([]DatabaseInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		databases = append(databases, DatabaseInfo{
			Name:   cellString(result, row, "name"),
			Engine: cellString(result, row, "engine"),
		})
	}
	return databases, nil
}

// ListDatabases is a tool for listing ClickHouse databases.
var ListDatabases = mcpclickhouse.MustTool(
	"list_clickhouse_databases",
	"List databases on the ClickHouse server. START HERE, then use list_clickhouse_tables to see what a database contains.",
	listDatabases,
	mcp.WithTitleAnnotation("List ClickHouse databases"),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithReadOnlyHintAnnotation(true),
)

// ListTablesParams defines the parameters for listing tables in a
// database.
type ListTablesParams struct {
	Database string `json:"database" jsonschema:"required,description=Database to list tables from"`
	Like     string `json:"like,omitempty" jsonschema:"description=Only include tables whose name matches this SQL LIKE pattern"`
	NotLike  string `json:"not_like,omitempty" jsonschema:"description=Exclude tables whose name matches this SQL LIKE pattern"`
}

// TableInfo describes one table: identity, engine, and size accounting
// from system.tables.
type TableInfo struct {
	Database   string `json:"database"`
	Name       string `json:"name"`
	Engine     string `json:"engine,omitempty"`
	TotalRows  int64  `json:"totalRows,omitempty"`
	TotalBytes int64  `json:"totalBytes,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

func listTables(ctx context.Context, args ListTablesParams) ([]TableInfo, error) {
	query := "SELECT database, name, engine, total_rows, total_bytes, comment FROM system.tables WHERE database = {database}"
	params := map[string]any{"database": args.Database}
	if args.Like != "" {
		query += " AND name LIKE {like}"
		params["like"] = args.Like
	}
	if args.NotLike != "" {
		query += " AND name NOT LIKE {not_like}"
		params["not_like"] = args.NotLike
	}
	query += " ORDER BY name"

	result, err := schemaQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}

	tables := make([]TableInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		tables = append(tables, TableInfo{
			Database:   cellString(result, row, "database"),
			Name:       cellString(result, row, "name"),
			Engine:     cellString(result, row, "engine"),
			TotalRows:  cellInt64(result, row, "total_rows"),
			TotalBytes: cellInt64(result, row, "total_bytes"),
			Comment:    cellString(result, row, "comment"),
		})
	}
	return tables, nil
}

// ListTables is a tool for listing tables in a ClickHouse database.
var ListTables = mcpclickhouse.MustTool(
	"list_clickhouse_tables",
	"List tables in a ClickHouse database with engine, row count and size. NEXT: Use describe_clickhouse_table to see column schemas.",
	listTables,
	mcp.WithTitleAnnotation("List ClickHouse tables"),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithReadOnlyHintAnnotation(true),
)

// DescribeTableParams defines the parameters for describing a table.
type DescribeTableParams struct {
	Database string `json:"database" jsonschema:"required,description=Database the table lives in"`
	Table    string `json:"table" jsonschema:"required,description=Table to describe"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	DefaultType       string `json:"defaultType,omitempty"`
	DefaultExpression string `json:"defaultExpression,omitempty"`
	Comment           string `json:"comment,omitempty"`
}

func describeTable(ctx context.Context, args DescribeTableParams) ([]ColumnInfo, error) {
	// system.columns instead of DESCRIBE so the output shape does not
	// depend on which transport served the query.
	query := "SELECT name, type, default_kind AS default_type, default_expression, comment " +
		"FROM system.columns WHERE database = {database} AND table = {table} ORDER BY position"
	params := map[string]any{"database": args.Database, "table": args.Table}

	result, err := schemaQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		columns = append(columns, ColumnInfo{
			Name:              cellString(result, row, "name"),
			Type:              cellString(result, row, "type"),
			DefaultType:       cellString(result, row, "default_type"),
			DefaultExpression: cellString(result, row, "default_expression"),
			Comment:           cellString(result, row, "comment"),
		})
	}
	return columns, nil
}

// DescribeTable is a tool for describing a ClickHouse table's columns.
var DescribeTable = mcpclickhouse.MustTool(
	"describe_clickhouse_table",
	"Get the column schema of a ClickHouse table. NEXT: Use clickhouse_execute_read with the discovered column names.",
	describeTable,
	mcp.WithTitleAnnotation("Describe ClickHouse table"),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithReadOnlyHintAnnotation(true),
)

// AddSchemaTools registers the schema discovery tools.
func AddSchemaTools(adder mcpclickhouse.ToolAdder) {
	ListDatabases.Register(adder)
	ListTables.Register(adder)
	DescribeTable.Register(adder)
}

func cellString(result *clickhouse.QueryResult, row clickhouse.Row, column string) string {
	v, ok := result.Value(row, column)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// cellInt64 reads a numeric cell. ClickHouse's JSON format quotes 64-bit
// integers by default, so string values are parsed too.
func cellInt64(result *clickhouse.QueryResult, row clickhouse.Row, column string) int64 {
	v, ok := result.Value(row, column)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
