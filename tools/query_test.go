//go:build unit
// +build unit

package tools

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpclickhouse "github.com/clickhouse-contrib/mcp-clickhouse"
	"github.com/clickhouse-contrib/mcp-clickhouse/clickhouse"
)

// testContext builds a tool execution context backed by an httptest
// ClickHouse stand-in. The handler sees the statement in the "query"
// request parameter and must answer the SELECT 1 connection probe.
func testContext(t *testing.T, handler http.HandlerFunc) context.Context {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := mcpclickhouse.Config{
		Enabled:        true,
		DefaultMaxRows: clickhouse.DefaultMaxRows,
		ClickHouse: clickhouse.Config{
			Host:     u.Hostname(),
			HTTPPort: port,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := clickhouse.NewManager(cfg.ClickHouse, logger)
	require.NoError(t, manager.Connect(context.Background()))
	t.Cleanup(func() { _ = manager.Close() })

	gateway := clickhouse.NewGateway(manager, logger)
	return mcpclickhouse.WithGateway(mcpclickhouse.WithConfig(context.Background(), cfg), gateway)
}

// jsonResponse writes a ClickHouse JSON format body.
func jsonResponse(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_, _ = w.Write([]byte(body))
}

const probeResponse = `{"meta": [{"name": "1"}], "data": [{"1": 1}], "rows": 1}`

func TestExecuteReadQuery(t *testing.T) {
	ctx := testContext(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "SELECT 1" {
			jsonResponse(w, probeResponse)
			return
		}
		assert.Equal(t, "SELECT id, name FROM events", query)
		jsonResponse(w, `{
			"meta": [{"name": "id"}, {"name": "name"}],
			"data": [{"id": 1, "name": "alpha"}, {"id": 2, "name": "beta"}],
			"rows": 2
		}`)
	})

	text, err := executeReadQuery(ctx, ExecuteReadQueryParams{Query: "SELECT id, name FROM events"})
	require.NoError(t, err)
	assert.Equal(t, "id\tname\n1\talpha\n2\tbeta\n\nTotal rows: 2 (showing first 2)", text)
}

func TestExecuteReadQueryRejectsWrites(t *testing.T) {
	ctx := testContext(t, func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, probeResponse)
	})

	text, err := executeReadQuery(ctx, ExecuteReadQueryParams{Query: "INSERT INTO t VALUES (1)"})
	require.NoError(t, err)
	assert.Contains(t, text, "Error executing query:")
	assert.Contains(t, text, "Only read operations")
}

func TestExecuteReadQueryParamSubstitution(t *testing.T) {
	var gotQuery string
	ctx := testContext(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "SELECT 1" {
			jsonResponse(w, probeResponse)
			return
		}
		gotQuery = query
		jsonResponse(w, `{"meta": [{"name": "n"}], "data": [{"n": 1}], "rows": 1}`)
	})

	_, err := executeReadQuery(ctx, ExecuteReadQueryParams{
		Query:  "SELECT count() AS n FROM events WHERE user = {user}",
		Params: map[string]any{"user": "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT count() AS n FROM events WHERE user = 'alice'", gotQuery)
}

func TestExecuteReadQueryDefaultMaxRows(t *testing.T) {
	var gotMaxRows string
	ctx := testContext(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "SELECT 1" {
			jsonResponse(w, probeResponse)
			return
		}
		gotMaxRows = r.URL.Query().Get("max_result_rows")
		jsonResponse(w, `{"meta": [{"name": "n"}], "data": [{"n": 1}], "rows": 1}`)
	})

	_, err := executeReadQuery(ctx, ExecuteReadQueryParams{Query: "SELECT 1 AS n"})
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(clickhouse.DefaultMaxRows), gotMaxRows)

	_, err = executeReadQuery(ctx, ExecuteReadQueryParams{Query: "SELECT 1 AS n", MaxRows: 7})
	require.NoError(t, err)
	assert.Equal(t, "7", gotMaxRows)
}

func TestExecuteReadQueryNoGateway(t *testing.T) {
	_, err := executeReadQuery(context.Background(), ExecuteReadQueryParams{Query: "SELECT 1"})
	require.Error(t, err)
	var hardErr *mcpclickhouse.HardError
	assert.ErrorAs(t, err, &hardErr)
}

func TestAddQueryTools(t *testing.T) {
	t.Run("plain registration", func(t *testing.T) {
		c := mcpclickhouse.NewToolCollector()
		AddQueryTools(c, "")

		tool, ok := c.Tools()[executeReadQueryName]
		require.True(t, ok)
		assert.Equal(t, executeReadQueryDesc, tool.Tool.Description)
	})

	t.Run("resource description appended", func(t *testing.T) {
		c := mcpclickhouse.NewToolCollector()
		AddQueryTools(c, "Orders and shipments, partitioned by day.")

		tool, ok := c.Tools()[executeReadQueryName]
		require.True(t, ok)
		assert.Contains(t, tool.Tool.Description, "Database contents:")
		assert.Contains(t, tool.Tool.Description, "Orders and shipments")
	})
}

func TestExecuteReadQueryToolEndToEnd(t *testing.T) {
	ctx := testContext(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "SELECT 1" {
			jsonResponse(w, probeResponse)
			return
		}
		jsonResponse(w, `{"meta": [{"name": "n"}], "data": [{"n": 42}], "rows": 1}`)
	})

	request := mcp.CallToolRequest{}
	request.Params.Name = executeReadQueryName
	request.Params.Arguments = map[string]any{"query": "SELECT 42 AS n"}

	result, err := ExecuteReadQuery.Handler(ctx, request)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "n\n42")
	assert.False(t, result.IsError)
}
