package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampMaxRows(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultMaxRows},
		{-5, DefaultMaxRows},
		{1, 1},
		{10, 10},
		{100, 100},
		{101, MaxRowsCeiling},
		{100000, MaxRowsCeiling},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ClampMaxRows(tt.in))
		})
	}
}

func successResult(n int) *QueryResult {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = PositionalRow(i)
	}
	return &QueryResult{Success: true, Rows: rows, RowCount: n, Columns: []string{"column_0"}}
}

func connectedGateway(t *testing.T, httpFake, nativeFake *fakeTransport) *Gateway {
	t.Helper()
	m := newFakeManager(httpFake, nativeFake, nil)
	require.NoError(t, m.Connect(context.Background()))
	return NewGateway(m, testLogger())
}

func TestGatewayExecuteHappyPath(t *testing.T) {
	httpFake := &fakeTransport{
		name: TransportHTTP,
		execFunc: func(_ context.Context, _ string, _ int) (*QueryResult, error) {
			return successResult(3), nil
		},
	}
	g := connectedGateway(t, httpFake, &fakeTransport{name: TransportNative})

	result := g.Execute(context.Background(), "SELECT number FROM system.numbers", nil, 10)
	require.True(t, result.Success)
	assert.Len(t, result.Rows, 3)
	require.Len(t, httpFake.queries, 1)
	assert.Equal(t, "SELECT number FROM system.numbers", httpFake.queries[0])
}

func TestGatewayExecuteRejectsWrites(t *testing.T) {
	httpFake := &fakeTransport{name: TransportHTTP}
	g := connectedGateway(t, httpFake, &fakeTransport{name: TransportNative})

	result := g.Execute(context.Background(), "DROP TABLE events", nil, 10)
	require.False(t, result.Success)
	assert.Contains(t, result.Err, "Only read operations")
	// The statement must never reach a transport.
	assert.Empty(t, httpFake.queries)
}

func TestGatewayExecuteSubstitutesParams(t *testing.T) {
	httpFake := &fakeTransport{
		name: TransportHTTP,
		execFunc: func(_ context.Context, query string, _ int) (*QueryResult, error) {
			return successResult(1), nil
		},
	}
	g := connectedGateway(t, httpFake, &fakeTransport{name: TransportNative})

	result := g.Execute(context.Background(), "SELECT * FROM t WHERE name = {name}", map[string]any{"name": "alice"}, 10)
	require.True(t, result.Success)
	assert.Equal(t, "SELECT * FROM t WHERE name = 'alice'", httpFake.queries[len(httpFake.queries)-1])
}

func TestGatewayExecuteBadParam(t *testing.T) {
	g := connectedGateway(t, &fakeTransport{name: TransportHTTP}, &fakeTransport{name: TransportNative})

	result := g.Execute(context.Background(), "SELECT {v}", map[string]any{"v": map[string]any{}}, 10)
	require.False(t, result.Success)
	assert.Contains(t, result.Err, "Error processing query parameters")
}

func TestGatewayExecuteTruncates(t *testing.T) {
	httpFake := &fakeTransport{
		name: TransportHTTP,
		execFunc: func(_ context.Context, _ string, _ int) (*QueryResult, error) {
			return successResult(50), nil
		},
	}
	g := connectedGateway(t, httpFake, &fakeTransport{name: TransportNative})

	result := g.Execute(context.Background(), "SELECT 1", nil, 5)
	require.True(t, result.Success)
	assert.Len(t, result.Rows, 5)
	assert.Equal(t, 50, result.RowCount)
}

func TestGatewayExecuteNotConnected(t *testing.T) {
	m := newFakeManager(
		&fakeTransport{name: TransportHTTP, probeErr: errors.New("refused")},
		&fakeTransport{name: TransportNative, probeErr: errors.New("refused")},
		nil,
	)
	_ = m.Connect(context.Background())
	g := NewGateway(m, testLogger())

	result := g.Execute(context.Background(), "SELECT 1", nil, 10)
	require.False(t, result.Success)
	assert.Contains(t, result.Err, "could not connect to ClickHouse")
}

func TestGatewayExecuteFallsBackOnce(t *testing.T) {
	httpFake := &fakeTransport{name: TransportHTTP}
	httpFake.execFunc = func(_ context.Context, query string, _ int) (*QueryResult, error) {
		if query == "SELECT 1" {
			return successResult(1), nil // probe
		}
		return nil, errors.New("socket closed")
	}
	nativeFake := &fakeTransport{
		name: TransportNative,
		execFunc: func(_ context.Context, _ string, _ int) (*QueryResult, error) {
			return successResult(2), nil
		},
	}
	g := connectedGateway(t, httpFake, nativeFake)

	result := g.Execute(context.Background(), "SELECT count() FROM events", nil, 10)
	require.True(t, result.Success)
	assert.Len(t, result.Rows, 2)
	require.Len(t, nativeFake.queries, 1)
	assert.Equal(t, "SELECT count() FROM events", nativeFake.queries[0])
	// The one-shot alternate handle must be released afterwards.
	assert.True(t, nativeFake.closed)
}

func TestGatewayExecuteFailedResultTriggersFallback(t *testing.T) {
	httpFake := &fakeTransport{name: TransportHTTP}
	httpFake.execFunc = func(_ context.Context, query string, _ int) (*QueryResult, error) {
		if query == "SELECT 1" {
			return successResult(1), nil
		}
		// A server-reported failure, not a transport fault.
		return ErrorResult("Code: 60. Table missing"), nil
	}
	nativeFake := &fakeTransport{
		name: TransportNative,
		execFunc: func(_ context.Context, _ string, _ int) (*QueryResult, error) {
			return successResult(1), nil
		},
	}
	g := connectedGateway(t, httpFake, nativeFake)

	result := g.Execute(context.Background(), "SELECT * FROM missing", nil, 10)
	assert.True(t, result.Success)
	assert.Len(t, nativeFake.queries, 1)
}

func TestGatewayExecuteBothTransportsFail(t *testing.T) {
	httpFake := &fakeTransport{name: TransportHTTP}
	httpFake.execFunc = func(_ context.Context, query string, _ int) (*QueryResult, error) {
		if query == "SELECT 1" {
			return successResult(1), nil
		}
		return nil, errors.New("http boom")
	}
	nativeFake := &fakeTransport{
		name: TransportNative,
		execFunc: func(_ context.Context, _ string, _ int) (*QueryResult, error) {
			return nil, errors.New("native boom")
		},
	}
	g := connectedGateway(t, httpFake, nativeFake)

	result := g.Execute(context.Background(), "SELECT 1 AS x", nil, 10)
	require.False(t, result.Success)
	assert.Contains(t, result.Err, "Primary connection (http) error:")
	assert.Contains(t, result.Err, "http boom")
	assert.Contains(t, result.Err, "Alternate connection (native) error:")
	assert.Contains(t, result.Err, "native boom")
}

func TestGatewayExecuteNoAlternateAvailable(t *testing.T) {
	httpFake := &fakeTransport{name: TransportHTTP}
	httpFake.execFunc = func(_ context.Context, query string, _ int) (*QueryResult, error) {
		if query == "SELECT 1" {
			return successResult(1), nil
		}
		return nil, errors.New("http boom")
	}
	m := newFakeManager(httpFake, nil, errors.New("native driver unavailable"))
	require.NoError(t, m.Connect(context.Background()))
	g := NewGateway(m, testLogger())

	result := g.Execute(context.Background(), "SELECT 1 AS x", nil, 10)
	require.False(t, result.Success)
	// Both halves of the failure must survive: the primary's error and the
	// reason the alternate transport could not be built.
	assert.Contains(t, result.Err, "Primary connection (http) error:")
	assert.Contains(t, result.Err, "http transport: http boom")
	assert.Contains(t, result.Err, "Alternate connection (native) error:")
	assert.Contains(t, result.Err, "native driver unavailable")
}
