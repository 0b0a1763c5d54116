package mcpclickhouse

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/clickhouse-contrib/mcp-clickhouse/clickhouse"
)

// Config carries everything the tool layer needs beyond the raw
// connection settings: whether the ClickHouse tools are enabled at all,
// the default row cap for queries that do not specify one, and optional
// operator-supplied prose describing what the database holds.
type Config struct {
	// ClickHouse is the resolved connection configuration.
	ClickHouse clickhouse.Config

	// Enabled gates registration of all ClickHouse tools. Disabled means
	// the server starts but exposes nothing.
	Enabled bool

	// DefaultMaxRows is the row cap used when a query call does not ask
	// for one. It is itself clamped to the permitted range.
	DefaultMaxRows int

	// ResourceDescriptionFile optionally points at a text file whose
	// contents are appended to the query tool's description, giving
	// agents schema hints without a discovery round trip.
	ResourceDescriptionFile string

	// IncludeArgumentsInSpans opts tool arguments into trace spans.
	// Disabled by default: arguments may contain sensitive query text.
	IncludeArgumentsInSpans bool
}

// ConfigFromEnvironment builds a Config from CLICKHOUSE_* environment
// variables. Unset variables fall back to the conventional defaults;
// malformed numeric or boolean values are ignored rather than fatal.
func ConfigFromEnvironment() Config {
	cfg := Config{
		Enabled:        envBool("CLICKHOUSE_ENABLED", true),
		DefaultMaxRows: envInt("CLICKHOUSE_MAX_ROWS", clickhouse.DefaultMaxRows),
		ClickHouse: clickhouse.Config{
			Host:               os.Getenv("CLICKHOUSE_HOST"),
			NativePort:         envInt("CLICKHOUSE_PORT", 0),
			HTTPPort:           envInt("CLICKHOUSE_HTTP_PORT", 0),
			Database:           os.Getenv("CLICKHOUSE_DATABASE"),
			Username:           os.Getenv("CLICKHOUSE_USERNAME"),
			Password:           os.Getenv("CLICKHOUSE_PASSWORD"),
			TLS:                envBool("CLICKHOUSE_SECURE", false),
			InsecureSkipVerify: !envBool("CLICKHOUSE_VERIFY", true),
		},
		ResourceDescriptionFile: os.Getenv("CLICKHOUSE_RESOURCE_DESC_FILE"),
	}
	return cfg
}

// ResourceDescription reads the configured resource description file.
// An unconfigured file yields an empty string and no error.
func (c Config) ResourceDescription() (string, error) {
	if c.ResourceDescriptionFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.ResourceDescriptionFile)
	if err != nil {
		return "", fmt.Errorf("reading resource description file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

type configKey struct{}

// WithConfig returns a context carrying the given Config.
func WithConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFromContext returns the Config stored in the context, or a zero
// Config when none was attached.
func ConfigFromContext(ctx context.Context) Config {
	if cfg, ok := ctx.Value(configKey{}).(Config); ok {
		return cfg
	}
	return Config{}
}

type gatewayKey struct{}

// WithGateway returns a context carrying the query gateway.
func WithGateway(ctx context.Context, gw *clickhouse.Gateway) context.Context {
	return context.WithValue(ctx, gatewayKey{}, gw)
}

// GatewayFromContext returns the query gateway stored in the context, or
// nil when none was attached.
func GatewayFromContext(ctx context.Context) *clickhouse.Gateway {
	if gw, ok := ctx.Value(gatewayKey{}).(*clickhouse.Gateway); ok {
		return gw
	}
	return nil
}

// ComposedStdioContextFunc attaches the config and gateway to every
// request context of a stdio transport.
func ComposedStdioContextFunc(cfg Config, gw *clickhouse.Gateway) server.StdioContextFunc {
	return func(ctx context.Context) context.Context {
		return WithGateway(WithConfig(ctx, cfg), gw)
	}
}

// ComposedSSEContextFunc attaches the config and gateway to every request
// context of an SSE transport.
func ComposedSSEContextFunc(cfg Config, gw *clickhouse.Gateway) server.SSEContextFunc {
	return func(ctx context.Context, _ *http.Request) context.Context {
		return WithGateway(WithConfig(ctx, cfg), gw)
	}
}

// ComposedHTTPContextFunc attaches the config and gateway to every
// request context of a streamable HTTP transport.
func ComposedHTTPContextFunc(cfg Config, gw *clickhouse.Gateway) server.HTTPContextFunc {
	return func(ctx context.Context, _ *http.Request) context.Context {
		return WithGateway(WithConfig(ctx, cfg), gw)
	}
}
