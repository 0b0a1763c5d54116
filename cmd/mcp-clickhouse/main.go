package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/semconv/v1.39.0/mcpconv"

	mcpclickhouse "github.com/clickhouse-contrib/mcp-clickhouse"
	"github.com/clickhouse-contrib/mcp-clickhouse/clickhouse"
	"github.com/clickhouse-contrib/mcp-clickhouse/observability"
	mcptools "github.com/clickhouse-contrib/mcp-clickhouse/tools"
)

const serverName = "mcp-clickhouse"

var defaultEnabledTools = mcptools.DefaultEnabledCategories

// clickhouseConfig holds flag overrides for the connection settings. Flags
// take precedence over CLICKHOUSE_* environment variables.
type clickhouseConfig struct {
	host       string
	nativePort int
	httpPort   int
	database   string
	username   string
	password   string
}

func (c *clickhouseConfig) addFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.host, "clickhouse-host", "", "ClickHouse host (overrides CLICKHOUSE_HOST)")
	fs.IntVar(&c.nativePort, "clickhouse-port", 0, "ClickHouse native protocol port (overrides CLICKHOUSE_PORT)")
	fs.IntVar(&c.httpPort, "clickhouse-http-port", 0, "ClickHouse HTTP port (overrides CLICKHOUSE_HTTP_PORT)")
	fs.StringVar(&c.database, "clickhouse-database", "", "Default database (overrides CLICKHOUSE_DATABASE)")
	fs.StringVar(&c.username, "clickhouse-username", "", "Username (overrides CLICKHOUSE_USERNAME)")
	fs.StringVar(&c.password, "clickhouse-password", "", "Password (overrides CLICKHOUSE_PASSWORD)")
}

// toConfig merges the environment configuration with flag overrides.
func (c *clickhouseConfig) toConfig() mcpclickhouse.Config {
	cfg := mcpclickhouse.ConfigFromEnvironment()
	if c.host != "" {
		cfg.ClickHouse.Host = c.host
	}
	if c.nativePort != 0 {
		cfg.ClickHouse.NativePort = c.nativePort
	}
	if c.httpPort != 0 {
		cfg.ClickHouse.HTTPPort = c.httpPort
	}
	if c.database != "" {
		cfg.ClickHouse.Database = c.database
	}
	if c.username != "" {
		cfg.ClickHouse.Username = c.username
	}
	if c.password != "" {
		cfg.ClickHouse.Password = c.password
	}
	return cfg
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newMCPServer builds the MCP server with tools registered according to
// the configuration.
func newMCPServer(cfg mcpclickhouse.Config, enabledTools string, hooks *server.Hooks) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		serverName,
		version(),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)

	if !cfg.Enabled {
		slog.Info("ClickHouse tools disabled by configuration")
		return s, nil
	}

	resourceDesc, err := cfg.ResourceDescription()
	if err != nil {
		return nil, fmt.Errorf("load resource description: %w", err)
	}
	mcptools.CollectAllTools(s, strings.Split(enabledTools, ","), resourceDesc)
	return s, nil
}

func run(transport, addr, basePath, enabledTools string, cc *clickhouseConfig, metricsEnabled bool, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cc.toConfig()

	networkTransport := mcpconv.NetworkTransportTCP
	if transport == "stdio" {
		networkTransport = mcpconv.NetworkTransportPipe
	}
	obs, err := observability.Setup(observability.Config{
		MetricsEnabled:   metricsEnabled,
		MetricsAddress:   metricsAddr,
		NetworkTransport: networkTransport,
		ServerName:       serverName,
		ServerVersion:    version(),
	})
	if err != nil {
		return fmt.Errorf("observability setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	manager := clickhouse.NewManager(cfg.ClickHouse, slog.Default())
	if cfg.Enabled {
		if err := manager.Connect(ctx); err != nil {
			// The server still starts. Tool calls report the connectivity
			// failure until the operator fixes the configuration.
			slog.Warn("ClickHouse connection failed at startup", "error", err)
		}
	}
	defer func() { _ = manager.Close() }()
	gateway := clickhouse.NewGateway(manager, slog.Default())

	s, err := newMCPServer(cfg, enabledTools, obs.MCPHooks())
	if err != nil {
		return err
	}

	switch transport {
	case "stdio":
		srv := server.NewStdioServer(s)
		srv.SetContextFunc(mcpclickhouse.ComposedStdioContextFunc(cfg, gateway))
		slog.Info("Starting ClickHouse MCP server using stdio transport")
		err := srv.Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case "sse":
		srv := server.NewSSEServer(s,
			server.WithSSEContextFunc(mcpclickhouse.ComposedSSEContextFunc(cfg, gateway)),
			server.WithStaticBasePath(basePath),
		)
		slog.Info("Starting ClickHouse MCP server using SSE transport", "address", addr, "basePath", basePath)
		return serveHTTP(ctx, obs, srv, addr, metricsEnabled, metricsAddr)
	case "streamable-http":
		srv := server.NewStreamableHTTPServer(s,
			server.WithHTTPContextFunc(mcpclickhouse.ComposedHTTPContextFunc(cfg, gateway)),
		)
		slog.Info("Starting ClickHouse MCP server using StreamableHTTP transport", "address", addr)
		return serveHTTP(ctx, obs, srv, addr, metricsEnabled, metricsAddr)
	default:
		return fmt.Errorf("invalid transport type %q: must be one of stdio, sse, streamable-http", transport)
	}
}

// serveHTTP runs an HTTP-based MCP transport with otelhttp instrumentation
// and an optional /metrics endpoint, shutting down on signal.
func serveHTTP(ctx context.Context, obs *observability.Observability, handler http.Handler, addr string, metricsEnabled bool, metricsAddr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", observability.WrapHandler(handler, "mcp"))

	if metricsEnabled {
		if metricsAddr != "" && metricsAddr != addr {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", obs.MetricsHandler())
			metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
			go func() {
				slog.Info("Serving metrics", "address", metricsAddr)
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("Metrics server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()
		} else {
			mux.Handle("/metrics", obs.MetricsHandler())
		}
	}

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	// The "cli" subcommand executes a single tool call and exits, for use
	// from scripts and for debugging tool behavior.
	if len(os.Args) > 1 && os.Args[1] == "cli" {
		os.Exit(runCLI(os.Args[2:]))
	}

	var transport string
	flag.StringVar(&transport, "t", "stdio", "Transport type (stdio, sse or streamable-http)")
	flag.StringVar(&transport, "transport", "stdio", "Transport type (stdio, sse or streamable-http)")
	addr := flag.String("address", "localhost:8000", "Host and port for the SSE and StreamableHTTP transports")
	basePath := flag.String("base-path", "", "Base path for the SSE transport")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	enabledTools := flag.String("enabled-tools", defaultEnabledTools, "Comma-separated list of tool categories to enable")
	metricsEnabled := flag.Bool("enable-metrics", false, "Expose Prometheus metrics at /metrics")
	metricsAddr := flag.String("metrics-address", "", "Optional separate address for the metrics endpoint")
	showVersion := flag.Bool("version", false, "Print version and exit")

	var cc clickhouseConfig
	cc.addFlags(flag.CommandLine)
	flag.Parse()

	if *showVersion {
		fmt.Println(version())
		return
	}

	// A .env file is optional. Environment variables already set win.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	})))

	if err := run(transport, *addr, *basePath, *enabledTools, &cc, *metricsEnabled, *metricsAddr); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
