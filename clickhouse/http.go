package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes caps how much of a response body we read; anything a
// tool call returns beyond this would blow the LLM context anyway.
const maxResponseBytes = 48 * 1024 * 1024

// httpClient executes queries against the ClickHouse HTTP interface. It
// is stateless: every call is one authenticated GET with the statement
// and session parameters in the query string, so there is no persistent
// handle to manage and the client is safe for concurrent use.
type httpClient struct {
	cfg     Config
	client  *http.Client
	baseURL string
}

func newHTTPClient(cfg Config) *httpClient {
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport
	if cfg.TLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		transport = t
	}

	return &httpClient{
		cfg: cfg,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   cfg.QueryTimeout,
		},
		baseURL: cfg.httpBaseURL(),
	}
}

func (c *httpClient) Name() Transport {
	return TransportHTTP
}

// Probe checks the transport is usable: the request must succeed and the
// trivial statement must come back parseable.
func (c *httpClient) Probe(ctx context.Context) error {
	result, err := c.Execute(ctx, "SELECT 1", 1)
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.New(result.Err)
	}
	return nil
}

// Execute runs one statement over HTTP and normalizes the response by
// content type. The server is asked for the JSON format, but error
// responses and non-JSON deployments fall back to text parsing. A
// normalization failure degrades to a failed QueryResult rather than an
// error so it never propagates as a fault.
func (c *httpClient) Execute(ctx context.Context, query string, maxRows int) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	params := req.URL.Query()
	params.Set("query", query)
	params.Set("user", c.cfg.Username)
	params.Set("password", c.cfg.Password)
	params.Set("database", c.cfg.Database)
	params.Set("default_format", "JSON")
	if maxRows > 0 {
		// Limit at the server so oversized results never cross the wire.
		params.Set("max_result_rows", strconv.Itoa(maxRows))
		params.Set("result_overflow_mode", "break")
	}
	req.URL.RawQuery = params.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ClickHouse HTTP status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "json") {
		result, err := NormalizeHTTPJSON(body)
		if err != nil {
			return ErrorResult("%v", err), nil
		}
		return result, nil
	}
	return NormalizeHTTPText(string(body)), nil
}

// Close is a no-op; the HTTP transport holds no persistent handle.
func (c *httpClient) Close() error {
	return nil
}
