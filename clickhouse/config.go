package clickhouse

import (
	"fmt"
	"time"
)

const (
	// DefaultQueryTimeout bounds a single query attempt on either
	// transport. Cancellation only stops the local wait; the in-flight
	// server-side query is not killed (that would need an out-of-band
	// KILL QUERY), which is an accepted limitation.
	DefaultQueryTimeout = 30 * time.Second

	// DefaultDialTimeout bounds connection establishment for the native
	// transport probe.
	DefaultDialTimeout = 10 * time.Second
)

// Config is the resolved connection configuration the core consumes. The
// binary populates it from flags and environment variables; the core
// never reads the environment itself.
type Config struct {
	// Host is the ClickHouse server hostname, without port.
	Host string

	// NativePort is the native (binary protocol) port, usually 9000.
	NativePort int

	// HTTPPort is the HTTP interface port, usually 8123.
	HTTPPort int

	Database string
	Username string
	Password string

	// TLS enables https / secure native connections.
	TLS bool

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool

	DialTimeout  time.Duration
	QueryTimeout time.Duration
}

// withDefaults fills zero fields with the conventional ClickHouse
// defaults.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.NativePort == 0 {
		c.NativePort = 9000
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8123
	}
	if c.Database == "" {
		c.Database = "default"
	}
	if c.Username == "" {
		c.Username = "default"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}

func (c Config) httpBaseURL() string {
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, c.Host, c.HTTPPort)
}

func (c Config) nativeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.NativePort)
}
