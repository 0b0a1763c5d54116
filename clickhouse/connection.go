package clickhouse

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport identifies one of the two wire protocols used to reach the
// server.
type Transport string

const (
	TransportHTTP   Transport = "http"
	TransportNative Transport = "native"
	TransportNone   Transport = "none"
)

// alternate names the other wire transport.
func (t Transport) alternate() Transport {
	if t == TransportNative {
		return TransportHTTP
	}
	return TransportNative
}

// transportClient executes one query against ClickHouse over one wire
// transport.
type transportClient interface {
	Name() Transport
	Probe(ctx context.Context) error
	Execute(ctx context.Context, query string, maxRows int) (*QueryResult, error)
	Close() error
}

// connState is the Manager's lifecycle state. There are no runtime
// transitions after startup: a failed query triggers a one-shot
// alternate-transport attempt in the Gateway, not a reconnect here.
type connState int

const (
	stateUninitialized connState = iota
	stateProbing
	stateConnected
	stateFailed
	stateClosed
)

// Manager owns the single long-lived transport handle, chosen at startup
// by probing transports in priority order: HTTP first (cheap stateless
// GET), then native. A probe succeeds only if both connecting and
// executing SELECT 1 succeed.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    connState
	active   transportClient
	lastUsed time.Time

	// Constructor hooks, overridable in tests.
	newHTTP   func(Config) transportClient
	newNative func(Config) (transportClient, error)
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger,
		state:  stateUninitialized,
		newHTTP: func(c Config) transportClient {
			return newHTTPClient(c)
		},
		newNative: func(c Config) (transportClient, error) {
			return newNativeClient(c)
		},
	}
}

// Connect probes the transports and keeps the first that works. When
// neither is usable the Manager stays in a failed state and every query
// fails fast with a ConnectivityError.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = stateProbing

	httpCandidate := m.newHTTP(m.cfg)
	if err := httpCandidate.Probe(ctx); err == nil {
		m.active = httpCandidate
		m.state = stateConnected
		m.lastUsed = time.Now()
		m.logger.Info("ClickHouse connection established", "transport", TransportHTTP)
		return nil
	} else {
		m.logger.Warn("ClickHouse HTTP probe failed", "error", err)
	}

	nativeCandidate, err := m.newNative(m.cfg)
	if err != nil {
		m.logger.Warn("ClickHouse native client unavailable", "error", err)
	} else if probeErr := nativeCandidate.Probe(ctx); probeErr != nil {
		m.logger.Warn("ClickHouse native probe failed", "error", probeErr)
		_ = nativeCandidate.Close()
	} else {
		m.active = nativeCandidate
		m.state = stateConnected
		m.lastUsed = time.Now()
		m.logger.Info("ClickHouse connection established", "transport", TransportNative)
		return nil
	}

	m.state = stateFailed
	return &ConnectivityError{Host: m.cfg.Host}
}

// Active returns the startup-selected transport client, or nil with
// TransportNone when no transport was established.
func (m *Manager) Active() (transportClient, Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateConnected || m.active == nil {
		return nil, TransportNone
	}
	m.lastUsed = time.Now()
	return m.active, m.active.Name()
}

// ActiveTransport reports which transport is in use, for logging.
func (m *Manager) ActiveTransport() Transport {
	_, t := m.Active()
	return t
}

// Alternate builds a client for the transport that is not active, for
// the Gateway's one-shot fallback. The native alternate is a temporary
// handle; the returned cleanup closes it. The HTTP alternate is stateless
// and its cleanup is a no-op.
func (m *Manager) Alternate() (transportClient, func(), error) {
	_, active := m.Active()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch active {
	case TransportNative:
		return m.newHTTP(m.cfg), func() {}, nil
	default:
		client, err := m.newNative(m.cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}
}

// Close releases the active transport's underlying handle. Only the
// native transport holds one; closing is best-effort and may race with an
// in-flight query at shutdown, which is acceptable for a single-process
// tool server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.active != nil {
		err = m.active.Close()
		m.active = nil
	}
	m.state = stateClosed
	return err
}

// fallbackDecision is the action the Gateway takes after the primary
// transport's attempt.
type fallbackDecision int

const (
	decisionReturn fallbackDecision = iota
	decisionFallback
	decisionFail
)

// chooseTransport is the pure fallback decision: return the primary
// result when it succeeded, retry once on the alternate when one is
// available, otherwise fail with both errors.
func chooseTransport(primaryErr error, alternateAvailable bool) fallbackDecision {
	if primaryErr == nil {
		return decisionReturn
	}
	if alternateAvailable {
		return decisionFallback
	}
	return decisionFail
}
