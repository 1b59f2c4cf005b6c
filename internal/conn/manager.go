// Package conn manages the lifetime of the TWS connection: connect with
// retry, health checks, and recovery. A single Manager guards one logical
// connection; every connect cycle gets a fresh bridge so no state survives
// a dead session.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ibgate/internal/bridge"
	"ibgate/internal/config"
	"ibgate/internal/ibgw"
	"ibgate/internal/util"
)

// ErrNotConnected means a bridge was requested while no session is up.
var ErrNotConnected = errors.New("conn: not connected to TWS")

// Manager serialises all connect/disconnect transitions behind one mutex.
// Data requests do not take that mutex; they grab the current bridge and
// run against it, so a slow request never blocks recovery.
type Manager struct {
	cfg  *config.Config
	dial func(ibgw.Events) ibgw.Gateway
	log  *slog.Logger

	mu        sync.Mutex
	br        *bridge.Bridge
	connected bool
}

// NewManager creates a Manager. dial is handed to every new bridge to build
// its gateway.
func NewManager(cfg *config.Config, dial func(ibgw.Events) ibgw.Gateway, log *slog.Logger) *Manager {
	return &Manager{
		cfg:  cfg,
		dial: dial,
		log:  log.With("component", "conn"),
	}
}

// Connect establishes a session, retrying up to the configured attempt
// count with a fixed delay between attempts. Already connected is a no-op.
// Each attempt runs on a fresh bridge; a failed attempt's bridge is closed
// before the next begins.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected && m.br != nil && m.br.Live() {
		return nil
	}
	m.teardownLocked()

	c := m.cfg.Connection
	attempt := 0
	err := util.Retry(ctx, c.ReconnectAttempts, c.ReconnectDelay, func() error {
		attempt++
		br := bridge.New(m.dial, m.cfg.IBKR.PacingPerSec, m.log)
		if err := br.Connect(ctx, m.cfg.IBKR.Host, m.cfg.IBKR.Port, m.cfg.IBKR.ClientID, c.ConnectTimeout, c.OrderIDTimeout); err != nil {
			br.Close()
			m.log.Warn("connect attempt failed", "attempt", attempt, "of", c.ReconnectAttempts, "err", err)
			return err
		}
		m.br = br
		m.connected = true
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("all %d connect attempts failed: %w", c.ReconnectAttempts, err)
	}
	return nil
}

// Disconnect tears the session down. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	if m.br != nil {
		m.br.Close()
		m.br = nil
	}
	m.connected = false
}

// IsConnected reports whether the manager believes it is connected AND the
// bridge's link is actually live. The two can disagree after a peer-side
// drop; requiring both keeps a stale flag from masking a dead socket.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	br := m.br
	connected := m.connected
	m.mu.Unlock()
	return connected && br != nil && br.Live()
}

// Bridge returns the current session's bridge, or ErrNotConnected.
func (m *Manager) Bridge() (*bridge.Bridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || m.br == nil {
		return nil, ErrNotConnected
	}
	return m.br, nil
}

// EnsureConnected is the single recovery entry point: it verifies the
// session and reconnects if it is down. Callers that find a dead link go
// through here rather than reconnecting themselves.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	m.log.Info("connection down, reconnecting")
	m.Disconnect()
	return m.Connect(ctx)
}

// HealthCheck probes the session with a current-time round trip, waits a
// fixed settle interval, and reports whether the link is still live. It
// never reconnects; recovery is EnsureConnected's job.
func (m *Manager) HealthCheck(ctx context.Context) (bool, time.Time) {
	m.mu.Lock()
	br := m.br
	connected := m.connected
	m.mu.Unlock()

	if !connected || br == nil {
		return false, time.Time{}
	}
	if err := br.RequestCurrentTime(ctx); err != nil {
		return false, time.Time{}
	}
	if err := util.Sleep(ctx, m.cfg.Connection.HealthWait); err != nil {
		return false, time.Time{}
	}
	return br.Live(), br.ServerTime()
}
