package conn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ibgate/internal/config"
	"ibgate/internal/ibgw"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Connection.ReconnectAttempts = 3
	cfg.Connection.ReconnectDelay = 20 * time.Millisecond
	cfg.Connection.ConnectTimeout = 100 * time.Millisecond
	cfg.Connection.OrderIDTimeout = 100 * time.Millisecond
	cfg.Connection.HealthWait = 10 * time.Millisecond
	return cfg
}

// simDialer counts dials and can schedule handshake failures for the
// first n sessions.
type simDialer struct {
	mu       sync.Mutex
	dials    int
	failures int
	sim      *ibgw.Simulator
}

func (d *simDialer) dial(e ibgw.Events) ibgw.Gateway {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.sim = ibgw.NewSimulator(e)
	if d.failures > 0 {
		d.failures--
		d.sim.FailConnections(1)
	}
	return d.sim
}

func (d *simDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *simDialer) current() *ibgw.Simulator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sim
}

func TestManagerConnectRetriesUntilSuccess(t *testing.T) {
	d := &simDialer{failures: 2}
	m := NewManager(testConfig(), d.dial, testLogger())
	defer m.Disconnect()

	start := time.Now()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := d.count(); got != 3 {
		t.Errorf("dialed %d times, want 3", got)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after successful Connect")
	}
	// Two failed attempts means two inter-attempt delays.
	if elapsed := time.Since(start); elapsed < 2*20*time.Millisecond {
		t.Errorf("Connect returned after %v, expected at least two retry delays", elapsed)
	}
}

func TestManagerConnectAllAttemptsFail(t *testing.T) {
	d := &simDialer{failures: 3}
	m := NewManager(testConfig(), d.dial, testLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded, want failure after all attempts")
	}
	if got := d.count(); got != 3 {
		t.Errorf("dialed %d times, want 3", got)
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true after failed Connect")
	}
	if _, err := m.Bridge(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Bridge() error = %v, want ErrNotConnected", err)
	}
}

func TestManagerConnectIdempotentWhileLive(t *testing.T) {
	d := &simDialer{}
	m := NewManager(testConfig(), d.dial, testLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := d.count(); got != 1 {
		t.Errorf("dialed %d times for two Connects on a live session, want 1", got)
	}
}

func TestManagerIsConnectedRequiresLiveLink(t *testing.T) {
	d := &simDialer{}
	m := NewManager(testConfig(), d.dial, testLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Peer-side drop: the manager flag still says connected, but the
	// socket is gone. IsConnected must report false.
	d.current().Disconnect()
	if m.IsConnected() {
		t.Error("IsConnected() = true after the link dropped")
	}
}

func TestManagerEnsureConnectedRecovers(t *testing.T) {
	d := &simDialer{}
	m := NewManager(testConfig(), d.dial, testLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected on live session: %v", err)
	}
	if got := d.count(); got != 1 {
		t.Errorf("EnsureConnected redialed a live session: %d dials, want 1", got)
	}

	d.current().Disconnect()
	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected after drop: %v", err)
	}
	if got := d.count(); got != 2 {
		t.Errorf("dialed %d times after recovery, want 2", got)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after recovery")
	}
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	d := &simDialer{}
	m := NewManager(testConfig(), d.dial, testLogger())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Disconnect()
	m.Disconnect()

	if m.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if _, err := m.Bridge(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Bridge() error = %v, want ErrNotConnected", err)
	}
}

func TestManagerHealthCheck(t *testing.T) {
	d := &simDialer{}
	m := NewManager(testConfig(), d.dial, testLogger())
	defer m.Disconnect()

	if healthy, _ := m.HealthCheck(context.Background()); healthy {
		t.Error("HealthCheck healthy before Connect")
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	healthy, serverTime := m.HealthCheck(context.Background())
	if !healthy {
		t.Error("HealthCheck unhealthy on a live session")
	}
	if serverTime.IsZero() {
		t.Error("HealthCheck returned zero server time on a live session")
	}

	// HealthCheck must report a dropped link but never reconnect itself.
	d.current().Disconnect()
	if healthy, _ := m.HealthCheck(context.Background()); healthy {
		t.Error("HealthCheck healthy after the link dropped")
	}
	if got := d.count(); got != 1 {
		t.Errorf("HealthCheck triggered a reconnect: %d dials, want 1", got)
	}
}
