package conn

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Heartbeat periodically health-checks the session and triggers one
// recovery per failed check. Stop is guaranteed to return only after the
// monitoring goroutine has fully exited, so shutdown never races a
// reconnect in flight.
type Heartbeat struct {
	mgr      *Manager
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a supervisor over mgr checking every interval.
func NewHeartbeat(mgr *Manager, interval time.Duration, log *slog.Logger) *Heartbeat {
	return &Heartbeat{
		mgr:      mgr,
		interval: interval,
		log:      log.With("component", "heartbeat"),
	}
}

// Start launches the monitoring loop. Starting an already running
// heartbeat is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(loopCtx, h.done)
	h.log.Info("heartbeat started", "interval", h.interval)
}

// Stop cancels the loop and blocks until it has exited. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	h.log.Info("heartbeat stopped")
}

func (h *Heartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

// check runs one health probe. Exactly one recovery attempt follows a
// failed probe; if that fails too, the next tick tries again.
func (h *Heartbeat) check(ctx context.Context) {
	healthy, serverTime := h.mgr.HealthCheck(ctx)
	if healthy {
		h.log.Debug("health check ok", "serverTime", serverTime)
		return
	}
	if ctx.Err() != nil {
		return
	}
	h.log.Warn("health check failed, recovering")
	if err := h.mgr.EnsureConnected(ctx); err != nil {
		h.log.Error("recovery failed", "err", err)
	}
}
