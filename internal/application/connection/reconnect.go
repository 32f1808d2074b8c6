package connection

import (
	"context"
	"sync"
	"time"

	"chain-calendar/internal/config"

	"go.uber.org/zap"
)

// reconnectTarget is the part of Manager the Reconnector drives.
type reconnectTarget interface {
	ForceReconnectAll()
}

// Reconnector turns reconnect signals into at most one ForceReconnectAll per throttle window.
type Reconnector struct {
	target    reconnectTarget
	throttle  time.Duration
	interval  time.Duration
	tolerance time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	lastFire time.Time
	fired    bool
}

// NewReconnector creates a reconnector for target.
func NewReconnector(target reconnectTarget, cfg config.ConnectionConfig, logger *zap.Logger) *Reconnector {
	return &Reconnector{
		target:    target,
		throttle:  cfg.GetReconnectThrottle(),
		interval:  cfg.GetHeartbeatInterval(),
		tolerance: cfg.GetHeartbeatTolerance(),
		now:       wallClock,
		logger:    logger.Named("Reconnector"),
	}
}

// Trigger requests a reconnect of every network. Requests arriving within the
// throttle window of the last accepted one are dropped. It reports whether the
// request was accepted.
func (r *Reconnector) Trigger() bool {
	r.mu.Lock()
	now := r.now()
	if r.fired && now.Sub(r.lastFire) < r.throttle {
		r.mu.Unlock()
		r.logger.Debug("Reconnect request throttled")
		return false
	}
	r.fired = true
	r.lastFire = now
	r.mu.Unlock()

	r.target.ForceReconnectAll()
	return true
}

// NetworkRestored reports that host connectivity came back.
func (r *Reconnector) NetworkRestored() bool {
	r.logger.Info("Network connectivity restored")
	return r.Trigger()
}

// Run watches for process suspension until ctx is done. A heartbeat that arrives
// much later than scheduled means the host slept and every connection is suspect.
func (r *Reconnector) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("Suspend watchdog disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Suspend watchdog started", zap.Duration("interval", r.interval))
	prev := r.now()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Suspend watchdog stopped")
			return
		case <-ticker.C:
			now := r.now()
			if heartbeatStalled(prev, now, r.interval, r.tolerance) {
				r.logger.Info("Heartbeat stalled, assuming wake from sleep",
					zap.Duration("elapsed", now.Sub(prev)),
				)
				r.Trigger()
			}
			prev = now
		}
	}
}

// wallClock strips the monotonic reading, which stops while the host sleeps.
func wallClock() time.Time {
	return time.Now().Round(0)
}

func heartbeatStalled(prev, now time.Time, interval, tolerance time.Duration) bool {
	return now.Sub(prev) > interval+tolerance
}
