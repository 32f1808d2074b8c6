package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chain-calendar/internal/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingTarget struct {
	calls atomic.Int32
}

func (c *countingTarget) ForceReconnectAll() {
	c.calls.Add(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestReconnector_Throttle(t *testing.T) {
	target := &countingTarget{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewReconnector(target, config.ConnectionConfig{ReconnectThrottle: 5 * time.Second}, zap.NewNop())
	r.now = clock.Now

	assert.True(t, r.Trigger())
	assert.False(t, r.Trigger())
	assert.False(t, r.NetworkRestored())

	clock.Advance(4 * time.Second)
	assert.False(t, r.Trigger())

	clock.Advance(time.Second)
	assert.True(t, r.NetworkRestored())
	assert.Equal(t, int32(2), target.calls.Load())
}

func TestReconnector_BurstCoalesces(t *testing.T) {
	target := &countingTarget{}
	r := NewReconnector(target, config.ConnectionConfig{}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Trigger()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), target.calls.Load())
}

func TestHeartbeatStalled(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	interval := 2 * time.Second
	tolerance := 50 * time.Millisecond

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{name: "on time", elapsed: interval, want: false},
		{name: "within tolerance", elapsed: interval + tolerance, want: false},
		{name: "late", elapsed: interval + tolerance + time.Millisecond, want: true},
		{name: "slept", elapsed: 10 * time.Minute, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, heartbeatStalled(base, base.Add(tt.elapsed), interval, tolerance))
		})
	}
}

func TestReconnector_RunDetectsStall(t *testing.T) {
	target := &countingTarget{}
	r := NewReconnector(target, config.ConnectionConfig{
		HeartbeatInterval:  10 * time.Millisecond,
		HeartbeatTolerance: time.Millisecond,
	}, zap.NewNop())

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	// Every reading jumps a minute: each tick looks like a wake from sleep.
	r.now = func() time.Time {
		clock.Advance(time.Minute)
		return clock.Now()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestReconnector_RunDisabled(t *testing.T) {
	r := NewReconnector(&countingTarget{}, config.ConnectionConfig{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately without a heartbeat interval")
	}
}
