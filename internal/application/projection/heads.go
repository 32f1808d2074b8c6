package projection

import (
	"context"
	"fmt"
	"sync"

	domainService "chain-calendar/internal/domain/service"
	"chain-calendar/internal/pkg/apperrors"

	"go.uber.org/zap"
)

// headTrigger receives new block heights.
type headTrigger interface {
	OnNewHead(ctx context.Context, network string, block uint64) bool
}

// HeadSubscriber forwards each active network's new heads to the engine.
type HeadSubscriber struct {
	engine headTrigger
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

// NewHeadSubscriber creates a head subscriber feeding engine.
func NewHeadSubscriber(engine headTrigger, logger *zap.Logger) *HeadSubscriber {
	return &HeadSubscriber{
		engine: engine,
		logger: logger.Named("HeadSubscriber"),
		subs:   make(map[string]context.CancelFunc),
	}
}

// Start subscribes to new heads of network. Each head triggers a recompute in
// its own goroutine so that heads arriving mid-recompute are dropped, not queued.
func (h *HeadSubscriber) Start(ctx context.Context, network string, adapter domainService.ChainAdapter) error {
	h.mu.Lock()
	if _, ok := h.subs[network]; ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: heads of %s already subscribed", apperrors.ErrConflict, network)
	}
	ctx, cancel := context.WithCancel(ctx)
	h.subs[network] = cancel
	h.mu.Unlock()

	heads, unsubscribe, err := adapter.SubscribeNewHeads(ctx)
	if err != nil {
		h.mu.Lock()
		delete(h.subs, network)
		h.mu.Unlock()
		cancel()
		return fmt.Errorf("subscribe new heads of %s: %w", network, err)
	}

	h.logger.Info("Subscribed to new heads", zap.String("network", network))
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case head, ok := <-heads:
				if !ok {
					return
				}
				go h.engine.OnNewHead(ctx, network, head.Number)
			}
		}
	}()
	return nil
}

// Stop ends the head subscription of network. It is a no-op for unknown networks.
func (h *HeadSubscriber) Stop(network string) {
	h.mu.Lock()
	cancel, ok := h.subs[network]
	delete(h.subs, network)
	h.mu.Unlock()

	if ok {
		cancel()
		h.logger.Info("Unsubscribed from new heads", zap.String("network", network))
	}
}

// StopAll ends every head subscription.
func (h *HeadSubscriber) StopAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]context.CancelFunc)
	h.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
}
