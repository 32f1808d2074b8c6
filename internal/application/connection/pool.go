package connection

import (
	"context"
	"fmt"
	"sync"

	"chain-calendar/internal/domain"
	domainService "chain-calendar/internal/domain/service"

	"go.uber.org/zap"
)

// Pool owns the registered adapters, one per network.
type Pool struct {
	ctx    context.Context
	logger *zap.Logger

	mu       sync.Mutex
	adapters map[string]domainService.ChainAdapter
}

// NewPool creates a pool whose connections live until ctx is done.
func NewPool(ctx context.Context, logger *zap.Logger) *Pool {
	return &Pool{
		ctx:      ctx,
		logger:   logger.Named("ConnectionPool"),
		adapters: make(map[string]domainService.ChainAdapter),
	}
}

// Register adds adapter under network and starts connecting it in the background.
func (p *Pool) Register(network string, adapter domainService.ChainAdapter) error {
	if adapter == nil || adapter.URL() == "" {
		return fmt.Errorf("%w: network %s has no usable adapter", domain.ErrRegistrationFailure, network)
	}

	p.mu.Lock()
	if _, exists := p.adapters[network]; exists {
		p.mu.Unlock()
		return fmt.Errorf("%w: network %s is already registered", domain.ErrRegistrationFailure, network)
	}
	p.adapters[network] = adapter
	p.mu.Unlock()

	p.logger.Debug("Registered adapter", zap.String("network", network), zap.String("url", adapter.URL()))
	go p.connect(network, adapter)
	return nil
}

// Connect restarts the connection of a registered adapter in the background.
func (p *Pool) Connect(network string) bool {
	p.mu.Lock()
	adapter, ok := p.adapters[network]
	p.mu.Unlock()
	if !ok {
		return false
	}
	go p.connect(network, adapter)
	return true
}

func (p *Pool) connect(network string, adapter domainService.ChainAdapter) {
	if err := adapter.Connect(p.ctx); err != nil {
		p.logger.Debug("Connect attempt failed", zap.String("network", network), zap.Error(err))
	}
}

// Unregister removes and closes the adapter of network. It is a no-op for unknown networks.
func (p *Pool) Unregister(network string) {
	p.mu.Lock()
	adapter, ok := p.adapters[network]
	delete(p.adapters, network)
	p.mu.Unlock()

	if ok {
		_ = adapter.Close()
		p.logger.Debug("Unregistered adapter", zap.String("network", network))
	}
}

func (p *Pool) Registered(network string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.adapters[network]
	return ok
}

// Close unregisters every adapter.
func (p *Pool) Close() {
	p.mu.Lock()
	adapters := p.adapters
	p.adapters = make(map[string]domainService.ChainAdapter)
	p.mu.Unlock()

	for _, a := range adapters {
		_ = a.Close()
	}
}
