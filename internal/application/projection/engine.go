package projection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chain-calendar/internal/application/observable"
	"chain-calendar/internal/config"
	"chain-calendar/internal/domain"
	"chain-calendar/internal/domain/entity"
	domainService "chain-calendar/internal/domain/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chain is the projection state of one network.
type chain struct {
	desc    entity.NetworkDescriptor
	querier domainService.ChainQuerier
	loading atomic.Bool

	// Guarded by Engine.mu.
	items   []entity.CalendarItem
	gate    uint64
	gateSet bool
	runs    uint64
}

// Engine derives calendar items from chain state, one network at a time.
type Engine struct {
	cfg        config.ProjectionConfig
	queriers   domainService.QuerierFactory
	blockTimes *BlockTimes
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	chains  map[string]*chain
	version uint64
	changes *observable.Subject[uint64]
}

// NewEngine creates a projection engine.
func NewEngine(cfg config.ProjectionConfig, queriers domainService.QuerierFactory, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		queriers:   queriers,
		blockTimes: NewBlockTimes(cfg.GetDefaultBlockTime(), logger),
		now:        time.Now,
		logger:     logger.Named("ProjectionEngine"),
		chains:     make(map[string]*chain),
		changes:    observable.NewSubject[uint64](0),
	}
}

// AddChain starts tracking network d. Adding a tracked network is a no-op.
func (e *Engine) AddChain(d entity.NetworkDescriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.chains[d.ID]; ok {
		return
	}
	e.chains[d.ID] = &chain{desc: d, querier: e.queriers(d)}
	e.logger.Info("Tracking network", zap.String("network", d.ID))
}

// RemoveChain drops the items, gate and cached constants of network.
func (e *Engine) RemoveChain(network string) {
	e.mu.Lock()
	_, ok := e.chains[network]
	delete(e.chains, network)
	if ok {
		e.version++
	}
	version := e.version
	e.mu.Unlock()

	e.blockTimes.Forget(network)
	if ok {
		e.logger.Info("Stopped tracking network", zap.String("network", network))
		e.changes.Next(version)
	}
}

// OnNewHead recomputes the items of network at block. The trigger is dropped
// while a recompute for the network is in flight, and skipped when block is
// below the network's reload gate. It reports whether a recompute ran.
func (e *Engine) OnNewHead(ctx context.Context, network string, block uint64) bool {
	e.mu.Lock()
	c, ok := e.chains[network]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if block > math.MaxInt64 {
		e.logger.Warn("Head block out of range, ignoring",
			zap.String("network", network), zap.Uint64("block", block),
		)
		return false
	}

	if !c.loading.CompareAndSwap(false, true) {
		e.logger.Debug("Recompute in flight, dropping head",
			zap.String("network", network), zap.Uint64("block", block),
		)
		return false
	}
	defer c.loading.Store(false)

	e.mu.Lock()
	gate, gateSet := c.gate, c.gateSet
	e.mu.Unlock()
	if gateSet && block < gate {
		return false
	}

	e.recompute(ctx, c, block)
	return true
}

func (e *Engine) recompute(ctx context.Context, c *chain, block uint64) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GetQueryTimeout())
	defer cancel()

	network := c.desc.ID
	started := time.Now()
	f := &frame{
		network:   network,
		block:     block,
		now:       e.now(),
		blockTime: e.blockTimes.Get(ctx, network, c.querier),
		querier:   c.querier,
		gate:      newReloadGate(block),
		logger:    e.logger.With(zap.String("network", network)),
	}

	// One slot per source keeps the item order independent of completion order.
	slots := make([][]entity.CalendarItem, len(sources))
	var g errgroup.Group
	for i, s := range sources {
		g.Go(func() error {
			items, err := s.run(ctx, f)
			if err != nil {
				if !errors.Is(err, domain.ErrSourceUnavailable) {
					err = fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
				}
				f.logger.Debug("Schedule source contributed nothing",
					zap.String("source", s.name), zap.Uint64("block", block), zap.Error(err),
				)
				return nil
			}
			slots[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var items []entity.CalendarItem
	for _, s := range slots {
		items = append(items, s...)
	}
	gate := f.gate.result()

	e.mu.Lock()
	if e.chains[network] != c {
		// Removed while computing.
		e.mu.Unlock()
		return
	}
	c.items = items
	c.gate = gate
	c.gateSet = true
	c.runs++
	e.version++
	version := e.version
	e.mu.Unlock()

	e.logger.Debug("Recomputed calendar items",
		zap.String("network", network),
		zap.Uint64("block", block),
		zap.Int("items", len(items)),
		zap.Uint64("reloadGate", gate),
		zap.Duration("took", time.Since(started)),
	)
	e.changes.Next(version)
}

// ReloadGate returns the lowest block at which network recomputes next.
func (e *Engine) ReloadGate(network string) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.chains[network]
	if !ok || !c.gateSet {
		return 0, false
	}
	return c.gate, true
}

// Items returns a copy of the current items of network.
func (e *Engine) Items(network string) []entity.CalendarItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.chains[network]
	if !ok {
		return nil
	}
	return append([]entity.CalendarItem(nil), c.items...)
}

// Snapshot returns the items of every tracked network.
func (e *Engine) Snapshot() map[string][]entity.CalendarItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]entity.CalendarItem, len(e.chains))
	for id, c := range e.chains {
		out[id] = append([]entity.CalendarItem(nil), c.items...)
	}
	return out
}

// Networks returns the tracked network ids in ascending order.
func (e *Engine) Networks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.chains))
	for id := range e.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Changes publishes a new version number whenever any network's items changed.
func (e *Engine) Changes() *observable.Subject[uint64] {
	return e.changes
}
