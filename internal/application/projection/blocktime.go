package projection

import (
	"context"
	"time"

	domainService "chain-calendar/internal/domain/service"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	maxBlockTime       = 24 * time.Hour
	minimumPeriodFloor = 500 // ms
	parachainPallet    = "parachainSystem"
)

// blockTimeProbes are runtime constants holding the target block time in ms.
// Runtime families expose at most one of them.
var blockTimeProbes = []struct{ pallet, name string }{
	{"babe", "expectedBlockTime"},
	{"difficulty", "targetBlockTime"},
	{"subspace", "expectedBlockTime"},
}

// BlockTimes estimates and caches the block time of each network. Only values
// derived from chain constants are cached; the default is retried next time.
type BlockTimes struct {
	cache    *cache.Cache
	fallback time.Duration
	logger   *zap.Logger
}

// NewBlockTimes creates a block time cache with fallback as the default block time.
func NewBlockTimes(fallback time.Duration, logger *zap.Logger) *BlockTimes {
	return &BlockTimes{
		cache:    cache.New(cache.NoExpiration, 0),
		fallback: fallback,
		logger:   logger.Named("BlockTimes"),
	}
}

// Get returns the block time of network, probing the chain on a cache miss.
func (b *BlockTimes) Get(ctx context.Context, network string, q domainService.ChainQuerier) time.Duration {
	if x, found := b.cache.Get(network); found {
		if bt, ok := x.(time.Duration); ok {
			return bt
		}
		b.logger.Warn("Block time cache data type mismatch", zap.String("network", network))
		b.cache.Delete(network)
	}

	bt, probed := b.probe(ctx, network, q)
	if probed {
		b.cache.Set(network, bt, cache.NoExpiration)
	}
	b.logger.Info("Estimated block time",
		zap.String("network", network), zap.Duration("blockTime", bt), zap.Bool("fromChain", probed),
	)
	return bt
}

// Forget drops the cached block time of network.
func (b *BlockTimes) Forget(network string) {
	b.cache.Delete(network)
}

func (b *BlockTimes) probe(ctx context.Context, network string, q domainService.ChainQuerier) (time.Duration, bool) {
	for _, p := range blockTimeProbes {
		v := constUint(ctx, q, p.pallet, p.name)
		if ms, ok := v.Get(); ok && ms > 0 {
			return min(time.Duration(ms)*time.Millisecond, maxBlockTime), true
		}
		if v.State() != ValueAbsent {
			b.logger.Debug("Block time probe unusable", zap.String("network", network), zap.Error(v.Err()))
		}
	}

	v := constUint(ctx, q, "timestamp", "minimumPeriod")
	if ms, ok := v.Get(); ok && ms >= minimumPeriodFloor {
		return min(time.Duration(ms)*2*time.Millisecond, maxBlockTime), true
	}

	// The parachain marker is only consulted when the runtime has no readable minimum period.
	if v.State() == ValueAbsent || v.State() == ValueFailed {
		isParachain, err := q.HasPallet(ctx, parachainPallet)
		if err != nil {
			b.logger.Debug("Parachain probe failed", zap.String("network", network), zap.Error(err))
		}
		if isParachain {
			return b.fallback * 2, true
		}
	}

	b.logger.Warn("Couldn't determine block time from on-chain data, falling back to default",
		zap.String("network", network), zap.Duration("default", b.fallback),
	)
	return b.fallback, false
}
