package projection

import (
	"fmt"
	"math"
	"sync"
	"time"

	"chain-calendar/internal/domain/entity"
	domainService "chain-calendar/internal/domain/service"

	"go.uber.org/zap"
)

// phase is the position of a block inside a repeating period.
type phase struct {
	start  int64
	end    int64
	spent  int64
	index  int64
	length int64
}

// phaseAt places current in a period of length blocks shifted by offset.
// The modulo is Euclidean so blocks before offset still land in a phase.
func phaseAt(current, length, offset int64) (phase, bool) {
	if length <= 0 {
		return phase{}, false
	}
	rel := current - offset
	spent := rel % length
	if spent < 0 {
		spent += length
	}
	start := current - spent
	return phase{
		start:  start,
		end:    start + length,
		spent:  spent,
		index:  (rel - spent) / length,
		length: length,
	}, true
}

// reloadGate collects the lowest future boundary reported during one recompute.
type reloadGate struct {
	mu      sync.Mutex
	current uint64
	value   uint64
	set     bool
}

func newReloadGate(current uint64) *reloadGate {
	return &reloadGate{current: current}
}

// tighten lowers the gate to boundary, never below the recompute's own block.
func (g *reloadGate) tighten(boundary int64) {
	if boundary < 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	lowest := uint64(boundary)
	if g.set && g.value < lowest {
		lowest = g.value
	}
	g.value = max(g.current, lowest)
	g.set = true
}

// result is the gate of the completed recompute. Without any boundary every next head recomputes.
func (g *reloadGate) result() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		return g.current
	}
	return g.value
}

// frame is the shared context of one recompute.
type frame struct {
	network   string
	block     uint64
	now       time.Time
	blockTime time.Duration
	querier   domainService.ChainQuerier
	gate      *reloadGate
	logger    *zap.Logger
}

func (f *frame) current() int64 {
	return int64(f.block)
}

// timeAt estimates the wall-clock time of target. Distances beyond time.Duration are malformed.
func (f *frame) timeAt(target int64) (time.Time, error) {
	delta, err := addBlocks(target, -f.current())
	if err != nil {
		return time.Time{}, err
	}
	d, err := f.span(delta)
	if err != nil {
		return time.Time{}, err
	}
	return f.now.Add(d), nil
}

// span converts a block distance into wall-clock time.
func (f *frame) span(blocks int64) (time.Duration, error) {
	d, err := mulBlocks(blocks, int64(f.blockTime))
	if err != nil {
		return 0, fmt.Errorf("%w: %d blocks exceed the time range", errMalformed, blocks)
	}
	return time.Duration(d), nil
}

// anchorAt builds the anchor of target. Negative block numbers have no anchor.
func (f *frame) anchorAt(target int64) (*entity.Anchor, error) {
	if target < 0 {
		return nil, nil
	}
	at, err := f.timeAt(target)
	if err != nil {
		return nil, err
	}
	return &entity.Anchor{Block: uint64(target), Time: at}, nil
}

// addBlocks sums block numbers and offsets, rejecting int64 overflow.
func addBlocks(terms ...int64) (int64, error) {
	var sum int64
	for _, t := range terms {
		if (t > 0 && sum > math.MaxInt64-t) || (t < 0 && sum < math.MinInt64-t) {
			return 0, fmt.Errorf("%w: block arithmetic overflows", errMalformed)
		}
		sum += t
	}
	return sum, nil
}

// mulBlocks multiplies block quantities, rejecting int64 overflow.
func mulBlocks(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fmt.Errorf("%w: block arithmetic overflows", errMalformed)
	}
	p := a * b
	if p/b != a {
		return 0, fmt.Errorf("%w: block arithmetic overflows", errMalformed)
	}
	return p, nil
}

func (f *frame) item(kind entity.EventKind, start, end *entity.Anchor, payload map[string]any) entity.CalendarItem {
	return entity.CalendarItem{
		Network: f.network,
		Kind:    kind,
		Start:   start,
		End:     end,
		Payload: payload,
	}
}

// periodItem emits the current phase of a repeating schedule and tightens the reload gate to its end.
func (f *frame) periodItem(kind entity.EventKind, length, offset uint64, payload func(p phase) map[string]any) ([]entity.CalendarItem, error) {
	p, ok := phaseAt(f.current(), int64(length), int64(offset))
	if !ok {
		return nil, fmt.Errorf("%w: zero length", errMalformed)
	}
	if _, err := addBlocks(f.current(), int64(length)); err != nil {
		return nil, err
	}
	elapsed, err := f.span(p.spent)
	if err != nil {
		return nil, err
	}
	remaining, err := f.span(p.length - p.spent)
	if err != nil {
		return nil, err
	}
	f.gate.tighten(p.end)

	item := f.item(kind, nil, nil, payload(p))
	if p.start >= 0 {
		item.Start = &entity.Anchor{Block: uint64(p.start), Time: f.now.Add(-elapsed)}
	}
	item.End = &entity.Anchor{Block: uint64(p.end), Time: f.now.Add(remaining)}
	item.Duration = length
	return []entity.CalendarItem{item}, nil
}
