package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"chain-calendar/internal/application/observable"
	"chain-calendar/internal/application/port"
	"chain-calendar/internal/domain/entity"

	"go.uber.org/zap"
)

// Compile-time check to ensure Index implements CalendarService
var _ port.CalendarService = (*Index)(nil)

// DateLayout is the layout of date keys.
const DateLayout = "2006-01-02"

// Filter decides whether an item is visible.
type Filter func(item entity.EventItem) bool

// itemSource is where the index gets its items from.
type itemSource interface {
	Changes() *observable.Subject[uint64]
	Snapshot() map[string][]entity.CalendarItem
}

// Index groups every network's items by local calendar date.
// The stored index is never filtered; filters apply when items are read.
type Index struct {
	loc    *time.Location
	logger *zap.Logger

	mu      sync.Mutex
	byDate  map[string][]entity.EventItem
	dates   map[string]*observable.Subject[[]entity.EventItem]
	filters map[string]Filter
}

// NewIndex creates an empty index keyed by dates in loc.
func NewIndex(loc *time.Location, logger *zap.Logger) *Index {
	if loc == nil {
		loc = time.Local
	}
	return &Index{
		loc:     loc,
		logger:  logger.Named("EventIndex"),
		byDate:  make(map[string][]entity.EventItem),
		dates:   make(map[string]*observable.Subject[[]entity.EventItem]),
		filters: make(map[string]Filter),
	}
}

// Location returns the time zone of the date keys.
func (i *Index) Location() *time.Location {
	return i.loc
}

// DateKey returns the key of the calendar date of t.
func (i *Index) DateKey(t time.Time) string {
	return t.In(i.loc).Format(DateLayout)
}

// Rebuild replaces the whole index. Networks contribute in ascending id order;
// each date is ordered by time, ties keeping contribution order.
func (i *Index) Rebuild(itemsPerNetwork map[string][]entity.CalendarItem) {
	networks := make([]string, 0, len(itemsPerNetwork))
	for id := range itemsPerNetwork {
		networks = append(networks, id)
	}
	sort.Strings(networks)

	byDate := make(map[string][]entity.EventItem)
	total := 0
	for _, id := range networks {
		for _, c := range itemsPerNetwork[id] {
			ev, ok := entity.NewEventItem(c)
			if !ok {
				continue
			}
			key := i.DateKey(ev.Time)
			byDate[key] = append(byDate[key], ev)
			total++
		}
	}
	for _, list := range byDate {
		sort.SliceStable(list, func(a, b int) bool {
			return list[a].Time.Before(list[b].Time)
		})
	}

	i.mu.Lock()
	i.byDate = byDate
	i.publishLocked()
	i.mu.Unlock()

	i.logger.Debug("Rebuilt event index", zap.Int("dates", len(byDate)), zap.Int("items", total))
}

// ItemsForDate returns the observable, filtered item list of date. It is created
// on first use; dates without events hold an empty list.
func (i *Index) ItemsForDate(date time.Time) *observable.Subject[[]entity.EventItem] {
	return i.itemsForKey(i.DateKey(date))
}

func (i *Index) itemsForKey(key string) *observable.Subject[[]entity.EventItem] {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.dates[key]
	if !ok {
		s = observable.NewSubject(i.filteredLocked(key))
		i.dates[key] = s
	}
	return s
}

// Items returns the filtered items of date.
func (i *Index) Items(date time.Time) []entity.EventItem {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.filteredLocked(i.DateKey(date))
}

// ItemsPerHour partitions the filtered items of date by local hour of day.
func (i *Index) ItemsPerHour(date time.Time) [24][]entity.EventItem {
	var hours [24][]entity.EventItem
	for h := range hours {
		hours[h] = []entity.EventItem{}
	}
	for _, ev := range i.Items(date) {
		h := ev.Time.In(i.loc).Hour()
		hours[h] = append(hours[h], ev)
	}
	return hours
}

// SetFilter installs or replaces the named filter. Filters combine with logical AND.
func (i *Index) SetFilter(name string, f Filter) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.filters[name] = f
	i.publishLocked()
}

// RemoveFilter drops the named filter. Removing an unknown filter is a no-op.
func (i *Index) RemoveFilter(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.filters[name]; !ok {
		return
	}
	delete(i.filters, name)
	i.publishLocked()
}

// Follow rebuilds the index from src whenever src reports a change, until ctx is done.
func (i *Index) Follow(ctx context.Context, src itemSource) {
	changes, cancel := src.Changes().Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				i.Rebuild(src.Snapshot())
			}
		}
	}()
}

// publishLocked pushes the filtered list of every observed date, including dates
// that no longer have items.
func (i *Index) publishLocked() {
	for key, s := range i.dates {
		s.Next(i.filteredLocked(key))
	}
}

func (i *Index) filteredLocked(key string) []entity.EventItem {
	out := make([]entity.EventItem, 0, len(i.byDate[key]))
	for _, ev := range i.byDate[key] {
		if i.visibleLocked(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (i *Index) visibleLocked(ev entity.EventItem) bool {
	for _, f := range i.filters {
		if !f(ev) {
			return false
		}
	}
	return true
}
