package calendar

import (
	"context"
	"fmt"
	"slices"

	"chain-calendar/internal/application/port"
	"chain-calendar/internal/application/settings"
	"chain-calendar/internal/domain/entity"
	"chain-calendar/internal/pkg/apperrors"

	"go.uber.org/zap"
)

// Names of the persisted filters.
const (
	FilterNetwork    = "network"
	FilterCategories = "categories"
)

// Compile-time check to ensure Filters implements FilterService
var _ port.FilterService = (*Filters)(nil)

// Filters manages the persisted network and category visibility filters of an Index.
type Filters struct {
	index  *Index
	store  *settings.Store
	logger *zap.Logger
}

// NewFilters creates the filter manager of index.
func NewFilters(index *Index, store *settings.Store, logger *zap.Logger) *Filters {
	return &Filters{
		index:  index,
		store:  store,
		logger: logger.Named("CalendarFilters"),
	}
}

// Restore installs the persisted filters.
func (f *Filters) Restore(ctx context.Context) {
	f.installNetworks(f.store.HiddenNetworks(ctx))
	f.installCategories(f.store.HiddenCategories(ctx))
}

// HiddenNetworks returns the ids of hidden networks.
func (f *Filters) HiddenNetworks(ctx context.Context) []string {
	return f.store.HiddenNetworks(ctx)
}

// HiddenCategories returns the names of hidden categories.
func (f *Filters) HiddenCategories(ctx context.Context) []string {
	return f.store.HiddenCategories(ctx)
}

// SetHiddenNetworks hides the items of the given networks.
func (f *Filters) SetHiddenNetworks(ctx context.Context, ids []string) error {
	ids = normalize(ids)
	if err := f.store.SetHiddenNetworks(ctx, ids); err != nil {
		return fmt.Errorf("%w: persist network filter: %v", apperrors.ErrInternal, err)
	}
	f.installNetworks(ids)
	return nil
}

// SetHiddenCategories hides the items of the given categories.
func (f *Filters) SetHiddenCategories(ctx context.Context, names []string) error {
	names = normalize(names)
	for _, n := range names {
		if !entity.IsCategory(n) {
			return fmt.Errorf("%w: unknown category %q", apperrors.ErrInvalidInput, n)
		}
	}
	if err := f.store.SetHiddenCategories(ctx, names); err != nil {
		return fmt.Errorf("%w: persist category filter: %v", apperrors.ErrInternal, err)
	}
	f.installCategories(names)
	return nil
}

// Remove drops the named filter. Persisted filters are cleared too.
func (f *Filters) Remove(ctx context.Context, name string) error {
	switch name {
	case FilterNetwork:
		return f.SetHiddenNetworks(ctx, nil)
	case FilterCategories:
		return f.SetHiddenCategories(ctx, nil)
	default:
		f.index.RemoveFilter(name)
		return nil
	}
}

func (f *Filters) installNetworks(ids []string) {
	if len(ids) == 0 {
		f.index.RemoveFilter(FilterNetwork)
		return
	}
	hidden := toSet(ids)
	f.index.SetFilter(FilterNetwork, func(item entity.EventItem) bool {
		_, skip := hidden[item.Network]
		return !skip
	})
	f.logger.Info("Network filter installed", zap.Strings("hidden", ids))
}

func (f *Filters) installCategories(names []string) {
	if len(names) == 0 {
		f.index.RemoveFilter(FilterCategories)
		return
	}
	hidden := toSet(names)
	f.index.SetFilter(FilterCategories, func(item entity.EventItem) bool {
		category, ok := entity.CategoryOf(item.Kind)
		if !ok {
			return true
		}
		_, skip := hidden[category]
		return !skip
	})
	f.logger.Info("Category filter installed", zap.Strings("hidden", names))
}

func normalize(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
