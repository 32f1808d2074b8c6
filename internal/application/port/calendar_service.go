package port

import (
	"context"
	"time"

	"chain-calendar/internal/domain/entity"
)

// CalendarService defines read access to the filtered event index.
type CalendarService interface {
	Location() *time.Location
	Items(date time.Time) []entity.EventItem
	ItemsPerHour(date time.Time) [24][]entity.EventItem
}

// FilterService defines the persisted visibility filters.
type FilterService interface {
	HiddenNetworks(ctx context.Context) []string
	HiddenCategories(ctx context.Context) []string
	SetHiddenNetworks(ctx context.Context, ids []string) error
	SetHiddenCategories(ctx context.Context, names []string) error
	Remove(ctx context.Context, name string) error
}
