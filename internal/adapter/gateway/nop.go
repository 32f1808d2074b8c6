package gateway

import (
	"context"
	"encoding/json"

	"chain-calendar/internal/domain"
	domainService "chain-calendar/internal/domain/service"
)

// Compile-time check
var _ domainService.ChainQuerier = NopQuerier{}

// NopQuerier is used for networks without a gateway. Every item is absent.
type NopQuerier struct{}

func (NopQuerier) Constant(context.Context, string, string) (json.RawMessage, error) {
	return nil, domain.ErrNotPresent
}

func (NopQuerier) Storage(context.Context, uint64, string, string) (json.RawMessage, error) {
	return nil, domain.ErrNotPresent
}

func (NopQuerier) Entries(context.Context, uint64, string, string) ([]domainService.StorageEntry, error) {
	return nil, domain.ErrNotPresent
}

func (NopQuerier) Derive(context.Context, uint64, string, string) (json.RawMessage, error) {
	return nil, domain.ErrNotPresent
}

func (NopQuerier) HasPallet(context.Context, string) (bool, error) {
	return false, nil
}
