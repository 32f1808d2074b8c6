package service

import (
	"context"
	"encoding/json"

	"chain-calendar/internal/domain/entity"
)

// StorageEntry is one key/value pair of an iterated storage map.
type StorageEntry struct {
	Keys  []json.RawMessage `json:"keys"`
	Value json.RawMessage   `json:"value"`
}

// ChainQuerier reads decoded chain state. Missing items return domain.ErrNotPresent.
type ChainQuerier interface {
	Constant(ctx context.Context, pallet, name string) (json.RawMessage, error)
	Storage(ctx context.Context, at uint64, pallet, item string) (json.RawMessage, error)
	Entries(ctx context.Context, at uint64, pallet, item string) ([]StorageEntry, error)
	Derive(ctx context.Context, at uint64, section, method string) (json.RawMessage, error)
	HasPallet(ctx context.Context, pallet string) (bool, error)
}

// QuerierFactory builds the querier for a network.
type QuerierFactory func(d entity.NetworkDescriptor) ChainQuerier
