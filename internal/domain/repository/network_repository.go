package repository

import (
	"context"

	"chain-calendar/internal/domain/entity"
)

// NetworkRepository provides the statically configured networks.
type NetworkRepository interface {
	// GetAllNetworks returns every configured network flattened, parents before their children.
	GetAllNetworks(ctx context.Context) ([]entity.NetworkDescriptor, error)
}
