package networkconfig

import (
	"context"
	"fmt"

	"chain-calendar/internal/config"
	"chain-calendar/internal/domain/entity"
	domainRepo "chain-calendar/internal/domain/repository"
	"chain-calendar/internal/pkg/apperrors"

	"go.uber.org/zap"
)

// Compile-time check
var _ domainRepo.NetworkRepository = (*Repository)(nil)

// Repository implements NetworkRepository over the loaded configuration.
type Repository struct {
	networks map[string]config.NetworkConfig
	logger   *zap.Logger
}

// NewRepository creates a new network repository over the configured networks.
func NewRepository(networks map[string]config.NetworkConfig, logger *zap.Logger) domainRepo.NetworkRepository {
	return &Repository{
		networks: networks,
		logger:   logger.Named("NetworkConfigStorage"),
	}
}

// GetAllNetworks flattens and validates the configured networks.
func (r *Repository) GetAllNetworks(_ context.Context) ([]entity.NetworkDescriptor, error) {
	if len(r.networks) == 0 {
		r.logger.Warn("No networks configured")
		return nil, fmt.Errorf("%w: no networks configured", apperrors.ErrNotFound)
	}

	networks := toDomainNetworks(r.networks, r.logger)
	r.logger.Info("Successfully mapped configured networks", zap.Int("count", len(networks)))

	return networks, nil
}
