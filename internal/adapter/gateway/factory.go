package gateway

import (
	"chain-calendar/internal/config"
	"chain-calendar/internal/domain/entity"
	domainService "chain-calendar/internal/domain/service"

	"go.uber.org/zap"
)

// NewQuerierFactory returns a factory building one gateway client per network.
func NewQuerierFactory(cfg config.ProjectionConfig, logger *zap.Logger) domainService.QuerierFactory {
	return func(d entity.NetworkDescriptor) domainService.ChainQuerier {
		if d.GatewayURL == "" {
			logger.Info("No gateway configured, chain queries disabled", zap.String("network", d.ID))
			return NopQuerier{}
		}
		return NewClient(d.GatewayURL, cfg.GetQueryTimeout(), logger.With(zap.String("network", d.ID)))
	}
}
