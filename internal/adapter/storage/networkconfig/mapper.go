package networkconfig

import (
	"sort"

	"chain-calendar/internal/config"
	"chain-calendar/internal/domain/entity"

	"go.uber.org/zap"
)

// toDomainNetworks flattens the nested network configuration into descriptors.
// Siblings are visited in id order; a parent always precedes its children.
func toDomainNetworks(raw map[string]config.NetworkConfig, logger *zap.Logger) []entity.NetworkDescriptor {
	if raw == nil {
		return nil
	}
	out := make([]entity.NetworkDescriptor, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	flatten(raw, "", &out, seen, logger)
	return out
}

func flatten(
	raw map[string]config.NetworkConfig,
	parent string,
	out *[]entity.NetworkDescriptor,
	seen map[string]struct{},
	logger *zap.Logger,
) []string {
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	added := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			if logger != nil {
				logger.Warn("Skipping duplicate network id during mapping", zap.String("network", id))
			}
			continue
		}
		seen[id] = struct{}{}

		nc := raw[id]
		d := toDomainNetwork(id, nc, logger)
		d.Parent = parent

		idx := len(*out)
		*out = append(*out, d)
		(*out)[idx].Children = flatten(nc.Parachains, id, out, seen, logger)
		added = append(added, id)
	}
	return added
}

// toDomainNetwork converts one network config entry, dropping invalid RPC URLs.
func toDomainNetwork(id string, nc config.NetworkConfig, logger *zap.Logger) entity.NetworkDescriptor {
	rpcs := make([]entity.RPCURL, 0, len(nc.RPCURLs))
	for _, raw := range nc.RPCURLs {
		rpcURL, err := entity.NewRPCURL(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("Skipping invalid RPC URL during mapping",
					zap.String("rawUrl", raw),
					zap.String("network", id),
					zap.Error(err))
			}
			continue
		}
		rpcs = append(rpcs, rpcURL)
	}

	name := nc.Name
	if name == "" {
		name = id
	}

	return entity.NetworkDescriptor{
		ID:            id,
		Name:          name,
		Color:         nc.Color,
		Homepage:      nc.Homepage,
		RPCURLs:       rpcs,
		GatewayURL:    nc.GatewayURL,
		ParaID:        nc.ParaID,
		DefaultActive: nc.DefaultActive,
	}
}

// ToConfig converts a descriptor back into its config form, without children.
func ToConfig(d entity.NetworkDescriptor) config.NetworkConfig {
	return config.NetworkConfig{
		Name:          d.Name,
		Color:         d.Color,
		Homepage:      d.Homepage,
		RPCURLs:       d.Candidates(),
		GatewayURL:    d.GatewayURL,
		ParaID:        d.ParaID,
		DefaultActive: d.DefaultActive,
	}
}

// ToDomain converts a single config entry into a descriptor.
func ToDomain(id string, nc config.NetworkConfig, logger *zap.Logger) entity.NetworkDescriptor {
	return toDomainNetwork(id, nc, logger)
}
