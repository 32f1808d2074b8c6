package port

import (
	"context"

	"chain-calendar/internal/application/observable"
	"chain-calendar/internal/domain/entity"
)

// NetworkService defines the registry of known networks and their activation.
type NetworkService interface {
	// Initialize loads configured and custom networks and restores the active set in the background.
	Initialize(ctx context.Context) error

	// Networks returns every known network with its runtime flags, ordered by name.
	Networks() []entity.NetworkStatus

	// Network returns one network with its runtime flags.
	Network(id string) (entity.NetworkStatus, error)

	// ActiveNetworks publishes the active networks, ordered by name, whenever any of them changes.
	ActiveNetworks() *observable.Subject[[]entity.NetworkStatus]

	// Enable activates a network. Connection failures surface as the network's failed flag.
	Enable(ctx context.Context, id string) error

	// Disable deactivates a network and drops its calendar items.
	Disable(ctx context.Context, id string) error

	// SetCustomNetwork creates or updates a user defined network. An empty id creates a new one.
	SetCustomNetwork(ctx context.Context, id, label, rpcURL string) (entity.NetworkStatus, error)

	// DeleteCustomNetwork removes a user defined network.
	DeleteCustomNetwork(ctx context.Context, id string) error

	// SetManualURL pins the endpoint of a network.
	SetManualURL(ctx context.Context, id, rpcURL string) error

	// Reconnect requests a throttled reconnect of every active network.
	Reconnect() bool

	// NetworkRestored reports that host connectivity came back. It shares the reconnect throttle.
	NetworkRestored() bool
}
