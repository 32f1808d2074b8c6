package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"chain-calendar/internal/adapter/storage/networkconfig"
	"chain-calendar/internal/application/observable"
	"chain-calendar/internal/application/port"
	"chain-calendar/internal/application/settings"
	"chain-calendar/internal/config"
	"chain-calendar/internal/domain"
	"chain-calendar/internal/domain/entity"
	domainRepo "chain-calendar/internal/domain/repository"
	domainService "chain-calendar/internal/domain/service"
	"chain-calendar/internal/pkg/apperrors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Compile-time check to ensure networkService implements NetworkService
var _ port.NetworkService = (*networkService)(nil)

// Connector is the connection manager as seen by the registry.
type Connector interface {
	SetOnChange(fn func(network string))
	Activate(ctx context.Context, d entity.NetworkDescriptor) error
	Deactivate(network string)
	SetManualURL(ctx context.Context, network, rawURL string) error
	State(network string) entity.ConnectionState
	Adapter(network string) (domainService.ChainAdapter, bool)
	Remove(network string)
}

// Projector tracks the calendar items of networks.
type Projector interface {
	AddChain(d entity.NetworkDescriptor)
	RemoveChain(network string)
}

// HeadSource feeds new heads of a connected network to the projector.
type HeadSource interface {
	Start(ctx context.Context, network string, adapter domainService.ChainAdapter) error
	Stop(network string)
}

// ReconnectTrigger accepts throttled reconnect requests.
type ReconnectTrigger interface {
	Trigger() bool
	NetworkRestored() bool
}

// networkService implements port.NetworkService. It owns the descriptors of every
// known network and drives their activation.
type networkService struct {
	rootCtx   context.Context
	repo      domainRepo.NetworkRepository
	settings  *settings.Store
	manager   Connector
	engine    Projector
	heads     HeadSource
	reconnect ReconnectTrigger
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	descriptors map[string]entity.NetworkDescriptor
	custom      map[string]struct{}
	active      map[string]struct{}
	pending     map[string]struct{}
	// gen invalidates activations started before the latest enable or disable.
	gen        map[string]uint64
	connecting int
	activeList *observable.Subject[[]entity.NetworkStatus]
	wg         sync.WaitGroup
}

// NewNetworkService creates the network registry.
func NewNetworkService(
	rootCtx context.Context,
	repo domainRepo.NetworkRepository,
	store *settings.Store,
	manager Connector,
	engine Projector,
	heads HeadSource,
	reconnect ReconnectTrigger,
	logger *zap.Logger,
) port.NetworkService {
	s := &networkService{
		rootCtx:     rootCtx,
		repo:        repo,
		settings:    store,
		manager:     manager,
		engine:      engine,
		heads:       heads,
		reconnect:   reconnect,
		logger:      logger.Named("NetworkService"),
		now:         time.Now,
		descriptors: make(map[string]entity.NetworkDescriptor),
		custom:      make(map[string]struct{}),
		active:      make(map[string]struct{}),
		pending:     make(map[string]struct{}),
		gen:         make(map[string]uint64),
		activeList:  observable.NewSubject([]entity.NetworkStatus{}),
	}
	manager.SetOnChange(func(string) { s.publish() })
	return s
}

// Initialize loads configured and custom networks, then enables the persisted
// active set, or the default active networks when none was persisted.
func (s *networkService) Initialize(ctx context.Context) error {
	configured, err := s.repo.GetAllNetworks(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to load configured networks: %w", err)
	}
	if len(configured) == 0 {
		s.logger.Warn("No networks configured")
	}

	s.mu.Lock()
	for _, d := range configured {
		s.descriptors[d.ID] = d
	}
	for id, nc := range s.settings.CustomNetworks(ctx) {
		if _, clash := s.descriptors[id]; clash {
			s.logger.Warn("Ignoring custom network shadowing a configured one", zap.String("network", id))
			continue
		}
		d := networkconfig.ToDomain(id, nc, s.logger)
		d.IsCustom = true
		s.descriptors[id] = d
		s.custom[id] = struct{}{}
	}

	ids, found := s.settings.ActiveNetworks(ctx)
	if !found {
		ids = ids[:0]
		for id, d := range s.descriptors {
			if d.DefaultActive {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
	}

	restore := make([]entity.NetworkDescriptor, 0, len(ids))
	gens := make([]uint64, 0, len(ids))
	for _, id := range ids {
		d, ok := s.descriptors[id]
		if !ok {
			s.logger.Warn("Skipping unknown active network", zap.String("network", id))
			continue
		}
		restore = append(restore, d)
		gens = append(gens, s.markActiveLocked(id))
	}
	total := len(s.descriptors)
	s.mu.Unlock()
	s.publish()

	s.logger.Info("Network registry loaded",
		zap.Int("networks", total), zap.Int("active", len(restore)), zap.Bool("persistedActive", found),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var g errgroup.Group
		for i, d := range restore {
			g.Go(func() error {
				s.activate(d, gens[i])
				return nil
			})
		}
		_ = g.Wait()
		s.logger.Info("Restored active networks", zap.Int("count", len(restore)))
	}()
	return nil
}

// Networks returns every known network with its runtime flags.
func (s *networkService) Networks() []entity.NetworkStatus {
	s.mu.Lock()
	descs := make([]entity.NetworkDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		descs = append(descs, d)
	}
	s.mu.Unlock()
	return s.statuses(descs)
}

// Network returns one network with its runtime flags.
func (s *networkService) Network(id string) (entity.NetworkStatus, error) {
	s.mu.Lock()
	d, ok := s.descriptors[id]
	s.mu.Unlock()
	if !ok {
		return entity.NetworkStatus{}, fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, id)
	}
	return s.statuses([]entity.NetworkDescriptor{d})[0], nil
}

// ActiveNetworks publishes the active networks with their flags.
func (s *networkService) ActiveNetworks() *observable.Subject[[]entity.NetworkStatus] {
	return s.activeList
}

// Connecting returns the number of activations in flight.
func (s *networkService) Connecting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connecting
}

// Enable activates network id in the background and persists the active set.
// Enabling an active network only retries it when its last activation failed.
func (s *networkService) Enable(ctx context.Context, id string) error {
	s.mu.Lock()
	d, ok := s.descriptors[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, id)
	}
	_, active := s.active[id]
	_, pending := s.pending[id]
	s.mu.Unlock()

	if active && (pending || !s.manager.State(id).Failed()) {
		return nil
	}
	s.mu.Lock()
	gen := s.markActiveLocked(id)
	s.mu.Unlock()
	if active {
		s.stop(id)
	}
	s.persistActive(ctx)
	s.publish()

	s.logger.Info("Enabling network", zap.String("network", id))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.activate(d, gen)
	}()
	return nil
}

// Disable deactivates network id. Disabling an inactive network is a no-op.
func (s *networkService) Disable(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.descriptors[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, id)
	}
	_, active := s.active[id]
	delete(s.active, id)
	delete(s.pending, id)
	s.gen[id]++
	s.mu.Unlock()

	if !active {
		return nil
	}
	s.stop(id)
	s.persistActive(ctx)
	s.publish()

	s.logger.Info("Disabled network", zap.String("network", id))
	return nil
}

// SetCustomNetwork creates or updates a custom network with a single endpoint.
// An active network is reconnected with its new definition.
func (s *networkService) SetCustomNetwork(ctx context.Context, id, label, rpcURL string) (entity.NetworkStatus, error) {
	u, err := entity.NewRPCURL(rpcURL)
	if err != nil {
		return entity.NetworkStatus{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if id == "" {
		id = "custom" + strconv.FormatInt(s.now().UnixMilli(), 10)
	}
	name := label
	if name == "" {
		name = id
	}

	s.mu.Lock()
	existing, exists := s.descriptors[id]
	if exists && !existing.IsCustom {
		s.mu.Unlock()
		return entity.NetworkStatus{}, fmt.Errorf("%w: %s", domain.ErrNotCustomNetwork, id)
	}
	d := existing
	d.ID = id
	d.Name = name
	d.RPCURLs = []entity.RPCURL{u}
	d.IsCustom = true
	s.descriptors[id] = d
	s.custom[id] = struct{}{}
	_, active := s.active[id]
	s.mu.Unlock()

	if err := s.persistCustom(ctx); err != nil {
		return entity.NetworkStatus{}, err
	}

	if exists {
		// The adapter and persisted endpoint belong to the old definition.
		var gen uint64
		if active {
			s.mu.Lock()
			gen = s.markActiveLocked(id)
			s.mu.Unlock()
			s.stop(id)
		}
		s.manager.Remove(id)
		if err := s.settings.ClearLastUsedURL(ctx, id); err != nil {
			s.logger.Warn("Failed to clear persisted rpc url", zap.String("network", id), zap.Error(err))
		}
		if active {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.activate(d, gen)
			}()
		}
	}
	s.publish()

	s.logger.Info("Saved custom network",
		zap.String("network", id), zap.String("url", u.String()), zap.Bool("created", !exists),
	)
	return s.Network(id)
}

// DeleteCustomNetwork disables and forgets a custom network.
func (s *networkService) DeleteCustomNetwork(ctx context.Context, id string) error {
	s.mu.Lock()
	d, ok := s.descriptors[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, id)
	}
	if !d.IsCustom {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotCustomNetwork, id)
	}
	s.mu.Unlock()

	if err := s.Disable(ctx, id); err != nil {
		return err
	}
	s.manager.Remove(id)

	s.mu.Lock()
	delete(s.descriptors, id)
	delete(s.custom, id)
	delete(s.gen, id)
	s.mu.Unlock()

	if err := s.settings.ClearLastUsedURL(ctx, id); err != nil {
		s.logger.Warn("Failed to clear persisted rpc url", zap.String("network", id), zap.Error(err))
	}
	if err := s.persistCustom(ctx); err != nil {
		return err
	}
	s.publish()

	s.logger.Info("Deleted custom network", zap.String("network", id))
	return nil
}

// SetManualURL pins the endpoint of network id.
func (s *networkService) SetManualURL(ctx context.Context, id, rpcURL string) error {
	s.mu.Lock()
	_, ok := s.descriptors[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, id)
	}
	return s.manager.SetManualURL(ctx, id, rpcURL)
}

// Reconnect forwards a reconnect request to the throttled trigger.
func (s *networkService) Reconnect() bool {
	return s.reconnect.Trigger()
}

// NetworkRestored forwards a connectivity-restored event to the throttled trigger.
func (s *networkService) NetworkRestored() bool {
	return s.reconnect.NetworkRestored()
}

// Wait blocks until every activation started so far has finished.
func (s *networkService) Wait() {
	s.wg.Wait()
}

// activate connects d and, on success, starts feeding its heads to the engine.
// It gives up silently once gen is superseded by a later enable or disable.
func (s *networkService) activate(d entity.NetworkDescriptor, gen uint64) {
	s.mu.Lock()
	if s.gen[d.ID] != gen {
		s.connecting--
		s.mu.Unlock()
		s.publish()
		return
	}
	s.engine.AddChain(d)
	s.mu.Unlock()

	err := s.manager.Activate(s.rootCtx, d)

	s.mu.Lock()
	s.connecting--
	latest := s.gen[d.ID]
	current := latest == gen
	if current {
		delete(s.pending, d.ID)
	}
	_, active := s.active[d.ID]
	s.mu.Unlock()
	defer s.publish()

	if !current {
		if !active {
			s.release(d.ID, latest)
		}
		return
	}
	if err != nil {
		s.logger.Warn("Network activation failed", zap.String("network", d.ID), zap.Error(err))
		return
	}

	adapter, ok := s.manager.Adapter(d.ID)
	if !ok {
		return
	}
	if err := s.heads.Start(s.rootCtx, d.ID, adapter); err != nil && !errors.Is(err, apperrors.ErrConflict) {
		s.logger.Error("Failed to subscribe to new heads", zap.String("network", d.ID), zap.Error(err))
		return
	}
	s.logger.Info("Network enabled", zap.String("network", d.ID))
}

// release drops the connection a superseded activation may have registered after
// the network was disabled. A network enabled again meanwhile is restarted so its
// activation starts from a clean connection state.
func (s *networkService) release(id string, seen uint64) {
	s.manager.Deactivate(id)

	s.mu.Lock()
	_, active := s.active[id]
	if !active || s.gen[id] == seen {
		s.mu.Unlock()
		return
	}
	d := s.descriptors[id]
	gen := s.markActiveLocked(id)
	s.mu.Unlock()

	s.logger.Info("Restarting network enabled during teardown", zap.String("network", id))
	s.stop(id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.activate(d, gen)
	}()
}

// stop tears down the runtime state of id without touching the active set.
func (s *networkService) stop(id string) {
	s.heads.Stop(id)
	s.manager.Deactivate(id)
	s.engine.RemoveChain(id)
}

func (s *networkService) markActiveLocked(id string) uint64 {
	s.active[id] = struct{}{}
	s.pending[id] = struct{}{}
	s.connecting++
	s.gen[id]++
	return s.gen[id]
}

func (s *networkService) persistActive(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	if err := s.settings.SetActiveNetworks(ctx, ids); err != nil {
		s.logger.Warn("Failed to persist active networks", zap.Error(err))
	}
}

func (s *networkService) persistCustom(ctx context.Context) error {
	s.mu.Lock()
	defs := make(map[string]entity.NetworkDescriptor, len(s.custom))
	for id := range s.custom {
		defs[id] = s.descriptors[id]
	}
	s.mu.Unlock()

	out := make(map[string]config.NetworkConfig, len(defs))
	for id, d := range defs {
		out[id] = networkconfig.ToConfig(d)
	}
	if err := s.settings.SetCustomNetworks(ctx, out); err != nil {
		return fmt.Errorf("%w: persist custom networks: %v", apperrors.ErrInternal, err)
	}
	return nil
}

// publish pushes the current active list.
func (s *networkService) publish() {
	s.mu.Lock()
	descs := make([]entity.NetworkDescriptor, 0, len(s.active))
	for id := range s.active {
		if d, ok := s.descriptors[id]; ok {
			descs = append(descs, d)
		}
	}
	s.mu.Unlock()
	s.activeList.Next(s.statuses(descs))
}

// statuses resolves the runtime flags of descs, ordered by name then id.
func (s *networkService) statuses(descs []entity.NetworkDescriptor) []entity.NetworkStatus {
	out := make([]entity.NetworkStatus, 0, len(descs))
	for _, d := range descs {
		st := s.manager.State(d.ID)

		s.mu.Lock()
		_, active := s.active[d.ID]
		_, pending := s.pending[d.ID]
		s.mu.Unlock()

		out = append(out, entity.NetworkStatus{
			ID:           d.ID,
			Name:         d.Name,
			Color:        d.Color,
			IsCustom:     d.IsCustom,
			Active:       active,
			Status:       st.Status,
			URL:          st.URL,
			Registered:   st.Registered,
			Connected:    st.Connected(),
			Initializing: pending,
			Failed:       st.Failed(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
