package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chain-calendar/internal/application/observable"
	"chain-calendar/internal/application/settings"
	"chain-calendar/internal/config"
	"chain-calendar/internal/domain"
	"chain-calendar/internal/domain/entity"
	domainService "chain-calendar/internal/domain/service"
	"chain-calendar/internal/pkg/apperrors"

	"go.uber.org/zap"
)

// netState is the runtime state of one network. It is only touched under Manager.mu.
type netState struct {
	desc      entity.NetworkDescriptor
	adapter   domainService.ChainAdapter
	active    bool
	state     entity.ConnectionState
	blacklist map[string]struct{}
	subject   *observable.Subject[entity.ConnectionState]
	// token invalidates handlers and timers of earlier activations.
	token     uint64
	reconnect *time.Timer
}

// Manager keeps one best-effort connection per active network.
type Manager struct {
	cfg      config.ConnectionConfig
	pool     *Pool
	settings *settings.Store
	factory  domainService.AdapterFactory
	ctx      context.Context
	logger   *zap.Logger

	mu       sync.Mutex
	networks map[string]*netState
	onChange func(network string)
}

// NewManager creates a connection manager. Background work stops when ctx is done.
func NewManager(
	ctx context.Context,
	cfg config.ConnectionConfig,
	pool *Pool,
	store *settings.Store,
	factory domainService.AdapterFactory,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		pool:     pool,
		settings: store,
		factory:  factory,
		ctx:      ctx,
		logger:   logger.Named("ConnectionManager"),
		networks: make(map[string]*netState),
	}
}

// SetOnChange installs the callback invoked after any network's state changed.
// It runs outside the manager lock and may call back into the Manager.
func (m *Manager) SetOnChange(fn func(network string)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Activate selects an endpoint for d, registers its adapter and waits for readiness.
// On timeout the network is deactivated and marked failed.
func (m *Manager) Activate(ctx context.Context, d entity.NetworkDescriptor) error {
	m.mu.Lock()
	ns := m.stateLocked(d)
	if ns.active {
		m.mu.Unlock()
		return nil
	}
	ns.desc = d
	ns.active = true
	ns.token++
	token := ns.token
	if ns.adapter == nil {
		ns.adapter = m.factory(d)
	}
	adapter := ns.adapter
	url := m.selectURLLocked(ctx, ns)
	adapter.SetURL(url)
	adapter.SetHandlers(m.handlers(d.ID, token))
	ns.state.URL = url
	ns.state.Status = entity.StatusConnecting
	m.publishLocked(ns)
	m.mu.Unlock()
	m.notify(d.ID)

	m.logger.Info("Activating network", zap.String("network", d.ID), zap.String("url", url))

	if err := m.pool.Register(d.ID, adapter); err != nil {
		m.mu.Lock()
		if ns.token == token {
			ns.active = false
			ns.token++
			adapter.SetHandlers(domainService.AdapterHandlers{})
			ns.state.Status = entity.StatusFailed
			m.publishLocked(ns)
		}
		m.mu.Unlock()
		m.notify(d.ID)
		m.logger.Error("Failed to register adapter", zap.String("network", d.ID), zap.Error(err))
		if !errors.Is(err, domain.ErrRegistrationFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrRegistrationFailure, err)
		}
		return err
	}

	m.mu.Lock()
	if ns.token == token {
		ns.state.Registered = true
		m.publishLocked(ns)
	}
	m.mu.Unlock()
	m.notify(d.ID)

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.GetActivationTimeout())
	defer cancel()

	if err := adapter.WaitReady(waitCtx); err != nil {
		m.mu.Lock()
		current := ns.token == token
		m.mu.Unlock()
		if !current {
			return nil
		}

		m.logger.Warn("Network did not become ready in time",
			zap.String("network", d.ID), zap.Duration("timeout", m.cfg.GetActivationTimeout()),
		)
		m.Deactivate(d.ID)

		m.mu.Lock()
		ns.state.Status = entity.StatusFailed
		m.publishLocked(ns)
		m.mu.Unlock()
		m.notify(d.ID)
		return fmt.Errorf("%w: network %s: %v", domain.ErrConnectionTimeout, d.ID, err)
	}

	m.mu.Lock()
	if ns.token == token && ns.state.Status != entity.StatusConnected {
		ns.state.Status = entity.StatusConnected
		m.publishLocked(ns)
	}
	m.mu.Unlock()
	m.notify(d.ID)
	return nil
}

// Deactivate unregisters the network's adapter, detaches handlers and resets flags. It is idempotent.
func (m *Manager) Deactivate(network string) {
	m.mu.Lock()
	ns, ok := m.networks[network]
	if !ok || (!ns.active && !ns.state.Registered && ns.state.Status == entity.StatusDisconnected) {
		m.mu.Unlock()
		return
	}
	ns.active = false
	ns.token++
	if ns.reconnect != nil {
		ns.reconnect.Stop()
		ns.reconnect = nil
	}
	if ns.adapter != nil {
		ns.adapter.SetHandlers(domainService.AdapterHandlers{})
	}
	ns.state.Status = entity.StatusDisconnected
	ns.state.Registered = false
	ns.state.URL = ""
	m.publishLocked(ns)
	m.mu.Unlock()

	m.pool.Unregister(network)
	m.notify(network)
	m.logger.Info("Deactivated network", zap.String("network", network))
}

// OnError blacklists the current endpoint, forgets the persisted choice, reselects
// and schedules a reconnect. Inactive networks are ignored.
func (m *Manager) OnError(network string) {
	m.mu.Lock()
	ns, ok := m.networks[network]
	if !ok || !ns.active {
		m.mu.Unlock()
		return
	}

	failed := ns.state.URL
	if failed != "" {
		ns.blacklist[failed] = struct{}{}
	}
	if err := m.settings.ClearLastUsedURL(m.ctx, network); err != nil {
		m.logger.Warn("Failed to clear persisted rpc url", zap.String("network", network), zap.Error(err))
	}
	url := m.selectURLLocked(m.ctx, ns)
	ns.adapter.SetURL(url)
	ns.state.URL = url
	if ns.state.Status == entity.StatusConnected {
		ns.state.Status = entity.StatusDisconnected
	}
	m.scheduleReconnectLocked(ns, m.cfg.GetReconnectDelay())
	m.publishLocked(ns)
	m.mu.Unlock()
	m.notify(network)

	m.logger.Info("Switching endpoint after error",
		zap.String("network", network), zap.String("failed", failed), zap.String("next", url),
	)
}

// SetManualURL persists a user chosen endpoint and reconnects to it. The blacklist is cleared.
// Inactive networks only get the URL persisted for their next activation.
func (m *Manager) SetManualURL(ctx context.Context, network, rawURL string) error {
	rpcURL, err := entity.NewRPCURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	url := rpcURL.String()

	if err := m.settings.SetLastUsedURL(ctx, network, url); err != nil {
		return fmt.Errorf("%w: persist rpc url: %v", apperrors.ErrInternal, err)
	}

	m.mu.Lock()
	ns, ok := m.networks[network]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	ns.blacklist = make(map[string]struct{})
	if !ns.active {
		m.mu.Unlock()
		return nil
	}
	ns.adapter.SetURL(url)
	ns.state.URL = url
	ns.state.Status = entity.StatusConnecting
	m.scheduleReconnectLocked(ns, 0)
	m.publishLocked(ns)
	m.mu.Unlock()
	m.notify(network)

	m.logger.Info("Using manual endpoint", zap.String("network", network), zap.String("url", url))
	return nil
}

// ForceReconnectAll runs the error path for every active network.
func (m *Manager) ForceReconnectAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.networks))
	for id, ns := range m.networks {
		if ns.active {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	m.logger.Info("Forcing reconnect of all networks", zap.Int("count", len(ids)))
	for _, id := range ids {
		m.OnError(id)
	}
}

// State returns a snapshot of the network's connection state.
func (m *Manager) State(network string) entity.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.networks[network]
	if !ok {
		return entity.ConnectionState{Network: network, Status: entity.StatusDisconnected}
	}
	return m.snapshotLocked(ns)
}

// Watch streams the network's connection state, starting with the current one.
func (m *Manager) Watch(network string) (<-chan entity.ConnectionState, func()) {
	m.mu.Lock()
	ns := m.stateLocked(entity.NetworkDescriptor{ID: network})
	m.mu.Unlock()
	return ns.subject.Subscribe()
}

// Adapter returns the adapter bound to network, if any.
func (m *Manager) Adapter(network string) (domainService.ChainAdapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.networks[network]
	if !ok || ns.adapter == nil {
		return nil, false
	}
	return ns.adapter, true
}

// Remove deactivates network and forgets its runtime state.
func (m *Manager) Remove(network string) {
	m.Deactivate(network)

	m.mu.Lock()
	ns, ok := m.networks[network]
	delete(m.networks, network)
	m.mu.Unlock()
	if ok {
		ns.subject.Close()
	}
}

func (m *Manager) stateLocked(d entity.NetworkDescriptor) *netState {
	ns, ok := m.networks[d.ID]
	if ok {
		return ns
	}
	ns = &netState{
		desc:      d,
		blacklist: make(map[string]struct{}),
		state:     entity.ConnectionState{Network: d.ID, Status: entity.StatusDisconnected},
	}
	ns.subject = observable.NewSubject(ns.state)
	m.networks[d.ID] = ns
	return ns
}

// selectURLLocked chooses and persists the endpoint of ns.
func (m *Manager) selectURLLocked(ctx context.Context, ns *netState) string {
	persisted, _ := m.settings.LastUsedURL(ctx, ns.desc.ID)
	url, exhausted := SelectURL(ns.desc.Candidates(), ns.blacklist, persisted)
	if exhausted {
		m.logger.Warn("Every endpoint failed, retrying from the full list",
			zap.String("network", ns.desc.ID),
			zap.Error(domain.ErrAllEndpointsExhausted),
		)
		ns.blacklist = make(map[string]struct{})
	}
	if url != "" {
		if err := m.settings.SetLastUsedURL(ctx, ns.desc.ID, url); err != nil {
			m.logger.Warn("Failed to persist rpc url", zap.String("network", ns.desc.ID), zap.Error(err))
		}
	}
	return url
}

// scheduleReconnectLocked replaces any pending reconnect of ns.
func (m *Manager) scheduleReconnectLocked(ns *netState, delay time.Duration) {
	if ns.reconnect != nil {
		ns.reconnect.Stop()
	}
	id, token := ns.desc.ID, ns.token
	ns.reconnect = time.AfterFunc(delay, func() {
		m.reconnect(id, token)
	})
}

func (m *Manager) reconnect(network string, token uint64) {
	if m.ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	ns, ok := m.networks[network]
	if !ok || !ns.active || ns.token != token {
		m.mu.Unlock()
		return
	}
	ns.reconnect = nil
	ns.state.Status = entity.StatusConnecting
	adapter := ns.adapter
	m.publishLocked(ns)
	m.mu.Unlock()
	m.notify(network)

	if m.pool.Connect(network) {
		return
	}

	if err := m.pool.Register(network, adapter); err != nil {
		m.logger.Error("Failed to re-register adapter", zap.String("network", network), zap.Error(err))
		m.mu.Lock()
		if ns.token == token {
			ns.state.Status = entity.StatusFailed
			m.publishLocked(ns)
		}
		m.mu.Unlock()
		m.notify(network)
		return
	}

	m.mu.Lock()
	if ns.token == token {
		ns.state.Registered = true
		m.publishLocked(ns)
	}
	m.mu.Unlock()
	m.notify(network)
}

// handlers binds adapter callbacks to one activation of network.
func (m *Manager) handlers(network string, token uint64) domainService.AdapterHandlers {
	return domainService.AdapterHandlers{
		OnConnected: func() {
			m.setStatus(network, token, entity.StatusConnected)
		},
		OnDisconnected: func() {
			m.setStatus(network, token, entity.StatusDisconnected)
		},
		OnError: func(err error) {
			m.mu.Lock()
			ns, ok := m.networks[network]
			current := ok && ns.token == token
			m.mu.Unlock()
			if !current {
				return
			}
			m.logger.Warn("Adapter error", zap.String("network", network), zap.Error(err))
			m.OnError(network)
		},
	}
}

func (m *Manager) setStatus(network string, token uint64, status entity.ConnectionStatus) {
	m.mu.Lock()
	ns, ok := m.networks[network]
	if !ok || ns.token != token || ns.state.Status == status {
		m.mu.Unlock()
		return
	}
	ns.state.Status = status
	m.publishLocked(ns)
	m.mu.Unlock()
	m.notify(network)

	m.logger.Info("Connection state changed", zap.String("network", network), zap.String("status", string(status)))
}

func (m *Manager) snapshotLocked(ns *netState) entity.ConnectionState {
	st := ns.state
	st.Blacklisted = make([]string, 0, len(ns.blacklist))
	for u := range ns.blacklist {
		st.Blacklisted = append(st.Blacklisted, u)
	}
	sort.Strings(st.Blacklisted)
	return st
}

func (m *Manager) publishLocked(ns *netState) {
	ns.subject.Next(m.snapshotLocked(ns))
}

func (m *Manager) notify(network string) {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(network)
	}
}
