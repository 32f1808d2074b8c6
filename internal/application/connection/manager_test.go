package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"chain-calendar/internal/adapter/storage/memory"
	"chain-calendar/internal/application/settings"
	"chain-calendar/internal/config"
	"chain-calendar/internal/domain"
	"chain-calendar/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	urlA = "wss://a.example.org"
	urlB = "wss://b.example.org"
	urlC = "wss://c.example.org"
)

func descriptor(id string, urls ...string) entity.NetworkDescriptor {
	rpcs := make([]entity.RPCURL, len(urls))
	for i, u := range urls {
		rpcs[i] = entity.RPCURL(u)
	}
	return entity.NetworkDescriptor{ID: id, Name: id, RPCURLs: rpcs}
}

type managerFixture struct {
	manager  *Manager
	pool     *Pool
	settings *settings.Store
	net      *fakeNetwork
}

func newManagerFixture(t *testing.T, cfg config.ConnectionConfig, reachable ...string) *managerFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zap.NewNop()
	store := settings.NewStore(memory.NewKVStore(logger), logger)
	pool := NewPool(ctx, logger)
	net := newFakeNetwork(reachable...)

	return &managerFixture{
		manager:  NewManager(ctx, cfg, pool, store, net.factory, logger),
		pool:     pool,
		settings: store,
		net:      net,
	}
}

func fastConfig() config.ConnectionConfig {
	return config.ConnectionConfig{
		ActivationTimeout: 2 * time.Second,
		ReconnectDelay:    time.Millisecond,
	}
}

func TestManager_ActivateFirstCandidate(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlA, urlB, urlC)

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("polkadot", urlA, urlB, urlC)))

	st := f.manager.State("polkadot")
	assert.True(t, st.Registered)
	assert.True(t, st.Connected())
	assert.Equal(t, urlA, st.URL)

	persisted, ok := f.settings.LastUsedURL(context.Background(), "polkadot")
	assert.True(t, ok)
	assert.Equal(t, urlA, persisted)
}

func TestManager_FailoverToNextCandidate(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlB, urlC)

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("polkadot", urlA, urlB, urlC)))

	assert.Eventually(t, func() bool {
		return f.manager.State("polkadot").Connected()
	}, time.Second, 5*time.Millisecond)

	st := f.manager.State("polkadot")
	assert.Equal(t, urlB, st.URL)
	assert.Equal(t, []string{urlA}, st.Blacklisted)

	persisted, _ := f.settings.LastUsedURL(context.Background(), "polkadot")
	assert.Equal(t, urlB, persisted)
	assert.Equal(t, []string{urlA, urlB}, f.net.adapter("polkadot").Connects())
}

func TestManager_PersistedURLIsReused(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlA, urlB, urlC)
	require.NoError(t, f.settings.SetLastUsedURL(context.Background(), "kusama", urlC))

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("kusama", urlA, urlB, urlC)))
	assert.Equal(t, urlC, f.manager.State("kusama").URL)
}

func TestManager_ActivationTimeout(t *testing.T) {
	cfg := config.ConnectionConfig{ActivationTimeout: 100 * time.Millisecond, ReconnectDelay: 10 * time.Millisecond}
	f := newManagerFixture(t, cfg)

	err := f.manager.Activate(context.Background(), descriptor("polkadot", urlA, urlB))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConnectionTimeout))

	st := f.manager.State("polkadot")
	assert.True(t, st.Failed())
	assert.False(t, st.Registered)
	assert.False(t, f.pool.Registered("polkadot"))
}

func TestManager_ExhaustedCandidatesRetryFromStart(t *testing.T) {
	cfg := config.ConnectionConfig{ActivationTimeout: 200 * time.Millisecond, ReconnectDelay: 5 * time.Millisecond}
	f := newManagerFixture(t, cfg)

	err := f.manager.Activate(context.Background(), descriptor("polkadot", urlA, urlB))
	require.Error(t, err)

	connects := f.net.adapter("polkadot").Connects()
	require.GreaterOrEqual(t, len(connects), 3)
	assert.Equal(t, []string{urlA, urlB, urlA}, connects[:3])
}

func TestManager_RegistrationFailure(t *testing.T) {
	f := newManagerFixture(t, fastConfig())

	err := f.manager.Activate(context.Background(), descriptor("empty"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRegistrationFailure))
	assert.True(t, f.manager.State("empty").Failed())
}

func TestManager_DisableEnableCycle(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlA)
	d := descriptor("polkadot", urlA)

	require.NoError(t, f.manager.Activate(context.Background(), d))

	f.manager.Deactivate("polkadot")
	f.manager.Deactivate("polkadot")
	st := f.manager.State("polkadot")
	assert.False(t, st.Registered)
	assert.Equal(t, entity.StatusDisconnected, st.Status)
	assert.False(t, f.pool.Registered("polkadot"))

	require.NoError(t, f.manager.Activate(context.Background(), d))
	st = f.manager.State("polkadot")
	assert.True(t, st.Registered)
	assert.False(t, st.Failed())
	assert.True(t, st.Connected())
}

func TestManager_SetManualURL(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlB, "wss://manual.example.org")

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("polkadot", urlA, urlB)))
	require.Eventually(t, func() bool {
		return f.manager.State("polkadot").Connected()
	}, time.Second, 5*time.Millisecond)
	require.NotEmpty(t, f.manager.State("polkadot").Blacklisted)

	require.NoError(t, f.manager.SetManualURL(context.Background(), "polkadot", "wss://manual.example.org"))

	assert.Eventually(t, func() bool {
		st := f.manager.State("polkadot")
		return st.Connected() && st.URL == "wss://manual.example.org"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.manager.State("polkadot").Blacklisted)

	persisted, _ := f.settings.LastUsedURL(context.Background(), "polkadot")
	assert.Equal(t, "wss://manual.example.org", persisted)
}

func TestManager_SetManualURLRejectsGarbage(t *testing.T) {
	f := newManagerFixture(t, fastConfig())

	err := f.manager.SetManualURL(context.Background(), "polkadot", "not a url")
	assert.Error(t, err)
}

func TestManager_SetManualURLOnInactiveNetworkOnlyPersists(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlC)

	require.NoError(t, f.manager.SetManualURL(context.Background(), "kusama", urlC))
	assert.False(t, f.pool.Registered("kusama"))

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("kusama", urlA, urlB)))
	assert.Equal(t, urlC, f.manager.State("kusama").URL)
}

func TestManager_ForceReconnectAll(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlA, urlB)

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("polkadot", urlA, urlB)))
	require.Equal(t, urlA, f.manager.State("polkadot").URL)

	f.manager.ForceReconnectAll()

	assert.Eventually(t, func() bool {
		st := f.manager.State("polkadot")
		return st.Connected() && st.URL == urlB
	}, time.Second, 5*time.Millisecond)
}

func TestManager_OnChangeAndWatch(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlA)

	changes := make(chan string, 64)
	f.manager.SetOnChange(func(network string) {
		changes <- network
	})

	states, cancel := f.manager.Watch("polkadot")
	defer cancel()
	first := <-states
	assert.Equal(t, entity.StatusDisconnected, first.Status)

	require.NoError(t, f.manager.Activate(context.Background(), descriptor("polkadot", urlA)))

	select {
	case id := <-changes:
		assert.Equal(t, "polkadot", id)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	assert.Eventually(t, func() bool {
		select {
		case st := <-states:
			return st.Connected()
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestManager_OnErrorIgnoresInactiveNetworks(t *testing.T) {
	f := newManagerFixture(t, fastConfig(), urlA)

	f.manager.OnError("unknown")
	assert.Equal(t, entity.StatusDisconnected, f.manager.State("unknown").Status)
}
