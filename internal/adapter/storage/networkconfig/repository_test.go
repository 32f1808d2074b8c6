package networkconfig

import (
	"context"
	"errors"
	"testing"

	"chain-calendar/internal/config"
	"chain-calendar/internal/domain/entity"
	"chain-calendar/internal/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepository_GetAllNetworks_Flattens(t *testing.T) {
	repo := NewRepository(map[string]config.NetworkConfig{
		"polkadot": {
			Name:          "Polkadot",
			RPCURLs:       []string{"wss://rpc.polkadot.io", "ftp://bad", "https://dot.example.org"},
			DefaultActive: true,
			Parachains: map[string]config.NetworkConfig{
				"statemint": {Name: "Statemint", RPCURLs: []string{"wss://statemint.example.org"}, ParaID: 1000},
				"acala":     {Name: "Acala", RPCURLs: []string{"wss://acala.example.org"}, ParaID: 2000},
			},
		},
		"kusama": {RPCURLs: []string{"wss://kusama-rpc.polkadot.io"}},
	}, zap.NewNop())

	got, err := repo.GetAllNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)

	ids := make([]string, len(got))
	for i, d := range got {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"kusama", "polkadot", "acala", "statemint"}, ids)

	kusama := got[0]
	assert.Equal(t, "kusama", kusama.Name, "name falls back to id")
	assert.Empty(t, kusama.Parent)

	polkadot := got[1]
	assert.Equal(t, []entity.RPCURL{"wss://rpc.polkadot.io", "wss://dot.example.org"}, polkadot.RPCURLs)
	assert.Equal(t, []string{"acala", "statemint"}, polkadot.Children)
	assert.True(t, polkadot.DefaultActive)

	statemint := got[3]
	assert.Equal(t, "polkadot", statemint.Parent)
	assert.Equal(t, 1000, statemint.ParaID)
}

func TestRepository_GetAllNetworks_Empty(t *testing.T) {
	repo := NewRepository(nil, zap.NewNop())

	_, err := repo.GetAllNetworks(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestToConfig_RoundTrip(t *testing.T) {
	d := ToDomain("custom1", config.NetworkConfig{Name: "Local", RPCURLs: []string{"ws://127.0.0.1:9944"}}, zap.NewNop())
	nc := ToConfig(d)

	assert.Equal(t, "Local", nc.Name)
	assert.Equal(t, []string{"ws://127.0.0.1:9944"}, nc.RPCURLs)
}
