// Package kvtest holds the shared behaviour suite for KVStore implementations.
package kvtest

import (
	"context"
	"testing"

	domainRepo "chain-calendar/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises store against the KVStore contract.
func Run(t *testing.T, store domainRepo.KVStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "lastUsedRpcUrl-polkadot", "wss://a"))

		v, ok, err := store.Get(ctx, "lastUsedRpcUrl-polkadot")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "wss://a", v)
	})

	t.Run("GetMissing", func(t *testing.T) {
		v, ok, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "ow", "first"))
		require.NoError(t, store.Set(ctx, "ow", "second"))

		v, _, err := store.Get(ctx, "ow")
		require.NoError(t, err)
		assert.Equal(t, "second", v)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "del", "value"))
		require.NoError(t, store.Remove(ctx, "del"))

		_, ok, err := store.Get(ctx, "del")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		assert.NoError(t, store.Remove(ctx, "never-existed"))
	})

	t.Run("EmptyValue", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "empty", ""))

		v, ok, err := store.Get(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, v)
	})
}
