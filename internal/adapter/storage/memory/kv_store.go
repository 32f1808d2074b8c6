package memory

import (
	"context"
	"fmt"

	domainRepo "chain-calendar/internal/domain/repository"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Compile-time check
var _ domainRepo.KVStore = (*KVStore)(nil)

// KVStore implements domainRepo.KVStore using the go-cache in-memory library.
// Entries never expire; the store lives as long as the process.
type KVStore struct {
	cache  *cache.Cache
	logger *zap.Logger
}

// NewKVStore creates a new in-memory settings store.
func NewKVStore(logger *zap.Logger) *KVStore {
	logger.Info("Initialized go-cache for memory settings storage")
	return &KVStore{
		cache:  cache.New(cache.NoExpiration, 0),
		logger: logger.Named("MemoryKVStore"),
	}
}

// Get retrieves the value stored under key, returning found status.
func (s *KVStore) Get(_ context.Context, key string) (string, bool, error) {
	x, found := s.cache.Get(key)
	if !found {
		s.logger.Debug("Memory store miss", zap.String("key", key))
		return "", false, nil
	}
	v, ok := x.(string)
	if !ok {
		s.logger.Warn(
			"Memory store data type mismatch for key",
			zap.String("key", key), zap.String("type", fmt.Sprintf("%T", x)),
		)
		return "", false, nil
	}
	return v, true, nil
}

// Set stores value under key.
func (s *KVStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, cache.NoExpiration)
	s.logger.Debug("Memory store set", zap.String("key", key))
	return nil
}

// Remove deletes key.
func (s *KVStore) Remove(_ context.Context, key string) error {
	s.cache.Delete(key)
	s.logger.Debug("Memory store remove", zap.String("key", key))
	return nil
}
