package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"chain-calendar/internal/config"
	"chain-calendar/internal/domain"
	domainRepo "chain-calendar/internal/domain/repository"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Persisted keys.
const (
	lastUsedURLPrefix   = "lastUsedRpcUrl-"
	KeyCustomNetworks   = "customNetworks"
	KeyActiveNetworks   = "activeNetworks"
	KeyHiddenNetworks   = "calendarNetworkFilter"
	KeyHiddenCategories = "calendarHiddenCategories"
)

// Store is typed access to persisted user settings. Reads never fail: missing
// or malformed values yield defaults.
type Store struct {
	kv     domainRepo.KVStore
	logger *zap.Logger
}

// NewStore creates a settings store over kv.
func NewStore(kv domainRepo.KVStore, logger *zap.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.Named("Settings"),
	}
}

// LastUsedURLKey is the key holding the last used RPC URL of a network.
func LastUsedURLKey(network string) string {
	return lastUsedURLPrefix + network
}

func (s *Store) LastUsedURL(ctx context.Context, network string) (string, bool) {
	v, ok := s.get(ctx, LastUsedURLKey(network))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (s *Store) SetLastUsedURL(ctx context.Context, network, url string) error {
	return s.set(ctx, LastUsedURLKey(network), url)
}

func (s *Store) ClearLastUsedURL(ctx context.Context, network string) error {
	return s.remove(ctx, LastUsedURLKey(network))
}

// CustomNetworks returns the user defined networks keyed by id.
func (s *Store) CustomNetworks(ctx context.Context) map[string]config.NetworkConfig {
	out := make(map[string]config.NetworkConfig)
	v, ok := s.get(ctx, KeyCustomNetworks)
	if !ok || v == "" {
		return out
	}
	if err := yaml.Unmarshal([]byte(v), &out); err != nil {
		s.malformed(KeyCustomNetworks, err)
		return make(map[string]config.NetworkConfig)
	}
	return out
}

func (s *Store) SetCustomNetworks(ctx context.Context, networks map[string]config.NetworkConfig) error {
	if len(networks) == 0 {
		return s.remove(ctx, KeyCustomNetworks)
	}
	b, err := yaml.Marshal(networks)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyCustomNetworks, err)
	}
	return s.set(ctx, KeyCustomNetworks, string(b))
}

// ActiveNetworks returns the persisted active network ids and whether a list was stored at all.
func (s *Store) ActiveNetworks(ctx context.Context) ([]string, bool) {
	return s.getList(ctx, KeyActiveNetworks)
}

func (s *Store) SetActiveNetworks(ctx context.Context, ids []string) error {
	return s.setList(ctx, KeyActiveNetworks, ids)
}

// HiddenNetworks returns the network ids hidden from the calendar.
func (s *Store) HiddenNetworks(ctx context.Context) []string {
	ids, _ := s.getList(ctx, KeyHiddenNetworks)
	return ids
}

func (s *Store) SetHiddenNetworks(ctx context.Context, ids []string) error {
	return s.setList(ctx, KeyHiddenNetworks, ids)
}

// HiddenCategories returns the category names hidden from the calendar.
func (s *Store) HiddenCategories(ctx context.Context) []string {
	names, _ := s.getList(ctx, KeyHiddenCategories)
	return names
}

func (s *Store) SetHiddenCategories(ctx context.Context, names []string) error {
	return s.setList(ctx, KeyHiddenCategories, names)
}

func (s *Store) getList(ctx context.Context, key string) ([]string, bool) {
	v, ok := s.get(ctx, key)
	if !ok {
		return []string{}, false
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		s.malformed(key, err)
		return []string{}, false
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

func (s *Store) setList(ctx context.Context, key string, values []string) error {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.set(ctx, key, string(b))
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read setting, using default", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (s *Store) set(ctx context.Context, key, value string) error {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Warn("Failed to persist setting", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string) error {
	if err := s.kv.Remove(ctx, key); err != nil {
		s.logger.Warn("Failed to remove setting", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) malformed(key string, err error) {
	s.logger.Warn("Ignoring persisted setting",
		zap.String("key", key),
		zap.Error(fmt.Errorf("%w: %v", domain.ErrMalformedPersistedState, err)),
	)
}
