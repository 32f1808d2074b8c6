package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainRepo "chain-calendar/internal/domain/repository"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Compile-time check
var _ domainRepo.KVStore = (*KVStore)(nil)

// KVStore implements domainRepo.KVStore on a Badger database.
type KVStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens (or creates) the Badger database at path.
func Open(path string, logger *zap.Logger) (*KVStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("settings database at %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("open settings database at %s: %w", path, err)
	}

	logger.Info("Opened badger settings storage", zap.String("path", path))
	return &KVStore{db: db, logger: logger.Named("BadgerKVStore")}, nil
}

// Get retrieves the value stored under key, returning found status.
func (s *KVStore) Get(_ context.Context, key string) (string, bool, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return string(val), true, nil
}

// Set stores value under key.
func (s *KVStore) Set(_ context.Context, key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *KVStore) Remove(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *KVStore) Close() error {
	return s.db.Close()
}
