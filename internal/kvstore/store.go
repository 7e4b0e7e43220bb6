// Package kvstore provides the process-wide key-value persistence used for
// streaks and rider statistics, with memory, PostgreSQL, Redis and Badger
// backends.
package kvstore

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("key not found")

// Store is a string key-value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// SetMulti stores all values atomically: either every key is written or none.
	SetMulti(ctx context.Context, values map[string]string) error
}

// GetOrDefault returns the value under key, or def if the key is not set.
func GetOrDefault(ctx context.Context, s Store, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// sortedKeys returns map keys in a stable order so multi-key writes are
// deterministic.
func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ping checks that s answers reads. A missing probe key counts as healthy.
func Ping(ctx context.Context, s Store) error {
	_, err := s.Get(ctx, "__ping__")
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
