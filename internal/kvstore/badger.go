package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerStore is an embedded, on-disk Store for single-device deployments.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

// entry is the msgpack-encoded value stored in Badger.
type entry struct {
	Value     string    `msgpack:"v"`
	UpdatedAt time.Time `msgpack:"t"`
}

// OpenBadger opens a Badger database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// NewBadgerStore creates a new Badger key-value store.
func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{db: db, prefix: prefix}
}

func (s *BadgerStore) key(k string) []byte {
	return []byte(fmt.Sprintf("%s/%s", s.prefix, k))
}

// Get retrieves a value by key.
func (s *BadgerStore) Get(_ context.Context, key string) (string, error) {
	var e entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger get %q: %w", key, err)
	}
	return e.Value, nil
}

// Set stores a value.
func (s *BadgerStore) Set(ctx context.Context, key, value string) error {
	return s.SetMulti(ctx, map[string]string{key: value})
}

// SetMulti stores several values in one Badger transaction.
func (s *BadgerStore) SetMulti(_ context.Context, values map[string]string) error {
	now := time.Now()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range sortedKeys(values) {
			buf, err := msgpack.Marshal(entry{Value: values[k], UpdatedAt: now})
			if err != nil {
				return fmt.Errorf("marshal %q: %w", k, err)
			}
			if err := txn.Set(s.key(k), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ensure BadgerStore implements Store interface.
var _ Store = (*BadgerStore)(nil)
