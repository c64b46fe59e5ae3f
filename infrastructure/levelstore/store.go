// Package levelstore adapts github.com/syndtr/goleveldb to ports.KVStore.
package levelstore

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/moc-dev/moc-runtime/domain/ports"
)

// Store is a ports.KVStore backed by a LevelDB database.
type Store struct {
	db   *leveldb.DB
	sync bool
}

var _ ports.KVStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSync forces an fsync after every write.
func WithSync(sync bool) Option {
	return func(s *Store) {
		s.sync = sync
	}
}

// Open opens (or creates) the database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return newStore(db, opts), nil
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(opts ...Option) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return newStore(db, opts), nil
}

func newStore(db *leveldb.DB, opts []Option) *Store {
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get implements ports.KVStore.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ports.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return v, nil
}

// Put implements ports.KVStore.
func (s *Store) Put(key, value []byte) error {
	if err := s.db.Put(key, value, s.writeOptions()); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete implements ports.KVStore.
func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, s.writeOptions()); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Scan implements ports.KVStore over a database snapshot.
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldb snapshot: %w", err)
	}
	defer snap.Release()

	iter := snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		// iterator buffers are reused between steps
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldb scan: %w", err)
	}
	return nil
}

// Close implements ports.KVStore.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) writeOptions() *opt.WriteOptions {
	if !s.sync {
		return nil
	}
	return &opt.WriteOptions{Sync: true}
}
