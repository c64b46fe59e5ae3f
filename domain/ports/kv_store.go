package ports

import "errors"

// ErrKeyNotFound is returned by KVStore.Get for absent keys.
var ErrKeyNotFound = errors.New("kv: key not found")

// KVStore is an ordered byte-key store shared by persistence, blobs, routes
// and filters. Each of them owns a key prefix.
type KVStore interface {
	// Get returns the value stored at key or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)

	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Scan calls fn for every entry whose key starts with prefix, in key
	// order, over a consistent snapshot. Returning false stops the scan.
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	Close() error
}
