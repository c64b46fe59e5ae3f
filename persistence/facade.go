// Package persistence exposes the guest key/value store. Keys live under
// their own prefix of the shared KV store, so guests can never reach blob,
// route or filter records.
package persistence

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/ports"
	"github.com/moc-dev/moc-runtime/exchange"
	"github.com/moc-dev/moc-runtime/wireformat"
)

// Prefix namespaces guest keys in the backing store.
const Prefix = "/persistence"

// Facade is the guest-facing view of the KV store.
type Facade struct {
	kv     ports.KVStore
	prefix []byte
}

// New returns a Facade over kv.
func New(kv ports.KVStore) *Facade {
	return &Facade{kv: kv, prefix: []byte(Prefix)}
}

func (f *Facade) key(k []byte) []byte {
	out := make([]byte, 0, len(f.prefix)+len(k))
	out = append(out, f.prefix...)
	return append(out, k...)
}

// Set upserts key.
func (f *Facade) Set(key, value []byte) error {
	if err := f.kv.Put(f.key(key), value); err != nil {
		return domainerrors.Internal("persistence set", err)
	}
	return nil
}

// Get returns the value of key or a NotFoundError.
func (f *Facade) Get(key []byte) ([]byte, error) {
	v, err := f.kv.Get(f.key(key))
	if errors.Is(err, ports.ErrKeyNotFound) {
		return nil, domainerrors.NotFound("key", string(key))
	}
	if err != nil {
		return nil, domainerrors.Internal("persistence get", err)
	}
	return v, nil
}

// Delete removes key.
func (f *Facade) Delete(key []byte) error {
	if err := f.kv.Delete(f.key(key)); err != nil {
		return domainerrors.Internal("persistence delete", err)
	}
	return nil
}

// GetSubset returns every entry whose key starts with prefix, in key order,
// with the namespace stripped from the keys.
func (f *Facade) GetSubset(prefix []byte) ([]wireformat.Pair, error) {
	var pairs []wireformat.Pair
	err := f.kv.Scan(f.key(prefix), func(k, v []byte) bool {
		pairs = append(pairs, wireformat.Pair{
			Name:  string(bytes.TrimPrefix(k, f.prefix)),
			Value: string(v),
		})
		return true
	})
	if err != nil {
		return nil, domainerrors.Internal("persistence scan", err)
	}
	return pairs, nil
}

// GetInto stores the value of key in a new buffer of store. It returns
// exchange.Sentinel when the key is absent or the read fails.
func (f *Facade) GetInto(store *exchange.Store, key []byte) (exchange.Handle, error) {
	v, err := f.Get(key)
	if err != nil {
		return exchange.Sentinel, err
	}
	return store.CreateWith(v), nil
}

// GetSubsetInto stores the header-encoded result of GetSubset in a new
// buffer of store.
func (f *Facade) GetSubsetInto(store *exchange.Store, prefix []byte) (exchange.Handle, error) {
	pairs, err := f.GetSubset(prefix)
	if err != nil {
		return exchange.Sentinel, err
	}
	return store.CreateWith(wireformat.EncodePairs(pairs)), nil
}

// Export renders the entries of the whole backing store under prefix as a
// JSON object of key to base64 value.
func Export(kv ports.KVStore, prefix []byte) ([]byte, error) {
	out := map[string]string{}
	err := kv.Scan(prefix, func(k, v []byte) bool {
		out[string(k)] = base64.StdEncoding.EncodeToString(v)
		return true
	})
	if err != nil {
		return nil, domainerrors.Internal("export", err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return b, nil
}
