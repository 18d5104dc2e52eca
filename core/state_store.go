package core

import (
	"bytes"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by KVStore.Get when the key is absent.
var ErrNotFound = errors.New("state: key not found")

// KVStore is the generic key-value abstraction backing the ambient
// governance and token subsystems, kept deliberately separate from
// BlockStore's pebble-backed, column-family chain persistence:
// balances, DAO records, and authority-node state are not consensus data
// and do not need the same write-batch/reorg discipline.
type KVStore interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Iterator(prefix []byte) StateIterator
}

// StateIterator walks every key sharing a prefix, in unspecified order.
type StateIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// InMemoryStore is the default KVStore, suitable for tests and for nodes
// that do not persist governance/token state across restarts.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

func (s *InMemoryStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[string(key)] = cp
	return nil
}

func (s *InMemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *InMemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *InMemoryStore) Iterator(prefix []byte) StateIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys, values [][]byte
	for k, v := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, []byte(k))
			values = append(values, v)
		}
	}
	return &memIterator{keys: keys, values: values, index: -1}
}

type memIterator struct {
	keys, values [][]byte
	index        int
}

func (it *memIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}
func (it *memIterator) Key() []byte   { return it.keys[it.index] }
func (it *memIterator) Value() []byte { return it.values[it.index] }
func (it *memIterator) Close() error  { return nil }

// PebbleKVStore is a KVStore backed by its own pebble database, used by
// nodes that want governance/token state to survive restarts and be
// shared across the daemon and operator CLI processes. It opens a
// database distinct from BlockStore's, since governance state follows no
// write-batch/reorg discipline.
type PebbleKVStore struct {
	db *pebble.DB
}

// OpenPebbleKVStore opens (creating if absent) a pebble database at dir.
func OpenPebbleKVStore(dir string) (*PebbleKVStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKVStore{db: db}, nil
}

func (s *PebbleKVStore) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *PebbleKVStore) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, closer.Close()
}

func (s *PebbleKVStore) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

func (s *PebbleKVStore) Iterator(prefix []byte) StateIterator {
	// Governance/token keys are ASCII-prefixed ("dao:meta:...", "stake:...")
	// so appending 0xff as the upper bound never collides with a real key.
	upper := append(append([]byte{}, prefix...), 0xff)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return &memIterator{index: 0}
	}
	return &pebbleIterator{it: it, started: false}
}

// Close releases the underlying pebble database.
func (s *PebbleKVStore) Close() error { return s.db.Close() }

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (p *pebbleIterator) Next() bool {
	if !p.started {
		p.started = true
		return p.it.First()
	}
	return p.it.Next()
}

func (p *pebbleIterator) Key() []byte {
	k := p.it.Key()
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

func (p *pebbleIterator) Value() []byte {
	v := p.it.Value()
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (p *pebbleIterator) Close() error { return p.it.Close() }

var (
	defaultStoreMu sync.RWMutex
	defaultStore   KVStore = NewInMemoryStore()
)

// CurrentStore returns the process-wide governance/token state store. Nodes
// with persistence requirements replace it at startup via SetCurrentStore.
func CurrentStore() KVStore {
	defaultStoreMu.RLock()
	defer defaultStoreMu.RUnlock()
	return defaultStore
}

// SetCurrentStore swaps the process-wide store, e.g. for a pebble-backed
// implementation or for test isolation.
func SetCurrentStore(s KVStore) {
	defaultStoreMu.Lock()
	defaultStore = s
	defaultStoreMu.Unlock()
}
