package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Column family prefixes. pebble has no native column-family concept, so
// the four logical tables are namespaced by a one-byte prefix over a
// single keyspace, the same technique go-ethereum's ethdb layer uses over
// its own pebble-backed database.
const (
	cfBlocks      byte = 'b'
	cfHeightIndex byte = 'h'
	cfTxIndex     byte = 't'
	cfMetadata    byte = 'm'
)

const metaLatestBlockHash = "LATEST_BLOCK_HASH"

// StorageErrorKind classifies failures bubbled out of the KV layer, per the
// error taxonomy: Io failures are retryable at the caller's discretion,
// Corruption is always fatal to the process.
type StorageErrorKind uint8

const (
	StorageIo StorageErrorKind = iota
	StorageCorruption
	StorageSerialization
)

// StorageError wraps a KV-layer failure with its taxonomy kind.
type StorageError struct {
	Kind StorageErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	return &StorageError{Kind: StorageIo, Op: op, Err: err}
}

func corruptionErr(op string, err error) error {
	return &StorageError{Kind: StorageCorruption, Op: op, Err: err}
}

func heightKey(h Height) []byte {
	k := make([]byte, 9)
	k[0] = cfHeightIndex
	binary.BigEndian.PutUint64(k[1:], h)
	return k
}

func blockKey(h Hash) []byte {
	k := make([]byte, 1+len(h))
	k[0] = cfBlocks
	copy(k[1:], h[:])
	return k
}

func txKey(h Hash) []byte {
	k := make([]byte, 1+len(h))
	k[0] = cfTxIndex
	copy(k[1:], h[:])
	return k
}

func metaKey(name string) []byte {
	k := make([]byte, 1+len(name))
	k[0] = cfMetadata
	copy(k[1:], name)
	return k
}

// chainKV is the thin pebble wrapper BlockStore builds its caches and
// write-batch protocol on top of.
type chainKV struct {
	db *pebble.DB
}

// openChainKV opens (creating if absent) the pebble database backing the
// chain's four column families at dir.
func openChainKV(dir string) (*chainKV, error) {
	opts := &pebble.Options{}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, ioErr("open", err)
	}
	return &chainKV{db: db}, nil
}

func (kv *chainKV) Close() error {
	if err := kv.db.Close(); err != nil {
		return ioErr("close", err)
	}
	return nil
}

func (kv *chainKV) get(key []byte) ([]byte, bool, error) {
	v, closer, err := kv.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, ioErr("get", err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	if cerr := closer.Close(); cerr != nil {
		return nil, false, ioErr("get/close", cerr)
	}
	return out, true, nil
}

func (kv *chainKV) has(key []byte) (bool, error) {
	_, closer, err := kv.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, ioErr("has", err)
	}
	if err := closer.Close(); err != nil {
		return false, ioErr("has/close", err)
	}
	return true, nil
}

func (kv *chainKV) put(key, value []byte) error {
	if err := kv.db.Set(key, value, pebble.Sync); err != nil {
		return ioErr("put", err)
	}
	return nil
}

// writeBatch is the handle passed through the BlockStore write-batch API.
// It carries both the pebble batch and the post-commit cache-mutation
// queue, implementing the "schedule post-commit" pattern from the design
// notes: callbacks enqueued here only run once Commit succeeds.
type writeBatch struct {
	pb         *pebble.Batch
	postCommit []func()
}

func (kv *chainKV) newBatch() *writeBatch {
	return &writeBatch{pb: kv.db.NewBatch()}
}

func (b *writeBatch) put(key, value []byte) error {
	if err := b.pb.Set(key, value, nil); err != nil {
		return ioErr("batch/put", err)
	}
	return nil
}

func (b *writeBatch) delete(key []byte) error {
	if err := b.pb.Delete(key, nil); err != nil {
		return ioErr("batch/delete", err)
	}
	return nil
}

// schedulePostCommit enqueues a cache mutation to run only after Commit
// succeeds. Enqueued functions run in FIFO order.
func (b *writeBatch) schedulePostCommit(fn func()) {
	b.postCommit = append(b.postCommit, fn)
}

// commit durably applies the batch and, only on success, drains the
// post-commit queue. On failure the queue is discarded untouched and the
// caller's in-memory state remains exactly as it was.
func (b *writeBatch) commit() error {
	if err := b.pb.Commit(pebble.Sync); err != nil {
		_ = b.pb.Close()
		return ioErr("batch/commit", err)
	}
	for _, fn := range b.postCommit {
		fn()
	}
	return nil
}

func (b *writeBatch) abort() {
	_ = b.pb.Close()
	b.postCommit = nil
}

// iteratePrefix walks every key under the given one-byte prefix, invoking
// fn with the key (prefix stripped) and value. Iteration stops early if fn
// returns false.
func (kv *chainKV) iteratePrefix(prefix byte, fn func(key, value []byte) bool) error {
	lower := []byte{prefix}
	upper := []byte{prefix + 1}
	it, err := kv.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return ioErr("iterate", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := it.Key()[1:]
		v := it.Value()
		if !fn(k, v) {
			break
		}
	}
	if err := it.Error(); err != nil {
		return ioErr("iterate", err)
	}
	return nil
}
