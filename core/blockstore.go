package core

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultCacheSize = 4096

// BlockStore is the content-addressed persistence layer: a single
// pebble database holding the blocks/height_index/tx_index/metadata column
// families, fronted by four in-memory LRU caches and a lock-free tip slot.
type BlockStore struct {
	kv *chainKV

	fullCache   *lru.Cache[Hash, *StoredBlock]
	headerCache *lru.Cache[Hash, *StoredBlock]
	heightCache *lru.Cache[Height, Hash]
	txCache     *lru.Cache[Hash, Hash]

	latest atomic.Pointer[StoredBlock]

	logger *logrus.Logger

	// writeMu is the single chain write mutex serializing WriteBatch calls
	// (and, transitively, reorgs) per the single-writer concurrency model.
	writeMu sync.Mutex
}

// OpenBlockStore opens or creates the pebble database at dir and wires up
// the BlockStore's caches.
func OpenBlockStore(dir string, logger *logrus.Logger) (*BlockStore, error) {
	kv, err := openChainKV(dir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	full, _ := lru.New[Hash, *StoredBlock](defaultCacheSize)
	header, _ := lru.New[Hash, *StoredBlock](defaultCacheSize)
	height, _ := lru.New[Height, Hash](defaultCacheSize)
	tx, _ := lru.New[Hash, Hash](defaultCacheSize)

	bs := &BlockStore{
		kv:          kv,
		fullCache:   full,
		headerCache: header,
		heightCache: height,
		txCache:     tx,
		logger:      logger,
	}
	if err := bs.loadLatest(); err != nil {
		return nil, err
	}
	return bs, nil
}

func (bs *BlockStore) Close() error { return bs.kv.Close() }

func (bs *BlockStore) loadLatest() error {
	raw, ok, err := bs.kv.get(metaKey(metaLatestBlockHash))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var hash Hash
	copy(hash[:], raw)
	sb, err := bs.GetFull(hash)
	if err != nil {
		return err
	}
	if sb != nil {
		bs.latest.Store(sb)
	}
	return nil
}

// GetFull returns the full StoredBlock for hash, consulting the full cache
// first. A disk read populates both the full and header caches.
func (bs *BlockStore) GetFull(hash Hash) (*StoredBlock, error) {
	if sb, ok := bs.fullCache.Get(hash); ok {
		return sb, nil
	}
	raw, ok, err := bs.kv.get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	sb, err := DecodeStoredBlock(raw)
	if err != nil {
		return nil, corruptionErr("decode full block", err)
	}
	bs.fullCache.Add(hash, sb)
	bs.headerCache.Add(hash, sb)
	return sb, nil
}

// GetHeader returns a header-only StoredBlock for hash (IsPartial=true
// unless a full copy was already cached), skipping transaction decoding.
func (bs *BlockStore) GetHeader(hash Hash) (*StoredBlock, error) {
	if sb, ok := bs.headerCache.Get(hash); ok {
		return sb, nil
	}
	if sb, ok := bs.fullCache.Get(hash); ok {
		return sb, nil
	}
	raw, ok, err := bs.kv.get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	sb, err := DecodePartialStoredBlock(raw)
	if err != nil {
		return nil, corruptionErr("decode header", err)
	}
	bs.headerCache.Add(hash, sb)
	return sb, nil
}

// MultiGetFull batch-fetches full blocks, decoding cache misses in
// parallel.
func (bs *BlockStore) MultiGetFull(hashes []Hash) ([]*StoredBlock, error) {
	return bs.multiGet(hashes, bs.GetFull)
}

// MultiGetHeader batch-fetches header-only blocks, decoding cache misses in
// parallel.
func (bs *BlockStore) MultiGetHeader(hashes []Hash) ([]*StoredBlock, error) {
	return bs.multiGet(hashes, bs.GetHeader)
}

func (bs *BlockStore) multiGet(hashes []Hash, one func(Hash) (*StoredBlock, error)) ([]*StoredBlock, error) {
	out := make([]*StoredBlock, len(hashes))
	var g errgroup.Group
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			sb, err := one(h)
			if err != nil {
				return err
			}
			out[i] = sb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether hash is present in the blocks column family,
// without decoding the value.
func (bs *BlockStore) Exists(hash Hash) (bool, error) {
	if _, ok := bs.fullCache.Get(hash); ok {
		return true, nil
	}
	return bs.kv.has(blockKey(hash))
}

// HashAtHeight resolves the canonical hash stored at height.
func (bs *BlockStore) HashAtHeight(h Height) (Hash, bool, error) {
	if hash, ok := bs.heightCache.Get(h); ok {
		return hash, true, nil
	}
	raw, ok, err := bs.kv.get(heightKey(h))
	if err != nil {
		return Hash{}, false, err
	}
	if !ok {
		return Hash{}, false, nil
	}
	var hash Hash
	copy(hash[:], raw)
	bs.heightCache.Add(h, hash)
	return hash, true, nil
}

// HeightRange returns full StoredBlocks for the canonical chain in
// [from, to], inclusive, iterating height_index forward.
func (bs *BlockStore) HeightRange(from, to Height) ([]*StoredBlock, error) {
	return bs.rangeBy(from, to, bs.GetFull)
}

// HeaderRange returns header-only StoredBlocks for [from, to].
func (bs *BlockStore) HeaderRange(from, to Height) ([]*StoredBlock, error) {
	return bs.rangeBy(from, to, bs.GetHeader)
}

func (bs *BlockStore) rangeBy(from, to Height, one func(Hash) (*StoredBlock, error)) ([]*StoredBlock, error) {
	var hashes []Hash
	err := bs.kv.iteratePrefix(cfHeightIndex, func(key, value []byte) bool {
		h := heightFromKey(key)
		if h < from {
			return true
		}
		if h > to {
			return false
		}
		var hash Hash
		copy(hash[:], value)
		bs.heightCache.Add(h, hash)
		hashes = append(hashes, hash)
		return true
	})
	if err != nil {
		return nil, err
	}
	return bs.multiGet(hashes, one)
}

func heightFromKey(key []byte) Height {
	var h Height
	for _, b := range key {
		h = h<<8 | Height(b)
	}
	return h
}

// LatestStored returns the current tip, if any.
func (bs *BlockStore) LatestStored() (*StoredBlock, bool) {
	sb := bs.latest.Load()
	if sb == nil {
		return nil, false
	}
	return sb, true
}

// LatestHeight returns the current tip's height, or 0 with ok=false if the
// store is empty.
func (bs *BlockStore) LatestHeight() (Height, bool) {
	sb, ok := bs.LatestStored()
	if !ok {
		return 0, false
	}
	return sb.Height(), true
}

// TxBlockHash resolves the block hash containing the given transaction.
func (bs *BlockStore) TxBlockHash(txHash Hash) (Hash, bool, error) {
	if hash, ok := bs.txCache.Get(txHash); ok {
		return hash, true, nil
	}
	raw, ok, err := bs.kv.get(txKey(txHash))
	if err != nil {
		return Hash{}, false, err
	}
	if !ok {
		return Hash{}, false, nil
	}
	var hash Hash
	copy(hash[:], raw)
	bs.txCache.Add(txHash, hash)
	return hash, true, nil
}

// BatchOps is the handle exposed to WriteBatch callers; it accumulates
// puts/deletes and schedules the matching cache mutations to run only once
// the underlying pebble batch commits.
type BatchOps struct {
	store *BlockStore
	wb    *writeBatch
}

// SaveBlock upserts a block body and its transaction index entries. The
// full cache is populated immediately (with the committed value, avoiding a
// re-read) and the header cache entry is invalidated, since the full value
// now supersedes it.
func (ops *BatchOps) SaveBlock(sb *StoredBlock) error {
	enc, err := EncodeStoredBlock(sb)
	if err != nil {
		return corruptionErr("encode block", err)
	}
	if err := ops.wb.put(blockKey(sb.Hash()), enc); err != nil {
		return err
	}
	for _, tx := range sb.Block.Txs {
		if err := ops.wb.put(txKey(tx.Hash()), sb.Hash().Bytes()); err != nil {
			return err
		}
	}
	hash := sb.Hash()
	ops.wb.schedulePostCommit(func() {
		ops.store.fullCache.Add(hash, sb)
		ops.store.headerCache.Remove(hash)
		for _, tx := range sb.Block.Txs {
			ops.store.txCache.Add(tx.Hash(), hash)
		}
	})
	return nil
}

// ConnectTip sets height_index[height]=hash and LATEST_BLOCK_HASH, marking
// sb as the new canonical tip at its height.
func (ops *BatchOps) ConnectTip(sb *StoredBlock) error {
	hash := sb.Hash()
	if err := ops.wb.put(heightKey(sb.Height()), hash.Bytes()); err != nil {
		return err
	}
	if err := ops.wb.put(metaKey(metaLatestBlockHash), hash.Bytes()); err != nil {
		return err
	}
	height := sb.Height()
	ops.wb.schedulePostCommit(func() {
		ops.store.heightCache.Add(height, hash)
		ops.store.latest.Store(sb)
	})
	return nil
}

// DisconnectTip removes sb's height_index entry without deleting the block
// body or its tx_index entries, since the transactions may reappear on the
// new branch or in the mempool.
func (ops *BatchOps) DisconnectTip(sb *StoredBlock) error {
	return ops.RemoveHeight(sb.Height())
}

// RemoveHeight deletes the height_index entry at h.
func (ops *BatchOps) RemoveHeight(h Height) error {
	if err := ops.wb.delete(heightKey(h)); err != nil {
		return err
	}
	ops.wb.schedulePostCommit(func() {
		ops.store.heightCache.Remove(h)
	})
	return nil
}

// WriteBatch opens a pebble write batch, runs op against it, and on success
// commits with durable sync before draining the post-commit cache-mutation
// queue. On any error (from op or from Commit) the batch is aborted and no
// cache or in-memory state is touched.
func (bs *BlockStore) WriteBatch(op func(*BatchOps) error) error {
	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()

	wb := bs.kv.newBatch()
	ops := &BatchOps{store: bs, wb: wb}
	if err := op(ops); err != nil {
		wb.abort()
		return err
	}
	if err := wb.commit(); err != nil {
		return err
	}
	return nil
}
