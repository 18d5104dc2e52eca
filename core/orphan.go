package core

import (
	"sync"
	"time"
)

const (
	orphanTTL = 600 * time.Second
	orphanCap = 1000

	// OrphanSweepInterval is the recommended RunSweeper period for callers
	// that want stale orphans evicted well inside their orphanTTL window.
	OrphanSweepInterval = 60 * time.Second
)

// Orphan is a block buffered because its parent is not yet known.
type Orphan struct {
	Block        *Block
	ReceivedFrom Address
	ReceivedAt   time.Time
}

// OrphanBuffer is a bounded, TTL-evicted holding area for blocks whose
// parent has not yet arrived. Admission is rejected once the hash is
// already present or the buffer is at capacity.
type OrphanBuffer struct {
	mu        sync.Mutex
	byHash    map[Hash]*Orphan
	byParent  map[Hash][]*Orphan
	dropCount uint64
}

// NewOrphanBuffer creates an empty buffer.
func NewOrphanBuffer() *OrphanBuffer {
	return &OrphanBuffer{
		byHash:   make(map[Hash]*Orphan),
		byParent: make(map[Hash][]*Orphan),
	}
}

// Add admits the block if not already buffered and the cap has not been
// reached. It returns false (and increments the drop counter) otherwise.
func (ob *OrphanBuffer) Add(block *Block, receivedFrom Address, receivedAt time.Time) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	hash := block.Hash()
	if _, exists := ob.byHash[hash]; exists {
		ob.dropCount++
		return false
	}
	if len(ob.byHash) >= orphanCap {
		ob.dropCount++
		return false
	}
	o := &Orphan{Block: block, ReceivedFrom: receivedFrom, ReceivedAt: receivedAt}
	ob.byHash[hash] = o
	parent := block.Header.PreviousHash
	ob.byParent[parent] = append(ob.byParent[parent], o)
	return true
}

// Contains reports whether hash is currently buffered.
func (ob *OrphanBuffer) Contains(hash Hash) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	_, ok := ob.byHash[hash]
	return ok
}

// PopChildren removes and returns every orphan directly linked to parent,
// enabling chained promotion once the parent is ingested.
func (ob *OrphanBuffer) PopChildren(parent Hash) []*Orphan {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	children := ob.byParent[parent]
	if len(children) == 0 {
		return nil
	}
	delete(ob.byParent, parent)
	for _, c := range children {
		delete(ob.byHash, c.Block.Hash())
	}
	return children
}

// Sweep evicts every orphan older than orphanTTL relative to now, returning
// the count evicted.
func (ob *OrphanBuffer) Sweep(now time.Time) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	evicted := 0
	for hash, o := range ob.byHash {
		if now.Sub(o.ReceivedAt) < orphanTTL {
			continue
		}
		delete(ob.byHash, hash)
		parent := o.Block.Header.PreviousHash
		siblings := ob.byParent[parent]
		for i, s := range siblings {
			if s.Block.Hash() == hash {
				siblings = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		if len(siblings) == 0 {
			delete(ob.byParent, parent)
		} else {
			ob.byParent[parent] = siblings
		}
		evicted++
	}
	return evicted
}

// Len returns the number of buffered orphans.
func (ob *OrphanBuffer) Len() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.byHash)
}

// DropCount returns the number of admissions rejected for being duplicate
// or over capacity.
func (ob *OrphanBuffer) DropCount() uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.dropCount
}

// RunSweeper starts a goroutine that calls Sweep on the given interval
// until stop is closed.
func (ob *OrphanBuffer) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case t := <-ticker.C:
				ob.Sweep(t)
			}
		}
	}()
}
