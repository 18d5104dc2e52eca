package core

import (
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// IngestionResult reports the outcome of a single ProcessBlock call.
type IngestionResult uint8

const (
	Connected IngestionResult = iota
	StoredNoncanon
	Buffered
	Ignored
	GapDetected
	Rejected
)

func (r IngestionResult) String() string {
	switch r {
	case Connected:
		return "CONNECTED"
	case StoredNoncanon:
		return "STORED_NONCANON"
	case Buffered:
		return "BUFFERED"
	case Ignored:
		return "IGNORED"
	case GapDetected:
		return "GAP_DETECTED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// BlockIngestion is the single admission entry point for a block arriving
// from any source — miner, broadcast, or sync. It deduplicates, routes
// orphans into OrphanBuffer, validates, and drives ReorgEngine, then pops
// and re-admits any buffered children iteratively (never recursively) so a
// long orphan chain never grows the call stack.
type BlockIngestion struct {
	store     *BlockStore
	query     *ChainQuery
	orphans   *OrphanBuffer
	validator *BlockValidator
	reorg     *ReorgEngine
	logger    *logrus.Logger
}

// NewBlockIngestion wires the admission pipeline against its collaborators.
func NewBlockIngestion(store *BlockStore, query *ChainQuery, orphans *OrphanBuffer, validator *BlockValidator, reorg *ReorgEngine, logger *logrus.Logger) *BlockIngestion {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BlockIngestion{store: store, query: query, orphans: orphans, validator: validator, reorg: reorg, logger: logger}
}

// ProcessBlock admits a single block, returning how it was disposed of. On
// successful connect it iteratively promotes any orphans whose parent is
// now satisfied, via an explicit work queue.
func (bi *BlockIngestion) ProcessBlock(block *Block, source ConnectedSource, receivedFrom Address, receivedAt time.Time, preValidated bool) (IngestionResult, error) {
	result, connectedHash, err := bi.processOne(block, source, receivedFrom, receivedAt, preValidated)
	if err != nil || result != Connected {
		return result, err
	}

	queue := bi.orphans.PopChildren(connectedHash)
	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]

		r, hash, err := bi.processOne(o.Block, SourceReorg, o.ReceivedFrom, o.ReceivedAt, false)
		if err != nil {
			bi.logger.WithError(err).WithField("hash", o.Block.Hash().Short()).Warn("core: failed to admit popped orphan")
			continue
		}
		if r == Connected {
			queue = append(queue, bi.orphans.PopChildren(hash)...)
		}
	}
	return Connected, nil
}

// processOne runs the state machine for a single block without draining the
// orphan work queue; the hash returned is only meaningful when result is
// Connected.
func (bi *BlockIngestion) processOne(block *Block, source ConnectedSource, receivedFrom Address, receivedAt time.Time, preValidated bool) (IngestionResult, Hash, error) {
	hash := block.Hash()

	exists, err := bi.store.Exists(hash)
	if err != nil {
		return Rejected, Hash{}, err
	}
	if exists || bi.orphans.Contains(hash) {
		return Ignored, Hash{}, nil
	}

	parentHash := block.Header.PreviousHash
	parent, err := bi.store.GetHeader(parentHash)
	if err != nil {
		return Rejected, Hash{}, err
	}
	haveGenesis := false
	if _, ok := bi.store.LatestStored(); ok {
		haveGenesis = true
	}

	if parent == nil && block.Header.HeightValue > 0 {
		if haveGenesis {
			bi.orphans.Add(block, receivedFrom, receivedAt)
			return Buffered, Hash{}, nil
		}
		return GapDetected, Hash{}, nil
	}

	if !preValidated {
		var parentHeader *BlockHeader
		if parent != nil {
			parentHeader = parent.Block.Header
		}
		if err := bi.validator.ValidateHeader(block.Header, parentHeader, haveGenesis); err != nil {
			if IsIncompatibleChain(err) {
				return GapDetected, Hash{}, err
			}
			return Rejected, Hash{}, err
		}
		if err := bi.validator.ValidateBody(block.Header, block.Txs); err != nil {
			return Rejected, Hash{}, err
		}
	}

	cumDiff := new(big.Int)
	if parent != nil {
		cumDiff.Add(parent.CumulativeDiff, block.Header.Difficulty)
	} else {
		cumDiff.Set(block.Header.Difficulty)
	}
	sb := NewStoredBlock(block, cumDiff, receivedAt, receivedFrom, source)

	tip, hasTip := bi.store.LatestStored()
	switch {
	case !hasTip:
		if err := bi.reorg.FastForward([]*StoredBlock{sb}); err != nil {
			return Rejected, Hash{}, err
		}
		return Connected, hash, nil

	case block.Header.PreviousHash == tip.Hash():
		if err := bi.reorg.FastForward([]*StoredBlock{sb}); err != nil {
			return Rejected, Hash{}, err
		}
		return Connected, hash, nil

	case cumDiff.Cmp(tip.CumulativeDiff) > 0:
		ancestor, ok, err := bi.query.CanonicalAt(parentHash)
		if err != nil {
			return Rejected, Hash{}, err
		}
		if !ok {
			ancestor, ok, err = bi.query.FindCommonAncestor([]Hash{parentHash})
			if err != nil {
				return Rejected, Hash{}, err
			}
			if !ok {
				return GapDetected, Hash{}, nil
			}
		}
		if err := bi.reorg.Reorg(ancestor, []*StoredBlock{sb}); err != nil {
			return Rejected, Hash{}, err
		}
		return Connected, hash, nil

	default:
		if err := bi.store.WriteBatch(func(ops *BatchOps) error {
			return ops.SaveBlock(sb)
		}); err != nil {
			return Rejected, Hash{}, err
		}
		return StoredNoncanon, hash, nil
	}
}
