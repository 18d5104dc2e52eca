package core

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrReorgNotWorthwhile is returned when the proposed new branch does not
// exceed the current tip's cumulative difficulty. A branch of equal
// cumulative difficulty is accepted only when the current tip's timestamp is
// later than that of the branch's last block.
var ErrReorgNotWorthwhile = errors.New("reorg: new branch not heavier than current tip")

// ReorgEngine atomically swaps the canonical chain from the current tip to
// a new tip sharing a common ancestor with it, disconnecting blocks from
// the old branch and connecting blocks on the new branch within a single
// write batch.
type ReorgEngine struct {
	store  *BlockStore
	events *EventBus
	cfg    *Config
}

// NewReorgEngine wires the engine to the store it mutates, the bus it
// publishes to, and the genesis-derived config it reads the block reward
// from when computing BlockConnected payouts.
func NewReorgEngine(store *BlockStore, events *EventBus, cfg *Config) *ReorgEngine {
	return &ReorgEngine{store: store, events: events, cfg: cfg}
}

// totalFees sums the fee of every non-coinbase transaction in b.
func totalFees(b *Block) *big.Int {
	sum := new(big.Int)
	for _, tx := range b.Txs {
		if tx.Type == TxCoinbase || tx.Fee == nil {
			continue
		}
		sum.Add(sum, tx.Fee)
	}
	return sum
}

// Reorg switches the canonical chain to newBranch (ascending height, all
// built on commonAncestor). If the current tip already descends directly
// from commonAncestor with no blocks above it, this degenerates into the
// fast-forward case; the same write-batch path is used either way.
func (re *ReorgEngine) Reorg(commonAncestor *StoredBlock, newBranch []*StoredBlock) error {
	if len(newBranch) == 0 {
		return fmt.Errorf("reorg: empty new branch")
	}

	currentTip, hasTip := re.store.LatestStored()
	if hasTip {
		last := newBranch[len(newBranch)-1]
		heavier := last.CumulativeDiff.Cmp(currentTip.CumulativeDiff) > 0
		equalButCurrentTipNewer := last.CumulativeDiff.Cmp(currentTip.CumulativeDiff) == 0 &&
			currentTip.Block.Header.TimestampMs > last.Block.Header.TimestampMs
		if !heavier && !equalButCurrentTipNewer {
			return ErrReorgNotWorthwhile
		}
	}

	oldBranch, err := re.oldBranchAbove(commonAncestor, currentTip, hasTip)
	if err != nil {
		return err
	}

	err = re.store.WriteBatch(func(ops *BatchOps) error {
		for i := len(oldBranch) - 1; i >= 0; i-- {
			if err := ops.DisconnectTip(oldBranch[i]); err != nil {
				return err
			}
		}
		for _, sb := range newBranch {
			if err := ops.SaveBlock(sb); err != nil {
				return err
			}
			if err := ops.ConnectTip(sb); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(oldBranch) - 1; i >= 0; i-- {
		re.events.Publish(BlockDisconnected{Block: oldBranch[i]})
	}
	for _, sb := range newBranch {
		reward := big.NewInt(0)
		if re.cfg != nil && re.cfg.BlockReward != nil {
			reward = re.cfg.BlockReward
		}
		re.events.Publish(BlockConnected{
			Block:          sb,
			CumulativeDiff: sb.CumulativeDiff,
			TotalFees:      totalFees(sb.Block),
			BlockReward:    reward,
		})
	}
	return nil
}

// FastForward is a convenience wrapper for the common no-old-branch case:
// newBranch must extend the current tip directly.
func (re *ReorgEngine) FastForward(newBranch []*StoredBlock) error {
	currentTip, hasTip := re.store.LatestStored()
	if !hasTip {
		return re.Reorg(nil, newBranch)
	}
	return re.Reorg(currentTip, newBranch)
}

// oldBranchAbove computes the canonical blocks strictly above
// commonAncestor.Height() along the current canonical chain, in ascending
// height order. Empty for a fast-forward.
func (re *ReorgEngine) oldBranchAbove(commonAncestor, currentTip *StoredBlock, hasTip bool) ([]*StoredBlock, error) {
	if !hasTip || commonAncestor == nil {
		return nil, nil
	}
	if currentTip.Height() <= commonAncestor.Height() {
		return nil, nil
	}
	blocks, err := re.store.HeightRange(commonAncestor.Height()+1, currentTip.Height())
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
