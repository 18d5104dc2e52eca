package core

// SyncResponder serves inbound GetHeaders/GetBlockBodies requests from
// peers that are behind us; it never mutates chain state.
type SyncResponder struct {
	query *ChainQuery
	store *BlockStore
}

// NewSyncResponder wires a responder against the read façade and store.
func NewSyncResponder(query *ChainQuery, store *BlockStore) *SyncResponder {
	return &SyncResponder{query: query, store: store}
}

const maxHeadersPerResponse = 2000

// GetHeaders resolves the requester's locators to a common ancestor and
// returns up to limit (capped at maxHeadersPerResponse) headers starting
// just above it, never past stop's height (if stop resolves to a known
// block) nor past our own tip.
func (sr *SyncResponder) GetHeaders(locators []Hash, stop Hash, limit uint32) ([]*StoredBlock, error) {
	ancestor, ok, err := sr.query.FindCommonAncestor(locators)
	if err != nil || !ok {
		return nil, err
	}

	tipHeight, hasTip := sr.query.LatestHeight()
	if !hasTip {
		return nil, nil
	}

	end := ancestor.Height() + uint64(clampLimit(limit))
	if end > tipHeight {
		end = tipHeight
	}
	if !stop.IsZero() {
		if stopBlock, err := sr.store.GetHeader(stop); err == nil && stopBlock != nil {
			if stopBlock.Height() < end {
				end = stopBlock.Height()
			}
		}
	}

	start := ancestor.Height() + 1
	if start > end {
		return nil, nil
	}
	return sr.store.HeaderRange(start, end)
}

func clampLimit(limit uint32) uint32 {
	if limit == 0 || limit > maxHeadersPerResponse {
		return maxHeadersPerResponse
	}
	return limit
}

// GetBlockBodies returns the full blocks for hashes, preserving request
// order; a hash we do not hold resolves to a nil entry rather than
// shortening or reordering the response.
func (sr *SyncResponder) GetBlockBodies(hashes []Hash) ([]*StoredBlock, error) {
	return sr.store.MultiGetFull(hashes)
}
