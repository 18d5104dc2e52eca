package core

// ChainQuery is a stateless read façade over BlockStore: canonical
// lookups, locator generation for peer sync negotiation, and common-ancestor
// search.
type ChainQuery struct {
	store *BlockStore
}

// NewChainQuery wires a read façade over store.
func NewChainQuery(store *BlockStore) *ChainQuery {
	return &ChainQuery{store: store}
}

// CanonicalAt resolves hash to its StoredBlock and confirms height_index
// agrees it is canonical at that height.
func (q *ChainQuery) CanonicalAt(hash Hash) (*StoredBlock, bool, error) {
	sb, err := q.store.GetFull(hash)
	if err != nil || sb == nil {
		return nil, false, err
	}
	canonHash, ok, err := q.store.HashAtHeight(sb.Height())
	if err != nil {
		return nil, false, err
	}
	if !ok || canonHash != hash {
		return sb, false, nil
	}
	return sb, true, nil
}

// LocatorHashes produces a Bitcoin-style exponential locator: tip, tip-1,
// tip-2, tip-4, tip-8, ..., doubling, plus genesis.
func (q *ChainQuery) LocatorHashes() ([]Hash, error) {
	tipHeight, ok := q.store.LatestHeight()
	if !ok {
		return nil, nil
	}
	var locators []Hash
	step := Height(1)
	h := tipHeight
	seenGenesis := false
	for {
		hash, ok, err := q.store.HashAtHeight(h)
		if err != nil {
			return nil, err
		}
		if ok {
			locators = append(locators, hash)
			seenGenesis = seenGenesis || h == 0
		}
		if h == 0 {
			break
		}
		if h < step {
			h = 0
			continue
		}
		h -= step
		if len(locators) >= 2 {
			step *= 2
		}
	}
	if !seenGenesis {
		if hash, ok, err := q.store.HashAtHeight(0); err == nil && ok {
			locators = append(locators, hash)
		}
	}
	return locators, nil
}

// FindCommonAncestor walks locators (most-recent-first) and returns the
// first one that is canonical at its own recorded height in our chain; it
// falls back to genesis if one exists, else reports ok=false.
func (q *ChainQuery) FindCommonAncestor(locators []Hash) (*StoredBlock, bool, error) {
	for _, loc := range locators {
		sb, canonical, err := q.CanonicalAt(loc)
		if err != nil {
			return nil, false, err
		}
		if canonical {
			return sb, true, nil
		}
	}
	genesisHash, ok, err := q.store.HashAtHeight(0)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	sb, err := q.store.GetFull(genesisHash)
	if err != nil || sb == nil {
		return nil, false, err
	}
	return sb, true, nil
}

// LatestHeight delegates to BlockStore's tip cache.
func (q *ChainQuery) LatestHeight() (Height, bool) { return q.store.LatestHeight() }

// LatestStored delegates to BlockStore's tip cache.
func (q *ChainQuery) LatestStored() (*StoredBlock, bool) { return q.store.LatestStored() }
