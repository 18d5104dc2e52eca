package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// SyncHeadersPerBatch bounds how many headers a single downloadHeaders
	// call accumulates before moving on to body download.
	SyncHeadersPerBatch = 1000
	// PersistBatchSize bounds the number of decoded blocks held in memory
	// before a persistence batch is flushed through ReorgEngine.
	PersistBatchSize = 250
	// RequestTimeout bounds how long the syncer waits for a peer response.
	RequestTimeout = 20 * time.Second

	activePollInterval = 100 * time.Millisecond
	idlePollInterval    = 5 * time.Second
	staleBroadcastDelta = 10
)

type headersResponse struct {
	headers []*BlockHeader
	err     error
}

type bodiesResponse struct {
	bodies [][]*Transaction
	err    error
}

// SyncManager drives catch-up sync against the best-known peer on a single
// dedicated goroutine and handles out-of-band broadcast headers.
type SyncManager struct {
	store     *BlockStore
	query     *ChainQuery
	cfg       *Config
	validator *BlockValidator
	reorg     *ReorgEngine
	ingestion *BlockIngestion
	orphans   *OrphanBuffer
	registry  PeerRegistry
	logger    *logrus.Logger

	pendingHeaderRequests sync.Map // uint64 -> chan headersResponse
	pendingBodyRequests   sync.Map // uint64 -> chan bodiesResponse
	pendingBroadcasts     sync.Map // Hash -> struct{}

	signal chan struct{}
	stop   chan struct{}
	synced atomic.Bool
}

// NewSyncManager wires the syncer against its collaborators.
func NewSyncManager(store *BlockStore, query *ChainQuery, cfg *Config, validator *BlockValidator, reorg *ReorgEngine, ingestion *BlockIngestion, orphans *OrphanBuffer, registry PeerRegistry, logger *logrus.Logger) *SyncManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SyncManager{
		store: store, query: query, cfg: cfg, validator: validator,
		reorg: reorg, ingestion: ingestion, orphans: orphans, registry: registry,
		logger: logger,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Synced reports whether the last poll found us caught up with the best
// known peer.
func (sm *SyncManager) Synced() bool { return sm.synced.Load() }

// SignalMaybeBehind wakes the sync loop early, e.g. after a new peer
// connects or advertises a taller head.
func (sm *SyncManager) SignalMaybeBehind() {
	select {
	case sm.signal <- struct{}{}:
	default:
	}
}

// Stop terminates the sync loop.
func (sm *SyncManager) Stop() { close(sm.stop) }

// Run is the main sync loop: cooperative, polling on a signal
// channel or a timer whose period shortens while actively catching up.
func (sm *SyncManager) Run(ctx context.Context) {
	interval := idlePollInterval
	for {
		select {
		case <-sm.stop:
			return
		case <-ctx.Done():
			return
		case <-sm.signal:
		case <-time.After(interval):
		}

		localHeight, _ := sm.query.LatestHeight()
		peer, ok := sm.registry.BestSyncCandidate(localHeight)
		if !ok {
			sm.synced.Store(true)
			interval = idlePollInterval
			continue
		}

		sm.synced.Store(false)
		interval = activePollInterval
		if err := sm.performSync(ctx, peer); err != nil {
			sm.logger.WithError(err).WithField("peer", peer.ID()).Warn("core: sync attempt failed")
			if IsIncompatibleChain(err) {
				peer.Disconnect(ReasonIncompatibleChain)
				sm.registry.Ban(peer.ID(), ReasonIncompatibleChain)
			} else {
				peer.Disconnect(ReasonTimeout)
			}
			sm.registry.RecordFailure(peer.ID())
			continue
		}
		sm.registry.RecordSuccess(peer.ID())
		sm.synced.Store(true)
		interval = idlePollInterval
	}
}

// performSync executes one full catch-up attempt against peer.
func (sm *SyncManager) performSync(ctx context.Context, peer Peer) error {
	headers, err := sm.downloadHeaders(ctx, peer)
	if err != nil {
		return fmt.Errorf("sync: download headers: %w", err)
	}
	if len(headers) == 0 {
		return nil
	}

	contextMap := make(map[Hash]*BlockHeader, len(headers))
	for _, h := range headers {
		contextMap[h.Hash()] = h
	}
	if err := sm.validateHeadersParallel(headers, contextMap); err != nil {
		return fmt.Errorf("sync: validate headers: %w", err)
	}

	return sm.downloadAndPersistBodies(ctx, peer, headers)
}

// downloadHeaders repeatedly calls GetBlockHeaders
// until SyncHeadersPerBatch headers are accumulated or the peer returns
// fewer than requested.
func (sm *SyncManager) downloadHeaders(ctx context.Context, peer Peer) ([]*BlockHeader, error) {
	locators, err := sm.query.LocatorHashes()
	if err != nil {
		return nil, err
	}

	var all []*BlockHeader
	first := true
	for len(all) < SyncHeadersPerBatch {
		remaining := uint32(SyncHeadersPerBatch - len(all))
		reqID := peer.ReserveRequestID()
		ch := make(chan headersResponse, 1)
		sm.pendingHeaderRequests.Store(reqID, ch)

		reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
		err := peer.SendGetHeaders(reqCtx, locators, peer.HeadHash(), remaining, reqID)
		if err != nil {
			cancel()
			sm.pendingHeaderRequests.Delete(reqID)
			return nil, err
		}

		var resp headersResponse
		select {
		case resp = <-ch:
		case <-reqCtx.Done():
			sm.pendingHeaderRequests.Delete(reqID)
			cancel()
			return nil, fmt.Errorf("sync: get headers timed out")
		}
		cancel()
		sm.pendingHeaderRequests.Delete(reqID)

		if resp.err != nil {
			return nil, resp.err
		}
		batch := resp.headers
		if len(batch) == 0 {
			if first && len(locators) > 0 {
				return nil, &ValidationError{Kind: IncompatibleChainKind, Reason: "peer advertises greater head but returned no headers"}
			}
			break
		}

		if first {
			haveGenesis := false
			if _, ok := sm.store.LatestStored(); ok {
				haveGenesis = true
			}
			_, ok, err := sm.lookupParent(batch[0].PreviousHash, nil)
			if err != nil {
				return nil, err
			}
			if !ok {
				if haveGenesis {
					return nil, &ValidationError{Kind: IncompatibleChainKind, Reason: "first header's parent unknown, genesis already present"}
				}
				return nil, &ValidationError{Kind: InvalidLinkage, Reason: "first header's parent unknown, no genesis yet"}
			}
		}
		for i := 1; i < len(batch); i++ {
			if batch[i].PreviousHash != batch[i-1].Hash() {
				return nil, newValidationErr(InvalidLinkage, "header batch discontinuity at offset %d", i)
			}
		}

		all = append(all, batch...)
		lastHash := batch[len(batch)-1].Hash()
		locators = []Hash{lastHash}
		first = false

		if lastHash == peer.HeadHash() || uint32(len(batch)) < remaining {
			break
		}
	}
	return all, nil
}

func (sm *SyncManager) lookupParent(hash Hash, contextMap map[Hash]*BlockHeader) (*BlockHeader, bool, error) {
	if h, ok := contextMap[hash]; ok {
		return h, true, nil
	}
	sb, err := sm.store.GetHeader(hash)
	if err != nil {
		return nil, false, err
	}
	if sb == nil {
		return nil, false, nil
	}
	return sb.Block.Header, true, nil
}

// validateHeadersParallel runs ValidateHeader for every header in the batch
// concurrently, resolving parent linkage either from contextMap (same-batch
// ancestors) or BlockStore.
func (sm *SyncManager) validateHeadersParallel(headers []*BlockHeader, contextMap map[Hash]*BlockHeader) error {
	haveGenesis := false
	if _, ok := sm.store.LatestStored(); ok {
		haveGenesis = true
	}

	var g errgroup.Group
	for _, h := range headers {
		h := h
		g.Go(func() error {
			parent, _, err := sm.lookupParent(h.PreviousHash, contextMap)
			if err != nil {
				return err
			}
			return sm.validator.ValidateHeader(h, parent, haveGenesis)
		})
	}
	return g.Wait()
}

// downloadAndPersistBodies runs a FIFO pipeline of up to
// cfg.PipelineDepth() in-flight GetBlockBodies requests, flushing completed
// blocks into persistence batches of PersistBatchSize.
func (sm *SyncManager) downloadAndPersistBodies(ctx context.Context, peer Peer, headers []*BlockHeader) error {
	bodyBatchSize := sm.cfg.BodyBatchSize()
	pipeDepth := sm.cfg.PipelineDepth()

	type inflight struct {
		reqID   uint64
		headers []*BlockHeader
		ch      chan bodiesResponse
		ctx     context.Context
		cancel  context.CancelFunc
	}

	commonAncestor, err := sm.store.GetFull(headers[0].PreviousHash)
	if err != nil {
		return fmt.Errorf("sync: resolve common ancestor: %w", err)
	}
	var persistBatch []*StoredBlock
	var queue []inflight
	idx := 0
	// Requests still queued when this function returns (only on failure)
	// are dropped from pendingBodyRequests.
	defer func() {
		for _, q := range queue {
			sm.pendingBodyRequests.Delete(q.reqID)
			q.cancel()
		}
	}()

	issue := func() error {
		for len(queue) < pipeDepth && idx < len(headers) {
			end := idx + bodyBatchSize
			if end > len(headers) {
				end = len(headers)
			}
			batchHeaders := headers[idx:end]
			hashes := make([]Hash, len(batchHeaders))
			for i, h := range batchHeaders {
				hashes[i] = h.Hash()
			}
			reqID := peer.ReserveRequestID()
			ch := make(chan bodiesResponse, 1)
			sm.pendingBodyRequests.Store(reqID, ch)

			reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
			if err := peer.SendGetBlockBodies(reqCtx, hashes, reqID); err != nil {
				cancel()
				sm.pendingBodyRequests.Delete(reqID)
				return err
			}
			queue = append(queue, inflight{reqID: reqID, headers: batchHeaders, ch: ch, ctx: reqCtx, cancel: cancel})
			idx = end
		}
		return nil
	}

	flush := func() error {
		if len(persistBatch) == 0 {
			return nil
		}
		if err := sm.reorg.Reorg(commonAncestor, persistBatch); err != nil {
			return err
		}
		commonAncestor = persistBatch[len(persistBatch)-1]
		persistBatch = nil
		return nil
	}

	for {
		if err := issue(); err != nil {
			return err
		}
		if len(queue) == 0 {
			break
		}

		oldest := queue[0]
		queue = queue[1:]

		var resp bodiesResponse
		select {
		case resp = <-oldest.ch:
		case <-oldest.ctx.Done():
			sm.pendingBodyRequests.Delete(oldest.reqID)
		}
		oldest.cancel()

		if resp.err != nil {
			return resp.err
		}
		if len(resp.bodies) != len(oldest.headers) {
			return fmt.Errorf("sync: body count %d does not match requested %d", len(resp.bodies), len(oldest.headers))
		}

		var g errgroup.Group
		for i, h := range oldest.headers {
			i, h := i, h
			g.Go(func() error {
				txs := resp.bodies[i]
				if MerkleRoot(txs) != h.TxRootHash {
					return newValidationErr(InvalidMerkleRoot, "merkle root mismatch for body at height %d", h.HeightValue)
				}
				return sm.validator.ValidateBody(h, txs)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// receivedFrom is recorded as the zero address: PeerID is a
		// transport-layer identifier unrelated to the chain's Address type,
		// and logging uses peer.ID() directly where peer attribution matters.
		for i, h := range oldest.headers {
			cum := new(big.Int)
			if len(persistBatch) > 0 {
				cum.Add(persistBatch[len(persistBatch)-1].CumulativeDiff, h.Difficulty)
			} else if commonAncestor != nil {
				cum.Add(commonAncestor.CumulativeDiff, h.Difficulty)
			} else {
				cum.Set(h.Difficulty)
			}
			block := &Block{Header: h, Txs: resp.bodies[i]}
			sb := NewStoredBlock(block, cum, time.Now(), AddressZero, SourceReorg)
			persistBatch = append(persistBatch, sb)
			if len(persistBatch) >= PersistBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	return flush()
}

// OnHeadersResponse delivers a BlockHeaders wire message to the goroutine
// awaiting reqID, if any is still outstanding.
func (sm *SyncManager) OnHeadersResponse(reqID uint64, headers []*BlockHeader, err error) {
	if v, ok := sm.pendingHeaderRequests.LoadAndDelete(reqID); ok {
		v.(chan headersResponse) <- headersResponse{headers: headers, err: err}
	}
}

// OnBodiesResponse delivers a BlockBodies wire message to the goroutine
// awaiting reqID, if any is still outstanding.
func (sm *SyncManager) OnBodiesResponse(reqID uint64, bodies [][]*Transaction, err error) {
	if v, ok := sm.pendingBodyRequests.LoadAndDelete(reqID); ok {
		v.(chan bodiesResponse) <- bodiesResponse{bodies: bodies, err: err}
	}
}

// OnBroadcastHeader handles a single unsolicited header delivered with
// request_id==0 under the headers-first propagation rule.
func (sm *SyncManager) OnBroadcastHeader(ctx context.Context, header *BlockHeader, from Peer) error {
	hash := header.Hash()

	exists, err := sm.store.Exists(hash)
	if err != nil {
		return err
	}
	if exists || sm.orphans.Contains(hash) {
		return nil
	}
	if _, loaded := sm.pendingBroadcasts.LoadOrStore(hash, struct{}{}); loaded {
		return nil
	}
	defer sm.pendingBroadcasts.Delete(hash)

	tipHeight, hasTip := sm.query.LatestHeight()
	if hasTip && header.HeightValue+staleBroadcastDelta < tipHeight {
		return nil
	}

	if hasTip && header.HeightValue > tipHeight {
		parent, err := sm.store.GetHeader(header.PreviousHash)
		if err != nil {
			return err
		}
		if parent == nil {
			sm.SignalMaybeBehind()
			return nil
		}
	}

	reqID := from.ReserveRequestID()
	ch := make(chan bodiesResponse, 1)
	sm.pendingBodyRequests.Store(reqID, ch)
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	if err := from.SendGetBlockBodies(reqCtx, []Hash{hash}, reqID); err != nil {
		sm.pendingBodyRequests.Delete(reqID)
		return err
	}

	var resp bodiesResponse
	select {
	case resp = <-ch:
	case <-reqCtx.Done():
		sm.pendingBodyRequests.Delete(reqID)
		return fmt.Errorf("sync: broadcast body fetch timed out")
	}
	if resp.err != nil {
		return resp.err
	}
	if len(resp.bodies) != 1 {
		return fmt.Errorf("sync: expected exactly one body for broadcast header")
	}
	if MerkleRoot(resp.bodies[0]) != header.TxRootHash {
		return newValidationErr(InvalidMerkleRoot, "broadcast body merkle root mismatch")
	}

	block := &Block{Header: header, Txs: resp.bodies[0]}
	_, err = sm.ingestion.ProcessBlock(block, SourceBroadcast, AddressZero, time.Now(), false)
	return err
}
