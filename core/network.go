package core

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// syncProtocolID is the libp2p stream protocol used for the request/response
// half of the wire protocol (GetBlockHeaders/GetBlockBodies and their
// replies); broadcasts travel over gossipsub topics instead.
const syncProtocolID = "/solidus/sync/1.0.0"

const (
	topicNewHeader = "solidus/new-header"
	topicNewBlock  = "solidus/new-block"
)

type wireMsgKind uint8

const (
	msgGetHeaders wireMsgKind = iota + 1
	msgHeaders
	msgGetBodies
	msgBodies
	msgNewHeader
	msgNewBlock
)

type wireGetHeaders struct {
	Locators []Hash
	Stop     Hash
	Limit    uint32
	ReqID    uint64
}

type wireHeaders struct {
	Headers []byte // concatenated RLP-encoded headers, length-prefixed per entry
	ReqID   uint64
	ErrMsg  string
}

type wireGetBodies struct {
	Hashes []Hash
	ReqID  uint64
}

type wireBodies struct {
	Bodies [][]byte // one RLP-encoded tx-list per requested hash
	ReqID  uint64
	ErrMsg string
}

// NetworkConfig mirrors the subset of node configuration network.go needs;
// the rest (chain id, consensus params) lives in Config.
type NetworkConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// NetworkNode is the libp2p-gossipsub-backed concrete PeerRegistry and
// transport: a single host discovered via mDNS on the LAN plus manually
// dialed seeds, one gossipsub topic per broadcast message kind, and direct
// libp2p streams for request/response sync traffic.
type NetworkNode struct {
	host   host.Host
	pubsub *pubsub.PubSub
	cfg    NetworkConfig
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	peers    map[PeerID]*networkPeer
	banned   map[PeerID]DisconnectReason
	failures map[PeerID]int

	sync      *SyncManager
	responder *SyncResponder

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic
}

// NewNetworkNode bootstraps a libp2p host, gossipsub router, and mDNS
// discovery service, and registers the sync protocol stream handler.
func NewNetworkNode(cfg NetworkConfig, logger *logrus.Logger) (*NetworkNode, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: create pubsub: %w", err)
	}

	n := &NetworkNode{
		host:     h,
		pubsub:   ps,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[PeerID]*networkPeer),
		banned:   make(map[PeerID]DisconnectReason),
		failures: make(map[PeerID]int),
		topics:   make(map[string]*pubsub.Topic),
	}

	h.SetStreamHandler(protocol.ID(syncProtocolID), n.handleStream)

	for _, addr := range cfg.BootstrapPeers {
		if pi, err := peer.AddrInfoFromString(addr); err == nil {
			if err := h.Connect(ctx, *pi); err != nil {
				logger.WithError(err).WithField("addr", addr).Warn("core: failed to dial bootstrap peer")
				continue
			}
			n.addPeer(pi.ID)
		} else {
			logger.WithError(err).WithField("addr", addr).Warn("core: invalid bootstrap peer address")
		}
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, &mdnsNotifee{n: n})

	return n, nil
}

// AttachSyncManager lets the network dispatch inbound responses and
// broadcasts into the syncer once both are constructed.
func (n *NetworkNode) AttachSyncManager(sm *SyncManager) { n.sync = sm }

func (n *NetworkNode) addPeer(id peer.ID) *networkPeer {
	pid := PeerID(id.String())
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[pid]; ok {
		return p
	}
	p := &networkPeer{id: pid, remote: id, node: n}
	n.peers[pid] = p
	return p
}

type mdnsNotifee struct{ n *NetworkNode }

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == m.n.host.ID() {
		return
	}
	if err := m.n.host.Connect(m.n.ctx, info); err != nil {
		m.n.logger.WithError(err).Warn("core: failed to connect to mDNS peer")
		return
	}
	m.n.addPeer(info.ID)
}

// --- PeerRegistry / Reputation ---

func (n *NetworkNode) BestSyncCandidate(localHeight Height) (Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var best *networkPeer
	for _, p := range n.peers {
		if n.banned[p.id] != "" {
			continue
		}
		if p.HeadHeight() <= localHeight {
			continue
		}
		if best == nil || p.HeadHeight() > best.HeadHeight() {
			best = p
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func (n *NetworkNode) BestPeers(k int, exclude []PeerID) []Peer {
	excluded := make(map[PeerID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, 0, k)
	for id, p := range n.peers {
		if excluded[id] || n.banned[id] != "" {
			continue
		}
		out = append(out, p)
		if len(out) >= k {
			break
		}
	}
	return out
}

func (n *NetworkNode) Peer(id PeerID) (Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

// PeerCount reports the number of currently connected peers.
func (n *NetworkNode) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *NetworkNode) RecordSuccess(id PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.failures, id)
}

func (n *NetworkNode) RecordFailure(id PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[id]++
}

func (n *NetworkNode) Ban(id PeerID, reason DisconnectReason) {
	n.mu.Lock()
	n.banned[id] = reason
	n.mu.Unlock()
	if p, ok := n.Peer(id); ok {
		p.Disconnect(reason)
	}
}

func (n *NetworkNode) IsBanned(id PeerID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.banned[id] != ""
}

// --- broadcasts ---

// BroadcasterFunc is the signature of the global broadcast hook used by the
// governance and token subsystems, which publish informational gossip
// ("dao:new", "token:transfer", ...) independent of the chain-sync wire
// protocol above.
type BroadcasterFunc func(topic string, data []byte) error

var (
	broadcastMu   sync.RWMutex
	broadcastHook BroadcasterFunc
)

// SetBroadcaster installs the hook used by the package-level Broadcast.
// Pass nil to disable broadcasting (the default; Broadcast then no-ops).
func SetBroadcaster(fn BroadcasterFunc) {
	broadcastMu.Lock()
	broadcastHook = fn
	broadcastMu.Unlock()
}

// Broadcast publishes data on topic via the installed hook, if any.
func Broadcast(topic string, data []byte) error {
	broadcastMu.RLock()
	fn := broadcastHook
	broadcastMu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(topic, data)
}

func (n *NetworkNode) topic(name string) (*pubsub.Topic, error) {
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(name)
	if err != nil {
		return nil, err
	}
	n.topics[name] = t
	return t, nil
}

// BroadcastHeader publishes a freshly mined or accepted header to the
// new-header gossipsub topic for headers-first propagation.
func (n *NetworkNode) BroadcastHeader(h *BlockHeader) error {
	t, err := n.topic(topicNewHeader)
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, encodeHeaderRLP(h))
}

// GossipBroadcast publishes data on an arbitrary gossipsub topic. Its
// signature matches BroadcasterFunc, so it can be installed as the
// package-level Broadcast hook via SetBroadcaster; neither binary under cmd/
// installs it.
func (n *NetworkNode) GossipBroadcast(topicName string, data []byte) error {
	t, err := n.topic(topicName)
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, data)
}

// --- stream request/response ---

func (n *NetworkNode) handleStream(s network.Stream) {
	defer s.Close()
	r := bufio.NewReader(s)
	kind, payload, err := readFrame(r)
	if err != nil {
		return
	}
	remote := PeerID(s.Conn().RemotePeer().String())

	switch kind {
	case msgGetHeaders:
		var req wireGetHeaders
		if err := rlp.DecodeBytes(payload, &req); err != nil {
			return
		}
		n.replyHeaders(s, req)
	case msgGetBodies:
		var req wireGetBodies
		if err := rlp.DecodeBytes(payload, &req); err != nil {
			return
		}
		n.replyBodies(s, req)
	case msgHeaders:
		var resp wireHeaders
		if err := rlp.DecodeBytes(payload, &resp); err == nil && n.sync != nil {
			headers, decErr := decodeHeaderList(resp.Headers)
			if resp.ErrMsg != "" {
				decErr = fmt.Errorf("%s", resp.ErrMsg)
			}
			n.sync.OnHeadersResponse(resp.ReqID, headers, decErr)
		}
	case msgBodies:
		var resp wireBodies
		if err := rlp.DecodeBytes(payload, &resp); err == nil && n.sync != nil {
			bodies, decErr := decodeBodyList(resp.Bodies)
			if resp.ErrMsg != "" {
				decErr = fmt.Errorf("%s", resp.ErrMsg)
			}
			n.sync.OnBodiesResponse(resp.ReqID, bodies, decErr)
		}
	case msgNewHeader:
		h, err := DecodeHeaderRLP(payload)
		if err != nil {
			return
		}
		if p, ok := n.Peer(remote); ok {
			np := p.(*networkPeer)
			if h.HeightValue > np.HeadHeight() {
				hash := h.Hash()
				np.headHash.Store(&hash)
				np.headHeight.Store(h.HeightValue)
			}
			if n.sync != nil {
				_ = n.sync.OnBroadcastHeader(n.ctx, h, p)
			}
		}
	}
}

// AttachResponder wires an inbound request handler; without one, GetHeaders
// and GetBlockBodies requests are read and silently dropped (the peer's
// request eventually times out).
func (n *NetworkNode) AttachResponder(r *SyncResponder) { n.responder = r }

func (n *NetworkNode) replyHeaders(s network.Stream, req wireGetHeaders) {
	if n.responder == nil {
		return
	}
	blocks, err := n.responder.GetHeaders(req.Locators, req.Stop, req.Limit)
	resp := wireHeaders{ReqID: req.ReqID}
	if err != nil {
		resp.ErrMsg = err.Error()
	} else {
		raw := make([][]byte, len(blocks))
		for i, b := range blocks {
			raw[i] = encodeHeaderRLP(b.Block.Header)
		}
		enc, encErr := rlp.EncodeToBytes(raw)
		if encErr != nil {
			resp.ErrMsg = encErr.Error()
		} else {
			resp.Headers = enc
		}
	}
	payload, err := rlp.EncodeToBytes(resp)
	if err != nil {
		return
	}
	_ = writeFrame(s, msgHeaders, payload)
}

func (n *NetworkNode) replyBodies(s network.Stream, req wireGetBodies) {
	if n.responder == nil {
		return
	}
	blocks, err := n.responder.GetBlockBodies(req.Hashes)
	resp := wireBodies{ReqID: req.ReqID}
	if err != nil {
		resp.ErrMsg = err.Error()
	} else {
		resp.Bodies = make([][]byte, len(req.Hashes))
		for i, b := range blocks {
			if b == nil {
				resp.Bodies[i] = nil
				continue
			}
			txRaw := make([][]byte, len(b.Block.Txs))
			for j, tx := range b.Block.Txs {
				txRaw[j] = encodeTxRLP(tx)
			}
			enc, encErr := rlp.EncodeToBytes(txRaw)
			if encErr != nil {
				resp.ErrMsg = encErr.Error()
				break
			}
			resp.Bodies[i] = enc
		}
	}
	payload, err := rlp.EncodeToBytes(resp)
	if err != nil {
		return
	}
	_ = writeFrame(s, msgBodies, payload)
}

func writeFrame(w io.Writer, kind wireMsgKind, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) (wireMsgKind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	kind := wireMsgKind(header[0])
	n := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return kind, payload, nil
}

func decodeHeaderList(b []byte) ([]*BlockHeader, error) {
	var raw [][]byte
	if err := rlp.DecodeBytes(b, &raw); err != nil {
		return nil, err
	}
	out := make([]*BlockHeader, len(raw))
	for i, r := range raw {
		h, err := DecodeHeaderRLP(r)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func decodeBodyList(raw [][]byte) ([][]*Transaction, error) {
	out := make([][]*Transaction, len(raw))
	for i, r := range raw {
		var txRaw [][]byte
		if err := rlp.DecodeBytes(r, &txRaw); err != nil {
			return nil, err
		}
		txs := make([]*Transaction, len(txRaw))
		for j, tr := range txRaw {
			tx, err := DecodeTxRLP(tr)
			if err != nil {
				return nil, err
			}
			txs[j] = tx
		}
		out[i] = txs
	}
	return out, nil
}

// networkPeer is the concrete Peer implementation backing a single remote
// libp2p connection.
type networkPeer struct {
	id     PeerID
	remote peer.ID
	node   *NetworkNode

	reqCounter atomic.Uint64
	headHash   atomic.Pointer[Hash]
	headHeight atomic.Uint64
}

func (p *networkPeer) ID() PeerID { return p.id }

func (p *networkPeer) HeadHash() Hash {
	if h := p.headHash.Load(); h != nil {
		return *h
	}
	return Hash{}
}

func (p *networkPeer) HeadHeight() Height { return p.headHeight.Load() }

func (p *networkPeer) ReserveRequestID() uint64 { return p.reqCounter.Add(1) }

func (p *networkPeer) SendGetHeaders(ctx context.Context, locators []Hash, stop Hash, limit uint32, reqID uint64) error {
	payload, err := rlp.EncodeToBytes(wireGetHeaders{Locators: locators, Stop: stop, Limit: limit, ReqID: reqID})
	if err != nil {
		return err
	}
	return p.send(ctx, msgGetHeaders, payload)
}

func (p *networkPeer) SendGetBlockBodies(ctx context.Context, hashes []Hash, reqID uint64) error {
	payload, err := rlp.EncodeToBytes(wireGetBodies{Hashes: hashes, ReqID: reqID})
	if err != nil {
		return err
	}
	return p.send(ctx, msgGetBodies, payload)
}

func (p *networkPeer) send(ctx context.Context, kind wireMsgKind, payload []byte) error {
	s, err := p.node.host.NewStream(ctx, p.remote, protocol.ID(syncProtocolID))
	if err != nil {
		return fmt.Errorf("network: open stream to %s: %w", p.id, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetReadDeadline(dl)
	}
	if err := writeFrame(s, kind, payload); err != nil {
		s.Close()
		return err
	}
	if kind == msgGetHeaders || kind == msgGetBodies {
		// The reply comes back on this stream; handleStream reads it,
		// hands it to the sync manager and closes the stream.
		go p.node.handleStream(s)
		return nil
	}
	return s.Close()
}

func (p *networkPeer) Disconnect(reason DisconnectReason) {
	p.node.logger.WithFields(logrus.Fields{"peer": p.id, "reason": reason}).Info("core: disconnecting peer")
	p.node.mu.Lock()
	delete(p.node.peers, p.id)
	p.node.mu.Unlock()
}

var _ Peer = (*networkPeer)(nil)
var _ PeerRegistry = (*NetworkNode)(nil)

const streamIdleTimeout = 30 * time.Second
