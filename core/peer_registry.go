package core

import "context"

// PeerID identifies a remote peer; concrete implementations (core/network.go)
// back it with a libp2p peer.ID string.
type PeerID string

// DisconnectReason documents why a peer connection was torn down, for logs
// and for reputation bookkeeping.
type DisconnectReason string

const (
	ReasonIncompatibleChain DisconnectReason = "incompatible_chain"
	ReasonProtocolViolation DisconnectReason = "protocol_violation"
	ReasonTimeout           DisconnectReason = "timeout"
	ReasonShutdown          DisconnectReason = "shutdown"
)

// Peer is the outbound surface SyncManager and SyncResponder use against a
// single remote node; concrete transport details (stream framing, codec)
// live entirely behind this interface.
type Peer interface {
	ID() PeerID
	HeadHash() Hash
	HeadHeight() Height

	// ReserveRequestID hands out a strictly-monotonic, per-peer request id
	// used to correlate asynchronous responses.
	ReserveRequestID() uint64

	SendGetHeaders(ctx context.Context, locators []Hash, stop Hash, limit uint32, reqID uint64) error
	SendGetBlockBodies(ctx context.Context, hashes []Hash, reqID uint64) error

	Disconnect(reason DisconnectReason)
}

// Reputation tracks per-peer success/failure history and enforces bans; the
// concrete scoring policy (decay, thresholds) is an implementation detail
// behind this interface.
type Reputation interface {
	RecordSuccess(id PeerID)
	RecordFailure(id PeerID)
	Ban(id PeerID, reason DisconnectReason)
	IsBanned(id PeerID) bool
}

// PeerRegistry is the C9 interface SyncManager and SyncResponder depend on
// for peer selection; a libp2p-gossipsub-backed implementation lives in
// network.go.
type PeerRegistry interface {
	Reputation

	// BestSyncCandidate returns the connected, non-banned peer with the
	// highest advertised work above localHeight, if any.
	BestSyncCandidate(localHeight Height) (Peer, bool)

	// BestPeers returns up to k connected peers, excluding the given ids,
	// for fan-out broadcasts.
	BestPeers(k int, exclude []PeerID) []Peer

	Peer(id PeerID) (Peer, bool)
}
