package core

import (
	"encoding/hex"
	"math/big"
	"sync"
	"time"
)

// Hash is a 32-byte content digest used to address headers, blocks and
// transactions.
type Hash [32]byte

// Hex renders the hash as a lowercase hex string, unprefixed.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// Short renders a truncated form suitable for log lines.
func (h Hash) Short() string {
	s := h.Hex()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// Bytes returns a copy of the underlying bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, len(h))
	copy(b, h[:])
	return b
}

// IsZero reports whether the hash is the zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// Address is a 20-byte account identifier.
type Address [20]byte

// Hex renders the address as a lowercase hex string.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// Short renders a truncated form suitable for log lines.
func (a Address) Short() string {
	s := a.Hex()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// Bytes returns a copy of the underlying bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, len(a))
	copy(b, a[:])
	return b
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool { return a == Address{} }

// AddressZero is the canonical zero address, used as a sentinel for
// "no beneficiary" / "no sender" fields.
var AddressZero = Address{}

// Height is a non-negative chain height; genesis is height 0.
type Height = uint64

// ConnectedSource records how a StoredBlock entered the store.
type ConnectedSource uint8

const (
	SourceGenesis ConnectedSource = iota
	SourceMiner
	SourceBroadcast
	SourceReorg
)

func (s ConnectedSource) String() string {
	switch s {
	case SourceGenesis:
		return "genesis"
	case SourceMiner:
		return "miner"
	case SourceBroadcast:
		return "broadcast"
	case SourceReorg:
		return "reorg"
	default:
		return "unknown"
	}
}

// BlockHeader is the immutable, hash-addressed header of a block. Hash,
// Size and encoding are memoized once on first use under hashOnce/sizeOnce,
// preserving I5: the hash always corresponds to the exact bytes decoded.
type BlockHeader struct {
	Version       uint32
	HeightValue   Height
	PreviousHash  Hash
	TxRootHash    Hash
	StateRootHash Hash
	TimestampMs   int64
	Difficulty    *big.Int
	Coinbase      Address
	Nonce         uint64
	Signature     []byte

	hashOnce  sync.Once
	hashValue Hash
	sizeOnce  sync.Once
	sizeValue uint32
	encOnce   sync.Once
	encValue  []byte
}

// Hash returns the memoized double-digest of the header's canonical
// encoding, computing it at most once.
func (h *BlockHeader) Hash() Hash {
	h.hashOnce.Do(func() {
		h.hashValue = hashBytes(h.encodeCanonical())
	})
	return h.hashValue
}

// Size returns the memoized encoded size in bytes.
func (h *BlockHeader) Size() uint32 {
	h.sizeOnce.Do(func() {
		h.sizeValue = uint32(len(h.encodeCanonical()))
	})
	return h.sizeValue
}

func (h *BlockHeader) encodeCanonical() []byte {
	h.encOnce.Do(func() {
		h.encValue = encodeHeaderRLP(h)
	})
	return h.encValue
}

// Timestamp returns the header timestamp as a time.Time.
func (h *BlockHeader) Timestamp() time.Time {
	return time.UnixMilli(h.TimestampMs)
}

// TxType enumerates the supported transaction payload kinds.
type TxType uint8

const (
	TxTransfer TxType = iota
	TxTokenTransfer
	TxGovernance
	TxCoinbase
)

// Transaction is the immutable, hash-addressed transaction envelope. Like
// BlockHeader, its hash and size are computed once and memoized.
type Transaction struct {
	Sender    Address
	Recipient Address
	HasRecip  bool
	Amount    *big.Int
	Fee       *big.Int
	Nonce     uint64
	Type      TxType
	Version   uint32
	Payload   []byte
	Signature []byte

	hashOnce  sync.Once
	hashValue Hash
	sizeOnce  sync.Once
	sizeValue uint32
	encOnce   sync.Once
	encValue  []byte
}

// Hash returns the memoized hash of the transaction's canonical encoding.
func (t *Transaction) Hash() Hash {
	t.hashOnce.Do(func() {
		t.hashValue = hashBytes(t.encodeCanonical())
	})
	return t.hashValue
}

// Size returns the memoized encoded size in bytes.
func (t *Transaction) Size() uint32 {
	t.sizeOnce.Do(func() {
		t.sizeValue = uint32(len(t.encodeCanonical()))
	})
	return t.sizeValue
}

func (t *Transaction) encodeCanonical() []byte {
	t.encOnce.Do(func() {
		t.encValue = encodeTxRLP(t)
	})
	return t.encValue
}

// Block is a header paired with its ordered transaction list. The
// tx_root_hash invariant (header.TxRootHash == MerkleRoot(Txs)) is enforced
// by BlockValidator, not by the type itself.
type Block struct {
	Header *BlockHeader
	Txs    []*Transaction
}

// Hash delegates to the header's memoized hash.
func (b *Block) Hash() Hash { return b.Header.Hash() }

// StoredBlock is the storage-layer wrapper persisted by BlockStore. It is
// built once via NewStoredBlock and never mutated in place; a reorg removes
// its height_index entry but never deletes the block itself.
type StoredBlock struct {
	Block               *Block
	CumulativeDiff      *big.Int
	ReceivedAt          time.Time
	ReceivedFrom        Address
	ConnectedSource     ConnectedSource
	IsPartial           bool // true when Block.Txs were not decoded
	hash                Hash
	encodedSize         int
	txIndex             map[Hash]int // tx hash -> position within Block.Txs
}

// NewStoredBlock builds a StoredBlock, pre-computing its hash and tx index.
func NewStoredBlock(b *Block, cumDiff *big.Int, receivedAt time.Time, receivedFrom Address, source ConnectedSource) *StoredBlock {
	sb := &StoredBlock{
		Block:           b,
		CumulativeDiff:  new(big.Int).Set(cumDiff),
		ReceivedAt:      receivedAt,
		ReceivedFrom:    receivedFrom,
		ConnectedSource: source,
		hash:            b.Hash(),
	}
	if !sb.IsPartial {
		sb.txIndex = make(map[Hash]int, len(b.Txs))
		for i, tx := range b.Txs {
			sb.txIndex[tx.Hash()] = i
		}
	}
	return sb
}

// Hash returns the pre-computed block hash.
func (sb *StoredBlock) Hash() Hash { return sb.hash }

// Height returns the block's height.
func (sb *StoredBlock) Height() Height { return sb.Block.Header.HeightValue }

// PreviousHash returns the block's parent hash.
func (sb *StoredBlock) PreviousHash() Hash { return sb.Block.Header.PreviousHash }

// TxPosition returns the index of a transaction hash within the block, if
// present and the block is not partial.
func (sb *StoredBlock) TxPosition(txHash Hash) (int, bool) {
	if sb.txIndex == nil {
		return 0, false
	}
	pos, ok := sb.txIndex[txHash]
	return pos, ok
}

func hashBytes(b []byte) Hash {
	return doubleSHA256(b)
}
