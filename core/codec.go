package core

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// doubleSHA256 is the canonical header/tx digest: SHA-256 applied twice.
func doubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	var h Hash
	copy(h[:], second[:])
	return h
}

// rlpHeader is the wire/storage shape of BlockHeader. big.Int and byte
// arrays need explicit field types RLP can encode; BlockHeader itself
// carries unexported memoization fields that must never reach the wire.
type rlpHeader struct {
	Version       uint32
	Height        uint64
	PreviousHash  []byte
	TxRootHash    []byte
	StateRootHash []byte
	TimestampMs   uint64
	Difficulty    *big.Int
	Coinbase      []byte
	Nonce         uint64
	Signature     []byte
}

func toRLPHeader(h *BlockHeader) rlpHeader {
	diff := h.Difficulty
	if diff == nil {
		diff = new(big.Int)
	}
	return rlpHeader{
		Version:       h.Version,
		Height:        h.HeightValue,
		PreviousHash:  h.PreviousHash.Bytes(),
		TxRootHash:    h.TxRootHash.Bytes(),
		StateRootHash: h.StateRootHash.Bytes(),
		TimestampMs:   uint64(h.TimestampMs),
		Difficulty:    diff,
		Coinbase:      h.Coinbase.Bytes(),
		Nonce:         h.Nonce,
		Signature:     h.Signature,
	}
}

func fromRLPHeader(r rlpHeader) *BlockHeader {
	h := &BlockHeader{
		Version:     r.Version,
		HeightValue: r.Height,
		TimestampMs: int64(r.TimestampMs),
		Difficulty:  r.Difficulty,
		Nonce:       r.Nonce,
		Signature:   r.Signature,
	}
	copy(h.PreviousHash[:], r.PreviousHash)
	copy(h.TxRootHash[:], r.TxRootHash)
	copy(h.StateRootHash[:], r.StateRootHash)
	copy(h.Coinbase[:], r.Coinbase)
	return h
}

// encodeHeaderRLP returns the canonical RLP encoding of a header, used both
// as the wire form and as the input to the memoized header hash.
func encodeHeaderRLP(h *BlockHeader) []byte {
	enc, err := rlp.EncodeToBytes(toRLPHeader(h))
	if err != nil {
		// Encoding a well-formed header never fails; a failure here
		// indicates a *big.Int or slice field was left nil.
		panic(fmt.Sprintf("core: encode header: %v", err))
	}
	return enc
}

// DecodeHeaderRLP decodes a header from its canonical RLP encoding.
func DecodeHeaderRLP(b []byte) (*BlockHeader, error) {
	var r rlpHeader
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return nil, fmt.Errorf("core: decode header: %w", err)
	}
	return fromRLPHeader(r), nil
}

type rlpTx struct {
	Sender    []byte
	Recipient []byte
	HasRecip  bool
	Amount    *big.Int
	Fee       *big.Int
	Nonce     uint64
	Type      uint8
	Version   uint32
	Payload   []byte
	Signature []byte
}

func toRLPTx(t *Transaction) rlpTx {
	amt, fee := t.Amount, t.Fee
	if amt == nil {
		amt = new(big.Int)
	}
	if fee == nil {
		fee = new(big.Int)
	}
	return rlpTx{
		Sender:    t.Sender.Bytes(),
		Recipient: t.Recipient.Bytes(),
		HasRecip:  t.HasRecip,
		Amount:    amt,
		Fee:       fee,
		Nonce:     t.Nonce,
		Type:      uint8(t.Type),
		Version:   t.Version,
		Payload:   t.Payload,
		Signature: t.Signature,
	}
}

func fromRLPTx(r rlpTx) *Transaction {
	t := &Transaction{
		HasRecip:  r.HasRecip,
		Amount:    r.Amount,
		Fee:       r.Fee,
		Nonce:     r.Nonce,
		Type:      TxType(r.Type),
		Version:   r.Version,
		Payload:   r.Payload,
		Signature: r.Signature,
	}
	copy(t.Sender[:], r.Sender)
	copy(t.Recipient[:], r.Recipient)
	return t
}

// encodeTxRLP returns the canonical RLP encoding of a transaction.
func encodeTxRLP(t *Transaction) []byte {
	enc, err := rlp.EncodeToBytes(toRLPTx(t))
	if err != nil {
		panic(fmt.Sprintf("core: encode tx: %v", err))
	}
	return enc
}

// DecodeTxRLP decodes a transaction from its canonical RLP encoding.
func DecodeTxRLP(b []byte) (*Transaction, error) {
	var r rlpTx
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return nil, fmt.Errorf("core: decode tx: %w", err)
	}
	return fromRLPTx(r), nil
}

// storedBlockEnvelope is the on-disk shape of a StoredBlock, matching the
// external-interfaces layout: version, header bytes, cumulative difficulty,
// receipt metadata, then encoded transactions.
type storedBlockEnvelope struct {
	Version         uint32
	HeaderBytes     []byte
	CumulativeDiff  *big.Int
	ReceivedAtMs    uint64
	ReceivedFrom    []byte
	ConnectedSource uint8
	TxBytes         [][]byte
}

const storedBlockVersion = 1

// EncodeStoredBlock serializes a StoredBlock for persistence.
func EncodeStoredBlock(sb *StoredBlock) ([]byte, error) {
	env := storedBlockEnvelope{
		Version:         storedBlockVersion,
		HeaderBytes:     encodeHeaderRLP(sb.Block.Header),
		CumulativeDiff:  sb.CumulativeDiff,
		ReceivedAtMs:    uint64(sb.ReceivedAt.UnixMilli()),
		ReceivedFrom:    sb.ReceivedFrom.Bytes(),
		ConnectedSource: uint8(sb.ConnectedSource),
	}
	for _, tx := range sb.Block.Txs {
		env.TxBytes = append(env.TxBytes, encodeTxRLP(tx))
	}
	enc, err := rlp.EncodeToBytes(env)
	if err != nil {
		return nil, fmt.Errorf("core: encode stored block: %w", err)
	}
	return enc, nil
}

// DecodeStoredBlock decodes a full StoredBlock, including its body.
func DecodeStoredBlock(b []byte) (*StoredBlock, error) {
	return decodeStoredBlock(b, false)
}

// DecodePartialStoredBlock decodes only the header portion of a StoredBlock,
// skipping transaction bytes. The result's IsPartial flag is set and its
// Block.Txs is nil.
func DecodePartialStoredBlock(b []byte) (*StoredBlock, error) {
	return decodeStoredBlock(b, true)
}

func decodeStoredBlock(b []byte, bodyAbsent bool) (*StoredBlock, error) {
	var env storedBlockEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, fmt.Errorf("core: decode stored block: %w", err)
	}
	if env.Version != storedBlockVersion {
		return nil, fmt.Errorf("core: stored block version %d unsupported", env.Version)
	}
	header, err := DecodeHeaderRLP(env.HeaderBytes)
	if err != nil {
		return nil, err
	}

	blk := &Block{Header: header}
	sb := &StoredBlock{
		Block:           blk,
		CumulativeDiff:  env.CumulativeDiff,
		ReceivedAt:      time.UnixMilli(int64(env.ReceivedAtMs)),
		ConnectedSource: ConnectedSource(env.ConnectedSource),
		hash:            header.Hash(),
	}
	copy(sb.ReceivedFrom[:], env.ReceivedFrom)

	if bodyAbsent {
		sb.IsPartial = true
		return sb, nil
	}

	txs := make([]*Transaction, 0, len(env.TxBytes))
	for _, tb := range env.TxBytes {
		tx, err := DecodeTxRLP(tb)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	blk.Txs = txs
	sb.txIndex = make(map[Hash]int, len(txs))
	for i, tx := range txs {
		sb.txIndex[tx.Hash()] = i
	}
	return sb, nil
}

// MerkleRoot computes the Merkle tree root over an ordered transaction
// list using the same double-SHA256 primitive as header/tx hashing. An
// empty list's root is the all-zero hash.
func MerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, doubleSHA256(append(level[i].Bytes(), level[i].Bytes()...)))
				continue
			}
			pair := append(level[i].Bytes(), level[i+1].Bytes()...)
			next = append(next, doubleSHA256(pair))
		}
		level = next
	}
	return level[0]
}
