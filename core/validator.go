package core

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ValidationErrorKind classifies block/tx rejection reasons.
type ValidationErrorKind uint8

const (
	InvalidHeader ValidationErrorKind = iota
	InvalidBody
	InvalidLinkage
	InvalidMerkleRoot
	InvalidPoW
	InvalidDifficulty
	IncompatibleChainKind
)

// ValidationError carries a kind plus a human-readable reason.
type ValidationError struct {
	Kind   ValidationErrorKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

func newValidationErr(kind ValidationErrorKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsIncompatibleChain reports whether err signals a forked-genesis /
// pruned-ancestor situation the core refuses to recover from.
func IsIncompatibleChain(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == IncompatibleChainKind
}

// PowVerifier is the external collaborator that computes a header's PoW
// digest (RandomX-style or otherwise); the validator only compares the
// returned digest against the difficulty-derived target.
type PowVerifier interface {
	Digest(h *BlockHeader) *big.Int
}

// doubleSHA256PowVerifier is the default PowVerifier: it reinterprets the
// header's own double-SHA256 digest as a big-endian integer. Production
// deployments wire in a RandomX-style verifier instead; this keeps a single
// node runnable without one.
type doubleSHA256PowVerifier struct{}

// NewDoubleSHA256PowVerifier returns the package's default PowVerifier.
func NewDoubleSHA256PowVerifier() PowVerifier { return doubleSHA256PowVerifier{} }

func (doubleSHA256PowVerifier) Digest(h *BlockHeader) *big.Int {
	return new(big.Int).SetBytes(h.Hash().Bytes())
}

// BlockValidator performs purely stateless header and body checks.
// ValidateHeader receives the parent header already resolved by the caller;
// SyncManager resolves parents that are not yet persisted from a
// hash->header map built over the incoming batch.
type BlockValidator struct {
	cfg *Config
	pow PowVerifier
	now func() time.Time
}

// NewBlockValidator wires a validator against the network config and PoW
// verifier; now defaults to time.Now when nil (tests can override it).
func NewBlockValidator(cfg *Config, pow PowVerifier, now func() time.Time) *BlockValidator {
	if now == nil {
		now = time.Now
	}
	return &BlockValidator{cfg: cfg, pow: pow, now: now}
}

// ValidateHeader checks size limits, linkage, PoW, timestamp monotonicity
// and difficulty. parentHeader must be the header at height-1, resolved by
// the caller either from BlockStore or from contextMap for same-batch
// ancestors.
func (v *BlockValidator) ValidateHeader(h *BlockHeader, parentHeader *BlockHeader, haveGenesis bool) error {
	if h.Size() > v.cfg.MaxHeaderSizeAt(h.HeightValue) {
		return newValidationErr(InvalidHeader, "header size %d exceeds limit", h.Size())
	}

	if h.HeightValue > 0 {
		if parentHeader == nil {
			if haveGenesis {
				return newValidationErr(IncompatibleChainKind, "previous_hash %s not found and genesis exists", h.PreviousHash.Short())
			}
			return newValidationErr(InvalidLinkage, "previous_hash %s not found, no genesis yet", h.PreviousHash.Short())
		}
		if h.PreviousHash != parentHeader.Hash() {
			return newValidationErr(InvalidLinkage, "previous_hash mismatch at height %d", h.HeightValue)
		}
		if h.TimestampMs <= parentHeader.TimestampMs {
			return newValidationErr(InvalidHeader, "timestamp %d not after parent %d", h.TimestampMs, parentHeader.TimestampMs)
		}
	}

	now := v.now().Add(v.cfg.ClockSkew).UnixMilli()
	if h.TimestampMs > now {
		return newValidationErr(InvalidHeader, "timestamp %d exceeds now+skew %d", h.TimestampMs, now)
	}

	if v.pow != nil {
		digest := v.pow.Digest(h)
		target := PowTarget(v.cfg.MaxPowTarget, h.Difficulty)
		if digest.Cmp(target) > 0 {
			return newValidationErr(InvalidPoW, "pow digest exceeds target at height %d", h.HeightValue)
		}
	}

	if v.cfg.Difficulty != nil && parentHeader != nil {
		expected := NextDifficulty(v.cfg.Difficulty, h.HeightValue, parentHeader.TimestampMs)
		if h.Difficulty == nil || h.Difficulty.Cmp(expected) != 0 {
			return newValidationErr(InvalidDifficulty, "difficulty %v does not match expected %v at height %d", h.Difficulty, expected, h.HeightValue)
		}
	}

	return nil
}

// ValidateBody checks the Merkle root and every transaction's stateless
// well-formedness.
func (v *BlockValidator) ValidateBody(h *BlockHeader, txs []*Transaction) error {
	if len(txs) > int(v.cfg.MaxTxCountAt(h.HeightValue)) {
		return newValidationErr(InvalidBody, "tx count %d exceeds limit", len(txs))
	}
	root := MerkleRoot(txs)
	if root != h.TxRootHash {
		return newValidationErr(InvalidMerkleRoot, "merkle root mismatch at height %d", h.HeightValue)
	}
	for _, tx := range txs {
		if err := v.validateTx(tx); err != nil {
			return err
		}
	}
	return nil
}

func (v *BlockValidator) validateTx(tx *Transaction) error {
	if tx.Size() > v.cfg.MaxTxSize {
		return newValidationErr(InvalidBody, "tx %s exceeds max size", tx.Hash().Short())
	}
	if tx.Amount == nil || tx.Amount.Sign() < 0 {
		return newValidationErr(InvalidBody, "tx %s has negative amount", tx.Hash().Short())
	}
	if tx.Fee == nil || tx.Fee.Sign() < 0 {
		return newValidationErr(InvalidBody, "tx %s has negative fee", tx.Hash().Short())
	}
	if tx.Type != TxCoinbase && v.cfg.FeeFloor != nil && tx.Fee.Cmp(v.cfg.FeeFloor) < 0 {
		return newValidationErr(InvalidBody, "tx %s fee below floor", tx.Hash().Short())
	}
	if len(tx.Signature) == 0 && tx.Type != TxCoinbase {
		return newValidationErr(InvalidBody, "tx %s missing signature", tx.Hash().Short())
	}
	return nil
}
