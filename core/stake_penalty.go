package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// StakePenaltyManager tracks validator/authority stake and misbehaviour
// penalty points over the shared state store. Stake is kept under
// "stake:<addr>" and penalty points under "penalty:<addr>", both as
// big-endian integers.
type StakePenaltyManager struct {
	logger *log.Logger
	mu     sync.RWMutex
}

// NewStakePenaltyManager constructs a manager logging through lg.
func NewStakePenaltyManager(lg *log.Logger) *StakePenaltyManager {
	return &StakePenaltyManager{logger: lg}
}

func stakeKey(addr Address) []byte   { return []byte("stake:" + addr.Hex()) }
func penaltyKey(addr Address) []byte { return []byte("penalty:" + addr.Hex()) }

func getUint64(key []byte) (uint64, error) {
	raw, err := CurrentStore().Get(key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func getUint32(key []byte) (uint32, error) {
	raw, err := CurrentStore().Get(key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

// AdjustStake increases or decreases the recorded stake for addr. A negative
// delta is allowed so long as the resulting stake does not go below zero.
func (spm *StakePenaltyManager) AdjustStake(addr Address, delta int64) error {
	spm.mu.Lock()
	defer spm.mu.Unlock()
	cur, err := getUint64(stakeKey(addr))
	if err != nil {
		return err
	}
	next := int64(cur) + delta
	if next < 0 {
		return fmt.Errorf("stake: insufficient stake for %s", addr.Short())
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	return CurrentStore().Set(stakeKey(addr), buf)
}

// StakeOf returns the currently recorded stake for addr.
func (spm *StakePenaltyManager) StakeOf(addr Address) uint64 {
	spm.mu.RLock()
	defer spm.mu.RUnlock()
	cur, _ := getUint64(stakeKey(addr))
	return cur
}

// Penalize adds penalty points for addr and logs the reason.
func (spm *StakePenaltyManager) Penalize(addr Address, points uint32, reason string) error {
	spm.mu.Lock()
	defer spm.mu.Unlock()
	cur, err := getUint32(penaltyKey(addr))
	if err != nil {
		return err
	}
	cur += points
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, cur)
	if err := CurrentStore().Set(penaltyKey(addr), buf); err != nil {
		return err
	}
	if spm.logger != nil {
		spm.logger.WithFields(log.Fields{"addr": addr, "points": points, "reason": reason}).Warn("validator penalized")
	}
	return nil
}

// PenaltyOf returns the accumulated penalty points for addr.
func (spm *StakePenaltyManager) PenaltyOf(addr Address) uint32 {
	spm.mu.RLock()
	defer spm.mu.RUnlock()
	cur, _ := getUint32(penaltyKey(addr))
	return cur
}

// SlashStake reduces addr's recorded stake by fraction (0,1] and returns the
// slashed amount.
func (spm *StakePenaltyManager) SlashStake(addr Address, fraction float64) (uint64, error) {
	spm.mu.Lock()
	defer spm.mu.Unlock()
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("stake: fraction must be within (0,1]")
	}
	cur, err := getUint64(stakeKey(addr))
	if err != nil {
		return 0, err
	}
	if cur == 0 {
		return 0, errors.New("stake: no stake recorded")
	}
	slash := uint64(float64(cur) * fraction)
	if slash > cur {
		slash = cur
	}
	next := cur - slash
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := CurrentStore().Set(stakeKey(addr), buf); err != nil {
		return 0, err
	}
	if spm.logger != nil {
		spm.logger.WithFields(log.Fields{"addr": addr, "slashed": slash}).Warn("stake slashed")
	}
	return slash, nil
}

// ResetPenalty clears addr's accumulated penalty points.
func (spm *StakePenaltyManager) ResetPenalty(addr Address) error {
	spm.mu.Lock()
	defer spm.mu.Unlock()
	if err := CurrentStore().Delete(penaltyKey(addr)); err != nil {
		return err
	}
	if spm.logger != nil {
		spm.logger.WithField("addr", addr).Info("penalties reset")
	}
	return nil
}
