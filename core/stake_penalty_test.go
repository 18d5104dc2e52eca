package core

import "testing"

func TestStakePenaltyManagerAdjustStake(t *testing.T) {
	resetStore(t)
	spm := NewStakePenaltyManager(nil)
	validator := addr(1)

	if err := spm.AdjustStake(validator, 500); err != nil {
		t.Fatalf("adjust stake: %v", err)
	}
	if got := spm.StakeOf(validator); got != 500 {
		t.Fatalf("expected stake 500, got %d", got)
	}

	if err := spm.AdjustStake(validator, -500); err != nil {
		t.Fatalf("adjust stake down: %v", err)
	}
	if got := spm.StakeOf(validator); got != 0 {
		t.Fatalf("expected stake 0, got %d", got)
	}

	if err := spm.AdjustStake(validator, -1); err == nil {
		t.Fatalf("expected error going below zero stake")
	}
}

func TestStakePenaltyManagerPenalizeAndReset(t *testing.T) {
	resetStore(t)
	spm := NewStakePenaltyManager(nil)
	validator := addr(2)

	if err := spm.Penalize(validator, 10, "missed block"); err != nil {
		t.Fatalf("penalize: %v", err)
	}
	if err := spm.Penalize(validator, 15, "late block"); err != nil {
		t.Fatalf("penalize: %v", err)
	}
	if got := spm.PenaltyOf(validator); got != 25 {
		t.Fatalf("expected penalty 25, got %d", got)
	}

	if err := spm.ResetPenalty(validator); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := spm.PenaltyOf(validator); got != 0 {
		t.Fatalf("expected penalty 0 after reset, got %d", got)
	}
}

func TestStakePenaltyManagerSlashStakeBounds(t *testing.T) {
	resetStore(t)
	spm := NewStakePenaltyManager(nil)
	validator := addr(3)

	if _, err := spm.SlashStake(validator, 0.5); err == nil {
		t.Fatalf("expected error slashing with no stake recorded")
	}

	if err := spm.AdjustStake(validator, 100); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if _, err := spm.SlashStake(validator, 1.5); err == nil {
		t.Fatalf("expected error for out-of-range fraction")
	}

	slashed, err := spm.SlashStake(validator, 0.5)
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if slashed != 50 {
		t.Fatalf("expected slashed 50, got %d", slashed)
	}
	if got := spm.StakeOf(validator); got != 50 {
		t.Fatalf("expected remaining stake 50, got %d", got)
	}
}
