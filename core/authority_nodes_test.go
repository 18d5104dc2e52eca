package core

import (
	"encoding/json"
	"testing"
)

func TestAuthorityRegisterAndVoteActivation(t *testing.T) {
	resetStore(t)
	as := NewAuthoritySet(nil)
	candidate := addr(1)
	voter := addr(2)

	if err := as.RegisterCandidate(candidate, StandardAuthorityNode); err != nil {
		t.Fatalf("register: %v", err)
	}
	if as.IsAuthority(candidate) {
		t.Fatalf("candidate should not be active yet")
	}

	// seed the node just below its admission threshold so a single
	// additional public vote triggers activation.
	n, err := as.GetAuthority(candidate)
	if err != nil {
		t.Fatalf("get authority: %v", err)
	}
	rule := admissionRules[StandardAuthorityNode]
	n.PublicVotes = rule.PublicVotes - 1
	n.AuthVotes = rule.AuthVotes
	raw, _ := json.Marshal(n)
	if err := CurrentStore().Set(nodeKey(candidate), raw); err != nil {
		t.Fatalf("seed node: %v", err)
	}

	if err := as.RecordVote(voter, candidate); err != nil {
		t.Fatalf("record vote: %v", err)
	}
	if !as.IsAuthority(candidate) {
		t.Fatalf("candidate should be active after crossing admission thresholds")
	}

	if err := as.RecordVote(voter, candidate); err == nil {
		t.Fatalf("expected duplicate vote error")
	}
}

func TestAuthorityDeregisterRemovesVotes(t *testing.T) {
	resetStore(t)
	as := NewAuthoritySet(nil)
	candidate := addr(3)
	voter := addr(4)

	if err := as.RegisterCandidate(candidate, StandardAuthorityNode); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := as.RecordVote(voter, candidate); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := as.Deregister(candidate); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := as.GetAuthority(candidate); err == nil {
		t.Fatalf("expected not-found after deregister")
	}
}

func TestAuthorityApplyPenaltySlashesAndDeactivates(t *testing.T) {
	resetStore(t)
	as := NewAuthoritySet(nil)
	spm := NewStakePenaltyManager(nil)
	candidate := addr(5)

	if err := as.RegisterCandidate(candidate, StandardAuthorityNode); err != nil {
		t.Fatalf("register: %v", err)
	}
	n, err := as.GetAuthority(candidate)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	n.Active = true
	raw, _ := json.Marshal(n)
	if err := CurrentStore().Set(nodeKey(candidate), raw); err != nil {
		t.Fatalf("seed active: %v", err)
	}
	if err := spm.AdjustStake(candidate, 1000); err != nil {
		t.Fatalf("adjust stake: %v", err)
	}

	if err := as.ApplyPenalty(candidate, authorityPenaltyThreshold, "double-sign", spm); err != nil {
		t.Fatalf("apply penalty: %v", err)
	}
	if as.IsAuthority(candidate) {
		t.Fatalf("node should be deactivated after crossing penalty threshold")
	}
	if got := spm.StakeOf(candidate); got != 750 {
		t.Fatalf("expected stake slashed to 750, got %d", got)
	}
	if got := spm.PenaltyOf(candidate); got != 0 {
		t.Fatalf("expected penalty reset to 0, got %d", got)
	}
}

func TestRandomElectorateOnlySelectsActive(t *testing.T) {
	resetStore(t)
	as := NewAuthoritySet(nil)
	active := addr(6)
	inactive := addr(7)

	if err := as.RegisterCandidate(active, StandardAuthorityNode); err != nil {
		t.Fatalf("register active: %v", err)
	}
	n, _ := as.GetAuthority(active)
	n.Active = true
	raw, _ := json.Marshal(n)
	CurrentStore().Set(nodeKey(active), raw)

	if err := as.RegisterCandidate(inactive, StandardAuthorityNode); err != nil {
		t.Fatalf("register inactive: %v", err)
	}

	sel, err := as.RandomElectorate(5)
	if err != nil {
		t.Fatalf("random electorate: %v", err)
	}
	if len(sel) != 1 || sel[0] != active {
		t.Fatalf("expected electorate [%x], got %v", active, sel)
	}
}
