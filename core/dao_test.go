package core

import (
	"testing"
	"time"
)

func resetStore(t *testing.T) {
	t.Helper()
	SetCurrentStore(NewInMemoryStore())
}

func TestDAOCreateJoinLeave(t *testing.T) {
	resetStore(t)
	creator := addr(1)
	member := addr(2)

	d, err := CreateDAO("council", creator)
	if err != nil {
		t.Fatalf("create dao: %v", err)
	}
	if ok, _ := IsMember(d.ID, creator); !ok {
		t.Fatalf("creator should be a member")
	}

	if err := JoinDAO(d.ID, member); err != nil {
		t.Fatalf("join dao: %v", err)
	}
	if ok, _ := IsMember(d.ID, member); !ok {
		t.Fatalf("member should have joined")
	}

	if err := LeaveDAO(d.ID, member); err != nil {
		t.Fatalf("leave dao: %v", err)
	}
	if ok, _ := IsMember(d.ID, member); ok {
		t.Fatalf("member should have left")
	}
}

func TestDAOProposalLifecycle(t *testing.T) {
	resetStore(t)
	creator := addr(1)
	voterFor := addr(2)
	voterAgainst := addr(3)
	treasury := addr(9)

	if err := InitNativeToken("Solidus", "SLDS", 8, treasury, 1000); err != nil {
		t.Fatalf("init native token: %v", err)
	}
	if err := NativeTransfer(treasury, voterFor, 9); err != nil {
		t.Fatalf("fund voterFor: %v", err)
	}
	if err := NativeTransfer(treasury, voterAgainst, 4); err != nil {
		t.Fatalf("fund voterAgainst: %v", err)
	}

	d, err := CreateDAO("treasury", creator)
	if err != nil {
		t.Fatalf("create dao: %v", err)
	}
	if err := JoinDAO(d.ID, voterFor); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := JoinDAO(d.ID, voterAgainst); err != nil {
		t.Fatalf("join: %v", err)
	}

	p, err := CreateDAOProposal(d.ID, creator, "raise spending cap", time.Millisecond)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	if err := VoteDAOProposal(p.ID, voterFor, 9, true); err != nil {
		t.Fatalf("vote for: %v", err)
	}
	if err := VoteDAOProposal(p.ID, voterAgainst, 4, false); err != nil {
		t.Fatalf("vote against: %v", err)
	}

	forW, againstW, err := TallyDAOProposal(p.ID)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if forW != 3 || againstW != 2 {
		t.Fatalf("expected quadratic weights 3/2, got %d/%d", forW, againstW)
	}

	if err := ExecuteDAOProposal(p.ID); err == nil {
		t.Fatalf("expected ErrNotReady before deadline")
	} else if err != ErrNotReady {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := ExecuteDAOProposal(p.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := ExecuteDAOProposal(p.ID); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState on re-execute, got %v", err)
	}
}

func TestQuadraticWeightRounding(t *testing.T) {
	cases := map[uint64]uint64{0: 0, 1: 1, 4: 2, 9: 3, 10: 3, 16: 4}
	for tokens, want := range cases {
		if got := QuadraticWeight(tokens); got != want {
			t.Fatalf("QuadraticWeight(%d) = %d, want %d", tokens, got, want)
		}
	}
}

func TestDAOAccessControlRoles(t *testing.T) {
	resetStore(t)
	ac := NewDAOAccessControl()
	member := addr(5)

	if err := ac.AddMember(member, DAORoleMember); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if !ac.IsMember(member) {
		t.Fatalf("expected member to be recognized")
	}
	role, err := ac.RoleOf(member)
	if err != nil {
		t.Fatalf("role of: %v", err)
	}
	if role != DAORoleMember {
		t.Fatalf("expected DAORoleMember, got %v", role)
	}

	if err := ac.RemoveMember(member); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if ac.IsMember(member) {
		t.Fatalf("member should be removed")
	}
}
