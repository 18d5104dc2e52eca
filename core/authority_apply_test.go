package core

import (
	"encoding/json"
	"testing"
	"time"
)

func seedActiveAuthority(t *testing.T, as *AuthoritySet, who Address) {
	t.Helper()
	if err := as.RegisterCandidate(who, StandardAuthorityNode); err != nil {
		t.Fatalf("register elector: %v", err)
	}
	n, err := as.GetAuthority(who)
	if err != nil {
		t.Fatalf("get elector: %v", err)
	}
	n.Active = true
	raw, _ := json.Marshal(n)
	if err := CurrentStore().Set(nodeKey(who), raw); err != nil {
		t.Fatalf("seed elector active: %v", err)
	}
}

func TestAuthorityApplierApprovalFlow(t *testing.T) {
	resetStore(t)
	as := NewAuthoritySet(nil)
	elector := addr(1)
	candidate := addr(2)
	seedActiveAuthority(t, as, elector)

	ap := NewAuthorityApplier(nil, as, &AuthorityApplierConfig{
		ElectorateSize: 1,
		VotePeriod:     time.Millisecond,
	})

	id, err := ap.SubmitApplication(candidate, StandardAuthorityNode, "new market maker")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	app, exists, err := ap.GetApplication(id)
	if err != nil || !exists {
		t.Fatalf("get application: exists=%v err=%v", exists, err)
	}
	if len(app.Electorate) != 1 || app.Electorate[0] != elector {
		t.Fatalf("expected electorate [%x], got %v", elector, app.Electorate)
	}

	if err := ap.VoteApplication(elector, id, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := ap.VoteApplication(elector, id, true); err == nil {
		t.Fatalf("expected duplicate vote error")
	}

	time.Sleep(2 * time.Millisecond)
	if err := ap.FinalizeApplication(id); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	final, _, err := ap.GetApplication(id)
	if err != nil {
		t.Fatalf("get final: %v", err)
	}
	if final.Status != AuthApproved {
		t.Fatalf("expected approved, got %v", final.Status)
	}
	if _, err := as.GetAuthority(candidate); err != nil {
		t.Fatalf("expected candidate registered after approval: %v", err)
	}
}

func TestAuthorityApplierTickDoesNotDeadlock(t *testing.T) {
	resetStore(t)
	as := NewAuthoritySet(nil)
	elector := addr(1)
	candidate := addr(2)
	seedActiveAuthority(t, as, elector)

	ap := NewAuthorityApplier(nil, as, &AuthorityApplierConfig{
		ElectorateSize: 1,
		VotePeriod:     time.Millisecond,
	})

	if _, err := ap.SubmitApplication(candidate, StandardAuthorityNode, "needs a decision"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(2 * time.Millisecond)
		ap.Tick(time.Now())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Tick did not return, likely deadlocked on ap.mu")
	}

	apps, err := ap.ListApplications(0)
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps) != 1 || apps[0].Status == AuthPending {
		t.Fatalf("expected application resolved after Tick, got %+v", apps)
	}
}
