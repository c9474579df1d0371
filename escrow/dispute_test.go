package escrow

import (
	"context"
	"errors"
	"testing"
)

const disputeReason = "deliverable does not match the issue description"

func TestInitiateDispute_EitherParty(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.createAssigned(t, "t1", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); err != nil {
		t.Fatalf("creator dispute from assigned: %v", err)
	}

	env.createCompleted(t, "t2", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "bob", "t2", disputeReason); err != nil {
		t.Fatalf("contributor dispute from completed: %v", err)
	}

	for _, id := range []string{"t1", "t2"} {
		task, _ := env.engine.GetEscrow(ctx, id)
		if task.Status != StatusDisputed {
			t.Fatalf("%s: expected status %s got %s", id, StatusDisputed, task.Status)
		}
		if task.DisputedAt == nil {
			t.Fatalf("%s: expected disputed_at to be set", id)
		}
	}

	d, err := env.engine.GetDispute(ctx, "t2")
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if d.Initiator != "bob" || d.Reason != disputeReason {
		t.Fatalf("unexpected dispute record: %+v", d)
	}
	if d.Outcome != nil {
		t.Fatalf("expected unresolved dispute, got outcome %+v", d.Outcome)
	}
}

func TestInitiateDispute_Guards(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.CreateEscrow(ctx, "alice", CreateParams{TaskID: "t1", IssueURL: "https://x", Amount: 100}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// No dispute before a contributor holds a claim.
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("dispute from created: expected ErrInvalidStateTransition, got %v", err)
	}

	if err := env.engine.AssignContributor(ctx, "alice", "t1", "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := env.engine.InitiateDispute(ctx, "mallory", "t1", disputeReason); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("third party dispute: expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", "too short"); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("short reason: expected ErrInvalidReason, got %v", err)
	}

	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	// Single-shot: a second dispute on the same task is rejected.
	if err := env.engine.InitiateDispute(ctx, "bob", "t1", disputeReason); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("double dispute: expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestResolveDispute_AdminOnly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	for _, caller := range []string{"alice", "bob", "mallory"} {
		if err := env.engine.ResolveDispute(ctx, caller, "t1", Outcome{Kind: OutcomeRefund}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s resolving: expected ErrUnauthorized, got %v", caller, err)
		}
	}
	if n := env.custody.pushCount(); n != 0 {
		t.Fatalf("expected no disbursement, got %d pushes", n)
	}
}

func TestResolveDispute_FullRefund(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if err := env.engine.ResolveDispute(ctx, "admin-1", "t1", Outcome{Kind: OutcomeRefund}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	task, _ := env.engine.GetEscrow(ctx, "t1")
	if task.Status != StatusResolved {
		t.Fatalf("expected status %s got %s", StatusResolved, task.Status)
	}
	if got := env.custody.pushed("alice"); got != 100 {
		t.Fatalf("expected full refund 100 to alice, got %d", got)
	}
	if got := env.custody.pushed("bob"); got != 0 {
		t.Fatalf("expected nothing to bob, got %d", got)
	}
}

func TestResolveDispute_FullPayment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "bob", "t1", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if err := env.engine.ResolveDispute(ctx, "admin-1", "t1", Outcome{Kind: OutcomeFullPayment}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := env.custody.pushed("bob"); got != 100 {
		t.Fatalf("expected full payment 100 to bob, got %d", got)
	}
}

func TestResolveDispute_SplitMustSumExactly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	badSplits := []Outcome{
		{Kind: OutcomeSplit, ToContributor: 60, ToCreator: 30}, // leftover
		{Kind: OutcomeSplit, ToContributor: 70, ToCreator: 40}, // overdraw
		{Kind: OutcomeSplit, ToContributor: 100, ToCreator: 0}, // zero part
		{Kind: OutcomeSplit, ToContributor: -10, ToCreator: 110},
	}
	for _, outcome := range badSplits {
		if err := env.engine.ResolveDispute(ctx, "admin-1", "t1", outcome); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("split %+v: expected ErrInvalidAmount, got %v", outcome, err)
		}
	}
	if n := env.custody.pushCount(); n != 0 {
		t.Fatalf("expected no disbursement after rejected splits, got %d pushes", n)
	}

	if err := env.engine.ResolveDispute(ctx, "admin-1", "t1", Outcome{Kind: OutcomeSplit, ToContributor: 60, ToCreator: 40}); err != nil {
		t.Fatalf("valid split: %v", err)
	}

	// Exactly two transfers, summing exactly to the escrowed amount.
	if n := env.custody.pushCount(); n != 2 {
		t.Fatalf("expected exactly two pushes, got %d", n)
	}
	if got := env.custody.pushed("bob"); got != 60 {
		t.Fatalf("expected 60 to bob, got %d", got)
	}
	if got := env.custody.pushed("alice"); got != 40 {
		t.Fatalf("expected 40 to alice, got %d", got)
	}

	d, err := env.engine.GetDispute(ctx, "t1")
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if d.Outcome == nil || d.Outcome.Kind != OutcomeSplit || d.Outcome.ToContributor != 60 || d.Outcome.ToCreator != 40 {
		t.Fatalf("unexpected recorded outcome: %+v", d.Outcome)
	}
	if d.ResolvedAt == nil || d.ResolvedBy == nil || *d.ResolvedBy != "admin-1" {
		t.Fatalf("expected resolution metadata, got %+v", d)
	}
}

func TestResolveDispute_SingleShot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "alice", "t1", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if err := env.engine.ResolveDispute(ctx, "admin-1", "t1", Outcome{Kind: OutcomeFullPayment}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := env.engine.ResolveDispute(ctx, "admin-1", "t1", Outcome{Kind: OutcomeRefund}); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("second resolve: expected ErrInvalidStateTransition, got %v", err)
	}

	if got := env.custody.pushed("bob"); got != 100 {
		t.Fatalf("expected bob paid once, got %d", got)
	}
	if got := env.custody.pushed("alice"); got != 0 {
		t.Fatalf("expected nothing to alice, got %d", got)
	}
}

func TestDisputePath_EndToEnd(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.createCompleted(t, "t3", "alice", "bob", 100)
	if err := env.engine.InitiateDispute(ctx, "alice", "t3", disputeReason); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.ResolveDispute(ctx, "admin-1", "t3", Outcome{Kind: OutcomeSplit, ToContributor: 60, ToCreator: 40}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	task, _ := env.engine.GetEscrow(ctx, "t3")
	if task.Status != StatusResolved {
		t.Fatalf("expected status %s got %s", StatusResolved, task.Status)
	}

	env.expectEvents(t, "t3",
		EventEscrowCreated,
		EventContributorAssigned,
		EventTaskCompleted,
		EventDisputeInitiated,
		EventDisputeResolved,
	)
}

func TestGetDispute_NotFound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.GetDispute(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	if _, err := env.engine.CreateEscrow(ctx, "alice", CreateParams{TaskID: "t1", IssueURL: "https://x", Amount: 100}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.GetDispute(ctx, "t1"); !errors.Is(err, ErrDisputeNotFound) {
		t.Fatalf("expected ErrDisputeNotFound, got %v", err)
	}
}
