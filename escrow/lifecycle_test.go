package escrow

import (
	"context"
	"errors"
	"testing"
)

func TestAssignContributor(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.CreateEscrow(ctx, "alice", CreateParams{TaskID: "t1", IssueURL: "https://x", Amount: 100}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.engine.AssignContributor(ctx, "mallory", "t1", "bob"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-creator assign: expected ErrUnauthorized, got %v", err)
	}

	if err := env.engine.AssignContributor(ctx, "alice", "t1", "alice"); err == nil {
		t.Fatal("expected error assigning creator as contributor")
	}

	if err := env.engine.AssignContributor(ctx, "alice", "t1", "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	task, err := env.engine.GetEscrow(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != StatusAssigned {
		t.Fatalf("expected status %s got %s", StatusAssigned, task.Status)
	}
	if task.Contributor == nil || *task.Contributor != "bob" {
		t.Fatalf("expected contributor bob, got %v", task.Contributor)
	}

	// Contributor is immutable once set.
	if err := env.engine.AssignContributor(ctx, "alice", "t1", "carol"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("reassign: expected ErrInvalidStateTransition, got %v", err)
	}
	if task, _ := env.engine.GetEscrow(ctx, "t1"); *task.Contributor != "bob" {
		t.Fatalf("contributor changed after failed reassign: %q", *task.Contributor)
	}
}

func TestMarkCompleted(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createAssigned(t, "t1", "alice", "bob", 100)

	if err := env.engine.MarkCompleted(ctx, "alice", "t1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("creator completing: expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.MarkCompleted(ctx, "mallory", "t1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger completing: expected ErrUnauthorized, got %v", err)
	}

	if err := env.engine.MarkCompleted(ctx, "bob", "t1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	task, _ := env.engine.GetEscrow(ctx, "t1")
	if task.Status != StatusCompleted {
		t.Fatalf("expected status %s got %s", StatusCompleted, task.Status)
	}
	if task.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	if err := env.engine.MarkCompleted(ctx, "bob", "t1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("double complete: expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestApproveAndPay_HappyPath(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)

	if err := env.engine.ApproveAndPay(ctx, "bob", "t1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("contributor approving: expected ErrUnauthorized, got %v", err)
	}

	if err := env.engine.ApproveAndPay(ctx, "alice", "t1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	task, _ := env.engine.GetEscrow(ctx, "t1")
	if task.Status != StatusApproved {
		t.Fatalf("expected status %s got %s", StatusApproved, task.Status)
	}
	if got := env.custody.pushed("bob"); got != 100 {
		t.Fatalf("expected bob to receive 100, got %d", got)
	}

	env.expectEvents(t, "t1",
		EventEscrowCreated,
		EventContributorAssigned,
		EventTaskCompleted,
		EventFundsReleased,
	)
}

func TestApproveAndPay_RejectionIsIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "t1", "alice", "bob", 100)

	if err := env.engine.ApproveAndPay(ctx, "alice", "t1"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if err := env.engine.ApproveAndPay(ctx, "alice", "t1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("second approve: expected ErrInvalidStateTransition, got %v", err)
	}

	// Funds moved exactly once despite the retry.
	if got := env.custody.pushed("bob"); got != 100 {
		t.Fatalf("expected total disbursed 100, got %d", got)
	}
	if n := env.custody.pushCount(); n != 1 {
		t.Fatalf("expected exactly one push, got %d", n)
	}
}

func TestApproveAndPay_RequiresCompletedStatus(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createAssigned(t, "t1", "alice", "bob", 100)

	if err := env.engine.ApproveAndPay(ctx, "alice", "t1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("approve from assigned: expected ErrInvalidStateTransition, got %v", err)
	}
	if n := env.custody.pushCount(); n != 0 {
		t.Fatalf("expected no disbursement, got %d pushes", n)
	}
}

func TestRefund_HappyPath(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.CreateEscrow(ctx, "alice", CreateParams{TaskID: "t2", IssueURL: "https://x", Amount: 50}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.engine.Refund(ctx, "mallory", "t2"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger refund: expected ErrUnauthorized, got %v", err)
	}

	if err := env.engine.Refund(ctx, "alice", "t2"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	task, _ := env.engine.GetEscrow(ctx, "t2")
	if task.Status != StatusRefunded {
		t.Fatalf("expected status %s got %s", StatusRefunded, task.Status)
	}
	if got := env.custody.pushed("alice"); got != 50 {
		t.Fatalf("expected alice to receive 50 back, got %d", got)
	}

	env.expectEvents(t, "t2", EventEscrowCreated, EventRefundProcessed)
}

func TestRefund_UnreachableAfterAssignment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createAssigned(t, "t1", "alice", "bob", 100)

	if err := env.engine.Refund(ctx, "alice", "t1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("refund after assign: expected ErrInvalidStateTransition, got %v", err)
	}

	env.createCompleted(t, "t3", "alice", "bob", 100)
	if err := env.engine.Refund(ctx, "alice", "t3"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("refund after complete: expected ErrInvalidStateTransition, got %v", err)
	}

	if n := env.custody.pushCount(); n != 0 {
		t.Fatalf("expected no disbursement, got %d pushes", n)
	}
}

func TestLifecycle_UnknownTask(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if err := env.engine.AssignContributor(ctx, "alice", "missing", "bob"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("assign: expected ErrTaskNotFound, got %v", err)
	}
	if err := env.engine.MarkCompleted(ctx, "bob", "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("complete: expected ErrTaskNotFound, got %v", err)
	}
	if err := env.engine.ApproveAndPay(ctx, "alice", "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("approve: expected ErrTaskNotFound, got %v", err)
	}
	if err := env.engine.Refund(ctx, "alice", "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("refund: expected ErrTaskNotFound, got %v", err)
	}
}
