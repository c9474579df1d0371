package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bountyflow/escrow"
	"bountyflow/token"
)

// Party bundles the identities an actor drives transitions with.
type Party struct {
	Creator     string
	Contributor string
	Admin       string
}

var taskSeq atomic.Int64

func nextTaskID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, taskSeq.Add(1), rand.Int31())
}

// domainErr reports whether err is an expected business rejection rather than
// an infrastructure failure. Under contention and chaos both happen; neither
// should stop the actor.
func domainErr(err error) bool {
	return errors.Is(err, escrow.ErrTransferFailed) ||
		errors.Is(err, escrow.ErrInvalidStateTransition) ||
		errors.Is(err, escrow.ErrTaskAlreadyExists) ||
		errors.Is(err, escrow.ErrUnauthorized) ||
		errors.Is(err, token.ErrInsufficientFunds)
}

// PayoutWorker drives full happy-path lifecycles: create, assign, complete,
// approve. Each step may fail under chaos; the worker simply starts over.
func PayoutWorker(ctx context.Context, engine *escrow.Engine, p Party, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		taskID := nextTaskID("payout")
		amount := int64(1 + rand.Intn(50))
		if _, err := engine.CreateEscrow(ctx, p.Creator, escrow.CreateParams{
			TaskID:   taskID,
			IssueURL: fmt.Sprintf("https://github.com/acme/stress/issues/%s", taskID),
			Amount:   amount,
		}); err != nil {
			sleepJitter(20)
			continue
		}
		if err := engine.AssignContributor(ctx, p.Creator, taskID, p.Contributor); err != nil {
			sleepJitter(20)
			continue
		}
		if err := engine.MarkCompleted(ctx, p.Contributor, taskID); err != nil {
			sleepJitter(20)
			continue
		}
		_ = engine.ApproveAndPay(ctx, p.Creator, taskID)
		sleepJitter(10)
	}
}

// DisputeWorker pushes tasks into a dispute and has the admin resolve them
// with a randomly chosen outcome.
func DisputeWorker(ctx context.Context, engine *escrow.Engine, p Party, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		taskID := nextTaskID("dispute")
		amount := int64(2 + rand.Intn(50))
		if _, err := engine.CreateEscrow(ctx, p.Creator, escrow.CreateParams{
			TaskID:   taskID,
			IssueURL: fmt.Sprintf("https://github.com/acme/stress/issues/%s", taskID),
			Amount:   amount,
		}); err != nil {
			sleepJitter(30)
			continue
		}
		if err := engine.AssignContributor(ctx, p.Creator, taskID, p.Contributor); err != nil {
			sleepJitter(30)
			continue
		}

		initiator := p.Creator
		if rand.Intn(2) == 0 {
			initiator = p.Contributor
			// contributor disputes from completed half the time
			_ = engine.MarkCompleted(ctx, p.Contributor, taskID)
		}
		if err := engine.InitiateDispute(ctx, initiator, taskID, "stress: parties disagree about the deliverable"); err != nil {
			sleepJitter(30)
			continue
		}

		var outcome escrow.Outcome
		switch rand.Intn(3) {
		case 0:
			outcome = escrow.Outcome{Kind: escrow.OutcomeRefund}
		case 1:
			outcome = escrow.Outcome{Kind: escrow.OutcomeFullPayment}
		default:
			toContributor := int64(1 + rand.Intn(int(amount-1)))
			outcome = escrow.Outcome{
				Kind:          escrow.OutcomeSplit,
				ToContributor: toContributor,
				ToCreator:     amount - toContributor,
			}
		}
		_ = engine.ResolveDispute(ctx, p.Admin, taskID, outcome)
		sleepJitter(40)
	}
}

// RefundWorker creates tasks and immediately cancels them, racing the others
// for ledger funds.
func RefundWorker(ctx context.Context, engine *escrow.Engine, p Party, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		taskID := nextTaskID("refund")
		if _, err := engine.CreateEscrow(ctx, p.Creator, escrow.CreateParams{
			TaskID:   taskID,
			IssueURL: fmt.Sprintf("https://github.com/acme/stress/issues/%s", taskID),
			Amount:   int64(1 + rand.Intn(20)),
		}); err != nil {
			sleepJitter(25)
			continue
		}
		_ = engine.Refund(ctx, p.Creator, taskID)
		sleepJitter(25)
	}
}

// Saboteur replays illegal transitions against live tasks: wrong callers,
// stale approvals, refunds after assignment. Every call must be rejected with
// a domain error, never silently succeed twice.
func Saboteur(ctx context.Context, engine *escrow.Engine, p Party, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		taskID := nextTaskID("sab")
		if _, err := engine.CreateEscrow(ctx, p.Creator, escrow.CreateParams{
			TaskID:   taskID,
			IssueURL: fmt.Sprintf("https://github.com/acme/stress/issues/%s", taskID),
			Amount:   int64(1 + rand.Intn(10)),
		}); err != nil {
			sleepJitter(40)
			continue
		}

		// contributor self-assigns: must be rejected
		if err := engine.AssignContributor(ctx, p.Contributor, taskID, p.Contributor); err == nil {
			return fmt.Errorf("saboteur: contributor self-assign on %s was accepted", taskID)
		} else if !domainErr(err) && !errors.Is(err, context.Canceled) {
			sleepJitter(40)
			continue
		}
		// approve before completion: must be rejected
		if err := engine.ApproveAndPay(ctx, p.Creator, taskID); err == nil {
			return fmt.Errorf("saboteur: premature approve on %s was accepted", taskID)
		}
		if err := engine.AssignContributor(ctx, p.Creator, taskID, p.Contributor); err != nil {
			sleepJitter(40)
			continue
		}
		// refund after assignment: must be rejected
		if err := engine.Refund(ctx, p.Creator, taskID); err == nil {
			return fmt.Errorf("saboteur: post-assignment refund on %s was accepted", taskID)
		}
		sleepJitter(40)
	}
}

// Reader hammers the read paths while writers mutate.
func Reader(ctx context.Context, engine *escrow.Engine, pool *pgxpool.Pool, p Party, stop <-chan struct{}) error {
	ledger := token.NewLedger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = engine.TaskCount(ctx)
		_, _ = ledger.Balance(ctx, pool, p.Contributor)
		_, _ = ledger.VaultBalance(ctx, pool)
		sleepJitter(30)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, simulating an occasional delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Minter keeps the creator funded so workers never starve for long.
func Minter(ctx context.Context, pool *pgxpool.Pool, creator string, stop <-chan struct{}) error {
	ledger := token.NewLedger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = ledger.Mint(ctx, pool, creator, 500)
		time.Sleep(250 * time.Millisecond)
	}
}

func sleepJitter(baseMillis int) {
	time.Sleep(time.Duration(baseMillis+rand.Intn(baseMillis+1)) * time.Millisecond)
}
