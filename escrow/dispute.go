package escrow

import (
	"context"
	"fmt"
)

const (
	minReasonLen = 10
	maxReasonLen = 500
)

// InitiateDispute freezes a task pending admin resolution. Either party may
// raise it once work has started (assigned) or completion is claimed
// (completed); each task gets at most one dispute.
func (e *Engine) InitiateDispute(ctx context.Context, caller, taskID, reason string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	if len(reason) < minReasonLen || len(reason) > maxReasonLen {
		return ErrInvalidReason
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := e.store.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}

	isCreator := caller == task.Creator
	isContributor := task.Contributor != nil && caller == *task.Contributor
	if !isCreator && !isContributor {
		return ErrUnauthorized
	}

	if (task.Status != StatusAssigned && task.Status != StatusCompleted) ||
		!canTransition(task.Status, StatusDisputed) {
		return ErrInvalidStateTransition
	}

	if err := e.store.InsertDispute(ctx, tx, Dispute{
		TaskID:    taskID,
		Initiator: caller,
		Reason:    reason,
	}); err != nil {
		return err
	}

	disputedAt := e.now().UTC()
	if err := e.store.UpdateStatus(ctx, tx, taskID, UpdateParams{
		Status:     StatusDisputed,
		DisputedAt: &disputedAt,
	}); err != nil {
		return err
	}

	if err := e.events.Emit(ctx, tx, taskID, EventDisputeInitiated, caller, map[string]any{
		"initiator": caller,
		"reason":    reason,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit dispute: %w", err)
	}
	return nil
}

// ResolveDispute disburses the escrowed amount per the admin's outcome and
// terminates the task. Admin only; single-shot, there is no appeal.
//
// Split outcomes must name both parts explicitly and sum exactly to the
// escrowed amount. A split that leaves a remainder or overdraws is rejected
// with ErrInvalidAmount rather than silently adjusted.
func (e *Engine) ResolveDispute(ctx context.Context, caller, taskID string, outcome Outcome) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}

	tx, cfg, err := e.beginWithConfig(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if caller != cfg.AdminID {
		return ErrUnauthorized
	}

	task, err := e.store.GetForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusDisputed || !canTransition(task.Status, StatusResolved) {
		return ErrInvalidStateTransition
	}
	if task.Contributor == nil {
		return ErrInvalidStateTransition
	}

	switch outcome.Kind {
	case OutcomeRefund:
		if err := e.custody.Push(ctx, tx, task.Creator, task.Amount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	case OutcomeFullPayment:
		if err := e.custody.Push(ctx, tx, *task.Contributor, task.Amount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	case OutcomeSplit:
		if outcome.ToContributor <= 0 || outcome.ToCreator <= 0 ||
			outcome.ToContributor+outcome.ToCreator != task.Amount {
			return ErrInvalidAmount
		}
		if err := e.custody.Push(ctx, tx, *task.Contributor, outcome.ToContributor); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		if err := e.custody.Push(ctx, tx, task.Creator, outcome.ToCreator); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	default:
		return fmt.Errorf("escrow: unknown outcome %q", outcome.Kind)
	}

	if err := e.store.ResolveDispute(ctx, tx, taskID, outcome, caller); err != nil {
		return err
	}

	if err := e.store.UpdateStatus(ctx, tx, taskID, UpdateParams{Status: StatusResolved}); err != nil {
		return err
	}

	payload := map[string]any{
		"outcome":     string(outcome.Kind),
		"resolved_by": caller,
	}
	if outcome.Kind == OutcomeSplit {
		payload["to_contributor"] = outcome.ToContributor
		payload["to_creator"] = outcome.ToCreator
	}
	if err := e.events.Emit(ctx, tx, taskID, EventDisputeResolved, caller, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit resolve: %w", err)
	}
	return nil
}

// GetDispute returns the dispute record for a task, if any.
func (e *Engine) GetDispute(ctx context.Context, taskID string) (Dispute, error) {
	if taskID == "" {
		return Dispute{}, ErrInvalidTaskID
	}
	if _, err := e.cfg.Load(ctx, e.pool); err != nil {
		return Dispute{}, err
	}
	if _, err := e.store.Get(ctx, e.pool, taskID); err != nil {
		return Dispute{}, err
	}
	return e.store.GetDispute(ctx, e.pool, taskID)
}
