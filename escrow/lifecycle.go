package escrow

import (
	"context"
	"fmt"
)

// AssignContributor binds a contributor to a freshly created task. Creator
// only; the contributor identity is immutable once set.
func (e *Engine) AssignContributor(ctx context.Context, caller, taskID, contributor string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	if contributor == "" {
		return fmt.Errorf("escrow: contributor id required")
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
	if task.Creator != caller {
		return ErrUnauthorized
	}
	if contributor == task.Creator {
		return fmt.Errorf("escrow: contributor must differ from creator")
	}
	if task.Status != StatusCreated || !canTransition(task.Status, StatusAssigned) {
		return ErrInvalidStateTransition
	}

	if err := e.store.UpdateStatus(ctx, tx, taskID, UpdateParams{
		Status:      StatusAssigned,
		Contributor: &contributor,
	}); err != nil {
		return err
	}

	if err := e.events.Emit(ctx, tx, taskID, EventContributorAssigned, caller, map[string]any{
		"contributor": contributor,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit assign: %w", err)
	}
	return nil
}

// MarkCompleted reports the work as done. Assigned contributor only.
func (e *Engine) MarkCompleted(ctx context.Context, caller, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
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
	if task.Status != StatusAssigned || !canTransition(task.Status, StatusCompleted) {
		return ErrInvalidStateTransition
	}
	if task.Contributor == nil || *task.Contributor != caller {
		return ErrUnauthorized
	}

	completedAt := e.now().UTC()
	if err := e.store.UpdateStatus(ctx, tx, taskID, UpdateParams{
		Status:      StatusCompleted,
		CompletedAt: &completedAt,
	}); err != nil {
		return err
	}

	if err := e.events.Emit(ctx, tx, taskID, EventTaskCompleted, caller, map[string]any{
		"contributor": caller,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit complete: %w", err)
	}
	return nil
}

// ApproveAndPay accepts the completed work and releases the full bounty to
// the contributor. Creator only.
func (e *Engine) ApproveAndPay(ctx context.Context, caller, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
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
	if task.Creator != caller {
		return ErrUnauthorized
	}
	if task.Status != StatusCompleted || !canTransition(task.Status, StatusApproved) {
		return ErrInvalidStateTransition
	}
	if task.Contributor == nil {
		return ErrInvalidStateTransition
	}

	if err := e.custody.Push(ctx, tx, *task.Contributor, task.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	if err := e.store.UpdateStatus(ctx, tx, taskID, UpdateParams{Status: StatusApproved}); err != nil {
		return err
	}

	if err := e.events.Emit(ctx, tx, taskID, EventFundsReleased, caller, map[string]any{
		"to":     *task.Contributor,
		"amount": task.Amount,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit approve: %w", err)
	}
	return nil
}

// Refund returns the full bounty to the creator. Legal only strictly before
// assignment; once a contributor holds a claim, disputes are the sole path to
// reclaiming funds.
func (e *Engine) Refund(ctx context.Context, caller, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
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
	if task.Creator != caller {
		return ErrUnauthorized
	}
	if task.Status != StatusCreated || task.Contributor != nil || !canTransition(task.Status, StatusRefunded) {
		return ErrInvalidStateTransition
	}

	if err := e.custody.Push(ctx, tx, task.Creator, task.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	if err := e.store.UpdateStatus(ctx, tx, taskID, UpdateParams{Status: StatusRefunded}); err != nil {
		return err
	}

	if err := e.events.Emit(ctx, tx, taskID, EventRefundProcessed, caller, map[string]any{
		"to":     task.Creator,
		"amount": task.Amount,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit refund: %w", err)
	}
	return nil
}
