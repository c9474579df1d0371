package escrow

import "errors"

var (
	// ErrTaskNotFound is returned when no escrow row exists for the task id.
	ErrTaskNotFound = errors.New("escrow: task not found")
	// ErrTaskAlreadyExists is returned when creating an escrow under a taken id.
	ErrTaskAlreadyExists = errors.New("escrow: task already exists")
	// ErrInvalidStateTransition is returned when the requested operation is not
	// legal from the task's current status. Stale retries land here.
	ErrInvalidStateTransition = errors.New("escrow: invalid state transition")
	// ErrUnauthorized is returned when the caller lacks the role the operation
	// requires (creator, assigned contributor, or admin).
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrInvalidAmount covers non-positive amounts, out-of-bounds bounties, and
	// split resolutions whose parts don't sum exactly to the escrowed amount.
	ErrInvalidAmount = errors.New("escrow: invalid amount")
	// ErrInvalidTaskID is returned for empty or oversized task identifiers.
	ErrInvalidTaskID = errors.New("escrow: invalid task id")
	// ErrInvalidIssueURL is returned for empty or oversized issue URLs.
	ErrInvalidIssueURL = errors.New("escrow: invalid issue url")
	// ErrInvalidReason is returned for dispute reasons outside 10..500 chars.
	ErrInvalidReason = errors.New("escrow: invalid dispute reason")
	// ErrDisputeNotFound is returned when a task has no dispute on record.
	ErrDisputeNotFound = errors.New("escrow: dispute not found")
	// ErrTransferFailed wraps custody ledger failures; by the time it surfaces
	// the enclosing transaction has been rolled back, so no partial state or
	// fund movement remains.
	ErrTransferFailed = errors.New("escrow: transfer failed")
)
