package escrow

import "time"

// Status is the lifecycle state of an escrow task.
type Status string

const (
	StatusCreated   Status = "created"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusApproved  Status = "approved"
	StatusDisputed  Status = "disputed"
	StatusResolved  Status = "resolved"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transitions are legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusResolved, StatusRefunded:
		return true
	default:
		return false
	}
}

// Task mirrors the escrow_tasks table. One row per bounty; rows are never
// deleted, terminal tasks persist as audit records.
type Task struct {
	TaskID      string
	IssueURL    string
	Creator     string
	Contributor *string
	Amount      int64
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	DisputedAt  *time.Time
}

// OutcomeKind identifies the admin-chosen disbursement plan for a dispute.
type OutcomeKind string

const (
	OutcomeRefund      OutcomeKind = "refund"
	OutcomeFullPayment OutcomeKind = "full_payment"
	OutcomeSplit       OutcomeKind = "split"
)

// Outcome carries the disbursement plan. ToContributor/ToCreator are only
// meaningful for OutcomeSplit and must sum exactly to the escrowed amount.
type Outcome struct {
	Kind          OutcomeKind
	ToContributor int64
	ToCreator     int64
}

// Dispute mirrors the disputes table, one per task at most.
type Dispute struct {
	TaskID      string
	Initiator   string
	Reason      string
	Outcome     *Outcome
	InitiatedAt time.Time
	ResolvedAt  *time.Time
	ResolvedBy  *string
}

// MaxAmount caps escrow creation, in base token units. Guards against
// fat-finger bounties; the lower bound is simply amount > 0.
const MaxAmount int64 = 10_000_000_000_000_000
