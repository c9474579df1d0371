package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool and pgx.Tx the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpdateParams carries the mutable fields written alongside a status change.
type UpdateParams struct {
	Status      Status
	Contributor *string
	CompletedAt *time.Time
	DisputedAt  *time.Time
}

// Repository is the PostgreSQL escrow store. It is stateless; all writes run
// on the transaction the engine supplies so they commit or abort as one unit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const taskColumns = `task_id, issue_url, creator_id::text, contributor_id::text, amount, status::text, created_at, updated_at, completed_at, disputed_at`

// Insert stores a new escrow row; a duplicate task id maps to ErrTaskAlreadyExists.
func (r *Repository) Insert(ctx context.Context, q Querier, t Task) error {
	const insertSQL = `
		INSERT INTO escrow_tasks (task_id, issue_url, creator_id, amount, status)
		VALUES ($1, $2, $3, $4, 'created')
	`
	if _, err := q.Exec(ctx, insertSQL, t.TaskID, t.IssueURL, t.Creator, t.Amount); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTaskAlreadyExists
		}
		return fmt.Errorf("escrow: insert task: %w", err)
	}
	return nil
}

// Exists reports whether a task row already exists for the id.
func (r *Repository) Exists(ctx context.Context, q Querier, taskID string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM escrow_tasks WHERE task_id = $1)`, taskID).Scan(&exists); err != nil {
		return false, fmt.Errorf("escrow: exists: %w", err)
	}
	return exists, nil
}

// GetForUpdate loads a task row and locks it for the rest of the transaction,
// serializing conflicting transitions on the same task.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM escrow_tasks WHERE task_id = $1 FOR UPDATE`
	return scanTask(tx.QueryRow(ctx, query, taskID))
}

// Get loads a task row without locking, for read-only views.
func (r *Repository) Get(ctx context.Context, q Querier, taskID string) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM escrow_tasks WHERE task_id = $1`
	return scanTask(q.QueryRow(ctx, query, taskID))
}

// UpdateStatus advances a task to its next status and writes the fields that
// change with it. The caller has already validated the transition.
func (r *Repository) UpdateStatus(ctx context.Context, q Querier, taskID string, params UpdateParams) error {
	const updateSQL = `
		UPDATE escrow_tasks
		SET status = $2::escrow_status,
		    contributor_id = COALESCE($3::uuid, contributor_id),
		    completed_at = COALESCE($4, completed_at),
		    disputed_at = COALESCE($5, disputed_at),
		    updated_at = now()
		WHERE task_id = $1
	`
	tag, err := q.Exec(ctx, updateSQL, taskID, params.Status, params.Contributor, params.CompletedAt, params.DisputedAt)
	if err != nil {
		return fmt.Errorf("escrow: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Count returns the total number of escrows ever created.
func (r *Repository) Count(ctx context.Context, q Querier) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM escrow_tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("escrow: count: %w", err)
	}
	return n, nil
}

// InsertDispute records the dispute metadata for a task. The primary key on
// task_id enforces single-shot disputes.
func (r *Repository) InsertDispute(ctx context.Context, q Querier, d Dispute) error {
	const insertSQL = `
		INSERT INTO disputes (task_id, initiator_id, reason)
		VALUES ($1, $2, $3)
	`
	if _, err := q.Exec(ctx, insertSQL, d.TaskID, d.Initiator, d.Reason); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrInvalidStateTransition
		}
		return fmt.Errorf("escrow: insert dispute: %w", err)
	}
	return nil
}

// ResolveDispute writes the outcome onto the dispute row.
func (r *Repository) ResolveDispute(ctx context.Context, q Querier, taskID string, outcome Outcome, resolvedBy string) error {
	const updateSQL = `
		UPDATE disputes
		SET outcome = $2, to_contributor = $3, to_creator = $4,
		    resolved_by = $5::uuid, resolved_at = now()
		WHERE task_id = $1 AND resolved_at IS NULL
	`
	var toContributor, toCreator *int64
	if outcome.Kind == OutcomeSplit {
		toContributor = &outcome.ToContributor
		toCreator = &outcome.ToCreator
	}
	tag, err := q.Exec(ctx, updateSQL, taskID, string(outcome.Kind), toContributor, toCreator, resolvedBy)
	if err != nil {
		return fmt.Errorf("escrow: resolve dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

// GetDispute returns the dispute record for a task.
func (r *Repository) GetDispute(ctx context.Context, q Querier, taskID string) (Dispute, error) {
	const selectSQL = `
		SELECT task_id, initiator_id::text, reason, outcome, to_contributor, to_creator,
		       initiated_at, resolved_at, resolved_by::text
		FROM disputes
		WHERE task_id = $1
	`

	var (
		d             Dispute
		kind          *string
		toContributor *int64
		toCreator     *int64
	)
	err := q.QueryRow(ctx, selectSQL, taskID).Scan(
		&d.TaskID,
		&d.Initiator,
		&d.Reason,
		&kind,
		&toContributor,
		&toCreator,
		&d.InitiatedAt,
		&d.ResolvedAt,
		&d.ResolvedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrDisputeNotFound
		}
		return Dispute{}, fmt.Errorf("escrow: get dispute: %w", err)
	}

	if kind != nil {
		outcome := Outcome{Kind: OutcomeKind(*kind)}
		if toContributor != nil {
			outcome.ToContributor = *toContributor
		}
		if toCreator != nil {
			outcome.ToCreator = *toCreator
		}
		d.Outcome = &outcome
	}

	return d, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.TaskID,
		&t.IssueURL,
		&t.Creator,
		&t.Contributor,
		&t.Amount,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
		&t.DisputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("escrow: scan task: %w", err)
	}
	return t, nil
}
