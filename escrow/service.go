package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bountyflow/config"
	"bountyflow/token"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is the full database dependency of the engine: transactions for
// transitions, plain queries for read-only views.
type Pool interface {
	TxBeginner
	Querier
}

// Store is the escrow persistence surface the engine drives.
type Store interface {
	Insert(ctx context.Context, q Querier, t Task) error
	Exists(ctx context.Context, q Querier, taskID string) (bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (Task, error)
	Get(ctx context.Context, q Querier, taskID string) (Task, error)
	UpdateStatus(ctx context.Context, q Querier, taskID string, params UpdateParams) error
	Count(ctx context.Context, q Querier) (int64, error)
	InsertDispute(ctx context.Context, q Querier, d Dispute) error
	ResolveDispute(ctx context.Context, q Querier, taskID string, outcome Outcome, resolvedBy string) error
	GetDispute(ctx context.Context, q Querier, taskID string) (Dispute, error)
}

// Custody moves escrowed funds. Both calls run on the engine's transaction so
// a failed transfer aborts the transition it belongs to.
type Custody interface {
	Pull(ctx context.Context, tx pgx.Tx, from string, amount int64) error
	Push(ctx context.Context, tx pgx.Tx, to string, amount int64) error
}

// ConfigReader gates every operation on the initialized singleton config and
// supplies the admin identity for dispute resolution.
type ConfigReader interface {
	Load(ctx context.Context, q config.Querier) (config.Record, error)
}

// Engine is the escrow lifecycle state machine. Every public method executes
// as a single transaction: authorization check, transition validation, custody
// movement, store update, and event emission commit or abort together.
type Engine struct {
	pool    Pool
	store   Store
	custody Custody
	cfg     ConfigReader
	events  Emitter
	now     func() time.Time
}

// NewEngine wires the engine; nil collaborators fall back to the PostgreSQL
// implementations.
func NewEngine(pool Pool, store Store, custody Custody, cfg ConfigReader, events Emitter) *Engine {
	if store == nil {
		store = NewRepository()
	}
	if custody == nil {
		custody = token.NewLedger()
	}
	if cfg == nil {
		cfg = config.NewRepository()
	}
	if events == nil {
		events = NewTimelineEmitter()
	}
	return &Engine{
		pool:    pool,
		store:   store,
		custody: custody,
		cfg:     cfg,
		events:  events,
		now:     time.Now,
	}
}

// WithClock overrides the engine clock; tests pin timestamps with it.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateParams carries the caller-supplied escrow creation fields.
type CreateParams struct {
	TaskID   string
	IssueURL string
	Amount   int64
}

// CreateEscrow locks the bounty amount from the caller into custody and
// records the new task. The caller becomes the task's immutable creator.
func (e *Engine) CreateEscrow(ctx context.Context, caller string, params CreateParams) (Task, error) {
	if caller == "" {
		return Task{}, ErrUnauthorized
	}
	if params.TaskID == "" || len(params.TaskID) > 64 {
		return Task{}, ErrInvalidTaskID
	}
	if params.IssueURL == "" || len(params.IssueURL) > 500 {
		return Task{}, ErrInvalidIssueURL
	}
	if params.Amount <= 0 || params.Amount > MaxAmount {
		return Task{}, ErrInvalidAmount
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback(ctx)

	// Uniqueness is checked before funds move; the primary key still backs
	// this up if two creations race, aborting the loser's whole transaction.
	exists, err := e.store.Exists(ctx, tx, params.TaskID)
	if err != nil {
		return Task{}, err
	}
	if exists {
		return Task{}, ErrTaskAlreadyExists
	}

	if err := e.custody.Pull(ctx, tx, caller, params.Amount); err != nil {
		return Task{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	if err := e.store.Insert(ctx, tx, Task{
		TaskID:   params.TaskID,
		IssueURL: params.IssueURL,
		Creator:  caller,
		Amount:   params.Amount,
	}); err != nil {
		return Task{}, err
	}

	if err := e.events.Emit(ctx, tx, params.TaskID, EventEscrowCreated, caller, map[string]any{
		"creator": caller,
		"amount":  params.Amount,
	}); err != nil {
		return Task{}, err
	}

	task, err := e.store.Get(ctx, tx, params.TaskID)
	if err != nil {
		return Task{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("escrow: commit create: %w", err)
	}

	return task, nil
}

// GetEscrow returns the escrow record for a task.
func (e *Engine) GetEscrow(ctx context.Context, taskID string) (Task, error) {
	if taskID == "" {
		return Task{}, ErrInvalidTaskID
	}
	if _, err := e.cfg.Load(ctx, e.pool); err != nil {
		return Task{}, err
	}
	return e.store.Get(ctx, e.pool, taskID)
}

// TaskCount returns the total number of escrows ever created.
func (e *Engine) TaskCount(ctx context.Context) (int64, error) {
	if _, err := e.cfg.Load(ctx, e.pool); err != nil {
		return 0, err
	}
	return e.store.Count(ctx, e.pool)
}

// begin opens the transaction and gates it on the initialized config.
func (e *Engine) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("escrow: begin tx: %w", err)
	}
	if _, err := e.cfg.Load(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

// beginWithConfig is begin plus the loaded config, for operations that need
// the admin identity.
func (e *Engine) beginWithConfig(ctx context.Context) (pgx.Tx, config.Record, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, config.Record{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	rec, err := e.cfg.Load(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, config.Record{}, err
	}
	return tx, rec, nil
}
