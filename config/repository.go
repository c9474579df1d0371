package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotInitialized signals that no configuration row exists yet; every
	// escrow operation is gated on this.
	ErrNotInitialized = errors.New("config: not initialized")
	// ErrAlreadyInitialized signals a second initialization attempt.
	ErrAlreadyInitialized = errors.New("config: already initialized")
)

// Querier is the subset of pgxpool.Pool and pgx.Tx the repository needs, so
// reads can run either standalone or inside an enclosing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is stateless; callers supply the pool or transaction to run on.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert creates the singleton configuration row. The table's primary key
// constraint makes a second insert fail, which maps to ErrAlreadyInitialized.
func (r *Repository) Insert(ctx context.Context, q Querier, adminID, tokenSymbol string) (Record, error) {
	const insertSQL = `
		INSERT INTO escrow_config (admin_id, token_symbol)
		VALUES ($1, $2)
		RETURNING admin_id::text, token_symbol, initialized_at, updated_at
	`

	var rec Record
	err := q.QueryRow(ctx, insertSQL, adminID, tokenSymbol).
		Scan(&rec.AdminID, &rec.TokenSymbol, &rec.InitializedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23514") {
			return Record{}, ErrAlreadyInitialized
		}
		return Record{}, fmt.Errorf("config: insert: %w", err)
	}

	return rec, nil
}

// Load fetches the singleton row, or ErrNotInitialized when absent.
func (r *Repository) Load(ctx context.Context, q Querier) (Record, error) {
	const selectSQL = `
		SELECT admin_id::text, token_symbol, initialized_at, updated_at
		FROM escrow_config
		WHERE id = 1
	`

	var rec Record
	err := q.QueryRow(ctx, selectSQL).
		Scan(&rec.AdminID, &rec.TokenSymbol, &rec.InitializedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotInitialized
		}
		return Record{}, fmt.Errorf("config: load: %w", err)
	}

	return rec, nil
}

// UpdateAdmin replaces the admin identity.
func (r *Repository) UpdateAdmin(ctx context.Context, q Querier, newAdminID string) error {
	tag, err := q.Exec(ctx, `UPDATE escrow_config SET admin_id = $1, updated_at = now() WHERE id = 1`, newAdminID)
	if err != nil {
		return fmt.Errorf("config: update admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInitialized
	}
	return nil
}

// UpdateToken replaces the accepted token symbol.
func (r *Repository) UpdateToken(ctx context.Context, q Querier, tokenSymbol string) error {
	tag, err := q.Exec(ctx, `UPDATE escrow_config SET token_symbol = $1, updated_at = now() WHERE id = 1`, tokenSymbol)
	if err != nil {
		return fmt.Errorf("config: update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInitialized
	}
	return nil
}
