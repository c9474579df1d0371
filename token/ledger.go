package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInsufficientFunds signals the source account cannot cover the amount.
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	// ErrInvalidAmount signals a zero or negative transfer amount.
	ErrInvalidAmount = errors.New("token: invalid amount")
)

// VaultAccountID is the well-known ledger account holding all escrowed funds.
// Custody is binary: an amount is either under this account or fully disbursed.
const VaultAccountID = "escrow_vault"

// Querier is the subset of pgxpool.Pool and pgx.Tx the ledger needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger moves token balances between accounts. Pull and Push run on the
// caller's transaction so custody changes commit or abort together with the
// escrow status change they belong to.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Pull moves amount from the holder's account into the vault. Used at escrow
// creation to lock funds.
func (l *Ledger) Pull(ctx context.Context, tx pgx.Tx, from string, amount int64) error {
	return l.transfer(ctx, tx, from, VaultAccountID, amount)
}

// Push moves amount from the vault to the holder's account. Used on payment
// release and refunds.
func (l *Ledger) Push(ctx context.Context, tx pgx.Tx, to string, amount int64) error {
	return l.transfer(ctx, tx, VaultAccountID, to, amount)
}

func (l *Ledger) transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == "" || to == "" || from == to {
		return fmt.Errorf("token: invalid transfer endpoints %q -> %q", from, to)
	}

	// Conditional debit; zero rows affected means the balance check failed
	// (or the account has never been funded, which is the same thing).
	const debitSQL = `
		UPDATE token_balances
		SET balance = balance - $2, updated_at = now()
		WHERE account_id = $1 AND balance >= $2
	`
	tag, err := tx.Exec(ctx, debitSQL, from, amount)
	if err != nil {
		return fmt.Errorf("token: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	const creditSQL = `
		INSERT INTO token_balances (account_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (account_id)
		DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance, updated_at = now()
	`
	if _, err := tx.Exec(ctx, creditSQL, to, amount); err != nil {
		return fmt.Errorf("token: credit %s: %w", to, err)
	}

	return nil
}

// Mint credits freshly issued tokens to an account. The escrow core never
// mints; this exists for deployment bootstrap and tests.
func (l *Ledger) Mint(ctx context.Context, q Querier, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if to == "" {
		return fmt.Errorf("token: mint target required")
	}

	const creditSQL = `
		INSERT INTO token_balances (account_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (account_id)
		DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance, updated_at = now()
	`
	if _, err := q.Exec(ctx, creditSQL, to, amount); err != nil {
		return fmt.Errorf("token: mint %s: %w", to, err)
	}
	return nil
}

// Balance returns the balance for an account; unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, q Querier, account string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM token_balances WHERE account_id = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("token: balance %s: %w", account, err)
	}
	return balance, nil
}

// VaultBalance returns the total funds currently held in escrow custody.
func (l *Ledger) VaultBalance(ctx context.Context, q Querier) (int64, error) {
	return l.Balance(ctx, q, VaultAccountID)
}
