package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmint/backend/internal/models"
)

// ErrInsufficientBalance is returned when a debit would take the balance
// below zero. The balance is left untouched and no transaction is written.
var ErrInsufficientBalance = errors.New("insufficient balance")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance_tokens FROM accounts WHERE id = $1
	`, accountID).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// DebitTx atomically deducts amount from the account inside the caller's
// transaction. The conditional UPDATE is the linearization point: the row
// lock serializes concurrent debits for the same account, and the
// balance_tokens >= $1 guard means the balance can never go negative.
// Zero rows affected means the guard failed: ErrInsufficientBalance.
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error) {
	result, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance_tokens = balance_tokens - $1,
		    lifetime_spent_tokens = lifetime_spent_tokens + $1,
		    updated_at = now()
		WHERE id = $2 AND balance_tokens >= $1
	`, amount, accountID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInsufficientBalance
	}
	return insertTransaction(ctx, tx, accountID, -amount, models.TxTypeUsage, description, referenceID)
}

// Debit runs DebitTx in its own transaction.
func (r *Repository) Debit(ctx context.Context, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	txn, err := r.DebitTx(ctx, tx, accountID, amount, description, referenceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// CreditTx adds amount to the account inside the caller's transaction and
// records the paired transaction row. Credits have no upper bound.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error) {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET balance_tokens = balance_tokens + $1, updated_at = now() WHERE id = $2
	`, amount, accountID)
	if err != nil {
		return nil, err
	}
	return insertTransaction(ctx, tx, accountID, amount, txType, description, referenceID)
}

// Credit runs CreditTx in its own transaction.
func (r *Repository) Credit(ctx context.Context, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	txn, err := r.CreditTx(ctx, tx, accountID, amount, txType, description, referenceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error) {
	t := &models.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		TxType:      txType,
		Description: description,
		ReferenceID: referenceID,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, amount, tx_type, description, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.AccountID, t.Amount, t.TxType, t.Description, t.ReferenceID).Scan(&t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Repository) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount, tx_type, description, reference_id, created_at
		FROM transactions WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.TxType, &t.Description, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// HasRefundForJobTx reports whether a refund transaction referencing the
// job already exists. Reconciliation uses it to keep refund redelivery
// idempotent under at-least-once execution.
func (r *Repository) HasRefundForJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions WHERE tx_type = $1 AND reference_id = $2
		)
	`, models.TxTypeRefund, jobID.String()).Scan(&exists)
	return exists, err
}
