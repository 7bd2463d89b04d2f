package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmint/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account seeded with the signup bonus and writes the
// paired bonus transaction in the same database transaction, so the
// sum-of-transactions-equals-balance invariant holds from the first row.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string) (*models.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var a models.Account
	row := tx.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, display_name, balance_tokens)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, display_name, balance_tokens, lifetime_spent_tokens, created_at, updated_at
	`, email, passwordHash, displayName, models.SignupBonusTokens)
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.BalanceTokens, &a.LifetimeSpentTokens, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (account_id, amount, tx_type, description)
		VALUES ($1, $2, $3, $4)
	`, a.ID, models.SignupBonusTokens, models.TxTypeBonus, "signup bonus")
	if err != nil {
		return nil, fmt.Errorf("insert bonus transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &a, nil
}

// GetByEmail returns the account and its password hash for login.
// Returns nil account when the email is unknown.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var a models.Account
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, balance_tokens, lifetime_spent_tokens, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.BalanceTokens, &a.LifetimeSpentTokens, &passwordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &a, passwordHash, nil
}

// GetByID loads an account by primary key. Returns nil when not found.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, balance_tokens, lifetime_spent_tokens, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.BalanceTokens, &a.LifetimeSpentTokens, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
