// Package ledger is the token-accounting core: one balance row per
// account plus an append-only transaction log, mutated only through
// atomic debit/credit primitives. The invariant it protects is that the
// sum of transaction amounts for an account always equals the stored
// balance, and the balance never drops below zero — even under
// concurrent requests from multiple devices or poll loops.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pixelmint/backend/internal/models"
)

// Store is the persistence contract the service needs. *Repository
// implements it; tests substitute an in-memory version.
type Store interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error)
	History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error)
}

type Service interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	// ReserveAndDebit charges amount against the account, rejecting with
	// ErrInsufficientBalance and leaving the balance unchanged when it
	// cannot cover the amount. Concurrent calls for one account are
	// linearized by the store.
	ReserveAndDebit(ctx context.Context, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error)
	// Credit adds tokens: bonuses, purchases, refunds.
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error)
	History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.store.GetBalance(ctx, accountID)
}

func (s *service) ReserveAndDebit(ctx context.Context, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return s.store.Debit(ctx, accountID, amount, description, referenceID)
}

func (s *service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	switch txType {
	case models.TxTypeBonus, models.TxTypePurchase, models.TxTypeRefund:
	default:
		return nil, fmt.Errorf("invalid credit tx_type %q", txType)
	}
	return s.store.Credit(ctx, accountID, amount, txType, description, referenceID)
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.History(ctx, accountID, limit, offset)
}
