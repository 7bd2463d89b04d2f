package models

import (
	"time"

	"github.com/google/uuid"
)

// SignupBonusTokens is credited to every account at registration, paired
// with a `bonus` transaction so the ledger invariant holds from day one.
const SignupBonusTokens int64 = 100

type Account struct {
	ID                  uuid.UUID `json:"id"`
	Email               string    `json:"email"`
	DisplayName         string    `json:"display_name"`
	PasswordHash        string    `json:"-"`
	BalanceTokens       int64     `json:"balance_tokens"`
	LifetimeSpentTokens int64     `json:"lifetime_spent_tokens"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
