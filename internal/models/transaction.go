package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction tx_type enums. Credits carry a positive amount, debits a
// negative one; the sum of all amounts for an account equals its balance.
const (
	TxTypeBonus    = "bonus"
	TxTypeUsage    = "usage"
	TxTypePurchase = "purchase"
	TxTypeRefund   = "refund"
)

type Transaction struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	Amount      int64     `json:"amount"`
	TxType      string    `json:"tx_type"`
	Description string    `json:"description"`
	ReferenceID *string   `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
