package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType carries the sign of a transaction amount.
type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

// Valid reports whether t is CREDIT or DEBIT.
func (t TransactionType) Valid() bool {
	return t == TransactionCredit || t == TransactionDebit
}

// TransactionStatus is the state of an account transaction.
type TransactionStatus string

const (
	TransactionActive    TransactionStatus = "ACTIVE"
	TransactionInactive  TransactionStatus = "INACTIVE"
	TransactionReversion TransactionStatus = "REVERSION"
)

// Valid reports whether s is a known transaction status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionActive, TransactionInactive, TransactionReversion:
		return true
	}
	return false
}

// AccountTransaction is a single ledger entry against an account.
// Amount is always positive; CurrentBalance is the account balance right
// after this entry was applied and is never recomputed.
type AccountTransaction struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"account_id"`
	UserID         string            `json:"-"`
	Currency       string            `json:"currency"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	CurrentBalance decimal.Decimal   `json:"current_balance"`
	Note           string            `json:"note"`
	Status         TransactionStatus `json:"status"`
	IsReversion    bool              `json:"is_reversion"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      *time.Time        `json:"updated_at,omitempty"`
}
