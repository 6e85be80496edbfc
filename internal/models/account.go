package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	return s == AccountStatusActive || s == AccountStatusInactive
}

// Account is a bank-like balance owned by a single user.
// CurrentBalance always equals the signed sum of the account's transactions.
type Account struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Type            string           `json:"type"`
	Currency        string           `json:"currency"`
	CurrentBalance  decimal.Decimal  `json:"current_balance"`
	Color           string           `json:"color"`
	CreditCardLimit *decimal.Decimal `json:"credit_card_limit,omitempty"`
	CutOffDay       *int             `json:"cut_off_day,omitempty"`
	PaymentDay      *int             `json:"payment_day,omitempty"`
	Status          AccountStatus    `json:"status"`
	UserID          string           `json:"-"`
	Version         int64            `json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       *time.Time       `json:"updated_at,omitempty"`
}
