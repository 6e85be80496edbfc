package ledger

import (
	"finance-tracker/internal/models"

	"github.com/shopspring/decimal"
)

// SignedAmount returns amount as a balance delta: positive for CREDIT,
// negative for DEBIT.
func SignedAmount(t models.TransactionType, amount decimal.Decimal) decimal.Decimal {
	if t == models.TransactionDebit {
		return amount.Neg()
	}
	return amount
}

// ApplyDelta returns the balance after applying a transaction of type t.
// Negative results are allowed.
func ApplyDelta(balance decimal.Decimal, t models.TransactionType, amount decimal.Decimal) decimal.Decimal {
	return balance.Add(SignedAmount(t, amount))
}

// Inverse swaps CREDIT and DEBIT.
func Inverse(t models.TransactionType) models.TransactionType {
	if t == models.TransactionCredit {
		return models.TransactionDebit
	}
	return models.TransactionCredit
}

func withSuffix(note, suffix string) string {
	if note == "" {
		return suffix
	}
	return note + " - " + suffix
}
