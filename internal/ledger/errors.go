package ledger

import (
	"errors"
	"fmt"

	"finance-tracker/internal/storage"
)

var (
	// ErrNotFound is the storage sentinel, re-exported so callers of the
	// ledger need not import storage to recognise it.
	ErrNotFound = storage.ErrNotFound
	// ErrConflict means the account kept changing underneath the operation
	// after every retry was spent.
	ErrConflict = errors.New("account was modified concurrently")
	// ErrAccountInactive rejects new entries against a disabled account.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrNotDeletable rejects deleting a reverted transaction or a reversion.
	// Those rows no longer move the balance on their own.
	ErrNotDeletable = errors.New("only active transactions can be deleted")
	// ErrPartialFailure means a commit scope could not be finished cleanly.
	// The ledger may need manual reconciliation.
	ErrPartialFailure = errors.New("ledger write did not complete")
)

// ValidationError reports a malformed command.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
