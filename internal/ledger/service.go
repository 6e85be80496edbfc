// Package ledger keeps account balances consistent with their transactions.
//
// Every operation reloads the account, writes the transaction row and then
// compare-and-swaps the account balance inside one storage transaction.
// Work on the same account is serialized in-process; across processes the
// version check turns lost updates into ErrConflict, which is retried.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxAttempts = 3

	noteRevert         = "REVERT"
	noteTransferDebit  = "TRANSFER - DEBIT"
	noteTransferCredit = "TRANSFER - CREDIT"
	noteOpening        = "ACCOUNT OPENING"

	maxCurrencyLen = 5

	// Bounds for money values.
	maxIntegerDigits  = 15
	maxFractionDigits = 4
)

// Service records, reverts and transfers account transactions.
type Service struct {
	repo        storage.Repository
	locks       *keyedMutex
	logger      *slog.Logger
	maxAttempts int
	newID       func() string
}

// NewService creates a ledger over repo.
func NewService(repo storage.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		locks:       newKeyedMutex(),
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		newID:       uuid.NewString,
	}
}

// RecordCommand describes a single ledger entry.
type RecordCommand struct {
	AccountID   string
	Currency    string
	Type        models.TransactionType
	Amount      decimal.Decimal
	Note        string
	IsReversion bool
}

func (c RecordCommand) validate() error {
	if c.AccountID == "" {
		return invalid("account_id", "is required")
	}
	if err := validateCurrency(c.Currency); err != nil {
		return err
	}
	if !c.Type.Valid() {
		return invalid("type", "must be CREDIT or DEBIT")
	}
	return validateAmount(c.Amount)
}

// TransferCommand moves Amount from Origin to Destination.
type TransferCommand struct {
	Origin      string
	Destination string
	Currency    string
	Amount      decimal.Decimal
	Note        string
}

func (c TransferCommand) validate() error {
	if c.Origin == "" {
		return invalid("origin_account_id", "is required")
	}
	if c.Destination == "" {
		return invalid("destination_account_id", "is required")
	}
	if c.Origin == c.Destination {
		return invalid("destination_account_id", "must differ from the origin account")
	}
	if err := validateCurrency(c.Currency); err != nil {
		return err
	}
	return validateAmount(c.Amount)
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Origin      *models.AccountTransaction `json:"origin"`
	Destination *models.AccountTransaction `json:"destination"`
}

// RevertResult is returned by Revert. When Reverted is false the
// transaction was no longer ACTIVE and nothing was written.
type RevertResult struct {
	Original *models.AccountTransaction `json:"original"`
	Reversal *models.AccountTransaction `json:"reversal,omitempty"`
	Reverted bool                       `json:"reverted"`
}

// OpenAccountCommand creates an account. A non-zero OpeningBalance is
// recorded as an ACCOUNT OPENING entry.
type OpenAccountCommand struct {
	Name            string
	Type            string
	Currency        string
	Color           string
	OpeningBalance  decimal.Decimal
	CreditCardLimit *decimal.Decimal
	CutOffDay       *int
	PaymentDay      *int
}

func (c OpenAccountCommand) validate() error {
	if strings.TrimSpace(c.Name) == "" || len(c.Name) > 250 {
		return invalid("name", "must be between 1 and 250 characters")
	}
	if strings.TrimSpace(c.Type) == "" || len(c.Type) > 100 {
		return invalid("type", "must be between 1 and 100 characters")
	}
	if err := validateCurrency(c.Currency); err != nil {
		return err
	}
	if err := ValidateMoney("current_balance", c.OpeningBalance); err != nil {
		return err
	}
	if c.CreditCardLimit != nil {
		if err := ValidateMoney("credit_card_limit", *c.CreditCardLimit); err != nil {
			return err
		}
	}
	if err := ValidateDay("cut_off_day", c.CutOffDay); err != nil {
		return err
	}
	return ValidateDay("payment_day", c.PaymentDay)
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	return ValidateMoney("amount", amount)
}

// ValidateMoney bounds the integer and decimal digits of a money value.
// Only the coefficient and exponent are inspected; 1e5000000 is never expanded.
func ValidateMoney(field string, d decimal.Decimal) error {
	coef := d.Coefficient()
	digits := coef.Abs(coef).String()
	if digits == "0" {
		return nil
	}
	exp := int64(d.Exponent())
	trailingZeros := int64(len(digits) - len(strings.TrimRight(digits, "0")))

	if int64(len(digits))+exp > maxIntegerDigits {
		return invalid(field, fmt.Sprintf("must have at most %d integer digits", maxIntegerDigits))
	}
	if -exp-trailingZeros > maxFractionDigits {
		return invalid(field, fmt.Sprintf("must have at most %d decimal places", maxFractionDigits))
	}
	return nil
}

func validateCurrency(currency string) error {
	if strings.TrimSpace(currency) == "" || len(currency) > maxCurrencyLen {
		return invalid("currency", "must be between 1 and 5 characters")
	}
	return nil
}

// ValidateDay checks an optional day-of-month field.
func ValidateDay(field string, day *int) error {
	if day != nil && (*day < 1 || *day > 31) {
		return invalid(field, "must be between 1 and 31")
	}
	return nil
}

// Record applies one transaction to an account and returns the stored row.
func (s *Service) Record(ctx context.Context, userID string, cmd RecordCommand) (*models.AccountTransaction, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(cmd.AccountID)
	defer unlock()

	var out *models.AccountTransaction
	err := s.inTx(ctx, func(repo storage.Repository) error {
		t, err := s.record(ctx, repo, userID, cmd)
		out = t
		return err
	})
	if err != nil {
		return nil, s.fail("record", err,
			slog.String("account_id", cmd.AccountID),
			slog.String("type", string(cmd.Type)),
			slog.String("amount", cmd.Amount.String()))
	}
	return out, nil
}

// Revert flips an ACTIVE transaction to newStatus and records its inverse.
// newStatus defaults to INACTIVE and may not be ACTIVE.
func (s *Service) Revert(ctx context.Context, userID, transactionID string, newStatus models.TransactionStatus) (*RevertResult, error) {
	if newStatus == "" {
		newStatus = models.TransactionInactive
	}
	if newStatus != models.TransactionInactive && newStatus != models.TransactionReversion {
		return nil, invalid("status", "must be INACTIVE or REVERSION")
	}

	original, err := s.repo.FindTransaction(ctx, storage.TransactionFilter{UserID: userID, ID: transactionID})
	if err != nil {
		return nil, err
	}
	if original.Status != models.TransactionActive {
		return &RevertResult{Original: original}, nil
	}

	unlock := s.locks.Lock(original.AccountID)
	defer unlock()

	var result *RevertResult
	err = s.inTx(ctx, func(repo storage.Repository) error {
		// Account row first, then the transaction row, as DeleteTransaction does.
		if _, err := repo.FindAccount(ctx, storage.AccountFilter{UserID: userID, ID: original.AccountID, ForUpdate: true}); err != nil {
			return err
		}
		n, err := repo.UpdateTransactionFields(ctx, userID, transactionID, storage.TransactionPatch{
			Status:     &newStatus,
			FromStatus: models.TransactionActive,
		})
		if err != nil {
			return fmt.Errorf("update transaction status: %w", err)
		}

		current, err := repo.FindTransaction(ctx, storage.TransactionFilter{UserID: userID, ID: transactionID})
		if err != nil {
			return err
		}
		if n == 0 {
			// Reverted by someone else since the first read.
			result = &RevertResult{Original: current}
			return nil
		}

		reversal, err := s.record(ctx, repo, userID, RecordCommand{
			AccountID:   current.AccountID,
			Currency:    current.Currency,
			Type:        Inverse(current.Type),
			Amount:      current.Amount,
			Note:        withSuffix(current.Note, noteRevert),
			IsReversion: true,
		})
		if err != nil {
			return err
		}
		result = &RevertResult{Original: current, Reversal: reversal, Reverted: true}
		return nil
	})
	if err != nil {
		return nil, s.fail("revert", err,
			slog.String("transaction_id", transactionID),
			slog.String("account_id", original.AccountID),
			slog.String("type", string(Inverse(original.Type))),
			slog.String("amount", original.Amount.String()))
	}
	return result, nil
}

// Transfer debits the origin account and credits the destination in a
// single commit scope.
func (s *Service) Transfer(ctx context.Context, userID string, cmd TransferCommand) (*TransferResult, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(cmd.Origin, cmd.Destination)
	defer unlock()

	var result *TransferResult
	err := s.inTx(ctx, func(repo storage.Repository) error {
		// Row locks follow the same ascending order as the in-process locks.
		ids := []string{cmd.Origin, cmd.Destination}
		if ids[1] < ids[0] {
			ids[0], ids[1] = ids[1], ids[0]
		}
		for _, id := range ids {
			if _, err := repo.FindAccount(ctx, storage.AccountFilter{UserID: userID, ID: id, ForUpdate: true}); err != nil {
				return fmt.Errorf("account %s: %w", id, err)
			}
		}

		debit, err := s.record(ctx, repo, userID, RecordCommand{
			AccountID: cmd.Origin,
			Currency:  cmd.Currency,
			Type:      models.TransactionDebit,
			Amount:    cmd.Amount,
			Note:      withSuffix(cmd.Note, noteTransferDebit),
		})
		if err != nil {
			return err
		}
		credit, err := s.record(ctx, repo, userID, RecordCommand{
			AccountID: cmd.Destination,
			Currency:  cmd.Currency,
			Type:      models.TransactionCredit,
			Amount:    cmd.Amount,
			Note:      withSuffix(cmd.Note, noteTransferCredit),
		})
		if err != nil {
			return err
		}
		result = &TransferResult{Origin: debit, Destination: credit}
		return nil
	})
	if err != nil {
		return nil, s.fail("transfer", err,
			slog.String("origin_account_id", cmd.Origin),
			slog.String("destination_account_id", cmd.Destination),
			slog.String("amount", cmd.Amount.String()))
	}
	return result, nil
}

// OpenAccount creates an ACTIVE account owned by userID.
func (s *Service) OpenAccount(ctx context.Context, userID string, cmd OpenAccountCommand) (*models.Account, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:              s.newID(),
		UserID:          userID,
		Name:            cmd.Name,
		Type:            cmd.Type,
		Currency:        cmd.Currency,
		CurrentBalance:  decimal.Zero,
		Color:           cmd.Color,
		CreditCardLimit: cmd.CreditCardLimit,
		CutOffDay:       cmd.CutOffDay,
		PaymentDay:      cmd.PaymentDay,
		Status:          models.AccountStatusActive,
	}

	unlock := s.locks.Lock(account.ID)
	defer unlock()

	var out *models.Account
	err := s.repo.WithTx(ctx, func(repo storage.Repository) error {
		if err := repo.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		if !cmd.OpeningBalance.IsZero() {
			typ := models.TransactionCredit
			if cmd.OpeningBalance.IsNegative() {
				typ = models.TransactionDebit
			}
			_, err := s.record(ctx, repo, userID, RecordCommand{
				AccountID: account.ID,
				Currency:  account.Currency,
				Type:      typ,
				Amount:    cmd.OpeningBalance.Abs(),
				Note:      noteOpening,
			})
			if err != nil {
				return err
			}
		}
		a, err := repo.FindAccount(ctx, storage.AccountFilter{UserID: userID, ID: account.ID})
		out = a
		return err
	})
	if err != nil {
		return nil, s.fail("open account", err,
			slog.String("account_id", account.ID),
			slog.String("amount", cmd.OpeningBalance.String()))
	}
	return out, nil
}

// DeleteTransaction removes an ACTIVE transaction and backs its amount out
// of the account balance in the same commit scope. Reverted originals and
// reversions cancel each other out and are kept; deleting either one is
// ErrNotDeletable.
func (s *Service) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	t, err := s.repo.FindTransaction(ctx, storage.TransactionFilter{UserID: userID, ID: transactionID})
	if err != nil {
		return err
	}
	if !deletable(t) {
		return ErrNotDeletable
	}

	unlock := s.locks.Lock(t.AccountID)
	defer unlock()

	err = s.inTx(ctx, func(repo storage.Repository) error {
		account, err := repo.FindAccount(ctx, storage.AccountFilter{UserID: userID, ID: t.AccountID, ForUpdate: true})
		if err != nil {
			return err
		}
		// Re-read under the account lock; a revert may have landed in between.
		current, err := repo.FindTransaction(ctx, storage.TransactionFilter{UserID: userID, ID: transactionID})
		if err != nil {
			return err
		}
		if !deletable(current) {
			return ErrNotDeletable
		}
		n, err := repo.DeleteTransaction(ctx, userID, transactionID)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		balance := account.CurrentBalance.Sub(SignedAmount(t.Type, t.Amount))
		return s.swapBalance(ctx, repo, userID, account, balance)
	})
	if err != nil {
		return s.fail("delete transaction", err,
			slog.String("transaction_id", transactionID),
			slog.String("account_id", t.AccountID),
			slog.String("amount", t.Amount.String()))
	}
	return nil
}

func deletable(t *models.AccountTransaction) bool {
	return t.Status == models.TransactionActive && !t.IsReversion
}

// record runs inside a commit scope. The transaction row is written before
// the balance so both become visible together on commit.
func (s *Service) record(ctx context.Context, repo storage.Repository, userID string, cmd RecordCommand) (*models.AccountTransaction, error) {
	account, err := repo.FindAccount(ctx, storage.AccountFilter{UserID: userID, ID: cmd.AccountID, ForUpdate: true})
	if err != nil {
		return nil, err
	}
	if !cmd.IsReversion && account.Status != models.AccountStatusActive {
		return nil, ErrAccountInactive
	}

	status := models.TransactionActive
	if cmd.IsReversion {
		status = models.TransactionReversion
	}
	balance := ApplyDelta(account.CurrentBalance, cmd.Type, cmd.Amount)

	t := &models.AccountTransaction{
		ID:             s.newID(),
		AccountID:      account.ID,
		UserID:         userID,
		Currency:       cmd.Currency,
		Type:           cmd.Type,
		Amount:         cmd.Amount,
		CurrentBalance: balance,
		Note:           cmd.Note,
		Status:         status,
		IsReversion:    cmd.IsReversion,
	}
	if err := repo.SaveTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}
	if err := s.swapBalance(ctx, repo, userID, account, balance); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) swapBalance(ctx context.Context, repo storage.Repository, userID string, account *models.Account, balance decimal.Decimal) error {
	n, err := repo.UpdateAccountBalance(ctx, userID, account.ID, balance, account.Version)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	account.CurrentBalance = balance
	account.Version++
	return nil
}

// inTx runs fn in a fresh commit scope, retrying while it reports ErrConflict.
func (s *Service) inTx(ctx context.Context, fn func(storage.Repository) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if !errors.Is(err, ErrConflict) || isTxError(err) {
			return err
		}
		s.logger.Warn("ledger conflict, retrying", "attempt", attempt)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// fail logs incomplete commit scopes and wraps them in ErrPartialFailure.
// Other errors pass through unchanged.
func (s *Service) fail(op string, err error, attrs ...slog.Attr) error {
	if !isTxError(err) {
		return err
	}
	args := []any{slog.String("op", op), slog.Any("error", err)}
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.Error("ledger write did not complete", args...)
	return fmt.Errorf("%s: %w: %w", op, ErrPartialFailure, err)
}

func isTxError(err error) bool {
	var txErr *storage.TxError
	return errors.As(err, &txErr)
}
