package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// LedgerTestSuite runs the ledger against an in-memory SQLite store.
type LedgerTestSuite struct {
	suite.Suite
	ctx  context.Context
	db   *storage.DB
	svc  *Service
	logs *bytes.Buffer
	user *models.User
}

func (suite *LedgerTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()
	suite.logs = &bytes.Buffer{}
	suite.svc = NewService(db, suite.logger())
	suite.user = suite.createUser("alice")
}

func (suite *LedgerTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *LedgerTestSuite) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(suite.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (suite *LedgerTestSuite) createUser(username string) *models.User {
	u := &models.User{ID: uuid.NewString(), Username: username, PasswordHash: "hash"}
	require.NoError(suite.T(), suite.db.CreateUser(suite.ctx, u))
	return u
}

func (suite *LedgerTestSuite) openAccount(name, opening string) *models.Account {
	a, err := suite.svc.OpenAccount(suite.ctx, suite.user.ID, OpenAccountCommand{
		Name:           name,
		Type:           "DEBIT",
		Currency:       "MXN",
		OpeningBalance: decimal.RequireFromString(opening),
	})
	require.NoError(suite.T(), err, "failed to open account %s", name)
	return a
}

func (suite *LedgerTestSuite) balance(accountID string) decimal.Decimal {
	a, err := suite.db.FindAccount(suite.ctx, storage.AccountFilter{UserID: suite.user.ID, ID: accountID})
	require.NoError(suite.T(), err)
	return a.CurrentBalance
}

func (suite *LedgerTestSuite) transactions(accountID string) []models.AccountTransaction {
	list, err := suite.db.ListTransactions(suite.ctx, suite.user.ID, accountID, storage.TransactionListFilter{})
	require.NoError(suite.T(), err)
	return list
}

func (suite *LedgerTestSuite) assertBalance(accountID, want string) {
	got := suite.balance(accountID)
	assert.True(suite.T(), got.Equal(decimal.RequireFromString(want)), "balance: got %s, want %s", got, want)
}

// assertLedgerConsistent checks that the stored balance equals the signed
// sum of every transaction row of the account.
func (suite *LedgerTestSuite) assertLedgerConsistent(accountID string) {
	sum := decimal.Zero
	for _, t := range suite.transactions(accountID) {
		sum = sum.Add(SignedAmount(t.Type, t.Amount))
	}
	got := suite.balance(accountID)
	assert.True(suite.T(), got.Equal(sum), "balance %s does not match transaction sum %s", got, sum)
}

func (suite *LedgerTestSuite) record(accountID string, typ models.TransactionType, amount, note string) *models.AccountTransaction {
	t, err := suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
		AccountID: accountID,
		Currency:  "MXN",
		Type:      typ,
		Amount:    decimal.RequireFromString(amount),
		Note:      note,
	})
	require.NoError(suite.T(), err, "failed to record %s %s", typ, amount)
	return t
}

func (suite *LedgerTestSuite) TestRecordKeepsRunningSnapshots() {
	a := suite.openAccount("Checking", "0")
	steps := []struct {
		typ     models.TransactionType
		amount  string
		running string
	}{
		{models.TransactionCredit, "10", "10"},
		{models.TransactionDebit, "3", "7"},
		{models.TransactionCredit, "2.55", "9.55"},
		{models.TransactionDebit, "20", "-10.45"},
	}

	for _, step := range steps {
		t := suite.record(a.ID, step.typ, step.amount, "")
		assert.True(suite.T(), t.CurrentBalance.Equal(decimal.RequireFromString(step.running)),
			"snapshot after %s %s: got %s", step.typ, step.amount, t.CurrentBalance)
		assert.Equal(suite.T(), models.TransactionActive, t.Status)
		assert.False(suite.T(), t.IsReversion)
	}

	suite.assertBalance(a.ID, "-10.45")
	list := suite.transactions(a.ID)
	require.Len(suite.T(), list, len(steps))
	for i, step := range steps {
		assert.True(suite.T(), list[i].CurrentBalance.Equal(decimal.RequireFromString(step.running)),
			"stored snapshot %d: got %s", i, list[i].CurrentBalance)
	}
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestRecordRejectsNonPositiveAmount() {
	a := suite.openAccount("Checking", "50")

	for _, amount := range []string{"0", "-5"} {
		_, err := suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
			AccountID: a.ID,
			Currency:  "MXN",
			Type:      models.TransactionCredit,
			Amount:    decimal.RequireFromString(amount),
		})
		var verr *ValidationError
		require.ErrorAs(suite.T(), err, &verr, "amount %s", amount)
		assert.Equal(suite.T(), "amount", verr.Field)
	}

	suite.assertBalance(a.ID, "50")
	assert.Len(suite.T(), suite.transactions(a.ID), 1, "only the opening entry should exist")
}

func (suite *LedgerTestSuite) TestRecordValidatesCommand() {
	a := suite.openAccount("Checking", "0")
	tests := []struct {
		name  string
		cmd   RecordCommand
		field string
	}{
		{"missing account", RecordCommand{Currency: "MXN", Type: models.TransactionCredit, Amount: decimal.NewFromInt(1)}, "account_id"},
		{"missing currency", RecordCommand{AccountID: a.ID, Type: models.TransactionCredit, Amount: decimal.NewFromInt(1)}, "currency"},
		{"long currency", RecordCommand{AccountID: a.ID, Currency: "DOLLAR", Type: models.TransactionCredit, Amount: decimal.NewFromInt(1)}, "currency"},
		{"unknown type", RecordCommand{AccountID: a.ID, Currency: "MXN", Type: "REFUND", Amount: decimal.NewFromInt(1)}, "type"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.svc.Record(suite.ctx, suite.user.ID, tt.cmd)
			var verr *ValidationError
			require.ErrorAs(suite.T(), err, &verr)
			assert.Equal(suite.T(), tt.field, verr.Field)
		})
	}
	assert.Empty(suite.T(), suite.transactions(a.ID))
}

func (suite *LedgerTestSuite) TestRecordUnknownAccount() {
	_, err := suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
		AccountID: uuid.NewString(), Currency: "MXN", Type: models.TransactionCredit, Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	a := suite.openAccount("Checking", "0")
	bob := suite.createUser("bobby")
	_, err = suite.svc.Record(suite.ctx, bob.ID, RecordCommand{
		AccountID: a.ID, Currency: "MXN", Type: models.TransactionCredit, Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(suite.T(), err, ErrNotFound, "another user's account must not be visible")
	suite.assertBalance(a.ID, "0")
}

func (suite *LedgerTestSuite) TestRecordRejectsInactiveAccount() {
	a := suite.openAccount("Checking", "5")
	inactive := models.AccountStatusInactive
	_, err := suite.db.UpdateAccountFields(suite.ctx, suite.user.ID, a.ID, storage.AccountPatch{Status: &inactive})
	require.NoError(suite.T(), err)

	_, err = suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
		AccountID: a.ID, Currency: "MXN", Type: models.TransactionDebit, Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(suite.T(), err, ErrAccountInactive)
	suite.assertBalance(a.ID, "5")
}

func (suite *LedgerTestSuite) TestRevertCreditRoundTrip() {
	a := suite.openAccount("Checking", "0")
	original := suite.record(a.ID, models.TransactionCredit, "125.40", "Refund")

	result, err := suite.svc.Revert(suite.ctx, suite.user.ID, original.ID, "")
	require.NoError(suite.T(), err)
	require.True(suite.T(), result.Reverted)

	assert.Equal(suite.T(), models.TransactionInactive, result.Original.Status)
	require.NotNil(suite.T(), result.Reversal)
	assert.Equal(suite.T(), models.TransactionDebit, result.Reversal.Type)
	assert.True(suite.T(), result.Reversal.Amount.Equal(original.Amount))
	assert.Equal(suite.T(), models.TransactionReversion, result.Reversal.Status)
	assert.True(suite.T(), result.Reversal.IsReversion)
	assert.Equal(suite.T(), "Refund - REVERT", result.Reversal.Note)
	assert.True(suite.T(), result.Reversal.CurrentBalance.IsZero())

	suite.assertBalance(a.ID, "0")
	assert.Len(suite.T(), suite.transactions(a.ID), 2, "original and reversal are both kept")
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestRevertUsesRequestedStatus() {
	a := suite.openAccount("Checking", "0")
	original := suite.record(a.ID, models.TransactionDebit, "9", "")

	result, err := suite.svc.Revert(suite.ctx, suite.user.ID, original.ID, models.TransactionReversion)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionReversion, result.Original.Status)
	assert.Equal(suite.T(), "REVERT", result.Reversal.Note)
	suite.assertBalance(a.ID, "0")
}

func (suite *LedgerTestSuite) TestRevertRejectsActiveStatus() {
	a := suite.openAccount("Checking", "0")
	original := suite.record(a.ID, models.TransactionCredit, "1", "")

	_, err := suite.svc.Revert(suite.ctx, suite.user.ID, original.ID, models.TransactionActive)
	var verr *ValidationError
	assert.ErrorAs(suite.T(), err, &verr)
	suite.assertBalance(a.ID, "1")
}

func (suite *LedgerTestSuite) TestRevertIsIdempotent() {
	a := suite.openAccount("Checking", "0")
	original := suite.record(a.ID, models.TransactionCredit, "30", "")

	_, err := suite.svc.Revert(suite.ctx, suite.user.ID, original.ID, "")
	require.NoError(suite.T(), err)

	again, err := suite.svc.Revert(suite.ctx, suite.user.ID, original.ID, "")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), again.Reverted)
	assert.Nil(suite.T(), again.Reversal)
	assert.Equal(suite.T(), original.ID, again.Original.ID)

	suite.assertBalance(a.ID, "0")
	assert.Len(suite.T(), suite.transactions(a.ID), 2)
}

func (suite *LedgerTestSuite) TestRevertOfReversionIsNoop() {
	a := suite.openAccount("Checking", "0")
	original := suite.record(a.ID, models.TransactionCredit, "30", "")
	first, err := suite.svc.Revert(suite.ctx, suite.user.ID, original.ID, "")
	require.NoError(suite.T(), err)

	result, err := suite.svc.Revert(suite.ctx, suite.user.ID, first.Reversal.ID, "")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), result.Reverted)
	assert.Len(suite.T(), suite.transactions(a.ID), 2)
}

func (suite *LedgerTestSuite) TestRevertMissingTransaction() {
	_, err := suite.svc.Revert(suite.ctx, suite.user.ID, uuid.NewString(), "")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *LedgerTestSuite) TestTransferMovesAmount() {
	origin := suite.openAccount("Checking", "500")
	destination := suite.openAccount("Savings", "20")

	result, err := suite.svc.Transfer(suite.ctx, suite.user.ID, TransferCommand{
		Origin:      origin.ID,
		Destination: destination.ID,
		Currency:    "MXN",
		Amount:      decimal.RequireFromString("150.25"),
		Note:        "Monthly saving",
	})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), models.TransactionDebit, result.Origin.Type)
	assert.Equal(suite.T(), models.TransactionCredit, result.Destination.Type)
	assert.True(suite.T(), result.Origin.Amount.Equal(result.Destination.Amount))
	assert.Equal(suite.T(), "Monthly saving - TRANSFER - DEBIT", result.Origin.Note)
	assert.Equal(suite.T(), "Monthly saving - TRANSFER - CREDIT", result.Destination.Note)
	assert.Equal(suite.T(), origin.ID, result.Origin.AccountID)
	assert.Equal(suite.T(), destination.ID, result.Destination.AccountID)

	suite.assertBalance(origin.ID, "349.75")
	suite.assertBalance(destination.ID, "170.25")
	suite.assertLedgerConsistent(origin.ID)
	suite.assertLedgerConsistent(destination.ID)
}

func (suite *LedgerTestSuite) TestOpenTransferRevertScenario() {
	a := suite.openAccount("Account A", "100")
	b := suite.openAccount("Account B", "0")

	opening := suite.transactions(a.ID)
	require.Len(suite.T(), opening, 1)
	assert.Equal(suite.T(), "ACCOUNT OPENING", opening[0].Note)
	assert.Equal(suite.T(), models.TransactionCredit, opening[0].Type)

	result, err := suite.svc.Transfer(suite.ctx, suite.user.ID, TransferCommand{
		Origin: a.ID, Destination: b.ID, Currency: "MXN", Amount: decimal.NewFromInt(40),
	})
	require.NoError(suite.T(), err)
	suite.assertBalance(a.ID, "60")
	suite.assertBalance(b.ID, "40")
	assert.True(suite.T(), strings.HasSuffix(result.Origin.Note, "TRANSFER - DEBIT"))
	assert.True(suite.T(), strings.HasSuffix(result.Destination.Note, "TRANSFER - CREDIT"))

	_, err = suite.svc.Revert(suite.ctx, suite.user.ID, result.Origin.ID, "")
	require.NoError(suite.T(), err)
	suite.assertBalance(a.ID, "100")

	list := suite.transactions(a.ID)
	require.Len(suite.T(), list, 3)
	assert.Equal(suite.T(), "ACCOUNT OPENING", list[0].Note)
	assert.Equal(suite.T(), models.TransactionDebit, list[1].Type)
	assert.Equal(suite.T(), models.TransactionCredit, list[2].Type)
	assert.True(suite.T(), list[2].IsReversion)
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestTransferToSameAccountIsInvalid() {
	a := suite.openAccount("Checking", "10")
	_, err := suite.svc.Transfer(suite.ctx, suite.user.ID, TransferCommand{
		Origin: a.ID, Destination: a.ID, Currency: "MXN", Amount: decimal.NewFromInt(1),
	})
	var verr *ValidationError
	assert.ErrorAs(suite.T(), err, &verr)
}

func (suite *LedgerTestSuite) TestTransferFailureLeavesNoLeg() {
	origin := suite.openAccount("Checking", "100")

	_, err := suite.svc.Transfer(suite.ctx, suite.user.ID, TransferCommand{
		Origin: origin.ID, Destination: uuid.NewString(), Currency: "MXN", Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(suite.T(), err, ErrNotFound)
	suite.assertBalance(origin.ID, "100")
	assert.Len(suite.T(), suite.transactions(origin.ID), 1)

	closed := suite.openAccount("Closed", "0")
	inactive := models.AccountStatusInactive
	_, err = suite.db.UpdateAccountFields(suite.ctx, suite.user.ID, closed.ID, storage.AccountPatch{Status: &inactive})
	require.NoError(suite.T(), err)

	_, err = suite.svc.Transfer(suite.ctx, suite.user.ID, TransferCommand{
		Origin: origin.ID, Destination: closed.ID, Currency: "MXN", Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(suite.T(), err, ErrAccountInactive)
	suite.assertBalance(origin.ID, "100")
	assert.Len(suite.T(), suite.transactions(origin.ID), 1, "the debit leg must be rolled back")
}

func (suite *LedgerTestSuite) TestConcurrentRecordsDoNotLoseUpdates() {
	a := suite.openAccount("Checking", "100")
	const pairs = 25

	var wg sync.WaitGroup
	errs := make(chan error, pairs*2)
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
				AccountID: a.ID, Currency: "MXN", Type: models.TransactionCredit, Amount: decimal.NewFromInt(10),
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
				AccountID: a.ID, Currency: "MXN", Type: models.TransactionDebit, Amount: decimal.NewFromInt(3),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(suite.T(), err)
	}
	suite.assertBalance(a.ID, "275")
	assert.Len(suite.T(), suite.transactions(a.ID), pairs*2+1)
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestConflictIsRetried() {
	a := suite.openAccount("Checking", "0")
	flaky := &conflictingRepo{Repository: suite.db, conflicts: new(int32)}
	atomic.StoreInt32(flaky.conflicts, 2)
	svc := NewService(flaky, suite.logger())

	_, err := svc.Record(suite.ctx, suite.user.ID, RecordCommand{
		AccountID: a.ID, Currency: "MXN", Type: models.TransactionCredit, Amount: decimal.NewFromInt(5),
	})
	require.NoError(suite.T(), err)
	suite.assertBalance(a.ID, "5")
	assert.Len(suite.T(), suite.transactions(a.ID), 1, "rolled back attempts must not leave rows")
	assert.Contains(suite.T(), suite.logs.String(), "ledger conflict, retrying")
}

func (suite *LedgerTestSuite) TestConflictSurfacesAfterRetries() {
	a := suite.openAccount("Checking", "0")
	flaky := &conflictingRepo{Repository: suite.db, conflicts: new(int32)}
	atomic.StoreInt32(flaky.conflicts, defaultMaxAttempts)
	svc := NewService(flaky, suite.logger())

	_, err := svc.Record(suite.ctx, suite.user.ID, RecordCommand{
		AccountID: a.ID, Currency: "MXN", Type: models.TransactionCredit, Amount: decimal.NewFromInt(5),
	})
	assert.ErrorIs(suite.T(), err, ErrConflict)
	suite.assertBalance(a.ID, "0")
	assert.Empty(suite.T(), suite.transactions(a.ID))
}

func (suite *LedgerTestSuite) TestCommitFailureIsPartialFailure() {
	a := suite.openAccount("Checking", "0")
	svc := NewService(&commitFailingRepo{Repository: suite.db}, suite.logger())

	_, err := svc.Record(suite.ctx, suite.user.ID, RecordCommand{
		AccountID: a.ID, Currency: "MXN", Type: models.TransactionDebit, Amount: decimal.RequireFromString("12.34"),
	})
	assert.ErrorIs(suite.T(), err, ErrPartialFailure)

	logs := suite.logs.String()
	assert.Contains(suite.T(), logs, "ledger write did not complete")
	assert.Contains(suite.T(), logs, a.ID)
	assert.Contains(suite.T(), logs, "12.34")
}

func (suite *LedgerTestSuite) TestDeleteTransactionCompensatesBalance() {
	a := suite.openAccount("Checking", "100")
	debit := suite.record(a.ID, models.TransactionDebit, "30", "Dinner")

	require.NoError(suite.T(), suite.svc.DeleteTransaction(suite.ctx, suite.user.ID, debit.ID))
	suite.assertBalance(a.ID, "100")
	assert.Len(suite.T(), suite.transactions(a.ID), 1)
	suite.assertLedgerConsistent(a.ID)

	err := suite.svc.DeleteTransaction(suite.ctx, suite.user.ID, debit.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *LedgerTestSuite) TestDeleteRevertedOriginalIsRejected() {
	a := suite.openAccount("Checking", "100")
	credit := suite.record(a.ID, models.TransactionCredit, "50", "Refund")
	_, err := suite.svc.Revert(suite.ctx, suite.user.ID, credit.ID, "")
	require.NoError(suite.T(), err)
	suite.assertBalance(a.ID, "100")

	err = suite.svc.DeleteTransaction(suite.ctx, suite.user.ID, credit.ID)
	assert.ErrorIs(suite.T(), err, ErrNotDeletable)
	suite.assertBalance(a.ID, "100")
	assert.Len(suite.T(), suite.transactions(a.ID), 3)
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestDeleteReversionIsRejected() {
	a := suite.openAccount("Checking", "100")
	credit := suite.record(a.ID, models.TransactionCredit, "50", "Refund")
	result, err := suite.svc.Revert(suite.ctx, suite.user.ID, credit.ID, "")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), result.Reversal)

	err = suite.svc.DeleteTransaction(suite.ctx, suite.user.ID, result.Reversal.ID)
	assert.ErrorIs(suite.T(), err, ErrNotDeletable)
	suite.assertBalance(a.ID, "100")

	original, err := suite.db.FindTransaction(suite.ctx, storage.TransactionFilter{UserID: suite.user.ID, ID: credit.ID})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionInactive, original.Status)
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestRevertAndDeleteLockAccountBeforeTransaction() {
	a := suite.openAccount("Checking", "100")
	first := suite.record(a.ID, models.TransactionCredit, "10", "")
	second := suite.record(a.ID, models.TransactionCredit, "20", "")

	var calls []string
	svc := NewService(&lockOrderRepo{Repository: suite.db, calls: &calls}, suite.logger())

	_, err := svc.Revert(suite.ctx, suite.user.ID, first.ID, "")
	require.NoError(suite.T(), err)
	require.GreaterOrEqual(suite.T(), len(calls), 2)
	assert.Equal(suite.T(), []string{"lock account", "update transaction"}, calls[:2])

	calls = nil
	require.NoError(suite.T(), svc.DeleteTransaction(suite.ctx, suite.user.ID, second.ID))
	assert.Equal(suite.T(), []string{"lock account", "delete transaction"}, calls)
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestRecordRejectsOversizedAmounts() {
	a := suite.openAccount("Checking", "100")

	tests := []struct {
		name   string
		amount string
	}{
		{"huge exponent", "1e5000000"},
		{"too many integer digits", "1234567890123456"},
		{"tiny exponent", "1e-5000000"},
		{"too many decimal places", "0.00001"},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.svc.Record(suite.ctx, suite.user.ID, RecordCommand{
				AccountID: a.ID, Currency: "MXN", Type: models.TransactionCredit,
				Amount: decimal.RequireFromString(tt.amount),
			})
			var verr *ValidationError
			require.ErrorAs(suite.T(), err, &verr)
			assert.Equal(suite.T(), "amount", verr.Field)
		})
	}

	suite.record(a.ID, models.TransactionCredit, "999999999999999.9999", "largest")
	suite.record(a.ID, models.TransactionDebit, "0.50000000", "trailing zeros")
	assert.Len(suite.T(), suite.transactions(a.ID), 3)
	suite.assertLedgerConsistent(a.ID)
}

func (suite *LedgerTestSuite) TestOpenAccountRejectsOversizedMoney() {
	_, err := suite.svc.OpenAccount(suite.ctx, suite.user.ID, OpenAccountCommand{
		Name: "Savings", Type: "DEBIT", Currency: "MXN", OpeningBalance: decimal.RequireFromString("-1e40"),
	})
	var verr *ValidationError
	require.ErrorAs(suite.T(), err, &verr)
	assert.Equal(suite.T(), "current_balance", verr.Field)

	limit := decimal.RequireFromString("1e5000000")
	_, err = suite.svc.OpenAccount(suite.ctx, suite.user.ID, OpenAccountCommand{
		Name: "Card", Type: "CREDIT", Currency: "MXN", CreditCardLimit: &limit,
	})
	require.ErrorAs(suite.T(), err, &verr)
	assert.Equal(suite.T(), "credit_card_limit", verr.Field)

	accounts, err := suite.db.ListAccounts(suite.ctx, suite.user.ID, storage.AccountListFilter{})
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), accounts)
}

func (suite *LedgerTestSuite) TestOpenAccountWithNegativeBalance() {
	limit := decimal.NewFromInt(20000)
	day := 12
	a, err := suite.svc.OpenAccount(suite.ctx, suite.user.ID, OpenAccountCommand{
		Name:            "Credit card",
		Type:            "CREDIT",
		Currency:        "USD",
		OpeningBalance:  decimal.RequireFromString("-250.50"),
		CreditCardLimit: &limit,
		CutOffDay:       &day,
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.AccountStatusActive, a.Status)
	assert.True(suite.T(), a.CurrentBalance.Equal(decimal.RequireFromString("-250.50")))

	list := suite.transactions(a.ID)
	require.Len(suite.T(), list, 1)
	assert.Equal(suite.T(), models.TransactionDebit, list[0].Type)
	assert.True(suite.T(), list[0].Amount.Equal(decimal.RequireFromString("250.50")))
}

func (suite *LedgerTestSuite) TestOpenAccountValidation() {
	day := 32
	_, err := suite.svc.OpenAccount(suite.ctx, suite.user.ID, OpenAccountCommand{
		Name: "Card", Type: "CREDIT", Currency: "USD", PaymentDay: &day,
	})
	var verr *ValidationError
	require.ErrorAs(suite.T(), err, &verr)
	assert.Equal(suite.T(), "payment_day", verr.Field)

	accounts, err := suite.db.ListAccounts(suite.ctx, suite.user.ID, storage.AccountListFilter{})
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), accounts)
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

// conflictingRepo reports a lost compare-and-swap for the first *conflicts
// balance writes.
type conflictingRepo struct {
	storage.Repository
	conflicts *int32
}

func (r *conflictingRepo) WithTx(ctx context.Context, fn func(storage.Repository) error) error {
	return r.Repository.WithTx(ctx, func(tx storage.Repository) error {
		return fn(&conflictingRepo{Repository: tx, conflicts: r.conflicts})
	})
}

func (r *conflictingRepo) UpdateAccountBalance(ctx context.Context, userID, accountID string, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	if atomic.AddInt32(r.conflicts, -1) >= 0 {
		return 0, nil
	}
	return r.Repository.UpdateAccountBalance(ctx, userID, accountID, balance, expectedVersion)
}

var errDiscard = errors.New("discard")

// commitFailingRepo runs fn, throws its writes away and reports a failed commit.
type commitFailingRepo struct {
	storage.Repository
}

func (r *commitFailingRepo) WithTx(ctx context.Context, fn func(storage.Repository) error) error {
	err := r.Repository.WithTx(ctx, func(tx storage.Repository) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errDiscard
	})
	if errors.Is(err, errDiscard) {
		return &storage.TxError{Op: "commit", Err: errors.New("connection reset by peer")}
	}
	return err
}

// lockOrderRepo records the row writes and row locks taken inside commit scopes.
type lockOrderRepo struct {
	storage.Repository
	calls *[]string
}

func (r *lockOrderRepo) WithTx(ctx context.Context, fn func(storage.Repository) error) error {
	return r.Repository.WithTx(ctx, func(tx storage.Repository) error {
		return fn(&lockOrderRepo{Repository: tx, calls: r.calls})
	})
}

func (r *lockOrderRepo) FindAccount(ctx context.Context, f storage.AccountFilter) (*models.Account, error) {
	if f.ForUpdate {
		*r.calls = append(*r.calls, "lock account")
	}
	return r.Repository.FindAccount(ctx, f)
}

func (r *lockOrderRepo) UpdateTransactionFields(ctx context.Context, userID, transactionID string, p storage.TransactionPatch) (int64, error) {
	*r.calls = append(*r.calls, "update transaction")
	return r.Repository.UpdateTransactionFields(ctx, userID, transactionID, p)
}

func (r *lockOrderRepo) DeleteTransaction(ctx context.Context, userID, transactionID string) (int64, error) {
	*r.calls = append(*r.calls, "delete transaction")
	return r.Repository.DeleteTransaction(ctx, userID, transactionID)
}
