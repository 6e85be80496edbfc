package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"finance-tracker/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a lookup matches no row in the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("already exists")
)

// TxError reports a failure to finish a commit scope after its writes ran.
// Op is "commit" or "rollback".
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string { return fmt.Sprintf("%s failed: %v", e.Op, e.Err) }

func (e *TxError) Unwrap() error { return e.Err }

// AccountFilter selects a single account. UserID and ID are required.
type AccountFilter struct {
	UserID string
	ID     string
	Status models.AccountStatus
	// ForUpdate locks the row for the rest of the enclosing transaction
	// on engines that support row locks.
	ForUpdate bool
}

// AccountListFilter narrows ListAccounts. Zero values match everything.
type AccountListFilter struct {
	Status models.AccountStatus
	Search string
}

// AccountPatch holds the editable account fields. Nil fields are left untouched.
type AccountPatch struct {
	Name            *string
	Type            *string
	Currency        *string
	Color           *string
	CreditCardLimit *decimal.Decimal
	CutOffDay       *int
	PaymentDay      *int
	Status          *models.AccountStatus
}

// TransactionFilter selects a single transaction. UserID and ID are required.
type TransactionFilter struct {
	UserID string
	ID     string
	Status models.TransactionStatus
}

// TransactionListFilter narrows ListTransactions. Search is a
// case-insensitive substring match against the note.
type TransactionListFilter struct {
	Type   models.TransactionType
	Status models.TransactionStatus
	Search string
}

// TransactionPatch holds the editable transaction fields. updated_at is always stamped.
// When FromStatus is set the update only applies to a row currently in that status.
type TransactionPatch struct {
	Currency   *string
	Note       *string
	Status     *models.TransactionStatus
	FromStatus models.TransactionStatus
}

// TaskListFilter narrows ListTasks. Search matches title or description.
type TaskListFilter struct {
	Status models.TaskStatus
	Search string
}

// TaskPatch holds the editable task fields.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *models.TaskStatus
}

// Repository is the persistence contract shared by the SQLite and Postgres stores.
// Every write is scoped by the owning user id; a write that matches no row
// reports zero affected rows instead of an error.
type Repository interface {
	// WithTx runs fn inside a single commit scope. If fn returns an error
	// every write made through the Repository passed to fn is rolled back.
	WithTx(ctx context.Context, fn func(Repository) error) error
	Close() error

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UserCount(ctx context.Context) (int, error)

	SaveAccount(ctx context.Context, a *models.Account) error
	FindAccount(ctx context.Context, f AccountFilter) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string, f AccountListFilter) ([]models.Account, error)
	UpdateAccountFields(ctx context.Context, userID, accountID string, p AccountPatch) (int64, error)
	// UpdateAccountBalance stores a new balance only if the stored version
	// still equals expectedVersion, bumping the version on success.
	UpdateAccountBalance(ctx context.Context, userID, accountID string, balance decimal.Decimal, expectedVersion int64) (int64, error)
	DeleteAccount(ctx context.Context, userID, accountID string) (int64, error)

	SaveTransaction(ctx context.Context, t *models.AccountTransaction) error
	FindTransaction(ctx context.Context, f TransactionFilter) (*models.AccountTransaction, error)
	ListTransactions(ctx context.Context, userID, accountID string, f TransactionListFilter) ([]models.AccountTransaction, error)
	UpdateTransactionFields(ctx context.Context, userID, transactionID string, p TransactionPatch) (int64, error)
	DeleteTransaction(ctx context.Context, userID, transactionID string) (int64, error)

	CreateTask(ctx context.Context, t *models.Task) error
	FindTask(ctx context.Context, userID, id string) (*models.Task, error)
	ListTasks(ctx context.Context, userID string, f TaskListFilter) ([]models.Task, error)
	UpdateTaskFields(ctx context.Context, userID, id string, p TaskPatch) (int64, error)
	DeleteTask(ctx context.Context, userID, id string) (int64, error)
}

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const (
	userColumns        = "id, username, name, password_hash, status, created_at"
	accountColumns     = "id, user_id, name, type, currency, current_balance, color, credit_card_limit, cut_off_day, payment_day, status, version, created_at, updated_at"
	transactionColumns = "id, account_id, user_id, currency, type, amount, current_balance, note, status, is_reversion, created_at, updated_at"
	taskColumns        = "id, user_id, title, description, status, created_at, updated_at"
)

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.PasswordHash, &u.Status, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a          models.Account
		limit      decimal.NullDecimal
		cutOff     sql.NullInt64
		paymentDay sql.NullInt64
		updatedAt  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Currency, &a.CurrentBalance, &a.Color,
		&limit, &cutOff, &paymentDay, &a.Status, &a.Version, &a.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		a.CreditCardLimit = &limit.Decimal
	}
	a.CutOffDay = intPtr(cutOff)
	a.PaymentDay = intPtr(paymentDay)
	a.UpdatedAt = timePtr(updatedAt)
	return &a, nil
}

func scanTransaction(row rowScanner) (*models.AccountTransaction, error) {
	var (
		t         models.AccountTransaction
		updatedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Currency, &t.Type, &t.Amount, &t.CurrentBalance,
		&t.Note, &t.Status, &t.IsReversion, &t.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt = timePtr(updatedAt)
	return &t, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t         models.Task
		updatedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	t.UpdatedAt = timePtr(updatedAt)
	return &t, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

// likePattern turns a free-text search into a LIKE pattern matched with ESCAPE '\'.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(search)) + "%"
}

// setBuilder accumulates "column = ?" assignments for a partial update.
type setBuilder struct {
	columns []string
	args    []any
}

func (b *setBuilder) add(column string, value any) {
	b.columns = append(b.columns, column)
	b.args = append(b.args, value)
}

// clause renders the assignments using placeholder(i) for the i-th argument (1-based).
func (b *setBuilder) clause(placeholder func(int) string) string {
	parts := make([]string, len(b.columns))
	for i, c := range b.columns {
		parts[i] = c + " = " + placeholder(i+1)
	}
	return strings.Join(parts, ", ")
}

func accountSet(p AccountPatch, now time.Time) *setBuilder {
	b := &setBuilder{}
	if p.Name != nil {
		b.add("name", *p.Name)
	}
	if p.Type != nil {
		b.add("type", *p.Type)
	}
	if p.Currency != nil {
		b.add("currency", *p.Currency)
	}
	if p.Color != nil {
		b.add("color", *p.Color)
	}
	if p.CreditCardLimit != nil {
		b.add("credit_card_limit", p.CreditCardLimit.String())
	}
	if p.CutOffDay != nil {
		b.add("cut_off_day", int64(*p.CutOffDay))
	}
	if p.PaymentDay != nil {
		b.add("payment_day", int64(*p.PaymentDay))
	}
	if p.Status != nil {
		b.add("status", string(*p.Status))
	}
	b.add("updated_at", now)
	return b
}

func transactionSet(p TransactionPatch, now time.Time) *setBuilder {
	b := &setBuilder{}
	if p.Currency != nil {
		b.add("currency", *p.Currency)
	}
	if p.Note != nil {
		b.add("note", *p.Note)
	}
	if p.Status != nil {
		b.add("status", string(*p.Status))
	}
	b.add("updated_at", now)
	return b
}

func taskSet(p TaskPatch, now time.Time) *setBuilder {
	b := &setBuilder{}
	if p.Title != nil {
		b.add("title", *p.Title)
	}
	if p.Description != nil {
		b.add("description", *p.Description)
	}
	if p.Status != nil {
		b.add("status", string(*p.Status))
	}
	b.add("updated_at", now)
	return b
}
