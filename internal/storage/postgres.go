package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"finance-tracker/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is a Repository backed by a Postgres connection pool.
type PG struct {
	pool *pgxpool.Pool
	q    pgQuerier
	now  func() time.Time
}

// NewPG connects to databaseURL, verifies the connection and runs migrations.
func NewPG(ctx context.Context, databaseURL string) (*PG, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 0
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	pg := &PG{pool: pool, q: pool, now: utcNow}
	if err := pg.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, nil
}

func (pg *PG) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(100) UNIQUE NOT NULL,
			name VARCHAR(100) NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(250) NOT NULL,
			type VARCHAR(100) NOT NULL,
			currency VARCHAR(5) NOT NULL,
			current_balance NUMERIC NOT NULL DEFAULT 0,
			color VARCHAR(20) NOT NULL DEFAULT '',
			credit_card_limit NUMERIC,
			cut_off_day INTEGER,
			payment_day INTEGER,
			status VARCHAR(20) NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`,
		`CREATE TABLE IF NOT EXISTS account_transactions (
			seq BIGSERIAL PRIMARY KEY,
			id UUID UNIQUE NOT NULL,
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			currency VARCHAR(5) NOT NULL,
			type VARCHAR(10) NOT NULL,
			amount NUMERIC NOT NULL CHECK (amount > 0),
			current_balance NUMERIC NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			is_reversion BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_account_transactions_account ON account_transactions(account_id, seq)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ
		)`,
	}
	for _, m := range migrations {
		if _, err := pg.pool.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn inside a pgx transaction. Nested calls reuse the enclosing transaction.
func (pg *PG) WithTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := pg.q.(pgx.Tx); ok {
		return fn(pg)
	}

	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&PG{pool: pg.pool, q: tx, now: pg.now}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, &TxError{Op: "rollback", Err: rbErr})
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TxError{Op: "commit", Err: err}
	}
	return nil
}

// Close releases every pooled connection.
func (pg *PG) Close() error {
	pg.pool.Close()
	return nil
}

// Truncate empties every table. Intended for tests.
func (pg *PG) Truncate(ctx context.Context) error {
	_, err := pg.pool.Exec(ctx, `TRUNCATE tasks, account_transactions, accounts, users`)
	return err
}

func pgPlaceholder(i int) string { return "$" + strconv.Itoa(i) }

// validIDs reports whether every id parses as a UUID. Any other string
// cannot match a row, and would fail to cast against the UUID columns.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); len(id) != 36 || err != nil {
			return false
		}
	}
	return true
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func pgAffected(tag pgconn.CommandTag, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateUser inserts a user. A taken username yields ErrDuplicate.
func (pg *PG) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = pg.now()
	}
	if u.Status == "" {
		u.Status = models.UserStatusActive
	}
	_, err := pg.q.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Name, u.PasswordHash, string(u.Status), u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// GetUserByID retrieves a user by ID.
func (pg *PG) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if !validIDs(id) {
		return nil, ErrNotFound
	}
	u, err := scanUser(pg.q.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (pg *PG) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(pg.q.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, pgNotFound(err)
	}
	return u, nil
}

// UserCount returns the number of users.
func (pg *PG) UserCount(ctx context.Context) (int, error) {
	var count int
	err := pg.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// SaveAccount inserts a new account.
func (pg *PG) SaveAccount(ctx context.Context, a *models.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = pg.now()
	}
	_, err := pg.q.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.UserID, a.Name, a.Type, a.Currency, a.CurrentBalance.String(), a.Color,
		nullableDecimal(a.CreditCardLimit), nullableInt(a.CutOffDay), nullableInt(a.PaymentDay),
		string(a.Status), a.Version, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// FindAccount retrieves one account owned by f.UserID, locking it when f.ForUpdate is set.
func (pg *PG) FindAccount(ctx context.Context, f AccountFilter) (*models.Account, error) {
	if !validIDs(f.ID, f.UserID) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + pgAccountColumns + ` FROM accounts WHERE id = $1 AND user_id = $2`
	args := []any{f.ID, f.UserID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}
	if f.ForUpdate {
		query += ` FOR UPDATE`
	}

	a, err := scanAccount(pg.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, pgNotFound(err)
	}
	return a, nil
}

// ListAccounts retrieves the user's accounts in creation order.
func (pg *PG) ListAccounts(ctx context.Context, userID string, f AccountListFilter) ([]models.Account, error) {
	if !validIDs(userID) {
		return []models.Account{}, nil
	}
	query := `SELECT ` + pgAccountColumns + ` FROM accounts WHERE user_id = $1`
	args := []any{userID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}
	if f.Search != "" {
		args = append(args, likePattern(f.Search))
		query += ` AND LOWER(name) LIKE ` + pgPlaceholder(len(args)) + ` ESCAPE '\'`
	}
	query += ` ORDER BY created_at, id`

	rows, err := pg.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccountFields applies a partial update to the user's account.
func (pg *PG) UpdateAccountFields(ctx context.Context, userID, accountID string, p AccountPatch) (int64, error) {
	if !validIDs(userID, accountID) {
		return 0, nil
	}
	set := accountSet(p, pg.now())
	n := len(set.args)
	args := append(set.args, accountID, userID)
	return pgAffected(pg.q.Exec(ctx,
		`UPDATE accounts SET `+set.clause(pgPlaceholder)+
			` WHERE id = `+pgPlaceholder(n+1)+` AND user_id = `+pgPlaceholder(n+2),
		args...,
	))
}

// UpdateAccountBalance stores balance if the row is still at expectedVersion.
func (pg *PG) UpdateAccountBalance(ctx context.Context, userID, accountID string, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	if !validIDs(userID, accountID) {
		return 0, nil
	}
	return pgAffected(pg.q.Exec(ctx,
		`UPDATE accounts SET current_balance = $1, version = version + 1, updated_at = $2
		 WHERE id = $3 AND user_id = $4 AND version = $5`,
		balance.String(), pg.now(), accountID, userID, expectedVersion,
	))
}

// DeleteAccount removes the account and its transactions.
func (pg *PG) DeleteAccount(ctx context.Context, userID, accountID string) (int64, error) {
	if !validIDs(userID, accountID) {
		return 0, nil
	}
	return pgAffected(pg.q.Exec(ctx,
		`DELETE FROM accounts WHERE id = $1 AND user_id = $2`, accountID, userID,
	))
}

// SaveTransaction appends a transaction to the ledger.
func (pg *PG) SaveTransaction(ctx context.Context, t *models.AccountTransaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = pg.now()
	}
	_, err := pg.q.Exec(ctx,
		`INSERT INTO account_transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.AccountID, t.UserID, t.Currency, string(t.Type), t.Amount.String(), t.CurrentBalance.String(),
		t.Note, string(t.Status), t.IsReversion, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// FindTransaction retrieves one transaction owned by f.UserID.
func (pg *PG) FindTransaction(ctx context.Context, f TransactionFilter) (*models.AccountTransaction, error) {
	if !validIDs(f.ID, f.UserID) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + pgTransactionColumns + ` FROM account_transactions WHERE id = $1 AND user_id = $2`
	args := []any{f.ID, f.UserID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}

	t, err := scanTransaction(pg.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, pgNotFound(err)
	}
	return t, nil
}

// ListTransactions retrieves an account's transactions in insertion order.
func (pg *PG) ListTransactions(ctx context.Context, userID, accountID string, f TransactionListFilter) ([]models.AccountTransaction, error) {
	if !validIDs(userID, accountID) {
		return []models.AccountTransaction{}, nil
	}
	query := `SELECT ` + pgTransactionColumns + ` FROM account_transactions WHERE account_id = $1 AND user_id = $2`
	args := []any{accountID, userID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += ` AND type = ` + pgPlaceholder(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}
	if f.Search != "" {
		args = append(args, likePattern(f.Search))
		query += ` AND LOWER(note) LIKE ` + pgPlaceholder(len(args)) + ` ESCAPE '\'`
	}
	query += ` ORDER BY seq`

	rows, err := pg.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.AccountTransaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// UpdateTransactionFields applies a partial update to the user's transaction.
func (pg *PG) UpdateTransactionFields(ctx context.Context, userID, transactionID string, p TransactionPatch) (int64, error) {
	if !validIDs(userID, transactionID) {
		return 0, nil
	}
	set := transactionSet(p, pg.now())
	n := len(set.args)
	args := append(set.args, transactionID, userID)
	query := `UPDATE account_transactions SET ` + set.clause(pgPlaceholder) +
		` WHERE id = ` + pgPlaceholder(n+1) + ` AND user_id = ` + pgPlaceholder(n+2)
	if p.FromStatus != "" {
		args = append(args, string(p.FromStatus))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}
	return pgAffected(pg.q.Exec(ctx, query, args...))
}

// DeleteTransaction removes the user's transaction.
func (pg *PG) DeleteTransaction(ctx context.Context, userID, transactionID string) (int64, error) {
	if !validIDs(userID, transactionID) {
		return 0, nil
	}
	return pgAffected(pg.q.Exec(ctx,
		`DELETE FROM account_transactions WHERE id = $1 AND user_id = $2`, transactionID, userID,
	))
}

// CreateTask inserts a task.
func (pg *PG) CreateTask(ctx context.Context, t *models.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = pg.now()
	}
	_, err := pg.q.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Title, t.Description, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// FindTask retrieves one of the user's tasks.
func (pg *PG) FindTask(ctx context.Context, userID, id string) (*models.Task, error) {
	if !validIDs(userID, id) {
		return nil, ErrNotFound
	}
	t, err := scanTask(pg.q.QueryRow(ctx,
		`SELECT `+pgTaskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID,
	))
	if err != nil {
		return nil, pgNotFound(err)
	}
	return t, nil
}

// ListTasks retrieves the user's tasks in creation order.
func (pg *PG) ListTasks(ctx context.Context, userID string, f TaskListFilter) ([]models.Task, error) {
	if !validIDs(userID) {
		return []models.Task{}, nil
	}
	query := `SELECT ` + pgTaskColumns + ` FROM tasks WHERE user_id = $1`
	args := []any{userID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}
	if f.Search != "" {
		args = append(args, likePattern(f.Search))
		p := pgPlaceholder(len(args))
		query += ` AND (LOWER(title) LIKE ` + p + ` ESCAPE '\' OR LOWER(description) LIKE ` + p + ` ESCAPE '\')`
	}
	query += ` ORDER BY created_at, id`

	rows, err := pg.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTaskFields applies a partial update to the user's task.
func (pg *PG) UpdateTaskFields(ctx context.Context, userID, id string, p TaskPatch) (int64, error) {
	if !validIDs(userID, id) {
		return 0, nil
	}
	set := taskSet(p, pg.now())
	n := len(set.args)
	args := append(set.args, id, userID)
	return pgAffected(pg.q.Exec(ctx,
		`UPDATE tasks SET `+set.clause(pgPlaceholder)+
			` WHERE id = `+pgPlaceholder(n+1)+` AND user_id = `+pgPlaceholder(n+2),
		args...,
	))
}

// DeleteTask removes the user's task.
func (pg *PG) DeleteTask(ctx context.Context, userID, id string) (int64, error) {
	if !validIDs(userID, id) {
		return 0, nil
	}
	return pgAffected(pg.q.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID,
	))
}

// Postgres column lists render UUID and NUMERIC columns as text so the shared
// scanners see the same shapes SQLite produces.
const (
	pgUserColumns        = "id::text, username, name, password_hash, status, created_at"
	pgAccountColumns     = "id::text, user_id::text, name, type, currency, current_balance::text, color, credit_card_limit::text, cut_off_day, payment_day, status, version, created_at, updated_at"
	pgTransactionColumns = "id::text, account_id::text, user_id::text, currency, type, amount::text, current_balance::text, note, status, is_reversion, created_at, updated_at"
	pgTaskColumns        = "id::text, user_id::text, title, description, status, created_at, updated_at"
)
