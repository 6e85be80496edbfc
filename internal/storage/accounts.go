package storage

import (
	"context"
	"fmt"

	"finance-tracker/internal/models"

	"github.com/shopspring/decimal"
)

// SaveAccount inserts a new account. CreatedAt is stamped when unset.
func (db *DB) SaveAccount(ctx context.Context, a *models.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = db.now()
	}
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Type, a.Currency, a.CurrentBalance.String(), a.Color,
		nullableDecimal(a.CreditCardLimit), nullableInt(a.CutOffDay), nullableInt(a.PaymentDay),
		string(a.Status), a.Version, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// FindAccount retrieves one account owned by f.UserID.
func (db *DB) FindAccount(ctx context.Context, f AccountFilter) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ? AND user_id = ?`
	args := []any{f.ID, f.UserID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}

	a, err := scanAccount(db.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListAccounts retrieves the user's accounts in creation order.
func (db *DB) ListAccounts(ctx context.Context, userID string, f AccountListFilter) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Search != "" {
		query += ` AND unicode_lower(name) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.Search))
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.q.QueryContext(ctx, query, args...)
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
func (db *DB) UpdateAccountFields(ctx context.Context, userID, accountID string, p AccountPatch) (int64, error) {
	set := accountSet(p, db.now())
	args := append(set.args, accountID, userID)
	return affected(db.q.ExecContext(ctx,
		`UPDATE accounts SET `+set.clause(sqlitePlaceholder)+` WHERE id = ? AND user_id = ?`,
		args...,
	))
}

// UpdateAccountBalance stores balance if the row is still at expectedVersion.
func (db *DB) UpdateAccountBalance(ctx context.Context, userID, accountID string, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	return affected(db.q.ExecContext(ctx,
		`UPDATE accounts SET current_balance = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND user_id = ? AND version = ?`,
		balance.String(), db.now(), accountID, userID, expectedVersion,
	))
}

// DeleteAccount removes the account and, through the foreign key, its transactions.
func (db *DB) DeleteAccount(ctx context.Context, userID, accountID string) (int64, error) {
	n, err := affected(db.q.ExecContext(ctx,
		`DELETE FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID,
	))
	if err != nil {
		return 0, fmt.Errorf("delete account: %w", err)
	}
	return n, nil
}
