package storage

import (
	"context"

	"finance-tracker/internal/models"
)

// SaveTransaction appends a transaction to the ledger.
func (db *DB) SaveTransaction(ctx context.Context, t *models.AccountTransaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = db.now()
	}
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO account_transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.UserID, t.Currency, string(t.Type), t.Amount.String(), t.CurrentBalance.String(),
		t.Note, string(t.Status), t.IsReversion, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// FindTransaction retrieves one transaction owned by f.UserID.
func (db *DB) FindTransaction(ctx context.Context, f TransactionFilter) (*models.AccountTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM account_transactions WHERE id = ? AND user_id = ?`
	args := []any{f.ID, f.UserID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}

	t, err := scanTransaction(db.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ListTransactions retrieves an account's transactions in insertion order.
func (db *DB) ListTransactions(ctx context.Context, userID, accountID string, f TransactionListFilter) ([]models.AccountTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM account_transactions WHERE account_id = ? AND user_id = ?`
	args := []any{accountID, userID}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Search != "" {
		query += ` AND unicode_lower(note) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.Search))
	}
	query += ` ORDER BY seq`

	rows, err := db.q.QueryContext(ctx, query, args...)
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
func (db *DB) UpdateTransactionFields(ctx context.Context, userID, transactionID string, p TransactionPatch) (int64, error) {
	set := transactionSet(p, db.now())
	query := `UPDATE account_transactions SET ` + set.clause(sqlitePlaceholder) + ` WHERE id = ? AND user_id = ?`
	args := append(set.args, transactionID, userID)
	if p.FromStatus != "" {
		query += ` AND status = ?`
		args = append(args, string(p.FromStatus))
	}
	return affected(db.q.ExecContext(ctx, query, args...))
}

// DeleteTransaction removes the user's transaction. It does not touch the account balance.
func (db *DB) DeleteTransaction(ctx context.Context, userID, transactionID string) (int64, error) {
	return affected(db.q.ExecContext(ctx,
		`DELETE FROM account_transactions WHERE id = ? AND user_id = ?`, transactionID, userID,
	))
}
