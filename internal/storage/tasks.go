package storage

import (
	"context"

	"finance-tracker/internal/models"
)

// CreateTask inserts a task.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = db.now()
	}
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// FindTask retrieves one of the user's tasks.
func (db *DB) FindTask(ctx context.Context, userID, id string) (*models.Task, error) {
	t, err := scanTask(db.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ListTasks retrieves the user's tasks in creation order.
func (db *DB) ListTasks(ctx context.Context, userID string, f TaskListFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Search != "" {
		pattern := likePattern(f.Search)
		query += ` AND (unicode_lower(title) LIKE ? ESCAPE '\' OR unicode_lower(description) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.q.QueryContext(ctx, query, args...)
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
func (db *DB) UpdateTaskFields(ctx context.Context, userID, id string, p TaskPatch) (int64, error) {
	set := taskSet(p, db.now())
	args := append(set.args, id, userID)
	return affected(db.q.ExecContext(ctx,
		`UPDATE tasks SET `+set.clause(sqlitePlaceholder)+` WHERE id = ? AND user_id = ?`,
		args...,
	))
}

// DeleteTask removes the user's task.
func (db *DB) DeleteTask(ctx context.Context, userID, id string) (int64, error) {
	return affected(db.q.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID,
	))
}
