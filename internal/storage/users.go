package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned when a write hits a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate key")

const userColumns = `uid, name, points, is_ai, status, telegram_id, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	var telegramID sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&u.UID, &u.Name, &u.Points, &u.IsAI, &u.Status, &telegramID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.TelegramID = telegramID.Int64
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func nullTelegramID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// CreateUser inserts a user. Name or telegram_id collisions return ErrDuplicate.
func (q *Queries) CreateUser(ctx context.Context, u *User) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (uid, name, points, is_ai, status, telegram_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.UID, u.Name, u.Points, u.IsAI, u.Status, nullTelegramID(u.TelegramID), toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	if IsUniqueViolation(err) {
		return fmt.Errorf("failed to insert user %q: %w", u.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by uid; nil when absent
func (q *Queries) GetUser(ctx context.Context, uid string) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = ?`, uid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by uid: %w", err)
	}
	return u, nil
}

// GetUserByName retrieves a user by name; nil when absent
func (q *Queries) GetUserByName(ctx context.Context, name string) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by name: %w", err)
	}
	return u, nil
}

// GetUserByTelegramID retrieves a user by their Telegram ID; nil when absent
func (q *Queries) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by telegram_id: %w", err)
	}
	return u, nil
}

// SoftDeleteUser renames an active user to tombstone and marks it deleted.
// Returns false when the user is absent or already deleted.
func (q *Queries) SoftDeleteUser(ctx context.Context, uid, tombstone string, now time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE users
		SET name = ?, status = ?, telegram_id = NULL, updated_at = ?
		WHERE uid = ? AND status = ?
	`, tombstone, UserStatusDeleted, toMillis(now), uid, UserStatusActive)
	if IsUniqueViolation(err) {
		return false, fmt.Errorf("failed to delete user: %w", ErrDuplicate)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// DebitPoints subtracts amount only if the balance covers it.
// Returns false when the balance is short or the user is not active.
func (q *Queries) DebitPoints(ctx context.Context, uid string, amount int64, now time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE users
		SET points = points - ?, updated_at = ?
		WHERE uid = ? AND status = ? AND points >= ?
	`, amount, toMillis(now), uid, UserStatusActive, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit user %s: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CreditPoints adds amount to a user's balance
func (q *Queries) CreditPoints(ctx context.Context, uid string, amount int64, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE users
		SET points = points + ?, updated_at = ?
		WHERE uid = ?
	`, amount, toMillis(now), uid)
	if err != nil {
		return fmt.Errorf("failed to credit user %s: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("failed to credit user %s: user not found", uid)
	}
	return nil
}

// InsertTransaction journals a point movement
func (q *Queries) InsertTransaction(ctx context.Context, uid string, amount int64, sourceType, description string, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO transactions (user_uid, amount, source_type, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uid, amount, sourceType, description, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to log %s transaction: %w", sourceType, err)
	}
	return nil
}

// ListTransactions returns a user's point movements, newest first
func (q *Queries) ListTransactions(ctx context.Context, uid string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_uid, amount, source_type, COALESCE(description, ''), created_at
		FROM transactions
		WHERE user_uid = ?
		ORDER BY id DESC
		LIMIT ?
	`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserUID, &t.Amount, &t.SourceType, &t.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.CreatedAt = fromMillis(createdAt)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}
