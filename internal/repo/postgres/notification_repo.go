package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepo struct {
	pool *pgxpool.Pool
}

type NotificationRecord struct {
	ID        int64
	UserID    int64
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) Create(ctx context.Context, userID int64, message string) (NotificationRecord, error) {
	if r.pool == nil {
		return NotificationRecord{}, fmt.Errorf("postgres pool is nil")
	}
	message = strings.TrimSpace(message)
	if userID <= 0 || message == "" {
		return NotificationRecord{}, fmt.Errorf("invalid notification payload")
	}

	rec, err := scanNotificationRow(r.pool.QueryRow(ctx, `
INSERT INTO notifications (user_id, message, is_read, created_at)
VALUES ($1, $2, FALSE, NOW())
RETURNING id, user_id, message, is_read, created_at
`, userID, message))
	if err != nil {
		return NotificationRecord{}, fmt.Errorf("create notification: %w", err)
	}
	return rec, nil
}

func (r *NotificationRepo) ListUnread(ctx context.Context, userID int64, limit int) ([]NotificationRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, message, is_read, created_at
FROM notifications
WHERE user_id = $1
  AND is_read = FALSE
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		rec, err := scanNotificationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID, userID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE notifications
SET is_read = TRUE
WHERE id = $1
  AND user_id = $2
`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func scanNotificationRow(row pgx.Row) (NotificationRecord, error) {
	var rec NotificationRecord
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Message,
		&rec.IsRead,
		&rec.CreatedAt,
	); err != nil {
		return NotificationRecord{}, err
	}
	return rec, nil
}
