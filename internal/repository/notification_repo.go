package repository

import (
	"context"
	"database/sql"
	"fmt"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const notificationColumns = `n.id, n.from_id, n.to_id, n.post_id, n.type, n.message, n.read, n.created_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, r.db, n)
}

// insertNotification runs against the pool or inside a relationship transaction.
func insertNotification(ctx context.Context, q execer, n *domain.Notification) error {
	postID := uuid.NullUUID{}
	if n.PostID != nil {
		postID = uuid.NullUUID{UUID: *n.PostID, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO notifications (id, from_id, to_id, post_id, type, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.FromID, n.ToID, postID, n.Type, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListNotifications(ctx context.Context, userID uuid.UUID) ([]*domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`, u.username, u.full_name, u.avatar_img
		FROM notifications n
		JOIN users u ON u.id = n.from_id
		WHERE n.to_id = $1
		ORDER BY n.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var postID uuid.NullUUID
		var from domain.UserSummary
		if err := rows.Scan(&n.ID, &n.FromID, &n.ToID, &postID, &n.Type, &n.Message, &n.Read, &n.CreatedAt,
			&from.Username, &from.FullName, &from.AvatarImg); err != nil {
			return nil, err
		}
		if postID.Valid {
			n.PostID = lo.ToPtr(postID.UUID)
		}
		from.ID = n.FromID
		n.From = &from
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (r *NotificationRepository) MarkNotificationsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE to_id = $1 AND read = FALSE AND id = ANY($2::uuid[])
	`, userID, pq.Array(lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })))
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE to_id = $1 AND read = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (r *NotificationRepository) ScanNotifications(ctx context.Context, after uuid.UUID, limit int) ([]*domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications n
		WHERE n.id > $1
		ORDER BY n.id ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var postID uuid.NullUUID
		if err := rows.Scan(&n.ID, &n.FromID, &n.ToID, &postID, &n.Type, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if postID.Valid {
			n.PostID = lo.ToPtr(postID.UUID)
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (r *NotificationRepository) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}
