package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const messageColumns = `id, from_id, to_id, content, media_url, type, status, created_at`

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// CreateMessage is idempotent on the message id so a retried send never duplicates a row.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.FromID, msg.ToID, msg.Content, msg.MediaURL, msg.Type, msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetConversation(ctx context.Context, a, b uuid.UUID) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)
		ORDER BY created_at ASC, id ASC
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *ChatRepository) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_id, COUNT(*)
		FROM messages
		WHERE to_id = $1 AND status <> 'read'
		GROUP BY from_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var from uuid.UUID
		var n int
		if err := rows.Scan(&from, &n); err != nil {
			return nil, err
		}
		counts[from] = n
	}
	return counts, rows.Err()
}

func (r *ChatRepository) MarkMessageRead(ctx context.Context, messageID, senderID, readerID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE id = $1 AND from_id = $2 AND to_id = $3 AND status <> 'read'
	`, messageID, senderID, readerID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND from_id = $2 AND to_id = $3)
	`, messageID, senderID, readerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// MarkConversationRead runs as a single statement, so rows inserted after it
// starts are invisible to it; the cutoff additionally excludes rows committed
// between the caller taking the cutoff and the statement running.
func (r *ChatRepository) MarkConversationRead(ctx context.Context, senderID, readerID uuid.UUID, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE from_id = $1 AND to_id = $2 AND status <> 'read' AND created_at <= $3
		RETURNING id
	`, senderID, readerID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ChatRepository) EditMessage(ctx context.Context, messageID, senderID uuid.UUID, content string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE messages SET content = $3
		WHERE id = $1 AND from_id = $2
		RETURNING `+messageColumns,
		messageID, senderID, content)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	return msg, nil
}

func (r *ChatRepository) ClearConversation(ctx context.Context, a, b uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)
	`, a, b)
	if err != nil {
		return 0, fmt.Errorf("failed to clear conversation: %w", err)
	}
	return res.RowsAffected()
}

func scanMessage(s rowScanner) (*domain.Message, error) {
	var msg domain.Message
	if err := s.Scan(&msg.ID, &msg.FromID, &msg.ToID, &msg.Content, &msg.MediaURL,
		&msg.Type, &msg.Status, &msg.CreatedAt); err != nil {
		return nil, err
	}
	return &msg, nil
}
