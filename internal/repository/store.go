//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package repository

import (
	"context"
	"time"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
)

// MessageStore is the durable message log. Implementations return
// domain.ErrNotFound when an id does not resolve for the given owner.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	// GetConversation returns both directions between a and b, oldest first.
	GetConversation(ctx context.Context, a, b uuid.UUID) ([]*domain.Message, error)
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error)
	// MarkMessageRead reports false when the message is already read.
	MarkMessageRead(ctx context.Context, messageID, senderID, readerID uuid.UUID) (bool, error)
	// MarkConversationRead transitions every unread message from sender to
	// reader created at or before cutoff and returns the ids it changed.
	MarkConversationRead(ctx context.Context, senderID, readerID uuid.UUID, cutoff time.Time) ([]uuid.UUID, error)
	EditMessage(ctx context.Context, messageID, senderID uuid.UUID, content string) (*domain.Message, error)
	ClearConversation(ctx context.Context, a, b uuid.UUID) (int64, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	// ListNotifications returns newest first and skips rows whose sender no longer exists.
	ListNotifications(ctx context.Context, userID uuid.UUID) ([]*domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	// ScanNotifications pages through every notification ordered by id, starting after the cursor.
	ScanNotifications(ctx context.Context, after uuid.UUID, limit int) ([]*domain.Notification, error)
	DeleteNotification(ctx context.Context, id uuid.UUID) error
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserSummary, error)
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	SaveUser(ctx context.Context, user *domain.User) error
}

// RelationshipStore writes each relationship transition and its notification in one unit.
type RelationshipStore interface {
	// CreateFriendRequest returns domain.ErrConflict when (from, to) already exists.
	CreateFriendRequest(ctx context.Context, rel *domain.Relationship, n *domain.Notification) error
	GetRelationship(ctx context.Context, id uuid.UUID) (*domain.Relationship, error)
	// RespondToRequest moves a pending request to status. Accepting also adds
	// mutual follow edges. Returns domain.ErrConflict when the request is not pending.
	RespondToRequest(ctx context.Context, id uuid.UUID, status domain.RelationshipStatus, n *domain.Notification) (*domain.Relationship, error)
	// DeleteFriendship removes the accepted relationship between a and b and both follow edges.
	DeleteFriendship(ctx context.Context, a, b uuid.UUID) error
	Following(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Followers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Store is the full persistence surface.
type Store interface {
	MessageStore
	NotificationStore
	UserStore
	RelationshipStore
	Close() error
}
