package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	AvatarImg string    `json:"avatarImg"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, FullName: u.FullName, AvatarImg: u.AvatarImg}
}

// UserSummary is the denormalized display shape attached to delivered payloads.
// It is also the authenticated-user context produced by the auth middleware.
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	AvatarImg string    `json:"avatarImg"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeMedia MessageType = "media"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusRead MessageStatus = "read"
)

type Message struct {
	ID        uuid.UUID     `json:"id"`
	FromID    uuid.UUID     `json:"fromId"`
	ToID      uuid.UUID     `json:"toId"`
	Content   string        `json:"content"`
	MediaURL  string        `json:"mediaUrl,omitempty"`
	Type      MessageType   `json:"type"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`

	// Populated on read paths, never stored.
	From *UserSummary `json:"from,omitempty"`
	To   *UserSummary `json:"to,omitempty"`
	// Client correlation id echoed on delivery, never stored.
	TempID string `json:"tempId,omitempty"`
}

type NotificationType string

const (
	NotificationFriendRequest   NotificationType = "friend_request"
	NotificationRequestAccepted NotificationType = "request_accepted"
	NotificationRequestRejected NotificationType = "request_rejected"
	NotificationPostLike        NotificationType = "post_like"
	NotificationPostComment     NotificationType = "post_comment"

	// NotificationUnfriend is delivered live only and has no stored row.
	NotificationUnfriend NotificationType = "unfriend"
)

// Persistable reports whether notifications of this type are written to the store.
func (t NotificationType) Persistable() bool {
	switch t {
	case NotificationFriendRequest, NotificationRequestAccepted, NotificationRequestRejected,
		NotificationPostLike, NotificationPostComment:
		return true
	}
	return false
}

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	FromID    uuid.UUID        `json:"fromId"`
	ToID      uuid.UUID        `json:"toId"`
	PostID    *uuid.UUID       `json:"postId,omitempty"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`

	From *UserSummary `json:"from,omitempty"`
}

type RelationshipStatus string

const (
	RelationshipPending  RelationshipStatus = "pending"
	RelationshipAccepted RelationshipStatus = "accepted"
	RelationshipRejected RelationshipStatus = "rejected"
)

type Relationship struct {
	ID        uuid.UUID          `json:"id"`
	FromID    uuid.UUID          `json:"fromId"`
	ToID      uuid.UUID          `json:"toId"`
	Status    RelationshipStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`

	From *UserSummary `json:"from,omitempty"`
}

type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventTypeMessageCreated      = "MESSAGE_CREATED"
	EventTypeUserJoined          = "USER_JOINED"
	EventTypeUserLeft            = "USER_LEFT"
	EventTypeMessageRead         = "MESSAGE_READ"
	EventTypeNotificationCreated = "NOTIFICATION_CREATED"
)
