package domain

import (
	"github.com/google/uuid"
)

// Outbound websocket event names.
const (
	EventOnlineUsers      = "online_users"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventReceiveMessage   = "receive_message"
	EventMessageSent      = "message_sent"
	EventMessageRead      = "message_read"
	EventUserTyping       = "user_typing"
	EventNotification     = "notification"
)

// Envelope is the frame pushed to a live connection.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func NewEnvelope(eventType string, payload any) Envelope {
	return Envelope{Type: eventType, Payload: payload}
}

type MessageSentAck struct {
	Success   bool     `json:"success"`
	Message   *Message `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	UserID    string   `json:"userId,omitempty"`
}

type MessageReadEvent struct {
	MessageID     uuid.UUID `json:"messageId"`
	ReaderID      uuid.UUID `json:"readerId"`
	SenderID      uuid.UUID `json:"senderId"`
	ChatPartnerID uuid.UUID `json:"chatPartnerId"`
}

type TypingEvent struct {
	UserID uuid.UUID `json:"userId"`
	Typing bool      `json:"typing"`
}
