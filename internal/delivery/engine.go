// Package delivery persists chat messages and pushes them to live connections.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat_relay/internal/broker"
	"chat_relay/internal/domain"
	"chat_relay/internal/outbox"
	"chat_relay/internal/presence"
	"chat_relay/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type SendRequest struct {
	From     uuid.UUID          `json:"from" validate:"notnil"`
	To       uuid.UUID          `json:"to" validate:"notnil"`
	Content  string             `json:"content"`
	Type     domain.MessageType `json:"type" validate:"oneof=text media"`
	MediaURL string             `json:"mediaUrl"`
	TempID   string             `json:"tempId"`
}

func (r *SendRequest) normalize() {
	if r.Type == "" {
		r.Type = domain.MessageTypeText
	}
	r.MediaURL = strings.TrimSpace(r.MediaURL)
}

func (r SendRequest) validate() error {
	if err := domain.Validate(r); err != nil {
		return err
	}
	switch r.Type {
	case domain.MessageTypeText:
		if strings.TrimSpace(r.Content) == "" {
			return domain.NewValidationError("Content", "must not be blank")
		}
	case domain.MessageTypeMedia:
		if r.MediaURL == "" {
			return domain.NewValidationError("MediaURL", "is required for media messages")
		}
	}
	return nil
}

type Engine struct {
	messages repository.MessageStore
	users    repository.UserStore
	dir      presence.Directory
	out      presence.Broadcaster
	offline  broker.OfflinePublisher
	journal  outbox.Journal
	log      zerolog.Logger
	now      func() time.Time
}

// NewEngine wires the engine. offline and journal may be nil.
func NewEngine(
	messages repository.MessageStore,
	users repository.UserStore,
	dir presence.Directory,
	out presence.Broadcaster,
	offline broker.OfflinePublisher,
	journal outbox.Journal,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		messages: messages,
		users:    users,
		dir:      dir,
		out:      out,
		offline:  offline,
		journal:  journal,
		log:      log.With().Str("component", "delivery").Logger(),
		now:      time.Now,
	}
}

// SendMessage persists the message, then delivers it to the recipient (or the
// offline pipeline) and to the sender's other live connection. origin is the
// connection the request arrived on, nil for HTTP.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest, origin presence.Handle) (*domain.Message, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		FromID:    req.From,
		ToID:      req.To,
		Content:   req.Content,
		MediaURL:  req.MediaURL,
		Type:      req.Type,
		Status:    domain.MessageStatusSent,
		CreatedAt: e.now().UTC(),
	}
	if err := e.messages.CreateMessage(ctx, msg); err != nil {
		return nil, domain.NewStoreError("create message", err)
	}
	e.attachSummaries(ctx, []*domain.Message{msg})
	journaled := *msg
	msg.TempID = req.TempID

	env := domain.NewEnvelope(domain.EventReceiveMessage, msg)
	recipient, online := e.dir.Lookup(msg.ToID)
	if online {
		e.out.Emit(recipient, env)
	} else {
		e.publishOffline(ctx, msg.ToID, env)
	}

	if sender, ok := e.dir.Lookup(msg.FromID); ok &&
		!presence.SameHandle(sender, origin) &&
		!presence.SameHandle(sender, recipient) {
		e.out.Emit(sender, env)
	}

	outbox.Record(ctx, e.journal, e.log, domain.EventTypeMessageCreated, journaled)
	e.log.Debug().
		Str("message_id", msg.ID.String()).
		Str("from", msg.FromID.String()).
		Str("to", msg.ToID.String()).
		Bool("online", online).
		Msg("Message delivered")
	return msg, nil
}

// Conversation returns both directions between user and partner, oldest first.
func (e *Engine) Conversation(ctx context.Context, user, partner uuid.UUID) ([]*domain.Message, error) {
	if err := requireIDs(user, partner); err != nil {
		return nil, err
	}
	msgs, err := e.messages.GetConversation(ctx, user, partner)
	if err != nil {
		return nil, domain.NewStoreError("load conversation", err)
	}
	e.attachSummaries(ctx, msgs)
	return msgs, nil
}

// UnreadCounts returns, per sender, how many messages to user are still unread.
func (e *Engine) UnreadCounts(ctx context.Context, user uuid.UUID) (map[uuid.UUID]int, error) {
	if user == uuid.Nil {
		return nil, domain.NewValidationError("userId", "is required")
	}
	counts, err := e.messages.UnreadCounts(ctx, user)
	if err != nil {
		return nil, domain.NewStoreError("count unread", err)
	}
	return counts, nil
}

// EditMessage replaces the content of a message the editor sent.
func (e *Engine) EditMessage(ctx context.Context, editor, messageID uuid.UUID, content string) (*domain.Message, error) {
	if err := requireIDs(editor, messageID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewValidationError("content", "must not be blank")
	}
	msg, err := e.messages.EditMessage(ctx, messageID, editor, content)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError("message", messageID)
	}
	if err != nil {
		return nil, domain.NewStoreError("edit message", err)
	}
	e.attachSummaries(ctx, []*domain.Message{msg})
	return msg, nil
}

// ClearConversation deletes every message between user and partner in both directions.
func (e *Engine) ClearConversation(ctx context.Context, user, partner uuid.UUID) (int64, error) {
	if err := requireIDs(user, partner); err != nil {
		return 0, err
	}
	n, err := e.messages.ClearConversation(ctx, user, partner)
	if err != nil {
		return 0, domain.NewStoreError("clear conversation", err)
	}
	e.log.Info().Str("user_id", user.String()).Str("partner_id", partner.String()).Int64("deleted", n).Msg("Conversation cleared")
	return n, nil
}

func (e *Engine) publishOffline(ctx context.Context, userID uuid.UUID, env domain.Envelope) {
	if e.offline == nil {
		return
	}
	if err := e.offline.PublishOffline(ctx, userID, env); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to publish offline push")
	}
}

// attachSummaries fills From/To on each message. A lookup failure leaves them empty.
func (e *Engine) attachSummaries(ctx context.Context, msgs []*domain.Message) {
	if len(msgs) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, 2)
	for _, m := range msgs {
		ids = append(ids, m.FromID, m.ToID)
	}
	summaries, err := e.users.GetUserSummaries(ctx, ids)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to load user summaries")
		return
	}
	for _, m := range msgs {
		if s, ok := summaries[m.FromID]; ok {
			m.From = &s
		}
		if s, ok := summaries[m.ToID]; ok {
			m.To = &s
		}
	}
}

func requireIDs(ids ...uuid.UUID) error {
	for _, id := range ids {
		if id == uuid.Nil {
			return domain.NewValidationError("id", "is required")
		}
	}
	return nil
}
