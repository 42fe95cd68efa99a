package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"chat_relay/internal/delivery"
	"chat_relay/internal/domain"
	"chat_relay/internal/presence"
	"chat_relay/internal/receipt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type CommandKind int

const (
	CommandRegister CommandKind = iota + 1
	CommandSendMessage
	CommandReadMessage
	CommandTyping
	CommandHeartbeat
)

var commandNames = map[string]CommandKind{
	"register":     CommandRegister,
	"send_message": CommandSendMessage,
	"read_message": CommandReadMessage,
	"typing":       CommandTyping,
	"heartbeat":    CommandHeartbeat,
}

func (k CommandKind) String() string {
	for name, kind := range commandNames {
		if kind == k {
			return name
		}
	}
	return fmt.Sprintf("command(%d)", int(k))
}

type TypingPayload struct {
	From uuid.UUID `json:"from"`
	To   uuid.UUID `json:"to"`
}

type UserPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// Command is one decoded inbound frame. Only the field matching Kind is set.
type Command struct {
	Kind      CommandKind
	Register  UserPayload
	Send      delivery.SendRequest
	Read      receipt.ReadRequest
	Typing    TypingPayload
	Heartbeat UserPayload
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeCommand parses a {type, payload} frame. register and heartbeat also
// accept a bare user id string as payload.
func DecodeCommand(data []byte) (Command, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Command{}, fmt.Errorf("invalid frame: %w", err)
	}
	kind, ok := commandNames[f.Type]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", f.Type)
	}
	if len(bytes.TrimSpace(f.Payload)) == 0 {
		return Command{}, fmt.Errorf("%s: missing payload", f.Type)
	}

	cmd := Command{Kind: kind}
	var err error
	switch kind {
	case CommandRegister:
		cmd.Register, err = decodeUser(f.Payload)
	case CommandSendMessage:
		err = json.Unmarshal(f.Payload, &cmd.Send)
	case CommandReadMessage:
		err = json.Unmarshal(f.Payload, &cmd.Read)
	case CommandTyping:
		err = json.Unmarshal(f.Payload, &cmd.Typing)
	case CommandHeartbeat:
		cmd.Heartbeat, err = decodeUser(f.Payload)
	}
	if err != nil {
		return Command{}, fmt.Errorf("%s: invalid payload: %w", f.Type, err)
	}
	return cmd, nil
}

func decodeUser(raw json.RawMessage) (UserPayload, error) {
	var p UserPayload
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return p, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return p, err
		}
		return UserPayload{UserID: id}, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}

type MessageSender interface {
	SendMessage(ctx context.Context, req delivery.SendRequest, origin presence.Handle) (*domain.Message, error)
}

type ReceiptMarker interface {
	MarkRead(ctx context.Context, req receipt.ReadRequest, origin presence.Handle) (receipt.ReadResult, error)
}

// Dispatcher is the single entry point for inbound commands.
type Dispatcher struct {
	hub      *Hub
	messages MessageSender
	receipts ReceiptMarker
	log      zerolog.Logger
}

func NewDispatcher(hub *Hub, messages MessageSender, receipts ReceiptMarker, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		messages: messages,
		receipts: receipts,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, cmd Command) {
	switch cmd.Kind {
	case CommandRegister:
		d.register(c, cmd.Register)
	case CommandSendMessage:
		d.sendMessage(ctx, c, cmd.Send)
	case CommandReadMessage:
		d.readMessage(ctx, c, cmd.Read)
	case CommandTyping:
		d.typing(c, cmd.Typing)
	case CommandHeartbeat:
		d.log.Debug().Str("user_id", cmd.Heartbeat.UserID.String()).Msg("Heartbeat")
	default:
		d.log.Warn().Stringer("kind", cmd.Kind).Msg("Unhandled command")
	}
}

// actingAs rejects commands that claim another identity than the session's.
// Unauthenticated connections are trusted.
func (d *Dispatcher) actingAs(c *Client, cmd CommandKind, userID uuid.UUID) bool {
	if c.authUser == uuid.Nil || c.authUser == userID {
		return true
	}
	d.log.Warn().
		Stringer("command", cmd).
		Str("session_user", c.authUser.String()).
		Str("claimed_user", userID.String()).
		Msg("Command rejected: identity mismatch")
	return false
}

func (d *Dispatcher) register(c *Client, p UserPayload) {
	if p.UserID == uuid.Nil {
		d.log.Warn().Msg("Register without user id")
		return
	}
	if !d.actingAs(c, CommandRegister, p.UserID) {
		return
	}
	d.hub.Register(c, p.UserID)
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *Client, req delivery.SendRequest) {
	if !d.actingAs(c, CommandSendMessage, req.From) {
		d.hub.Emit(c, domain.NewEnvelope(domain.EventMessageSent, domain.MessageSentAck{
			Success: false,
			Error:   "sender does not match session",
		}))
		return
	}
	msg, err := d.messages.SendMessage(ctx, req, c)
	if err != nil {
		d.log.Warn().Err(err).Str("from", req.From.String()).Msg("Failed to send message")
		d.hub.Emit(c, domain.NewEnvelope(domain.EventMessageSent, domain.MessageSentAck{
			Success: false,
			Error:   err.Error(),
		}))
		return
	}
	d.hub.Emit(c, domain.NewEnvelope(domain.EventMessageSent, domain.MessageSentAck{
		Success:   true,
		Message:   msg,
		MessageID: msg.ID.String(),
		UserID:    req.From.String(),
	}))
}

func (d *Dispatcher) readMessage(ctx context.Context, c *Client, req receipt.ReadRequest) {
	if !d.actingAs(c, CommandReadMessage, req.ReaderID) {
		return
	}
	if _, err := d.receipts.MarkRead(ctx, req, c); err != nil {
		d.log.Warn().Err(err).Str("message_id", req.MessageID.String()).Msg("Failed to mark message read")
	}
}

func (d *Dispatcher) typing(c *Client, p TypingPayload) {
	if !d.actingAs(c, CommandTyping, p.From) {
		return
	}
	if target, ok := d.hub.Registry().Lookup(p.To); ok {
		d.hub.Emit(target, domain.NewEnvelope(domain.EventUserTyping, domain.TypingEvent{UserID: p.From, Typing: true}))
	}
}
