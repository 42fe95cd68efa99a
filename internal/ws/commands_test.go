package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"chat_relay/internal/delivery"
	"chat_relay/internal/domain"
	"chat_relay/internal/presence"
	"chat_relay/internal/receipt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	alice, bob, msg := uuid.New(), uuid.New(), uuid.New()

	t.Run("register with object payload", func(t *testing.T) {
		cmd, err := DecodeCommand([]byte(`{"type":"register","payload":{"userId":"` + alice.String() + `"}}`))
		require.NoError(t, err)
		require.Equal(t, CommandRegister, cmd.Kind)
		require.Equal(t, alice, cmd.Register.UserID)
	})

	t.Run("register with bare id", func(t *testing.T) {
		cmd, err := DecodeCommand([]byte(`{"type":"register","payload":"` + alice.String() + `"}`))
		require.NoError(t, err)
		require.Equal(t, alice, cmd.Register.UserID)
	})

	t.Run("send message", func(t *testing.T) {
		req := require.New(t)
		raw := `{"type":"send_message","payload":{"from":"` + alice.String() + `","to":"` + bob.String() +
			`","content":"hi","tempId":"t-1"}}`
		cmd, err := DecodeCommand([]byte(raw))
		req.NoError(err)
		req.Equal(CommandSendMessage, cmd.Kind)
		req.Equal(delivery.SendRequest{From: alice, To: bob, Content: "hi", TempID: "t-1"}, cmd.Send)
	})

	t.Run("read message", func(t *testing.T) {
		raw := `{"type":"read_message","payload":{"messageId":"` + msg.String() + `","readerId":"` + bob.String() +
			`","senderId":"` + alice.String() + `"}}`
		cmd, err := DecodeCommand([]byte(raw))
		require.NoError(t, err)
		require.Equal(t, receipt.ReadRequest{MessageID: msg, ReaderID: bob, SenderID: alice}, cmd.Read)
	})

	t.Run("typing", func(t *testing.T) {
		cmd, err := DecodeCommand([]byte(`{"type":"typing","payload":{"from":"` + alice.String() + `","to":"` + bob.String() + `"}}`))
		require.NoError(t, err)
		require.Equal(t, TypingPayload{From: alice, To: bob}, cmd.Typing)
	})

	for name, raw := range map[string]string{
		"not json":        `{`,
		"unknown type":    `{"type":"shout","payload":{}}`,
		"missing payload": `{"type":"typing"}`,
		"bad user id":     `{"type":"register","payload":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(raw))
			require.Error(t, err)
		})
	}
}

type stubSender struct {
	msg    *domain.Message
	err    error
	origin presence.Handle
}

func (s *stubSender) SendMessage(_ context.Context, req delivery.SendRequest, origin presence.Handle) (*domain.Message, error) {
	s.origin = origin
	if s.err != nil {
		return nil, s.err
	}
	return s.msg, nil
}

type stubReceipts struct {
	calls []receipt.ReadRequest
}

func (s *stubReceipts) MarkRead(_ context.Context, req receipt.ReadRequest, _ presence.Handle) (receipt.ReadResult, error) {
	s.calls = append(s.calls, req)
	return receipt.ReadResult{MessageIDs: []uuid.UUID{req.MessageID}}, nil
}

func ack(t *testing.T, r received) domain.MessageSentAck {
	t.Helper()
	require.Equal(t, domain.EventMessageSent, r.Type)
	var a domain.MessageSentAck
	require.NoError(t, json.Unmarshal(r.Payload, &a))
	return a
}

func TestDispatcher_SendMessage_Acks_Origin(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	alice, bob := uuid.New(), uuid.New()
	sent := &domain.Message{ID: uuid.New(), FromID: alice, ToID: bob, Content: "hi"}
	sender := &stubSender{msg: sent}
	d := NewDispatcher(hub, sender, &stubReceipts{}, zerolog.Nop())
	c := newTestClient(hub)

	d.Dispatch(context.Background(), c, Command{Kind: CommandSendMessage, Send: delivery.SendRequest{From: alice, To: bob, Content: "hi"}})

	a := ack(t, next(t, c))
	req.True(a.Success)
	req.Equal(sent.ID.String(), a.MessageID)
	req.Equal(alice.String(), a.UserID)
	req.Equal(c.ID(), sender.origin.ID())
}

func TestDispatcher_SendMessage_Failure_Ack(t *testing.T) {
	hub := startHub(t, nil)
	d := NewDispatcher(hub, &stubSender{err: domain.NewStoreError("create message", errors.New("down"))}, &stubReceipts{}, zerolog.Nop())
	c := newTestClient(hub)

	d.Dispatch(context.Background(), c, Command{Kind: CommandSendMessage, Send: delivery.SendRequest{From: uuid.New(), To: uuid.New(), Content: "hi"}})

	a := ack(t, next(t, c))
	require.False(t, a.Success)
	require.Contains(t, a.Error, "down")
}

func TestDispatcher_Rejects_Identity_Mismatch(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	receipts := &stubReceipts{}
	sender := &stubSender{}
	d := NewDispatcher(hub, sender, receipts, zerolog.Nop())
	session := uuid.New()
	c := NewClient(hub, nil, session, Options{SendBufferSize: 8}, zerolog.Nop())
	other := uuid.New()

	// Registering as somebody else is ignored
	d.Dispatch(context.Background(), c, Command{Kind: CommandRegister, Register: UserPayload{UserID: other}})
	req.Equal(StateConnecting, c.State())

	// Sending as somebody else is refused without reaching the engine
	d.Dispatch(context.Background(), c, Command{Kind: CommandSendMessage, Send: delivery.SendRequest{From: other, To: session, Content: "x"}})
	req.False(ack(t, next(t, c)).Success)
	req.Nil(sender.origin)

	// Reading on somebody else's behalf is ignored
	d.Dispatch(context.Background(), c, Command{Kind: CommandReadMessage, Read: receipt.ReadRequest{MessageID: uuid.New(), ReaderID: other, SenderID: session}})
	req.Empty(receipts.calls)

	// The session's own identity is accepted
	d.Dispatch(context.Background(), c, Command{Kind: CommandRegister, Register: UserPayload{UserID: session}})
	req.Equal(StateRegistered, c.State())
}

func TestDispatcher_Typing_Relays_To_Recipient(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	d := NewDispatcher(hub, &stubSender{}, &stubReceipts{}, zerolog.Nop())
	alice, bob := uuid.New(), uuid.New()
	aliceConn, bobConn := newTestClient(hub), newTestClient(hub)
	d.Dispatch(context.Background(), aliceConn, Command{Kind: CommandRegister, Register: UserPayload{UserID: alice}})
	d.Dispatch(context.Background(), bobConn, Command{Kind: CommandRegister, Register: UserPayload{UserID: bob}})
	next(t, bobConn)
	next(t, bobConn)

	d.Dispatch(context.Background(), aliceConn, Command{Kind: CommandTyping, Typing: TypingPayload{From: alice, To: bob}})

	frame := next(t, bobConn)
	req.Equal(domain.EventUserTyping, frame.Type)
	var ev domain.TypingEvent
	req.NoError(json.Unmarshal(frame.Payload, &ev))
	req.Equal(alice, ev.UserID)
	req.True(ev.Typing)

	// Typing to an offline user goes nowhere
	d.Dispatch(context.Background(), aliceConn, Command{Kind: CommandTyping, Typing: TypingPayload{From: alice, To: uuid.New()}})
	d.Dispatch(context.Background(), aliceConn, Command{Kind: CommandHeartbeat, Heartbeat: UserPayload{UserID: alice}})
	requireNoFrame(t, bobConn)
}

func TestDispatcher_ReadMessage(t *testing.T) {
	hub := startHub(t, nil)
	receipts := &stubReceipts{}
	d := NewDispatcher(hub, &stubSender{}, receipts, zerolog.Nop())
	r := receipt.ReadRequest{MessageID: uuid.New(), ReaderID: uuid.New(), SenderID: uuid.New()}

	d.Dispatch(context.Background(), newTestClient(hub), Command{Kind: CommandReadMessage, Read: r})

	require.Equal(t, []receipt.ReadRequest{r}, receipts.calls)
}
