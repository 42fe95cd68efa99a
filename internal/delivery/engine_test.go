package delivery

import (
	"context"
	"errors"
	"testing"

	"chat_relay/internal/domain"
	"chat_relay/internal/mocks"
	"chat_relay/internal/presence"
	"chat_relay/internal/presence/presencetest"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	engine   *Engine
	registry *presence.Registry
	messages *mocks.MockMessageStore
	users    *mocks.MockUserStore
	offline  *mocks.MockOfflinePublisher
	journal  *mocks.MockJournal
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	f := fixture{
		registry: presence.NewRegistry(),
		messages: mocks.NewMockMessageStore(ctrl),
		users:    mocks.NewMockUserStore(ctrl),
		offline:  mocks.NewMockOfflinePublisher(ctrl),
		journal:  mocks.NewMockJournal(ctrl),
	}
	f.engine = NewEngine(f.messages, f.users, f.registry, presencetest.Broadcaster{Registry: f.registry},
		f.offline, f.journal, zerolog.Nop())
	return f
}

func summaries(ids ...uuid.UUID) map[uuid.UUID]domain.UserSummary {
	out := make(map[uuid.UUID]domain.UserSummary, len(ids))
	for i, id := range ids {
		out[id] = domain.UserSummary{ID: id, Username: []string{"alice", "bob", "carol"}[i%3]}
	}
	return out
}

func TestEngine_SendMessage_Online_Recipient(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	aliceTab, aliceLaptop, bobConn := presencetest.NewRecorder(), presencetest.NewRecorder(), presencetest.NewRecorder()
	f.registry.Register(bob, bobConn)
	f.registry.Register(alice, aliceLaptop)

	// Given the store accepts the message
	f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(summaries(alice, bob), nil)
	f.journal.EXPECT().Append(gomock.Any(), domain.EventTypeMessageCreated, gomock.Any()).Return(nil)

	// When alice sends from a connection that is not her registered one
	msg, err := f.engine.SendMessage(context.Background(), SendRequest{
		From: alice, To: bob, Content: "hello", TempID: "tmp-1",
	}, aliceTab)

	// Then bob receives it once, her registered connection gets the echo and the origin gets nothing
	req.NoError(err)
	req.Equal(domain.MessageStatusSent, msg.Status)
	req.Equal(domain.MessageTypeText, msg.Type)
	req.Equal("tmp-1", msg.TempID)
	req.Equal("alice", msg.From.Username)
	req.Equal("bob", msg.To.Username)

	received := bobConn.OfType(domain.EventReceiveMessage)
	req.Len(received, 1)
	req.Equal(msg.ID, received[0].Payload.(*domain.Message).ID)
	req.Len(aliceLaptop.OfType(domain.EventReceiveMessage), 1)
	req.Empty(aliceTab.Events())
}

func TestEngine_SendMessage_Origin_Is_Registered_Handle(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	aliceConn, bobConn := presencetest.NewRecorder(), presencetest.NewRecorder()
	f.registry.Register(alice, aliceConn)
	f.registry.Register(bob, bobConn)

	f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(nil)
	f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(summaries(alice, bob), nil)
	f.journal.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.engine.SendMessage(context.Background(), SendRequest{From: alice, To: bob, Content: "hi"}, aliceConn)

	req.NoError(err)
	req.Empty(aliceConn.Events())
	req.Len(bobConn.Events(), 1)
}

func TestEngine_SendMessage_Offline_Recipient_Goes_To_Push(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()

	f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(nil)
	f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(summaries(alice, bob), nil)
	f.offline.EXPECT().
		PublishOffline(gomock.Any(), bob, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, env domain.Envelope) error {
			req.Equal(domain.EventReceiveMessage, env.Type)
			return nil
		}).
		Times(1)
	f.journal.EXPECT().Append(gomock.Any(), domain.EventTypeMessageCreated, gomock.Any()).Return(nil)

	msg, err := f.engine.SendMessage(context.Background(), SendRequest{From: alice, To: bob, Content: "later"}, nil)

	req.NoError(err)
	req.NotEqual(uuid.Nil, msg.ID)
}

func TestEngine_SendMessage_Validation(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	cases := map[string]SendRequest{
		"blank text":        {From: alice, To: bob, Content: "   "},
		"missing recipient": {From: alice, Content: "hi"},
		"unknown type":      {From: alice, To: bob, Content: "hi", Type: "sticker"},
		"media without url": {From: alice, To: bob, Type: domain.MessageTypeMedia},
	}
	for name, sendReq := range cases {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)
			f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Times(0)

			msg, err := f.engine.SendMessage(context.Background(), sendReq, nil)

			req.Nil(msg)
			req.True(domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestEngine_SendMessage_Store_Failure_Delivers_Nothing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	bobConn := presencetest.NewRecorder()
	f.registry.Register(bob, bobConn)

	f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	f.offline.EXPECT().PublishOffline(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	f.journal.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.engine.SendMessage(context.Background(), SendRequest{From: alice, To: bob, Content: "hi"}, nil)

	req.True(domain.IsStore(err))
	req.ErrorContains(err, "disk full")
	req.Empty(bobConn.Events())
}

func TestEngine_SendMessage_Summary_Failure_Is_Not_Fatal(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	bobConn := presencetest.NewRecorder()
	f.registry.Register(bob, bobConn)

	f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(nil)
	f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))
	f.journal.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("stream down"))

	msg, err := f.engine.SendMessage(context.Background(), SendRequest{From: alice, To: bob, Content: "hi"}, nil)

	req.NoError(err)
	req.Nil(msg.From)
	req.Len(bobConn.Events(), 1)
}

func TestEngine_SendMessage_Media(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()

	f.messages.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *domain.Message) error {
			req.Equal(domain.MessageTypeMedia, m.Type)
			req.Equal("https://cdn.example.com/cat.png", m.MediaURL)
			req.Empty(m.TempID)
			return nil
		})
	f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(summaries(alice, bob), nil)
	f.offline.EXPECT().PublishOffline(gomock.Any(), bob, gomock.Any()).Return(nil)
	f.journal.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.engine.SendMessage(context.Background(), SendRequest{
		From: alice, To: bob, Type: domain.MessageTypeMedia, MediaURL: " https://cdn.example.com/cat.png ", TempID: "t",
	}, nil)

	req.NoError(err)
}

func TestEngine_EditMessage(t *testing.T) {
	alice, msgID := uuid.New(), uuid.New()

	t.Run("not the sender", func(t *testing.T) {
		f := newFixture(t)
		f.messages.EXPECT().EditMessage(gomock.Any(), msgID, alice, "fixed").Return(nil, domain.ErrNotFound)

		_, err := f.engine.EditMessage(context.Background(), alice, msgID, "fixed")

		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("blank content", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.EditMessage(context.Background(), alice, msgID, " ")
		require.True(t, domain.IsValidation(err))
	})

	t.Run("edited", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		bob := uuid.New()
		f.messages.EXPECT().EditMessage(gomock.Any(), msgID, alice, "fixed").
			Return(&domain.Message{ID: msgID, FromID: alice, ToID: bob, Content: "fixed"}, nil)
		f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(summaries(alice, bob), nil)

		msg, err := f.engine.EditMessage(context.Background(), alice, msgID, "fixed")

		req.NoError(err)
		req.Equal("fixed", msg.Content)
		req.NotNil(msg.From)
	})
}

func TestEngine_Conversation_And_Counts(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	history := []*domain.Message{
		{ID: uuid.New(), FromID: alice, ToID: bob, Content: "1"},
		{ID: uuid.New(), FromID: bob, ToID: alice, Content: "2"},
	}
	f.messages.EXPECT().GetConversation(gomock.Any(), alice, bob).Return(history, nil)
	f.users.EXPECT().GetUserSummaries(gomock.Any(), gomock.Any()).Return(summaries(alice, bob), nil)
	f.messages.EXPECT().UnreadCounts(gomock.Any(), alice).Return(map[uuid.UUID]int{bob: 3}, nil)
	f.messages.EXPECT().ClearConversation(gomock.Any(), alice, bob).Return(int64(2), nil)

	msgs, err := f.engine.Conversation(context.Background(), alice, bob)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("bob", msgs[1].From.Username)

	counts, err := f.engine.UnreadCounts(context.Background(), alice)
	req.NoError(err)
	req.Equal(3, counts[bob])

	n, err := f.engine.ClearConversation(context.Background(), alice, bob)
	req.NoError(err)
	req.EqualValues(2, n)

	_, err = f.engine.Conversation(context.Background(), alice, uuid.Nil)
	req.True(domain.IsValidation(err))
}
