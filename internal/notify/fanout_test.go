package notify

import (
	"context"
	"errors"
	"testing"

	"chat_relay/internal/domain"
	"chat_relay/internal/mocks"
	"chat_relay/internal/presence"
	"chat_relay/internal/presence/presencetest"
	"chat_relay/internal/repository"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type env struct {
	fanout   *Fanout
	store    *repository.BadgerStore
	registry *presence.Registry
}

func newEnv(t *testing.T) env {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := repository.NewBadgerStore(db, zerolog.Nop())
	registry := presence.NewRegistry()
	return env{
		fanout:   NewFanout(store, registry, presencetest.Broadcaster{Registry: registry}, nil, nil, zerolog.Nop()),
		store:    store,
		registry: registry,
	}
}

func (e env) user(t *testing.T, username, fullName string) uuid.UUID {
	t.Helper()
	u := &domain.User{ID: uuid.New(), Username: username, FullName: fullName}
	require.NoError(t, e.store.SaveUser(context.Background(), u))
	return u.ID
}

func notification(t *testing.T, envelope domain.Envelope) *domain.Notification {
	t.Helper()
	n, ok := envelope.Payload.(*domain.Notification)
	require.True(t, ok, "payload is %T", envelope.Payload)
	return n
}

func TestFanout_Notify(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice", "Alice Liddell")
	bob := e.user(t, "bob", "Bob Marley")
	bobConn := presencetest.NewRecorder()
	e.registry.Register(bob, bobConn)
	post := uuid.New()

	// When alice likes bob's post
	n, err := e.fanout.Notify(ctx, NotifyRequest{
		From: alice, To: bob, Type: domain.NotificationPostLike, Message: "Alice liked your post", PostID: &post,
	})

	// Then bob gets it live with the sender attached, and it is stored
	req.NoError(err)
	events := bobConn.OfType(domain.EventNotification)
	req.Len(events, 1)
	delivered := notification(t, events[0])
	req.Equal(n.ID, delivered.ID)
	req.Equal("alice", delivered.From.Username)

	stored, err := e.fanout.List(ctx, bob)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal(post, *stored[0].PostID)
	req.False(stored[0].Read)
}

func TestFanout_Notify_Rejects_Self_And_Bad_Input(t *testing.T) {
	e := newEnv(t)
	alice := uuid.New()
	cases := map[string]NotifyRequest{
		"self":              {From: alice, To: alice, Type: domain.NotificationPostComment, Message: "hi", PostID: &alice},
		"blank message":     {From: alice, To: uuid.New(), Type: domain.NotificationFriendRequest, Message: " "},
		"unknown type":      {From: alice, To: uuid.New(), Type: "poke", Message: "hi"},
		"unfriend is live":  {From: alice, To: uuid.New(), Type: domain.NotificationUnfriend, Message: "bye"},
		"post without post": {From: alice, To: uuid.New(), Type: domain.NotificationPostLike, Message: "hi"},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.fanout.Notify(context.Background(), r)
			require.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestFanout_Notify_Only_Stores_Persistable_Types(t *testing.T) {
	e := newEnv(t)

	// Unfriend events are live-only and never go through Notify
	_, err := e.fanout.Notify(context.Background(), NotifyRequest{
		From: uuid.New(), To: uuid.New(), Type: domain.NotificationUnfriend, Message: "bye",
	})

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "Type", ve.Field)
}

func TestFanout_Notify_Store_Failure_Delivers_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := struct {
		*mocks.MockNotificationStore
		*mocks.MockRelationshipStore
		*mocks.MockUserStore
	}{mocks.NewMockNotificationStore(ctrl), mocks.NewMockRelationshipStore(ctrl), mocks.NewMockUserStore(ctrl)}
	offline := mocks.NewMockOfflinePublisher(ctrl)
	registry := presence.NewRegistry()
	f := NewFanout(store, registry, presencetest.Broadcaster{Registry: registry}, offline, nil, zerolog.Nop())

	store.MockNotificationStore.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(errors.New("read-only"))
	offline.EXPECT().PublishOffline(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.Notify(context.Background(), NotifyRequest{
		From: uuid.New(), To: uuid.New(), Type: domain.NotificationFriendRequest, Message: "hi",
	})

	req.True(domain.IsStore(err))
}

func TestFanout_Notify_Offline_Recipient(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := struct {
		*mocks.MockNotificationStore
		*mocks.MockRelationshipStore
		*mocks.MockUserStore
	}{mocks.NewMockNotificationStore(ctrl), mocks.NewMockRelationshipStore(ctrl), mocks.NewMockUserStore(ctrl)}
	offline := mocks.NewMockOfflinePublisher(ctrl)
	journal := mocks.NewMockJournal(ctrl)
	registry := presence.NewRegistry()
	f := NewFanout(store, registry, presencetest.Broadcaster{Registry: registry}, offline, journal, zerolog.Nop())
	from, to := uuid.New(), uuid.New()

	store.MockNotificationStore.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(nil)
	store.MockUserStore.EXPECT().GetUserSummaries(gomock.Any(), []uuid.UUID{from}).
		Return(map[uuid.UUID]domain.UserSummary{from: {ID: from, Username: "alice"}}, nil)
	offline.EXPECT().PublishOffline(gomock.Any(), to, gomock.Any()).Return(nil).Times(1)
	journal.EXPECT().Append(gomock.Any(), domain.EventTypeNotificationCreated, gomock.Any()).Return(nil)

	n, err := f.Notify(context.Background(), NotifyRequest{
		From: from, To: to, Type: domain.NotificationFriendRequest, Message: "hi",
	})

	req.NoError(err)
	req.Equal("alice", n.From.Username)
}

func TestFanout_Friend_Request_Lifecycle(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice", "Alice Liddell")
	bob := e.user(t, "bob", "Bob Marley")
	aliceConn, bobConn := presencetest.NewRecorder(), presencetest.NewRecorder()
	e.registry.Register(alice, aliceConn)
	e.registry.Register(bob, bobConn)

	// Given alice sends bob a friend request
	rel, err := e.fanout.SendFriendRequest(ctx, alice, bob)
	req.NoError(err)
	req.Equal(domain.RelationshipPending, rel.Status)
	req.Equal("Alice Liddell sent you a friend request!", notification(t, bobConn.OfType(domain.EventNotification)[0]).Message)

	// And a duplicate is rejected
	_, err = e.fanout.SendFriendRequest(ctx, alice, bob)
	req.True(domain.IsValidation(err))

	// When alice tries to answer her own request
	_, err = e.fanout.RespondToRequest(ctx, alice, rel.ID, true)
	req.ErrorIs(err, domain.ErrNotFound)

	// When bob accepts
	accepted, err := e.fanout.RespondToRequest(ctx, bob, rel.ID, true)

	// Then both follow each other and alice is told
	req.NoError(err)
	req.Equal(domain.RelationshipAccepted, accepted.Status)
	aliceNotes := aliceConn.OfType(domain.EventNotification)
	req.Len(aliceNotes, 1)
	req.Equal(domain.NotificationRequestAccepted, notification(t, aliceNotes[0]).Type)
	req.Equal("Bob Marley accepted your friend request!", notification(t, aliceNotes[0]).Message)

	following, err := e.store.Following(ctx, alice)
	req.NoError(err)
	req.Equal([]uuid.UUID{bob}, following)
	followers, err := e.store.Followers(ctx, alice)
	req.NoError(err)
	req.Equal([]uuid.UUID{bob}, followers)

	stored, err := e.fanout.List(ctx, alice)
	req.NoError(err)
	req.Len(stored, 1)

	// And answering again is rejected
	_, err = e.fanout.RespondToRequest(ctx, bob, rel.ID, false)
	req.True(domain.IsValidation(err))

	// When alice unfriends bob
	req.NoError(e.fanout.Unfriend(ctx, alice, bob))

	// Then both get a live unfriend event and nothing new is stored
	bobNotes := bobConn.OfType(domain.EventNotification)
	req.Equal(domain.NotificationUnfriend, notification(t, bobNotes[len(bobNotes)-1]).Type)
	aliceNotes = aliceConn.OfType(domain.EventNotification)
	req.Equal(domain.NotificationUnfriend, notification(t, aliceNotes[len(aliceNotes)-1]).Type)

	stored, err = e.fanout.List(ctx, alice)
	req.NoError(err)
	req.Len(stored, 1)
	following, err = e.store.Following(ctx, alice)
	req.NoError(err)
	req.Empty(following)

	// And unfriending again finds nothing
	req.ErrorIs(e.fanout.Unfriend(ctx, alice, bob), domain.ErrNotFound)
}

func TestFanout_Reject_Request(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice", "Alice Liddell")
	bob := e.user(t, "bob", "")

	rel, err := e.fanout.SendFriendRequest(ctx, alice, bob)
	req.NoError(err)

	rejected, err := e.fanout.RespondToRequest(ctx, bob, rel.ID, false)
	req.NoError(err)
	req.Equal(domain.RelationshipRejected, rejected.Status)

	list, err := e.fanout.List(ctx, alice)
	req.NoError(err)
	req.Len(list, 1)
	req.Equal("bob rejected your friend request.", list[0].Message)

	following, err := e.store.Following(ctx, bob)
	req.NoError(err)
	req.Empty(following)
}

func TestFanout_Friend_Request_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice", "Alice")

	_, err := e.fanout.SendFriendRequest(ctx, alice, alice)
	require.True(t, domain.IsValidation(err))

	_, err = e.fanout.SendFriendRequest(ctx, alice, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.fanout.RespondToRequest(ctx, alice, uuid.New(), true)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFanout_Mark_Read(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice", "Alice")
	bob := e.user(t, "bob", "Bob")
	carol := e.user(t, "carol", "Carol")

	first, err := e.fanout.Notify(ctx, NotifyRequest{From: alice, To: bob, Type: domain.NotificationFriendRequest, Message: "a"})
	req.NoError(err)
	_, err = e.fanout.Notify(ctx, NotifyRequest{From: carol, To: bob, Type: domain.NotificationFriendRequest, Message: "c"})
	req.NoError(err)

	_, err = e.fanout.MarkRead(ctx, bob, nil)
	req.True(domain.IsValidation(err))

	n, err := e.fanout.MarkRead(ctx, bob, []uuid.UUID{first.ID})
	req.NoError(err)
	req.EqualValues(1, n)

	n, err = e.fanout.MarkAllRead(ctx, bob)
	req.NoError(err)
	req.EqualValues(1, n)
}
