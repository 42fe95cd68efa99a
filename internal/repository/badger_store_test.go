package repository

import (
	"context"
	"testing"
	"time"

	"chat_relay/internal/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db, zerolog.Nop())
}

func newMessage(from, to uuid.UUID, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:        uuid.New(),
		FromID:    from,
		ToID:      to,
		Content:   content,
		Type:      domain.MessageTypeText,
		Status:    domain.MessageStatusSent,
		CreatedAt: at,
	}
}

func TestBadgerStore_Conversation_Is_Ascending_Both_Directions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	at := time.Now().UTC()

	// Given three messages stored out of order
	m3 := newMessage(alice, bob, "third", at.Add(2*time.Second))
	m1 := newMessage(alice, bob, "first", at)
	m2 := newMessage(bob, alice, "second", at.Add(time.Second))
	for _, m := range []*domain.Message{m3, m1, m2} {
		req.NoError(store.CreateMessage(ctx, m))
	}

	// When the conversation is fetched from either side
	fromAlice, err := store.GetConversation(ctx, alice, bob)
	req.NoError(err)
	fromBob, err := store.GetConversation(ctx, bob, alice)
	req.NoError(err)

	// Then both views are the same, oldest first
	req.Len(fromAlice, 3)
	req.Equal([]string{"first", "second", "third"}, []string{fromAlice[0].Content, fromAlice[1].Content, fromAlice[2].Content})
	req.Equal(fromAlice, fromBob)
}

func TestBadgerStore_CreateMessage_Is_Idempotent_And_Drops_TempID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	msg := newMessage(alice, bob, "hi", time.Now().UTC())
	msg.TempID = "tmp-1"

	// When the same message is persisted twice
	req.NoError(store.CreateMessage(ctx, msg))
	req.NoError(store.CreateMessage(ctx, msg))

	// Then exactly one row exists, without the temp id
	conv, err := store.GetConversation(ctx, alice, bob)
	req.NoError(err)
	req.Len(conv, 1)
	req.Empty(conv[0].TempID)

	counts, err := store.UnreadCounts(ctx, bob)
	req.NoError(err)
	req.Equal(map[uuid.UUID]int{alice: 1}, counts)
}

func TestBadgerStore_MarkMessageRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	msg := newMessage(alice, bob, "hi", time.Now().UTC())
	req.NoError(store.CreateMessage(ctx, msg))

	// When bob reads it twice
	changed, err := store.MarkMessageRead(ctx, msg.ID, alice, bob)
	req.NoError(err)
	req.True(changed)
	changed, err = store.MarkMessageRead(ctx, msg.ID, alice, bob)
	req.NoError(err)
	req.False(changed)

	// Then the unread index is empty
	counts, err := store.UnreadCounts(ctx, bob)
	req.NoError(err)
	req.Empty(counts)

	// And the wrong reader gets not found
	_, err = store.MarkMessageRead(ctx, msg.ID, alice, uuid.New())
	req.ErrorIs(err, domain.ErrNotFound)
	_, err = store.MarkMessageRead(ctx, uuid.New(), alice, bob)
	req.ErrorIs(err, domain.ErrNotFound)
}

func TestBadgerStore_MarkConversationRead_Respects_Cutoff(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	cutoff := time.Now().UTC()

	old1 := newMessage(alice, bob, "one", cutoff.Add(-2*time.Second))
	old2 := newMessage(alice, bob, "two", cutoff.Add(-time.Second))
	late := newMessage(alice, bob, "late", cutoff.Add(time.Second))
	reply := newMessage(bob, alice, "reply", cutoff.Add(-time.Second))
	for _, m := range []*domain.Message{old1, old2, late, reply} {
		req.NoError(store.CreateMessage(ctx, m))
	}

	// When bob bulk-reads alice's messages up to the cutoff
	ids, err := store.MarkConversationRead(ctx, alice, bob, cutoff)
	req.NoError(err)

	// Then only the two older messages changed
	req.ElementsMatch([]uuid.UUID{old1.ID, old2.ID}, ids)
	counts, err := store.UnreadCounts(ctx, bob)
	req.NoError(err)
	req.Equal(1, counts[alice])

	// And bob's own reply is untouched
	aliceCounts, err := store.UnreadCounts(ctx, alice)
	req.NoError(err)
	req.Equal(1, aliceCounts[bob])
}

func TestBadgerStore_Edit_And_Clear(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	msg := newMessage(alice, bob, "typo", time.Now().UTC())
	req.NoError(store.CreateMessage(ctx, msg))

	// Only the sender may edit
	_, err := store.EditMessage(ctx, msg.ID, bob, "hijack")
	req.ErrorIs(err, domain.ErrNotFound)

	edited, err := store.EditMessage(ctx, msg.ID, alice, "fixed")
	req.NoError(err)
	req.Equal("fixed", edited.Content)
	req.Equal(domain.MessageStatusSent, edited.Status)

	// Clearing removes rows and unread markers
	n, err := store.ClearConversation(ctx, bob, alice)
	req.NoError(err)
	req.EqualValues(1, n)
	conv, err := store.GetConversation(ctx, alice, bob)
	req.NoError(err)
	req.Empty(conv)
	counts, err := store.UnreadCounts(ctx, bob)
	req.NoError(err)
	req.Empty(counts)
}

func TestBadgerStore_Notifications_Hide_Orphans(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice := &domain.User{ID: uuid.New(), Username: "alice", FullName: "Alice A"}
	bob := &domain.User{ID: uuid.New(), Username: "bob"}
	req.NoError(store.SaveUser(ctx, alice))
	req.NoError(store.SaveUser(ctx, bob))
	ghost := uuid.New()
	at := time.Now().UTC()

	older := &domain.Notification{ID: uuid.New(), FromID: alice.ID, ToID: bob.ID, Type: domain.NotificationPostLike, Message: "alice liked your post", CreatedAt: at}
	newer := &domain.Notification{ID: uuid.New(), FromID: alice.ID, ToID: bob.ID, Type: domain.NotificationPostComment, Message: "alice commented", CreatedAt: at.Add(time.Second)}
	orphan := &domain.Notification{ID: uuid.New(), FromID: ghost, ToID: bob.ID, Type: domain.NotificationPostLike, Message: "ghost liked", CreatedAt: at.Add(2 * time.Second)}
	for _, n := range []*domain.Notification{older, newer, orphan} {
		req.NoError(store.CreateNotification(ctx, n))
	}

	// When bob lists notifications
	list, err := store.ListNotifications(ctx, bob.ID)
	req.NoError(err)

	// Then they come newest first, with sender summaries, without the orphan
	req.Len(list, 2)
	req.Equal(newer.ID, list[0].ID)
	req.Equal(older.ID, list[1].ID)
	req.Equal("Alice A", list[0].From.FullName)

	// And the raw scan still sees all three
	all, err := store.ScanNotifications(ctx, uuid.Nil, 10)
	req.NoError(err)
	req.Len(all, 3)
}

func TestBadgerStore_Notifications_Mark_Read(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	at := time.Now().UTC()
	n1 := &domain.Notification{ID: uuid.New(), FromID: alice, ToID: bob, Type: domain.NotificationPostLike, Message: "m", CreatedAt: at}
	n2 := &domain.Notification{ID: uuid.New(), FromID: alice, ToID: bob, Type: domain.NotificationPostLike, Message: "m", CreatedAt: at.Add(time.Millisecond)}
	req.NoError(store.CreateNotification(ctx, n1))
	req.NoError(store.CreateNotification(ctx, n2))

	// Someone else cannot mark bob's notifications
	modified, err := store.MarkNotificationsRead(ctx, alice, []uuid.UUID{n1.ID})
	req.NoError(err)
	req.Zero(modified)

	modified, err = store.MarkNotificationsRead(ctx, bob, []uuid.UUID{n1.ID, n1.ID})
	req.NoError(err)
	req.EqualValues(1, modified)

	modified, err = store.MarkAllNotificationsRead(ctx, bob)
	req.NoError(err)
	req.EqualValues(1, modified)
}

func TestBadgerStore_ScanNotifications_Pages_By_Cursor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		req.NoError(store.CreateNotification(ctx, &domain.Notification{
			ID: uuid.New(), FromID: uuid.New(), ToID: uuid.New(),
			Type: domain.NotificationPostLike, Message: "m", CreatedAt: time.Now().UTC(),
		}))
	}

	seen := map[uuid.UUID]bool{}
	cursor := uuid.Nil
	for {
		page, err := store.ScanNotifications(ctx, cursor, 2)
		req.NoError(err)
		if len(page) == 0 {
			break
		}
		for _, n := range page {
			req.False(seen[n.ID])
			seen[n.ID] = true
		}
		cursor = page[len(page)-1].ID
	}
	req.Len(seen, 5)
}

func TestBadgerStore_Friendship_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	rel := &domain.Relationship{ID: uuid.New(), FromID: alice, ToID: bob, Status: domain.RelationshipPending, CreatedAt: time.Now().UTC()}

	// Given a friend request with its notification
	req.NoError(store.CreateFriendRequest(ctx, rel, &domain.Notification{
		ID: uuid.New(), FromID: alice, ToID: bob, Type: domain.NotificationFriendRequest, Message: "req", CreatedAt: time.Now().UTC(),
	}))
	req.ErrorIs(store.CreateFriendRequest(ctx, rel, nil), domain.ErrConflict)

	// When bob accepts
	accepted, err := store.RespondToRequest(ctx, rel.ID, domain.RelationshipAccepted, &domain.Notification{
		ID: uuid.New(), FromID: bob, ToID: alice, Type: domain.NotificationRequestAccepted, Message: "ok", CreatedAt: time.Now().UTC(),
	})
	req.NoError(err)
	req.Equal(domain.RelationshipAccepted, accepted.Status)

	// Then both follow each other and alice got the notification
	following, err := store.Following(ctx, alice)
	req.NoError(err)
	req.Equal([]uuid.UUID{bob}, following)
	followers, err := store.Followers(ctx, alice)
	req.NoError(err)
	req.Equal([]uuid.UUID{bob}, followers)
	all, err := store.ScanNotifications(ctx, uuid.Nil, 10)
	req.NoError(err)
	req.Len(all, 2)

	// And a second answer conflicts
	_, err = store.RespondToRequest(ctx, rel.ID, domain.RelationshipRejected, nil)
	req.ErrorIs(err, domain.ErrConflict)

	// When they unfriend
	req.NoError(store.DeleteFriendship(ctx, bob, alice))
	following, err = store.Following(ctx, alice)
	req.NoError(err)
	req.Empty(following)
	req.ErrorIs(store.DeleteFriendship(ctx, bob, alice), domain.ErrNotFound)
}

func TestBadgerStore_SaveUser_Username_Is_Unique(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	first := &domain.User{ID: uuid.New(), Username: "sam"}
	req.NoError(store.SaveUser(ctx, first))

	req.ErrorIs(store.SaveUser(ctx, &domain.User{ID: uuid.New(), Username: "sam"}), domain.ErrConflict)

	// Renaming frees the old name
	first.Username = "samuel"
	req.NoError(store.SaveUser(ctx, first))
	req.NoError(store.SaveUser(ctx, &domain.User{ID: uuid.New(), Username: "sam"}))

	exists, err := store.UserExists(ctx, first.ID)
	req.NoError(err)
	req.True(exists)
	_, err = store.GetUser(ctx, uuid.New())
	req.ErrorIs(err, domain.ErrNotFound)
}
