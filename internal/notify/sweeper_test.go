package notify

import (
	"context"
	"testing"
	"time"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Deletes_Only_Orphans(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice", "Alice")
	bob := e.user(t, "bob", "Bob")
	ghost := uuid.New()

	// Given notifications from a live user and from a user that no longer exists
	for i := 0; i < 3; i++ {
		_, err := e.fanout.Notify(ctx, NotifyRequest{From: alice, To: bob, Type: domain.NotificationFriendRequest, Message: "live"})
		req.NoError(err)
	}
	for i := 0; i < 4; i++ {
		req.NoError(e.store.CreateNotification(ctx, &domain.Notification{
			ID: uuid.New(), FromID: ghost, ToID: bob, Type: domain.NotificationPostLike,
			Message: "orphan", CreatedAt: time.Now().UTC(),
		}))
	}

	// When the sweeper runs with pages smaller than the data
	s := NewSweeper(e.store, 1000, 2, zerolog.Nop())
	deleted, err := s.Sweep(ctx)

	// Then only the orphans are gone
	req.NoError(err)
	req.Equal(4, deleted)
	remaining, err := e.store.ScanNotifications(ctx, uuid.Nil, 100)
	req.NoError(err)
	req.Len(remaining, 3)
	for _, n := range remaining {
		req.Equal(alice, n.FromID)
	}

	// And a second pass has nothing to do
	deleted, err = s.Sweep(ctx)
	req.NoError(err)
	req.Zero(deleted)
}

func TestSweeper_Stops_On_Cancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, e.store.CreateNotification(context.Background(), &domain.Notification{
			ID: uuid.New(), FromID: uuid.New(), ToID: uuid.New(), Type: domain.NotificationPostLike, Message: "x",
		}))
	}
	cancel()

	s := NewSweeper(e.store, 1, 10, zerolog.Nop())
	_, err := s.Sweep(ctx)

	require.Error(t, err)
}

func TestSweeper_Start_Rejects_Bad_Schedule(t *testing.T) {
	e := newEnv(t)
	s := NewSweeper(e.store, 10, 10, zerolog.Nop())

	err := s.Start(context.Background(), "every now and then")

	require.Error(t, err)
	s.Stop()
}

func TestSweeper_Start_And_Stop(t *testing.T) {
	e := newEnv(t)
	s := NewSweeper(e.store, 10, 10, zerolog.Nop())

	require.NoError(t, s.Start(context.Background(), "@every 1h"))
	s.Stop()
}
