// Package notify persists social notifications and delivers them live.
package notify

import (
	"context"
	"errors"
	"fmt"
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

const unfriendMessage = "You are no longer friends."

type NotifyRequest struct {
	From    uuid.UUID               `json:"from" validate:"notnil"`
	To      uuid.UUID               `json:"to" validate:"notnil"`
	Type    domain.NotificationType `json:"type"`
	Message string                  `json:"message" validate:"notblank"`
	PostID  *uuid.UUID              `json:"postId"`
}

func (r NotifyRequest) validate() error {
	if err := domain.Validate(r); err != nil {
		return err
	}
	if !r.Type.Persistable() {
		return domain.NewValidationError("Type", "is not a stored notification type")
	}
	if r.From == r.To {
		return domain.NewValidationError("To", "must differ from From")
	}
	if (r.Type == domain.NotificationPostLike || r.Type == domain.NotificationPostComment) &&
		(r.PostID == nil || *r.PostID == uuid.Nil) {
		return domain.NewValidationError("PostID", "is required for post notifications")
	}
	return nil
}

type Store interface {
	repository.NotificationStore
	repository.RelationshipStore
	repository.UserStore
}

type Fanout struct {
	store   Store
	dir     presence.Directory
	out     presence.Broadcaster
	offline broker.OfflinePublisher
	journal outbox.Journal
	log     zerolog.Logger
	now     func() time.Time
}

// NewFanout wires the fan-out. offline and journal may be nil.
func NewFanout(
	store Store,
	dir presence.Directory,
	out presence.Broadcaster,
	offline broker.OfflinePublisher,
	journal outbox.Journal,
	log zerolog.Logger,
) *Fanout {
	return &Fanout{
		store:   store,
		dir:     dir,
		out:     out,
		offline: offline,
		journal: journal,
		log:     log.With().Str("component", "notify").Logger(),
		now:     time.Now,
	}
}

// Notify persists a notification and delivers it to the recipient.
func (f *Fanout) Notify(ctx context.Context, req NotifyRequest) (*domain.Notification, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := req.validate(); err != nil {
		return nil, err
	}
	n := f.newNotification(req.From, req.To, req.Type, req.Message)
	n.PostID = req.PostID
	if err := f.store.CreateNotification(ctx, n); err != nil {
		return nil, domain.NewStoreError("create notification", err)
	}
	f.attachSender(ctx, n, nil)
	f.deliver(ctx, n)
	return n, nil
}

// SendFriendRequest creates a pending request from -> to together with its notification.
func (f *Fanout) SendFriendRequest(ctx context.Context, from, to uuid.UUID) (*domain.Relationship, error) {
	if from == uuid.Nil || to == uuid.Nil {
		return nil, domain.NewValidationError("userId", "is required")
	}
	if from == to {
		return nil, domain.NewValidationError("userId", "cannot send a friend request to yourself")
	}
	sender, err := f.user(ctx, from)
	if err != nil {
		return nil, err
	}
	exists, err := f.store.UserExists(ctx, to)
	if err != nil {
		return nil, domain.NewStoreError("load user", err)
	}
	if !exists {
		return nil, domain.NewNotFoundError("user", to)
	}

	rel := &domain.Relationship{
		ID:        uuid.New(),
		FromID:    from,
		ToID:      to,
		Status:    domain.RelationshipPending,
		CreatedAt: f.now().UTC(),
	}
	n := f.newNotification(from, to, domain.NotificationFriendRequest,
		fmt.Sprintf("%s sent you a friend request!", displayName(sender)))
	err = f.store.CreateFriendRequest(ctx, rel, n)
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.NewValidationError("userId", "friend request already sent")
	}
	if err != nil {
		return nil, domain.NewStoreError("create friend request", err)
	}

	summary := sender.Summary()
	rel.From = &summary
	f.attachSender(ctx, n, sender)
	f.deliver(ctx, n)
	return rel, nil
}

// RespondToRequest accepts or rejects a pending request addressed to responder.
func (f *Fanout) RespondToRequest(ctx context.Context, responder, requestID uuid.UUID, accept bool) (*domain.Relationship, error) {
	if responder == uuid.Nil || requestID == uuid.Nil {
		return nil, domain.NewValidationError("requestId", "is required")
	}
	rel, err := f.store.GetRelationship(ctx, requestID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError("friend request", requestID)
	}
	if err != nil {
		return nil, domain.NewStoreError("load friend request", err)
	}
	if rel.ToID != responder {
		return nil, domain.NewNotFoundError("friend request", requestID)
	}
	if rel.Status != domain.RelationshipPending {
		return nil, domain.NewValidationError("requestId", "request is already "+string(rel.Status))
	}
	actor, err := f.user(ctx, responder)
	if err != nil {
		return nil, err
	}

	status := domain.RelationshipRejected
	n := f.newNotification(responder, rel.FromID, domain.NotificationRequestRejected,
		fmt.Sprintf("%s rejected your friend request.", displayName(actor)))
	if accept {
		status = domain.RelationshipAccepted
		n.Type = domain.NotificationRequestAccepted
		n.Message = fmt.Sprintf("%s accepted your friend request!", displayName(actor))
	}

	updated, err := f.store.RespondToRequest(ctx, requestID, status, n)
	switch {
	case errors.Is(err, domain.ErrConflict):
		return nil, domain.NewValidationError("requestId", "request is no longer pending")
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.NewNotFoundError("friend request", requestID)
	case err != nil:
		return nil, domain.NewStoreError("respond to friend request", err)
	}

	f.attachSender(ctx, n, actor)
	f.deliver(ctx, n)
	return updated, nil
}

// Unfriend removes the friendship between user and friend, then tells both
// sides live. Nothing is persisted for the event itself.
func (f *Fanout) Unfriend(ctx context.Context, user, friend uuid.UUID) error {
	if user == uuid.Nil || friend == uuid.Nil {
		return domain.NewValidationError("userId", "is required")
	}
	if user == friend {
		return domain.NewValidationError("userId", "cannot unfriend yourself")
	}
	err := f.store.DeleteFriendship(ctx, user, friend)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewNotFoundError("friendship", friend)
	}
	if err != nil {
		return domain.NewStoreError("delete friendship", err)
	}

	for _, pair := range [][2]uuid.UUID{{user, friend}, {friend, user}} {
		n := f.newNotification(pair[0], pair[1], domain.NotificationUnfriend, unfriendMessage)
		f.attachSender(ctx, n, nil)
		if h, ok := f.dir.Lookup(n.ToID); ok {
			f.out.Emit(h, domain.NewEnvelope(domain.EventNotification, n))
		}
	}
	f.log.Info().Str("user_id", user.String()).Str("friend_id", friend.String()).Msg("Friendship removed")
	return nil
}

func (f *Fanout) List(ctx context.Context, userID uuid.UUID) ([]*domain.Notification, error) {
	if userID == uuid.Nil {
		return nil, domain.NewValidationError("userId", "is required")
	}
	list, err := f.store.ListNotifications(ctx, userID)
	if err != nil {
		return nil, domain.NewStoreError("list notifications", err)
	}
	return list, nil
}

func (f *Fanout) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, domain.NewValidationError("notificationIds", "must not be empty")
	}
	n, err := f.store.MarkNotificationsRead(ctx, userID, ids)
	if err != nil {
		return 0, domain.NewStoreError("mark notifications read", err)
	}
	return n, nil
}

func (f *Fanout) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := f.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, domain.NewStoreError("mark all notifications read", err)
	}
	return n, nil
}

func (f *Fanout) newNotification(from, to uuid.UUID, t domain.NotificationType, message string) *domain.Notification {
	return &domain.Notification{
		ID:        uuid.New(),
		FromID:    from,
		ToID:      to,
		Type:      t,
		Message:   message,
		CreatedAt: f.now().UTC(),
	}
}

func (f *Fanout) user(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, err := f.store.GetUser(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError("user", id)
	}
	if err != nil {
		return nil, domain.NewStoreError("load user", err)
	}
	return u, nil
}

// attachSender sets n.From, loading the sender when known is nil. Failures only log.
func (f *Fanout) attachSender(ctx context.Context, n *domain.Notification, known *domain.User) {
	if known != nil {
		s := known.Summary()
		n.From = &s
		return
	}
	summaries, err := f.store.GetUserSummaries(ctx, []uuid.UUID{n.FromID})
	if err != nil {
		f.log.Warn().Err(err).Str("user_id", n.FromID.String()).Msg("Failed to load sender summary")
		return
	}
	if s, ok := summaries[n.FromID]; ok {
		n.From = &s
	}
}

// deliver pushes a persisted notification to the recipient, or to the offline pipeline.
func (f *Fanout) deliver(ctx context.Context, n *domain.Notification) {
	env := domain.NewEnvelope(domain.EventNotification, n)
	if h, ok := f.dir.Lookup(n.ToID); ok {
		f.out.Emit(h, env)
	} else if f.offline != nil {
		if err := f.offline.PublishOffline(ctx, n.ToID, env); err != nil {
			f.log.Warn().Err(err).Str("user_id", n.ToID.String()).Msg("Failed to publish offline push")
		}
	}
	outbox.Record(ctx, f.journal, f.log, domain.EventTypeNotificationCreated, n)
}

func displayName(u *domain.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
