package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat_relay/internal/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const maxConflictRetries = 5

// BadgerStore is the embedded single-node Store.
//
// Key layout:
//
//	user:{id}                          -> User
//	username:{name}                    -> user id
//	msg:{id}                           -> Message
//	conv:{lo}:{hi}:{ts}:{id}           -> conversation index, lo/hi are the sorted pair
//	unread:{to}:{from}:{id}            -> present while the message is unread
//	ntf:{id}                           -> Notification
//	ntfto:{to}:{ts}:{id}               -> recipient index
//	rel:{id}                           -> Relationship
//	relpair:{from}:{to}                -> relationship id
//	follow:{follower}:{followee}       -> follow edge
//	follower:{followee}:{follower}     -> reverse follow edge
//
// Timestamps are zero-padded unix nanos so prefix scans come back in time order.
type BadgerStore struct {
	db  *badger.DB
	log zerolog.Logger
}

func OpenBadger(path string, log zerolog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(badgerLogger{log: log}))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	return NewBadgerStore(db, log), nil
}

func NewBadgerStore(db *badger.DB, log zerolog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// update retries on optimistic transaction conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("badger transaction conflict, retrying")
	}
	return err
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// ---- messages ----

func (s *BadgerStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	stored := storedMessage(msg)
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(msgKey(stored.ID)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, msgKey(stored.ID), stored); err != nil {
			return err
		}
		if err := txn.Set(convKey(stored.FromID, stored.ToID, stored.CreatedAt, stored.ID), nil); err != nil {
			return err
		}
		if stored.Status != domain.MessageStatusRead {
			return txn.Set(unreadKey(stored.ToID, stored.FromID, stored.ID), nil)
		}
		return nil
	})
}

func (s *BadgerStore) GetConversation(ctx context.Context, a, b uuid.UUID) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range idsUnder(txn, convPrefix(a, b)) {
			var msg domain.Message
			if err := getJSON(txn, msgKey(id), &msg); err != nil {
				return err
			}
			messages = append(messages, &msg)
		}
		return nil
	})
	return messages, err
}

func (s *BadgerStore) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, key := range keysUnder(txn, []byte("unread:"+userID.String()+":")) {
			parts := strings.Split(string(key), ":")
			from, err := uuid.Parse(parts[2])
			if err != nil {
				return err
			}
			counts[from]++
		}
		return nil
	})
	return counts, err
}

func (s *BadgerStore) MarkMessageRead(ctx context.Context, messageID, senderID, readerID uuid.UUID) (bool, error) {
	var changed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = false
		var msg domain.Message
		if err := getJSON(txn, msgKey(messageID), &msg); err != nil {
			return err
		}
		if msg.FromID != senderID || msg.ToID != readerID {
			return domain.ErrNotFound
		}
		if msg.Status == domain.MessageStatusRead {
			return nil
		}
		if err := markRead(txn, &msg); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (s *BadgerStore) MarkConversationRead(ctx context.Context, senderID, readerID uuid.UUID, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.update(ctx, func(txn *badger.Txn) error {
		ids = nil
		for _, id := range idsUnder(txn, []byte("unread:"+readerID.String()+":"+senderID.String()+":")) {
			var msg domain.Message
			if err := getJSON(txn, msgKey(id), &msg); err != nil {
				return err
			}
			if msg.CreatedAt.After(cutoff) || msg.Status == domain.MessageStatusRead {
				continue
			}
			if err := markRead(txn, &msg); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (s *BadgerStore) EditMessage(ctx context.Context, messageID, senderID uuid.UUID, content string) (*domain.Message, error) {
	var msg domain.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, msgKey(messageID), &msg); err != nil {
			return err
		}
		if msg.FromID != senderID {
			return domain.ErrNotFound
		}
		msg.Content = content
		return setJSON(txn, msgKey(messageID), &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *BadgerStore) ClearConversation(ctx context.Context, a, b uuid.UUID) (int64, error) {
	var deleted int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		deleted = 0
		for _, key := range keysUnder(txn, convPrefix(a, b)) {
			id, err := lastID(key)
			if err != nil {
				return err
			}
			var msg domain.Message
			if err := getJSON(txn, msgKey(id), &msg); err != nil {
				return err
			}
			for _, k := range [][]byte{key, msgKey(id), unreadKey(msg.ToID, msg.FromID, id)} {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func markRead(txn *badger.Txn, msg *domain.Message) error {
	msg.Status = domain.MessageStatusRead
	if err := setJSON(txn, msgKey(msg.ID), msg); err != nil {
		return err
	}
	return txn.Delete(unreadKey(msg.ToID, msg.FromID, msg.ID))
}

// ---- notifications ----

func (s *BadgerStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return putNotification(txn, n)
	})
}

func putNotification(txn *badger.Txn, n *domain.Notification) error {
	stored := *n
	stored.From = nil
	if err := setJSON(txn, ntfKey(stored.ID), &stored); err != nil {
		return err
	}
	return txn.Set(ntfToKey(stored.ToID, stored.CreatedAt, stored.ID), nil)
}

func (s *BadgerStore) ListNotifications(ctx context.Context, userID uuid.UUID) ([]*domain.Notification, error) {
	var result []*domain.Notification
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := []byte("ntfto:" + userID.String() + ":")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(bytes.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			id, err := lastID(it.Item().Key())
			if err != nil {
				return err
			}
			var n domain.Notification
			if err := getJSON(txn, ntfKey(id), &n); err != nil {
				return err
			}
			var from domain.User
			err = getJSON(txn, userKey(n.FromID), &from)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			n.From = lo.ToPtr(from.Summary())
			result = append(result, &n)
		}
		return nil
	})
	return result, err
}

func (s *BadgerStore) MarkNotificationsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	var modified int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		modified = 0
		for _, id := range lo.Uniq(ids) {
			var n domain.Notification
			err := getJSON(txn, ntfKey(id), &n)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if n.ToID != userID || n.Read {
				continue
			}
			n.Read = true
			if err := setJSON(txn, ntfKey(id), &n); err != nil {
				return err
			}
			modified++
		}
		return nil
	})
	return modified, err
}

func (s *BadgerStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	var ids []uuid.UUID
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids = idsUnder(txn, []byte("ntfto:"+userID.String()+":"))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.MarkNotificationsRead(ctx, userID, ids)
}

func (s *BadgerStore) ScanNotifications(ctx context.Context, after uuid.UUID, limit int) ([]*domain.Notification, error) {
	var result []*domain.Notification
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := []byte("ntf:")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := ntfKey(after)
		for it.Seek(start); it.ValidForPrefix(prefix) && len(result) < limit; it.Next() {
			item := it.Item()
			if bytes.Equal(item.Key(), start) {
				continue
			}
			var n domain.Notification
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				return err
			}
			result = append(result, &n)
		}
		return nil
	})
	return result, err
}

func (s *BadgerStore) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var n domain.Notification
		err := getJSON(txn, ntfKey(id), &n)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(ntfKey(id)); err != nil {
			return err
		}
		return txn.Delete(ntfToKey(n.ToID, n.CreatedAt, id))
	})
}

// ---- users ----

func (s *BadgerStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BadgerStore) GetUserSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserSummary, error) {
	result := make(map[uuid.UUID]domain.UserSummary, len(ids))
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range lo.Uniq(ids) {
			var u domain.User
			err := getJSON(txn, userKey(id), &u)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result[id] = u.Summary()
		}
		return nil
	})
	return result, err
}

func (s *BadgerStore) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

func (s *BadgerStore) SaveUser(ctx context.Context, user *domain.User) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		nameKey := []byte("username:" + user.Username)
		item, err := txn.Get(nameKey)
		switch {
		case err == nil:
			owner, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(owner) != user.ID.String() {
				return domain.ErrConflict
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		var previous domain.User
		err = getJSON(txn, userKey(user.ID), &previous)
		if err == nil && previous.Username != user.Username {
			if err := txn.Delete([]byte("username:" + previous.Username)); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if err := txn.Set(nameKey, []byte(user.ID.String())); err != nil {
			return err
		}
		return setJSON(txn, userKey(user.ID), user)
	})
}

// ---- relationships ----

func (s *BadgerStore) CreateFriendRequest(ctx context.Context, rel *domain.Relationship, n *domain.Notification) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		pair := relPairKey(rel.FromID, rel.ToID)
		if _, err := txn.Get(pair); err == nil {
			return domain.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, relKey(rel.ID), rel); err != nil {
			return err
		}
		if err := txn.Set(pair, []byte(rel.ID.String())); err != nil {
			return err
		}
		if n != nil {
			return putNotification(txn, n)
		}
		return nil
	})
}

func (s *BadgerStore) GetRelationship(ctx context.Context, id uuid.UUID) (*domain.Relationship, error) {
	var rel domain.Relationship
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, relKey(id), &rel)
	})
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (s *BadgerStore) RespondToRequest(ctx context.Context, id uuid.UUID, status domain.RelationshipStatus, n *domain.Notification) (*domain.Relationship, error) {
	var rel domain.Relationship
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, relKey(id), &rel); err != nil {
			return err
		}
		if rel.Status != domain.RelationshipPending {
			return domain.ErrConflict
		}
		rel.Status = status
		if err := setJSON(txn, relKey(id), &rel); err != nil {
			return err
		}
		if status == domain.RelationshipAccepted {
			for _, k := range followKeys(rel.FromID, rel.ToID) {
				if err := txn.Set(k, nil); err != nil {
					return err
				}
			}
		}
		if n != nil {
			return putNotification(txn, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (s *BadgerStore) DeleteFriendship(ctx context.Context, a, b uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		found := false
		for _, pair := range [][]byte{relPairKey(a, b), relPairKey(b, a)} {
			item, err := txn.Get(pair)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			relID, err := uuid.ParseBytes(raw)
			if err != nil {
				return err
			}
			var rel domain.Relationship
			if err := getJSON(txn, relKey(relID), &rel); err != nil {
				return err
			}
			if rel.Status != domain.RelationshipAccepted {
				continue
			}
			if err := txn.Delete(relKey(relID)); err != nil {
				return err
			}
			if err := txn.Delete(pair); err != nil {
				return err
			}
			found = true
		}
		if !found {
			return domain.ErrNotFound
		}
		for _, k := range followKeys(a, b) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Following(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids = idsUnder(txn, []byte("follow:"+userID.String()+":"))
		return nil
	})
	return ids, err
}

func (s *BadgerStore) Followers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids = idsUnder(txn, []byte("follower:"+userID.String()+":"))
		return nil
	})
	return ids, err
}

// ---- keys and codecs ----

func userKey(id uuid.UUID) []byte { return []byte("user:" + id.String()) }
func msgKey(id uuid.UUID) []byte  { return []byte("msg:" + id.String()) }
func ntfKey(id uuid.UUID) []byte  { return []byte("ntf:" + id.String()) }
func relKey(id uuid.UUID) []byte  { return []byte("rel:" + id.String()) }

func relPairKey(from, to uuid.UUID) []byte {
	return []byte("relpair:" + from.String() + ":" + to.String())
}

func convPrefix(a, b uuid.UUID) []byte {
	first, second := a.String(), b.String()
	if second < first {
		first, second = second, first
	}
	return []byte("conv:" + first + ":" + second + ":")
}

func convKey(a, b uuid.UUID, at time.Time, id uuid.UUID) []byte {
	return append(convPrefix(a, b), fmt.Sprintf("%019d:%s", at.UnixNano(), id)...)
}

func unreadKey(to, from, id uuid.UUID) []byte {
	return []byte("unread:" + to.String() + ":" + from.String() + ":" + id.String())
}

func ntfToKey(to uuid.UUID, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("ntfto:%s:%019d:%s", to, at.UnixNano(), id))
}

// followKeys returns the mutual follow edges between a and b plus their reverse index.
func followKeys(a, b uuid.UUID) [][]byte {
	return [][]byte{
		[]byte("follow:" + a.String() + ":" + b.String()),
		[]byte("follow:" + b.String() + ":" + a.String()),
		[]byte("follower:" + b.String() + ":" + a.String()),
		[]byte("follower:" + a.String() + ":" + b.String()),
	}
}

func storedMessage(msg *domain.Message) *domain.Message {
	stored := *msg
	stored.From, stored.To, stored.TempID = nil, nil, ""
	return &stored
}

func lastID(key []byte) (uuid.UUID, error) {
	idx := bytes.LastIndexByte(key, ':')
	return uuid.ParseBytes(key[idx+1:])
}

func keysUnder(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func idsUnder(txn *badger.Txn, prefix []byte) []uuid.UUID {
	var ids []uuid.UUID
	for _, key := range keysUnder(txn, prefix) {
		if id, err := lastID(key); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}
