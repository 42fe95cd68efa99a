package presence

import (
	"sync"
	"time"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Handle is a live, addressable connection.
type Handle interface {
	ID() uuid.UUID
	Deliver(env domain.Envelope) error
}

// Directory answers "is this user reachable now".
type Directory interface {
	Lookup(userID uuid.UUID) (Handle, bool)
}

// Broadcaster pushes envelopes to live connections.
type Broadcaster interface {
	Emit(h Handle, env domain.Envelope)
	Broadcast(env domain.Envelope)
}

type Entry struct {
	UserID   uuid.UUID
	Handle   Handle
	JoinedAt time.Time
}

// Registration describes what a Register call changed.
type Registration struct {
	// Changed is false only when the same handle re-registers the same user.
	Changed bool
	// Replaced is the handle that previously served this user, if any.
	Replaced Handle
	// PreviousUser is set when the handle was bound to a different user before.
	PreviousUser uuid.UUID
}

// Registry maps each online user to exactly one handle, and each handle back to its user.
// It is safe for concurrent use; no I/O happens under its lock.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[uuid.UUID]Entry
	byHandle map[uuid.UUID]uuid.UUID
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[uuid.UUID]Entry),
		byHandle: make(map[uuid.UUID]uuid.UUID),
		now:      time.Now,
	}
}

// Register binds userID to h, replacing any handle the user had (last writer wins).
func (r *Registry) Register(userID uuid.UUID, h Handle) Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reg Registration
	if current, ok := r.byUser[userID]; ok {
		if current.Handle.ID() == h.ID() {
			return reg
		}
		reg.Replaced = current.Handle
		delete(r.byHandle, current.Handle.ID())
	}
	if prev, ok := r.byHandle[h.ID()]; ok && prev != userID {
		reg.PreviousUser = prev
		delete(r.byUser, prev)
	}

	r.byUser[userID] = Entry{UserID: userID, Handle: h, JoinedAt: r.now()}
	r.byHandle[h.ID()] = userID
	reg.Changed = true
	return reg
}

func (r *Registry) Lookup(userID uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[userID]
	return e.Handle, ok
}

// RemoveHandle drops the entry owned by h. A handle that was already replaced
// owns nothing, so removing it leaves the newer mapping in place.
func (r *Registry) RemoveHandle(h Handle) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byHandle[h.ID()]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.byHandle, h.ID())
	if e, ok := r.byUser[userID]; ok && e.Handle.ID() == h.ID() {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Snapshot returns the ids of every online user.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser)
}

func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.byUser, func(_ uuid.UUID, e Entry) Handle { return e.Handle })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// SameHandle reports whether a and b are the same live connection. Nil never matches.
func SameHandle(a, b Handle) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID() == b.ID()
}
