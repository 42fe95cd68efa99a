// Package presencetest provides an in-memory presence.Handle for tests.
package presencetest

import (
	"sync"

	"chat_relay/internal/domain"
	"chat_relay/internal/presence"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Recorder is a Handle that keeps every envelope it is given.
type Recorder struct {
	id uuid.UUID

	mu     sync.Mutex
	events []domain.Envelope
}

func NewRecorder() *Recorder {
	return &Recorder{id: uuid.New()}
}

func (r *Recorder) ID() uuid.UUID { return r.id }

func (r *Recorder) Deliver(env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	return nil
}

func (r *Recorder) Events() []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Envelope(nil), r.events...)
}

// OfType returns the recorded envelopes with the given event name.
func (r *Recorder) OfType(eventType string) []domain.Envelope {
	return lo.Filter(r.Events(), func(env domain.Envelope, _ int) bool {
		return env.Type == eventType
	})
}

// Broadcaster delivers synchronously to the registry's handles, for tests that do not run a hub.
type Broadcaster struct {
	Registry *presence.Registry
}

func (b Broadcaster) Emit(h presence.Handle, env domain.Envelope) {
	_ = h.Deliver(env)
}

func (b Broadcaster) Broadcast(env domain.Envelope) {
	for _, h := range b.Registry.Handles() {
		_ = h.Deliver(env)
	}
}
