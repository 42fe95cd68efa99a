package ws

import (
	"context"
	"time"

	"chat_relay/internal/domain"
	"chat_relay/internal/outbox"
	"chat_relay/internal/presence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// mirrorBacklog bounds session writes waiting for the mirror goroutine.
const mirrorBacklog = 256

type sessionOp struct {
	add          bool
	userID       uuid.UUID
	connectionID uuid.UUID
}

type registerRequest struct {
	client *Client
	userID uuid.UUID
	done   chan struct{}
}

// Hub serializes register and disconnect through its run loop and fans
// events out to live clients. It implements presence.Broadcaster.
type Hub struct {
	registry *presence.Registry

	register   chan registerRequest
	unregister chan *Client
	stopped    chan struct{}

	sessions presence.SessionRepository
	mirror   chan sessionOp
	journal  outbox.Journal
	nodeID   string
	log      zerolog.Logger
}

// NewHub builds a hub over registry. sessions and journal may be nil.
func NewHub(registry *presence.Registry, sessions presence.SessionRepository, journal outbox.Journal, nodeID string, log zerolog.Logger) *Hub {
	return &Hub{
		registry:   registry,
		register:   make(chan registerRequest),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		sessions:   sessions,
		mirror:     make(chan sessionOp, mirrorBacklog),
		journal:    journal,
		nodeID:     nodeID,
		log:        log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Registry() *presence.Registry { return h.registry }

// Run processes registrations and disconnects until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.sessions != nil {
		go h.runMirror(ctx)
	}
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.register:
			h.onRegister(ctx, req.client, req.userID)
			close(req.done)
		case client := <-h.unregister:
			h.onUnregister(ctx, client)
		}
	}
}

// Register binds client to userID and returns once the hub has applied it.
func (h *Hub) Register(client *Client, userID uuid.UUID) {
	req := registerRequest{client: client, userID: userID, done: make(chan struct{})}
	select {
	case h.register <- req:
		<-req.done
	case <-h.stopped:
	}
}

// Unregister tears client down. It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.close()
	}
}

func (h *Hub) onRegister(ctx context.Context, client *Client, userID uuid.UUID) {
	if client.State() == StateDisconnected {
		return
	}
	reg := h.registry.Register(userID, client)
	client.bind(userID)
	if !reg.Changed {
		return
	}

	if reg.PreviousUser != uuid.Nil {
		h.Broadcast(domain.NewEnvelope(domain.EventUserDisconnected, reg.PreviousUser))
		h.removeSession(reg.PreviousUser, client.ID())
		outbox.Record(ctx, h.journal, h.log, domain.EventTypeUserLeft, h.sessionEvent(reg.PreviousUser, client))
	}
	if reg.Replaced != nil {
		h.removeSession(userID, reg.Replaced.ID())
	}
	h.Broadcast(domain.NewEnvelope(domain.EventUserConnected, userID))
	h.Emit(client, domain.NewEnvelope(domain.EventOnlineUsers, h.registry.Snapshot()))
	h.addSession(userID, client.ID())
	outbox.Record(ctx, h.journal, h.log, domain.EventTypeUserJoined, h.sessionEvent(userID, client))

	h.log.Info().
		Str("user_id", userID.String()).
		Str("connection_id", client.ID().String()).
		Bool("replaced", reg.Replaced != nil).
		Int("online", h.registry.Len()).
		Msg("Client registered")
}

func (h *Hub) onUnregister(ctx context.Context, client *Client) {
	if !client.close() {
		return
	}
	userID, ok := h.registry.RemoveHandle(client)
	if !ok {
		h.log.Debug().Str("connection_id", client.ID().String()).Msg("Connection closed without registration")
		return
	}
	h.Broadcast(domain.NewEnvelope(domain.EventUserDisconnected, userID))
	h.removeSession(userID, client.ID())
	outbox.Record(ctx, h.journal, h.log, domain.EventTypeUserLeft, h.sessionEvent(userID, client))

	h.log.Info().
		Str("user_id", userID.String()).
		Str("connection_id", client.ID().String()).
		Int("online", h.registry.Len()).
		Msg("Client unregistered")
}

// Emit delivers env to one handle. Failures are logged.
func (h *Hub) Emit(target presence.Handle, env domain.Envelope) {
	if target == nil {
		return
	}
	if err := target.Deliver(env); err != nil {
		h.log.Warn().Err(err).
			Str("connection_id", target.ID().String()).
			Str("event", env.Type).
			Msg("Failed to deliver event")
	}
}

// Broadcast delivers env to every registered handle.
func (h *Hub) Broadcast(env domain.Envelope) {
	for _, target := range h.registry.Handles() {
		h.Emit(target, env)
	}
}

type presenceEvent struct {
	UserID       uuid.UUID `json:"userId"`
	ConnectionID uuid.UUID `json:"connectionId"`
	NodeID       string    `json:"nodeId,omitempty"`
}

func (h *Hub) sessionEvent(userID uuid.UUID, client *Client) presenceEvent {
	return presenceEvent{UserID: userID, ConnectionID: client.ID(), NodeID: h.nodeID}
}

// Session mirroring is best effort and never blocks the run loop. Writes are
// applied by a single goroutine in the order the run loop queued them.
func (h *Hub) addSession(userID, connectionID uuid.UUID) {
	h.queueSession(sessionOp{add: true, userID: userID, connectionID: connectionID})
}

func (h *Hub) removeSession(userID, connectionID uuid.UUID) {
	h.queueSession(sessionOp{userID: userID, connectionID: connectionID})
}

func (h *Hub) queueSession(op sessionOp) {
	if h.sessions == nil {
		return
	}
	select {
	case h.mirror <- op:
	default:
		h.log.Warn().
			Str("user_id", op.userID.String()).
			Str("connection_id", op.connectionID.String()).
			Msg("Session mirror backlog full, dropping write")
	}
}

func (h *Hub) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-h.mirror:
			h.applySession(op)
		}
	}
}

func (h *Hub) applySession(op sessionOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if op.add {
		if err := h.sessions.AddSession(ctx, op.userID, op.connectionID, h.nodeID); err != nil {
			h.log.Warn().Err(err).Str("user_id", op.userID.String()).Msg("Failed to add session")
		}
		return
	}
	if err := h.sessions.RemoveSession(ctx, op.userID, op.connectionID); err != nil {
		h.log.Warn().Err(err).Str("user_id", op.userID.String()).Msg("Failed to remove session")
	}
}
