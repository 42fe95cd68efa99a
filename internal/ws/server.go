package ws

import (
	"context"
	"net/http"

	"chat_relay/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server upgrades /ws requests and starts the client pumps.
type Server struct {
	hub        *Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	log        zerolog.Logger

	// ctx outlives individual requests so pumps keep running after ServeHTTP returns.
	ctx context.Context
}

func NewServer(ctx context.Context, hub *Hub, dispatcher *Dispatcher, opts Options, checkOrigin func(r *http.Request) bool, log zerolog.Logger) *Server {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		opts: opts,
		log:  log.With().Str("component", "ws").Logger(),
		ctx:  ctx,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var authUser uuid.UUID
	if user, ok := auth.FromContext(r.Context()); ok {
		authUser = user.ID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upgrade WS")
		return
	}

	client := NewClient(s.hub, conn, authUser, s.opts, s.log)
	s.log.Debug().Str("connection_id", client.ID().String()).Str("remote", r.RemoteAddr).Msg("New connection")

	go client.WritePump()
	go client.ReadPump(s.ctx, s.dispatcher)
}
