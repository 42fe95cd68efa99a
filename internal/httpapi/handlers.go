// Package httpapi exposes the REST fallback for chat, notifications and
// relationships. Every route except /ws requires a session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chat_relay/internal/auth"
	"chat_relay/internal/delivery"
	"chat_relay/internal/domain"
	"chat_relay/internal/notify"
	"chat_relay/internal/presence"
	"chat_relay/internal/receipt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type Messages interface {
	SendMessage(ctx context.Context, req delivery.SendRequest, origin presence.Handle) (*domain.Message, error)
	Conversation(ctx context.Context, user, partner uuid.UUID) ([]*domain.Message, error)
	UnreadCounts(ctx context.Context, user uuid.UUID) (map[uuid.UUID]int, error)
	EditMessage(ctx context.Context, editor, messageID uuid.UUID, content string) (*domain.Message, error)
	ClearConversation(ctx context.Context, user, partner uuid.UUID) (int64, error)
}

type Receipts interface {
	MarkAllRead(ctx context.Context, readerID, senderID uuid.UUID, origin presence.Handle) (receipt.ReadResult, error)
}

type Notifications interface {
	Notify(ctx context.Context, req notify.NotifyRequest) (*domain.Notification, error)
	SendFriendRequest(ctx context.Context, from, to uuid.UUID) (*domain.Relationship, error)
	RespondToRequest(ctx context.Context, responder, requestID uuid.UUID, accept bool) (*domain.Relationship, error)
	Unfriend(ctx context.Context, user, friend uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type Handler struct {
	messages      Messages
	receipts      Receipts
	notifications Notifications
	log           zerolog.Logger
}

func NewHandler(messages Messages, receipts Receipts, notifications Notifications, log zerolog.Logger) *Handler {
	return &Handler{
		messages:      messages,
		receipts:      receipts,
		notifications: notifications,
		log:           log.With().Str("component", "http").Logger(),
	}
}

// Routes builds the mux. ws is mounted on /ws behind the optional session check.
func (h *Handler) Routes(verifier *auth.Verifier, ws http.Handler, allowedOrigin string) http.Handler {
	mux := http.NewServeMux()
	if ws != nil {
		mux.Handle("GET /ws", verifier.Optional(ws))
	}

	private := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, verifier.Require(fn))
	}
	private("POST /api/messages/send", h.sendMessage)
	private("GET /api/messages/unread", h.unreadCounts)
	private("GET /api/messages/{userId}", h.conversation)
	private("PUT /api/messages/read/{userId}", h.markConversationRead)
	private("PUT /api/messages/{messageId}", h.editMessage)
	private("DELETE /api/messages/clear/{userId}", h.clearConversation)

	private("GET /api/notifications", h.listNotifications)
	private("POST /api/notifications", h.createNotification)
	private("PUT /api/notifications/read", h.markNotificationsRead)
	private("PUT /api/notifications/read-all", h.markAllNotificationsRead)

	private("POST /api/relationships/request", h.sendFriendRequest)
	private("POST /api/relationships/respond", h.respondToRequest)
	private("POST /api/relationships/unfriend", h.unfriend)

	return enableCORS(allowedOrigin, mux)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To       uuid.UUID          `json:"to"`
		Content  string             `json:"content"`
		Type     domain.MessageType `json:"type"`
		MediaURL string             `json:"mediaUrl"`
		TempID   string             `json:"tempId"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	msg, err := h.messages.SendMessage(r.Context(), delivery.SendRequest{
		From:     currentUser(r),
		To:       body.To,
		Content:  body.Content,
		Type:     body.Type,
		MediaURL: body.MediaURL,
		TempID:   body.TempID,
	}, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (h *Handler) unreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.messages.UnreadCounts(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "unreadCounts": counts})
}

func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) {
	partner, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}
	msgs, err := h.messages.Conversation(r.Context(), currentUser(r), partner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

func (h *Handler) markConversationRead(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}
	res, err := h.receipts.MarkAllRead(r.Context(), currentUser(r), sender, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "modifiedCount": len(res.MessageIDs)})
}

func (h *Handler) editMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "messageId")
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	msg, err := h.messages.EditMessage(r.Context(), currentUser(r), id, body.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (h *Handler) clearConversation(w http.ResponseWriter, r *http.Request) {
	partner, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}
	n, err := h.messages.ClearConversation(r.Context(), currentUser(r), partner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Messages cleared", "deletedCount": n})
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.notifications.List(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// createNotification lets collaborating services report post activity by the session user.
func (h *Handler) createNotification(w http.ResponseWriter, r *http.Request) {
	var body notify.NotifyRequest
	if !h.decode(w, r, &body) {
		return
	}
	body.From = currentUser(r)
	n, err := h.notifications.Notify(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NotificationIDs []string `json:"notificationIds"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	ids, err := parseIDs(body.NotificationIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.notifications.MarkRead(r.Context(), currentUser(r), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "modifiedCount": n})
}

func (h *Handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "modifiedCount": n})
}

func (h *Handler) sendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To uuid.UUID `json:"to"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	rel, err := h.notifications.SendFriendRequest(r.Context(), currentUser(r), body.To)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *Handler) respondToRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID uuid.UUID `json:"requestId"`
		Action    string    `json:"action" validate:"oneof=accept reject"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := domain.Validate(body); err != nil {
		h.writeError(w, r, err)
		return
	}
	rel, err := h.notifications.RespondToRequest(r.Context(), currentUser(r), body.RequestID, body.Action == "accept")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *Handler) unfriend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FriendID uuid.UUID `json:"friendId"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.notifications.Unfriend(r.Context(), currentUser(r), body.FriendID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Unfriended successfully"})
}

func currentUser(r *http.Request) uuid.UUID {
	user, _ := auth.FromContext(r.Context())
	return user.ID
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, domain.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeError(w, r, domain.NewValidationError(name, "must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	var bad []string
	ids := lo.FilterMap(raw, func(s string, _ int) (uuid.UUID, bool) {
		id, err := uuid.Parse(s)
		if err != nil {
			bad = append(bad, s)
		}
		return id, err == nil
	})
	if len(bad) > 0 {
		return nil, domain.NewValidationError("notificationIds", "invalid id "+bad[0])
	}
	return lo.Uniq(ids), nil
}

// writeError maps domain errors to status codes. Store failures are logged
// and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": ve.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": err.Error()})
	default:
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func enableCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allow := origin
		if allow == "" || allow == "*" {
			allow = "*"
			if o := r.Header.Get("Origin"); o != "" {
				allow = o
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", allow)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
