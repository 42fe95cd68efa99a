// Package receipt moves messages from sent to read and tells both sides.
package receipt

import (
	"context"
	"errors"
	"time"

	"chat_relay/internal/domain"
	"chat_relay/internal/outbox"
	"chat_relay/internal/presence"
	"chat_relay/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ReadRequest struct {
	MessageID uuid.UUID `json:"messageId" validate:"notnil"`
	ReaderID  uuid.UUID `json:"readerId" validate:"notnil"`
	SenderID  uuid.UUID `json:"senderId" validate:"notnil"`
}

// ReadResult lists the messages this call transitioned. Empty means nothing changed.
type ReadResult struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
}

func (r ReadResult) Changed() bool { return len(r.MessageIDs) > 0 }

type Propagator struct {
	messages repository.MessageStore
	dir      presence.Directory
	out      presence.Broadcaster
	journal  outbox.Journal
	log      zerolog.Logger
	now      func() time.Time
}

func NewPropagator(
	messages repository.MessageStore,
	dir presence.Directory,
	out presence.Broadcaster,
	journal outbox.Journal,
	log zerolog.Logger,
) *Propagator {
	return &Propagator{
		messages: messages,
		dir:      dir,
		out:      out,
		journal:  journal,
		log:      log.With().Str("component", "receipt").Logger(),
		now:      time.Now,
	}
}

// MarkRead marks one message read. Reading an already-read message is a no-op;
// a message that does not exist between sender and reader is a NotFoundError.
func (p *Propagator) MarkRead(ctx context.Context, req ReadRequest, origin presence.Handle) (ReadResult, error) {
	if err := domain.Validate(req); err != nil {
		return ReadResult{}, err
	}
	changed, err := p.messages.MarkMessageRead(ctx, req.MessageID, req.SenderID, req.ReaderID)
	if errors.Is(err, domain.ErrNotFound) {
		return ReadResult{}, domain.NewNotFoundError("message", req.MessageID)
	}
	if err != nil {
		return ReadResult{}, domain.NewStoreError("mark message read", err)
	}
	if !changed {
		return ReadResult{}, nil
	}
	p.propagate(ctx, req.MessageID, req.ReaderID, req.SenderID, origin)
	return ReadResult{MessageIDs: []uuid.UUID{req.MessageID}}, nil
}

// MarkAllRead marks every message from sender to reader that existed when the
// call started. Messages arriving afterwards stay unread.
func (p *Propagator) MarkAllRead(ctx context.Context, readerID, senderID uuid.UUID, origin presence.Handle) (ReadResult, error) {
	if readerID == uuid.Nil {
		return ReadResult{}, domain.NewValidationError("readerId", "is required")
	}
	if senderID == uuid.Nil {
		return ReadResult{}, domain.NewValidationError("senderId", "is required")
	}
	cutoff := p.now().UTC()
	ids, err := p.messages.MarkConversationRead(ctx, senderID, readerID, cutoff)
	if err != nil {
		return ReadResult{}, domain.NewStoreError("mark conversation read", err)
	}
	for _, id := range ids {
		p.propagate(ctx, id, readerID, senderID, origin)
	}
	if len(ids) > 0 {
		p.log.Debug().
			Str("reader_id", readerID.String()).
			Str("sender_id", senderID.String()).
			Int("count", len(ids)).
			Msg("Conversation marked read")
	}
	return ReadResult{MessageIDs: ids}, nil
}

// propagate notifies the sender (chat partner = reader) and the reader's own
// connections (chat partner = sender) about one transitioned message.
func (p *Propagator) propagate(ctx context.Context, messageID, readerID, senderID uuid.UUID, origin presence.Handle) {
	toSender := domain.MessageReadEvent{
		MessageID:     messageID,
		ReaderID:      readerID,
		SenderID:      senderID,
		ChatPartnerID: readerID,
	}
	toReader := toSender
	toReader.ChatPartnerID = senderID

	if h, ok := p.dir.Lookup(senderID); ok && !presence.SameHandle(h, origin) {
		p.out.Emit(h, domain.NewEnvelope(domain.EventMessageRead, toSender))
	}
	if origin != nil {
		p.out.Emit(origin, domain.NewEnvelope(domain.EventMessageRead, toReader))
	}
	if h, ok := p.dir.Lookup(readerID); ok && !presence.SameHandle(h, origin) {
		p.out.Emit(h, domain.NewEnvelope(domain.EventMessageRead, toReader))
	}

	outbox.Record(ctx, p.journal, p.log, domain.EventTypeMessageRead, toSender)
}
