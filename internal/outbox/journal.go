//go:generate go run go.uber.org/mock/mockgen -source=journal.go -destination=../mocks/mock_journal.go -package=mocks
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/message"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
	"github.com/rs/zerolog"
)

// Journal appends committed state changes for downstream consumers.
type Journal interface {
	Append(ctx context.Context, eventType string, payload any) error
}

type streamProducer interface {
	Send(streamMessage message.StreamMessage) error
	Close() error
}

// StreamJournal writes each event as a JSON domain.OutboxEvent to a RabbitMQ stream.
type StreamJournal struct {
	producer   streamProducer
	streamName string
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	closed bool
}

func NewStreamJournal(env *stream.Environment, streamName string, log zerolog.Logger) (*StreamJournal, error) {
	producer, err := env.NewProducer(streamName, stream.NewProducerOptions().SetProducerName("relay-journal"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}
	return newStreamJournal(producer, streamName, log), nil
}

func newStreamJournal(p streamProducer, streamName string, log zerolog.Logger) *StreamJournal {
	return &StreamJournal{
		producer:   p,
		streamName: streamName,
		log:        log.With().Str("component", "journal").Str("stream", streamName).Logger(),
		now:        time.Now,
	}
}

func (j *StreamJournal) Append(ctx context.Context, eventType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	event := domain.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   raw,
		CreatedAt: j.now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal %s is closed", j.streamName)
	}
	if err := j.producer.Send(amqp.NewMessage(body)); err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	j.log.Debug().Str("event_type", eventType).Str("event_id", event.ID.String()).Msg("Event appended")
	return nil
}

func (j *StreamJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.producer.Close()
}

// Record appends and logs a failure instead of returning it. A nil journal is skipped.
func Record(ctx context.Context, j Journal, log zerolog.Logger, eventType string, payload any) {
	if j == nil {
		return
	}
	if err := j.Append(ctx, eventType, payload); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("Failed to append journal event")
	}
}
