package push

import (
	"context"
	"encoding/json"
	"fmt"

	"chat_relay/internal/broker"
	"chat_relay/internal/domain"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Job is one offline push resolved from the queue.
type Job struct {
	UserID    uuid.UUID
	EventType string
	Title     string
	Body      string
}

// Sender hands a job to the mobile push provider.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// LogSender stands in for the external provider and only logs.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, job Job) error {
	s.Log.Info().
		Str("user_id", job.UserID.String()).
		Str("event_type", job.EventType).
		Str("title", job.Title).
		Msg("[PUSH] Sending push")
	return nil
}

type Consumer interface {
	ConsumePushQueue() (<-chan amqp.Delivery, error)
}

type Worker struct {
	broker Consumer
	sender Sender
	log    zerolog.Logger
}

func NewWorker(b Consumer, sender Sender, log zerolog.Logger) *Worker {
	return &Worker{
		broker: b,
		sender: sender,
		log:    log.With().Str("component", "push").Logger(),
	}
}

// Start consumes the offline queue until ctx is done or the channel closes.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.broker.ConsumePushQueue()
	if err != nil {
		return fmt.Errorf("failed to start push consumer: %w", err)
	}
	w.log.Info().Msg("Push worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	job, err := ParseDelivery(d.RoutingKey, d.Body)
	if err != nil {
		w.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("Skipping push")
		_ = d.Ack(false)
		return
	}
	if err := w.sender.Send(ctx, job); err != nil {
		// A job gets one redelivery; failing again drops it.
		requeue := !d.Redelivered
		w.log.Error().Err(err).
			Str("user_id", job.UserID.String()).
			Bool("requeue", requeue).
			Msg("Failed to send push")
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

type rawEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseDelivery turns a queued envelope into a Job. Only receive_message and
// notification envelopes produce a push.
func ParseDelivery(routingKey string, body []byte) (Job, error) {
	userID, err := broker.UserFromRoutingKey(routingKey)
	if err != nil {
		return Job{}, err
	}
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	job := Job{UserID: userID, EventType: env.Type}
	switch env.Type {
	case domain.EventReceiveMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return Job{}, fmt.Errorf("failed to unmarshal message payload: %w", err)
		}
		job.Title = "New message"
		if msg.From != nil && msg.From.FullName != "" {
			job.Title = msg.From.FullName
		}
		job.Body = msg.Content
		if msg.Type == domain.MessageTypeMedia {
			job.Body = "Sent you a photo"
		}
	case domain.EventNotification:
		var n domain.Notification
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return Job{}, fmt.Errorf("failed to unmarshal notification payload: %w", err)
		}
		job.Title = "Notification"
		job.Body = n.Message
	default:
		return Job{}, fmt.Errorf("no push for event %q", env.Type)
	}
	return job, nil
}
