//go:generate go run go.uber.org/mock/mockgen -source=rabbitmq.go -destination=../mocks/mock_broker.go -package=mocks
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

const (
	ExchangePush  = "relay.push"
	QueuePush     = "relay.push.offline"
	routingPrefix = "user."
)

// OfflinePublisher hands an envelope to the push pipeline for a user with no live connection.
type OfflinePublisher interface {
	PublishOffline(ctx context.Context, userID uuid.UUID, env domain.Envelope) error
}

type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex

	// StreamEnv is set by ConnectStream; nil when the journal is disabled.
	StreamEnv *stream.Environment
}

func NewRabbitMQClient(url string) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangePush, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare push exchange: %w", err)
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: ch,
	}, nil
}

// ConnectStream opens the stream environment at uri and makes sure streamName exists.
func (c *RabbitMQClient) ConnectStream(uri, streamName string) error {
	env, err := stream.NewEnvironment(stream.NewEnvironmentOptions().SetUri(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq stream: %w", err)
	}
	err = env.DeclareStream(streamName, &stream.StreamOptions{
		MaxLengthBytes: stream.ByteCapacity{}.GB(2),
	})
	if err != nil && !errors.Is(err, stream.StreamAlreadyExists) {
		_ = env.Close()
		return fmt.Errorf("failed to declare stream %s: %w", streamName, err)
	}
	c.StreamEnv = env
	return nil
}

func (c *RabbitMQClient) PublishOffline(ctx context.Context, userID uuid.UUID, env domain.Envelope) error {
	return c.PublishToExchange(ctx, ExchangePush, RoutingKey(userID), env)
}

func (c *RabbitMQClient) PublishToExchange(ctx context.Context, exchange, routingKey string, body any) error {
	bytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         bytes,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", exchange, err)
	}
	return nil
}

func (c *RabbitMQClient) Close() {
	if c.StreamEnv != nil {
		_ = c.StreamEnv.Close()
	}
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ConsumePushQueue declares the durable offline queue, binds it to every user routing key and consumes it.
func (c *RabbitMQClient) ConsumePushQueue() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := c.channel.QueueDeclare(
		QueuePush, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare push queue: %w", err)
	}

	err = c.channel.QueueBind(
		q.Name,            // queue name
		routingPrefix+"#", // routing key
		ExchangePush,      // exchange
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind push queue: %w", err)
	}

	return c.channel.Consume(
		q.Name, "", false, false, false, false, nil,
	)
}

func RoutingKey(userID uuid.UUID) string {
	return routingPrefix + userID.String()
}

// UserFromRoutingKey is the inverse of RoutingKey.
func UserFromRoutingKey(key string) (uuid.UUID, error) {
	if !strings.HasPrefix(key, routingPrefix) {
		return uuid.Nil, fmt.Errorf("invalid routing key %q", key)
	}
	return uuid.Parse(strings.TrimPrefix(key, routingPrefix))
}
