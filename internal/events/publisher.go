// Package events publishes link lifecycle notifications to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types, also used as routing keys on the topic exchange.
const (
	LinkCreated = "link.created"
	LinkDeleted = "link.deleted"
)

// LinkEvent is the message body published for every lifecycle change.
type LinkEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	LinkID      int64     `json:"link_id,omitempty"`
	Code        string    `json:"code"`
	OriginalURL string    `json:"original_url,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewLinkEvent stamps an event with a fresh id and the current time.
func NewLinkEvent(eventType string, linkID int64, code, originalURL string) LinkEvent {
	return LinkEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		LinkID:      linkID,
		Code:        code,
		OriginalURL: originalURL,
		OccurredAt:  time.Now().UTC(),
	}
}

// Publisher sends link events somewhere.
type Publisher interface {
	Publish(ctx context.Context, evt LinkEvent) error
	Close() error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, LinkEvent) error { return nil }
func (NoopPublisher) Close() error                             { return nil }

// AMQPPublisher publishes persistent JSON messages to a durable topic exchange.
// An amqp channel must not be used for concurrent publishes, so Publish
// serialises on mu.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher opens a channel on conn and declares the exchange.
func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

// Publish sends evt with its type as the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, evt LinkEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx, p.exchange, evt.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Body:         body,
	})
}

// Close closes the channel. The connection belongs to the caller.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*AMQPPublisher)(nil)
)
