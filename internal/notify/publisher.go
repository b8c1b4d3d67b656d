// Package notify publishes committed ledger events to an AMQP topic
// exchange so downstream consumers (the generation pipeline, analytics,
// feeds) react to settlement without polling. Publishing is fire-and-forget
// from the ledger's point of view: a lost notification never blocks or
// reverts a settled transaction.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/onnwee/plotline/internal/ledger"
)

// Exchange is the topic exchange ledger events are published to.
const Exchange = "plotline.events"

// publishTimeout bounds one broker publish.
const publishTimeout = 5 * time.Second

// Publisher delivers ledger events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, ev ledger.Event) error
	Close() error
}

// RoutingKey derives the routing key for an event type:
// "plotline.events.<snake_case_type>".
func RoutingKey(t ledger.EventType) string {
	return Exchange + "." + toSnake(string(t))
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AMQPPublisher implements Publisher over one channel of an AMQP
// connection.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the durable topic
// exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Connection exposes the underlying connection for health checks.
func (p *AMQPPublisher) Connection() *amqp.Connection {
	return p.conn
}

// Publish sends one event as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.channel.PublishWithContext(ctx, Exchange, RoutingKey(ev.Type), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.TxRef,
			Timestamp:    ev.At,
			Body:         body,
		})
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Observer adapts a Publisher into a ledger observer. Publish failures are
// logged and dropped; settlement never waits on the broker.
func Observer(p Publisher) ledger.ObserverFunc {
	return func(ev ledger.Event) {
		if err := p.Publish(context.Background(), ev); err != nil {
			slog.Error("failed to publish ledger event",
				"type", ev.Type, "tx_ref", ev.TxRef, "error", err)
		}
	}
}

// NoopPublisher discards events. It stands in when no broker is configured.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(context.Context, ledger.Event) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
