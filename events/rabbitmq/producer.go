/*
Package rabbitmq publishes refund decision events to a RabbitMQ topic
exchange.

ROUTING:
  exchange:    DECISION_EVENTS_EXCHANGE (durable topic)
  routing key: deposit.refund.<action>, e.g. deposit.refund.finance_approved

Consumers (tenant notifications, payout) bind with patterns such as
"deposit.refund.#" or "deposit.refund.finance_*".

FALLBACK:
  When RABBITMQ_URL is empty or the broker is unreachable at startup the
  service runs with FallbackProducer, which logs and drops events. The
  audit ledger stays the source of truth either way.
*/
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/warp/deposit-refunds/deposit"
)

// Publisher is implemented by EventProducer and FallbackProducer.
type Publisher interface {
	deposit.EventPublisher
	Close()
}

// channel is the slice of *amqp091.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// EventProducer holds the RabbitMQ connection and channel for publishing.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	reopen   func() (channel, error)
	exchange string
	log      zerolog.Logger
	declared bool
}

// NewEventProducer dials the broker and opens a channel.
func NewEventProducer(amqpURL, exchange string, log zerolog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := newProducer(ch, exchange, log)
	p.conn = conn
	p.reopen = func() (channel, error) { return conn.Channel() }
	return p, nil
}

func newProducer(ch channel, exchange string, log zerolog.Logger) *EventProducer {
	return &EventProducer{
		channel:  ch,
		exchange: exchange,
		log:      log.With().Str("component", "rabbitmq_producer").Str("exchange", exchange).Logger(),
	}
}

// PublishDecisionEvent sends one event to the decision exchange.
func (p *EventProducer) PublishDecisionEvent(ctx context.Context, event deposit.DecisionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    fmt.Sprintf("%s:%d", event.DecisionID, event.Version),
		Timestamp:    event.OccurredAt,
		Type:         string(event.Action),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, event.RoutingKey(), msg)
	if err == nil {
		return nil
	}

	// One-shot retry on a fresh channel
	p.log.Warn().Err(err).Str("routing_key", event.RoutingKey()).Msg("publish failed; reopening channel")
	if p.reopen == nil {
		return err
	}
	ch, chErr := p.reopen()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	p.channel.Close()
	p.channel = ch
	p.declared = false
	return p.publishLocked(ctx, event.RoutingKey(), msg)
}

func (p *EventProducer) publishLocked(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
	if !p.declared {
		if err := p.channel.ExchangeDeclare(
			p.exchange, // name
			"topic",    // type
			true,       // durable
			false,      // autoDelete
			false,      // internal
			false,      // noWait
			nil,        // args
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.declared = true
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// FallbackProducer is a no-op publisher used when RabbitMQ is unavailable.
type FallbackProducer struct {
	Log zerolog.Logger
}

func (f FallbackProducer) PublishDecisionEvent(_ context.Context, event deposit.DecisionEvent) error {
	f.Log.Debug().
		Str("component", "rabbitmq_producer").
		Str("mode", "fallback").
		Str("routing_key", event.RoutingKey()).
		Str("decision_id", string(event.DecisionID)).
		Msg("publish skipped")
	return nil
}

func (FallbackProducer) Close() {}

// Connect returns an EventProducer, or a FallbackProducer when the URL is
// empty or the broker can't be reached.
func Connect(amqpURL, exchange string, log zerolog.Logger) Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		log.Info().Msg("RABBITMQ_URL not set; decision events disabled")
		return FallbackProducer{Log: log}
	}
	p, err := NewEventProducer(amqpURL, exchange, log)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable; decision events disabled")
		return FallbackProducer{Log: log}
	}
	return p
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Drop stray characters before the scheme
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
