package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"lms-payments/internal/domain/ports/adapter"
)

var (
	_ adapter.EventPublisher = (*Producer)(nil)
	_ adapter.EventPublisher = NoopPublisher{}
)

// channel is the part of *amqp091.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Producer publishes JSON domain events to a durable topic exchange.
type Producer struct {
	exchange string
	log      *zerolog.Logger

	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       channel
	declared bool
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url must start with amqp:// or amqps://")
	}
	return clean, nil
}

func NewProducer(amqpURL, exchange string, logger *zerolog.Logger) (*Producer, error) {
	clean, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(clean, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	l := logger.With().Str("component", "rabbitmq").Str("exchange", exchange).Logger()
	return &Producer{exchange: exchange, log: &l, conn: conn, ch: ch}, nil
}

func (p *Producer) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err = p.publish(ctx, routingKey, msg); err == nil {
		return nil
	}
	p.log.Warn().Err(err).Str("routing_key", routingKey).Msg("publish failed; reopening channel")
	if rerr := p.reopen(); rerr != nil {
		return rerr
	}
	return p.publish(ctx, routingKey, msg)
}

func (p *Producer) publish(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
	if !p.declared {
		if err := p.ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		p.declared = true
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *Producer) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp091.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	_ = p.ch.Close()
	p.ch = ch
	p.declared = false
	return nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// NoopPublisher drops events; used when no broker is configured.
type NoopPublisher struct {
	Log *zerolog.Logger
}

func (n NoopPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	if n.Log != nil {
		n.Log.Debug().Str("routing_key", routingKey).Msg("event publish skipped (no broker)")
	}
	return nil
}
