/**
 * @description
 * RabbitMQ publisher for incorporation domain events and queued outbound mail.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// EventProducer owns a RabbitMQ connection and a single publishing channel.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	mu       sync.Mutex
	declared map[string]bool
}

// EventProducerFallback logs instead of publishing. It is used when the broker
// is not configured or unreachable.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=info component=mq-fallback msg=\"event not published\" exchange=%s routing_key=%s body=%v", exchange, routingKey, body)
	return nil
}

func (p *EventProducerFallback) PublishToQueue(ctx context.Context, queue string, body interface{}) error {
	log.Printf("level=info component=mq-fallback msg=\"queue message not published\" queue=%s body=%v", queue, body)
	return nil
}

func (p *EventProducerFallback) Close() {}

// SanitizeAMQPURL strips quoting and stray prefixes that often sneak into
// env files and checks the scheme.
func SanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
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

// MaskAMQPURL hides the password of an AMQP URL for logging.
func MaskAMQPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// NewEventProducer dials RabbitMQ and opens a publishing channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := SanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, declared: map[string]bool{}}, nil
}

// Publish sends body as JSON to a durable topic exchange.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return errors.New("rabbitmq channel not initialized")
	}

	key := "exchange:" + exchange
	if !p.declared[key] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		p.declared[key] = true
	}

	return p.publish(ctx, exchange, routingKey, body)
}

// PublishToQueue sends body as JSON to a durable queue through the default exchange.
func (p *EventProducer) PublishToQueue(ctx context.Context, queue string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return errors.New("rabbitmq channel not initialized")
	}

	key := "queue:" + queue
	if !p.declared[key] {
		if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return err
		}
		p.declared[key] = true
	}

	return p.publish(ctx, "", queue, body)
}

func (p *EventProducer) publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         payload,
		Timestamp:    time.Now(),
	})
}

// Close closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
