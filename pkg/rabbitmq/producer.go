/**
 * @description
 * This package provides a producer for publishing alumni domain events to RabbitMQ
 * and a consumer that fans deliveries out to per-routing-key handlers.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

// EventProducer publishes JSON events. Exchanges are declared once per channel.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewEventProducer connects to the broker at amqpURL.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	return &EventProducer{conn: conn, channel: ch, declared: map[string]bool{}}, nil
}

// Publish sends body as a persistent JSON message. On failure the channel is
// reopened and the publish retried once.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}
	msg := newPublishing(routingKey, payload, time.Now())

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		return err
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = map[string]bool{}
	return p.publishLocked(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !p.declared[exchange] {
		if err := declareTopicExchange(p.channel, exchange); err != nil {
			return err
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// newPublishing tags the message with its routing key as the AMQP type so
// consumers on wildcard bindings can still tell events apart.
func newPublishing(routingKey string, payload []byte, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
		Type:         routingKey,
		AppId:        appID,
		Body:         payload,
	}
}

// Close gracefully closes the channel and connection to RabbitMQ.
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
