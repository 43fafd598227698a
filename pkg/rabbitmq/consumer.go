package rabbitmq

import (
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	consumerPrefetch = 10

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Consumer owns a dedicated connection for queue consumption. When the
// broker drops the connection it re-dials and re-subscribes until Close.
type Consumer struct {
	url  string
	open func(string) (*amqp.Connection, *amqp.Channel, error)

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
	done   chan struct{}
}

// NewConsumer connects to the broker at amqpURL with a bounded prefetch.
func NewConsumer(amqpURL string) (*Consumer, error) {
	conn, ch, err := openWithQos(amqpURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		url:  amqpURL,
		open: openWithQos,
		conn: conn,
		ch:   ch,
		done: make(chan struct{}),
	}, nil
}

func openWithQos(amqpURL string) (*amqp.Connection, *amqp.Channel, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// ConsumeWithBindings binds queueName to each routing key on exchange and
// dispatches deliveries to the matching handler in a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	handlers := make(map[string]func([]byte) bool, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	msgs, err := subscribe(ch, exchange, queueName, handlers)
	if err != nil {
		return err
	}

	go c.run(msgs, exchange, queueName, handlers)
	return nil
}

// subscribe declares the exchange and queue, binds every routing key and
// starts consuming with manual acks.
func subscribe(ch *amqp.Channel, exchange, queueName string, handlers map[string]func([]byte) bool) (<-chan amqp.Delivery, error) {
	if err := declareTopicExchange(ch, exchange); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	for routingKey := range handlers {
		if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s: %w", routingKey, err)
		}
	}
	return ch.Consume(q.Name, "", false, false, false, false, nil)
}

func (c *Consumer) run(msgs <-chan amqp.Delivery, exchange, queueName string, handlers map[string]func([]byte) bool) {
	for {
		for d := range msgs {
			dispatch(d, handlers)
		}
		if c.isClosed() {
			log.Printf("level=info component=rabbitmq_consumer msg=\"consumer closed\" queue=%s", queueName)
			return
		}
		log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed; reconnecting\" queue=%s", queueName)
		if msgs = c.reconnect(exchange, queueName, handlers); msgs == nil {
			return
		}
	}
}

// reconnect re-dials with capped exponential backoff until it is subscribed
// again. It returns nil once the consumer is closed.
func (c *Consumer) reconnect(exchange, queueName string, handlers map[string]func([]byte) bool) <-chan amqp.Delivery {
	for attempt := 0; ; attempt++ {
		select {
		case <-c.done:
			return nil
		case <-time.After(reconnectDelay(attempt)):
		}

		conn, ch, err := c.open(c.url)
		if err != nil {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"reconnect failed\" queue=%s attempt=%d err=%v", queueName, attempt+1, err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ch.Close()
			conn.Close()
			return nil
		}
		c.conn, c.ch = conn, ch
		c.mu.Unlock()

		msgs, err := subscribe(ch, exchange, queueName, handlers)
		if err != nil {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"resubscribe failed\" queue=%s attempt=%d err=%v", queueName, attempt+1, err)
			ch.Close()
			conn.Close()
			continue
		}
		log.Printf("level=info component=rabbitmq_consumer msg=\"reconnected\" queue=%s attempts=%d", queueName, attempt+1)
		return msgs
	}
}

// reconnectDelay doubles from reconnectBaseDelay and stops at reconnectMaxDelay.
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay
	for i := 0; i < attempt && delay < reconnectMaxDelay; i++ {
		delay *= 2
	}
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	return delay
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// dispatch acks when the handler succeeds and requeues when it fails.
// Deliveries with no handler are acked and dropped.
func dispatch(d amqp.Delivery, handlers map[string]func([]byte) bool) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" routing_key=%s", d.RoutingKey)
		_ = d.Ack(false)
		return
	}
	if handler(d.Body) {
		_ = d.Ack(false)
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s redelivered=%t", d.RoutingKey, d.Redelivered)
	_ = d.Nack(false, true)
}

// Close shuts down the channel and connection and stops any reconnect loop.
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.done != nil {
		close(c.done)
	}
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
