package rabbitmq

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ackRecorder struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return nil
}

func TestDispatch(t *testing.T) {
	handlers := map[string]func([]byte) bool{
		"payment.successful": func(body []byte) bool { return string(body) == "ok" },
	}

	tests := []struct {
		name        string
		routingKey  string
		body        string
		wantAcks    int
		wantNacks   int
		wantRequeue bool
	}{
		{name: "handler succeeds", routingKey: "payment.successful", body: "ok", wantAcks: 1},
		{name: "handler fails", routingKey: "payment.successful", body: "bad", wantNacks: 1, wantRequeue: true},
		{name: "no handler", routingKey: "news.published", body: "ok", wantAcks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &ackRecorder{}
			dispatch(amqp.Delivery{Acknowledger: rec, RoutingKey: tt.routingKey, Body: []byte(tt.body)}, handlers)
			if rec.acks != tt.wantAcks || rec.nacks != tt.wantNacks || rec.requeue != tt.wantRequeue {
				t.Fatalf("unexpected ack state %+v", rec)
			}
		})
	}
}

func TestNewPublishing_TagsRoutingKeyAndPersistence(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := newPublishing("disbursement.approved", []byte(`{}`), at)

	if msg.Type != "disbursement.approved" || msg.AppId != appID {
		t.Fatalf("unexpected type/app id %q/%q", msg.Type, msg.AppId)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("expected persistent json message, got mode=%d type=%q", msg.DeliveryMode, msg.ContentType)
	}
	if !msg.Timestamp.Equal(at) {
		t.Fatalf("unexpected timestamp %v", msg.Timestamp)
	}
}

func TestConsumeWithBindings_RejectsEmptyBindings(t *testing.T) {
	c := &Consumer{}
	if err := c.ConsumeWithBindings("alumni.events", "q", map[string]func([]byte) bool{"x": nil}); err == nil {
		t.Fatal("expected error for bindings without handlers")
	}
}

func TestReconnectDelay_DoublesUpToCap(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := reconnectDelay(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestReconnect_StopsOnceClosed(t *testing.T) {
	dials := 0
	c := &Consumer{
		done: make(chan struct{}),
		open: func(string) (*amqp.Connection, *amqp.Channel, error) {
			dials++
			return nil, nil, errors.New("broker down")
		},
	}
	c.Close()
	c.Close()

	handlers := map[string]func([]byte) bool{"x": func([]byte) bool { return true }}
	if msgs := c.reconnect("alumni.events", "q", handlers); msgs != nil {
		t.Fatal("expected no delivery channel after Close")
	}
	if dials != 0 {
		t.Fatalf("expected no dial after Close, got %d", dials)
	}
}

func TestRun_ReturnsWhenClosedConsumerLosesDeliveries(t *testing.T) {
	c := &Consumer{done: make(chan struct{})}
	c.Close()

	msgs := make(chan amqp.Delivery)
	close(msgs)
	finished := make(chan struct{})
	go func() {
		c.run(msgs, "alumni.events", "q", nil)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("run kept going after Close")
	}
}
