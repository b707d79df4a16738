// Package events publishes cart domain events after successful mutations.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/norun9/storefront-cart/mq"
)

// Type names a cart event.
type Type string

const (
	ProductAdded         Type = "cart.product.added"
	ProductRemoved       Type = "cart.product.removed"
	ProductAmountUpdated Type = "cart.product.amount_updated"
)

// Event describes one committed cart mutation. Amount is the line amount after
// the mutation (0 for removals).
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	CartKey   string    `json:"cart_key"`
	ProductID int64     `json:"product_id"`
	Amount    int       `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// New returns an event stamped with a fresh id and the current time.
func New(typ Type, cartKey string, productID int64, amount int) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		CartKey:   cartKey,
		ProductID: productID,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// KafkaPublisher writes events to a topic keyed by cart key, so one cart's
// events stay ordered within a partition.
type KafkaPublisher struct {
	producer *mq.Producer
	topic    string
}

// NewKafkaPublisher returns a publisher writing to topic.
func NewKafkaPublisher(producer *mq.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	return p.producer.PublishJSON(ctx, p.topic, e.CartKey, e)
}
