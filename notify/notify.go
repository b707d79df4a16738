// Package notify carries user-facing cart messages. Delivery is
// fire-and-forget: notifiers never report failures to the sender.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/norun9/storefront-cart/mq"
	"github.com/sirupsen/logrus"
)

// Kind classifies a notification.
type Kind string

const (
	KindOutOfStock    Kind = "out_of_stock"
	KindNotFound      Kind = "not_found"
	KindInvalidAmount Kind = "invalid_amount"
	KindFailure       Kind = "failure"
)

// User-facing messages.
const (
	MsgOutOfStock   = "Requested quantity out of stock"
	MsgAddFailed    = "Error adding product"
	MsgRemoveFailed = "Error removing product"
	MsgUpdateFailed = "Error changing product quantity"
)

// Notification is one user-facing error message.
type Notification struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	ProductID int64     `json:"product_id"`
	Time      time.Time `json:"time"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

// LogNotifier writes notifications to a logger at warning level.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	l.Log.WithFields(logrus.Fields{
		"kind":       n.Kind,
		"product_id": n.ProductID,
	}).Warn(n.Message)
}

// KafkaNotifier forwards notifications to a topic for out-of-process delivery.
type KafkaNotifier struct {
	producer *mq.Producer
	topic    string
	log      logrus.FieldLogger
}

// NewKafkaNotifier returns a notifier writing to topic.
func NewKafkaNotifier(producer *mq.Producer, topic string, log logrus.FieldLogger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, log: log}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) {
	if err := k.producer.PublishJSON(ctx, k.topic, string(n.Kind), n); err != nil {
		k.log.WithError(err).Error("failed to forward notification")
	}
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *Recorder) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

// Notifications returns a copy of what has been recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notes))
	copy(out, r.notes)
	return out
}

type recorderKey struct{}

// WithRecorder attaches a fresh Recorder to ctx. Send also delivers to it, which
// lets a request handler collect the notifications its call produced.
func WithRecorder(ctx context.Context) (context.Context, *Recorder) {
	r := &Recorder{}
	return context.WithValue(ctx, recorderKey{}, r), r
}

// Send stamps n, delivers it to the Recorder attached to ctx (if any) and then to to.
func Send(ctx context.Context, to Notifier, n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	if r, ok := ctx.Value(recorderKey{}).(*Recorder); ok {
		r.Notify(ctx, n)
	}
	if to != nil {
		to.Notify(ctx, n)
	}
}
