// Package mq wraps a kafka-go writer for JSON publishing.
package mq

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageWriter is the part of kafka.Writer a Producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON payloads to any topic on one cluster.
type Producer struct {
	writer MessageWriter
	log    logrus.FieldLogger
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewProducer returns a producer for brokers. Topics are chosen per message.
// Writes are asynchronous: PublishJSON only enqueues, and delivery failures
// are logged when the batch completes.
func NewProducer(brokers []string, log logrus.FieldLogger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion:             completionLogger(log),
	}
	return NewProducerWithWriter(w, log)
}

// NewProducerWithWriter returns a producer over an existing writer.
func NewProducerWithWriter(w MessageWriter, log logrus.FieldLogger) *Producer {
	return &Producer{writer: w, log: log}
}

func completionLogger(log logrus.FieldLogger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			log.WithError(err).WithFields(logrus.Fields{
				"topic": m.Topic,
				"key":   string(m.Key),
			}).Error("kafka delivery failed")
		}
	}
}

// PublishJSON marshals payload and writes it to topic under key.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal kafka payload")
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.WithFields(logrus.Fields{"topic": topic, "key": key}).Debug("kafka message sent")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
