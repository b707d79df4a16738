package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestParseBrokers(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{in: "", want: []string{}},
		{in: "kafka:9092", want: []string{"kafka:9092"}},
		{in: " a:9092, ,b:9092 ,", want: []string{"a:9092", "b:9092"}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, ParseBrokers(tc.in)); diff != "" {
			t.Errorf("ParseBrokers(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestPublishJSON(t *testing.T) {
	log, _ := test.NewNullLogger()
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, log)

	payload := map[string]int{"amount": 2}
	if err := p.PublishJSON(context.Background(), "cart-events", "@RocketShoes:cart", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if m.Topic != "cart-events" || string(m.Key) != "@RocketShoes:cart" {
		t.Fatalf("unexpected topic/key %q %q", m.Topic, m.Key)
	}
	var got map[string]int
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	w.err = errors.New("leader not available")
	if err := p.PublishJSON(context.Background(), "cart-events", "k", payload); err == nil {
		t.Fatalf("expected write error to be returned")
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestNewProducerDoesNotBlockOnBrokers(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := NewProducer([]string{"kafka:9092"}, log)
	kw, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", p.writer)
	}
	if !kw.Async || kw.Completion == nil {
		t.Fatalf("expected an async writer with a completion callback")
	}

	kw.Completion([]kafka.Message{{Topic: "cart-events", Key: []byte("k")}}, errors.New("broker down"))
	e := hook.LastEntry()
	if e == nil || e.Level != logrus.ErrorLevel || e.Data["topic"] != "cart-events" {
		t.Fatalf("expected delivery failure to be logged, got %+v", e)
	}
}
