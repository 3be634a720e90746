package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

func newTestConsumer(types ...MessageType) *Consumer {
	return NewConsumer(nil, slog.Default(), ConsumerConfig{
		Queue:   string(QueueRunsScheduled),
		Handler: func(ctx context.Context, msg *Delivery) error { return nil },
		Types:   types,
	})
}

func TestDisposition(t *testing.T) {
	c := newTestConsumer()

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        disposition
	}{
		{"success acks", nil, false, dispositionAck},
		{"success acks even redelivered", nil, true, dispositionAck},
		{"discard goes to DLQ", fmt.Errorf("bad payload: %w", ErrDiscard), false, dispositionDLQ},
		{"first failure requeues", errors.New("db down"), false, dispositionRequeue},
		{"repeated failure goes to DLQ", errors.New("db down"), true, dispositionDLQ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := amqp.Delivery{Redelivered: tt.redelivered}
			if got := c.disposition(raw, tt.err); got != tt.want {
				t.Errorf("disposition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_RejectsUnexpectedType(t *testing.T) {
	c := newTestConsumer(MessageTypeRunScheduled)

	body := []byte(`{"id":"m1","type":"run.state-changed","payload":{}}`)
	if _, err := c.decode(amqp.Delivery{Body: body}); err == nil {
		t.Fatal("expected error for unexpected message type")
	}

	body = []byte(`{"id":"m2","type":"run.scheduled","payload":{}}`)
	msg, err := c.decode(amqp.Delivery{Body: body})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Message.Type != MessageTypeRunScheduled {
		t.Errorf("type = %s", msg.Message.Type)
	}
}

func TestDecode_MalformedEnvelope(t *testing.T) {
	c := newTestConsumer()
	if _, err := c.decode(amqp.Delivery{Body: []byte("not json")}); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestParsePayload(t *testing.T) {
	runID := uuid.New()
	msg := &Message{
		Type: MessageTypeRunScheduled,
		// Как после json.Unmarshal конверта: payload — map.
		Payload: map[string]any{"run_id": runID.String()},
	}

	payload, err := ParsePayload[RunScheduledPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.RunID != runID {
		t.Errorf("run_id = %s, want %s", payload.RunID, runID)
	}
}
