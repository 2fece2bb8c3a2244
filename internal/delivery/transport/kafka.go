// Package transport holds the concrete delivery routes used by the chain.
package transport

import (
	"context"
	"errors"
	"time"

	"suiverify/internal/delivery"
	"suiverify/internal/platform/kafka/producer"
)

// Transport names, used in logs, metrics and breaker lookups.
const (
	NameKafka   = "kafka"
	NameWebhook = "webhook"
	NameStream  = "redis_stream"
)

// DefaultAckTimeout bounds the wait for a broker acknowledgment, internal
// retries included.
const DefaultAckTimeout = 30 * time.Second

// Producer is the subset of the Kafka producer the transport needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Kafka publishes envelopes to the primary topic and waits for the
// acknowledgment.
type Kafka struct {
	producer   Producer
	ackTimeout time.Duration
}

// NewKafka creates the primary transport. A zero ackTimeout uses DefaultAckTimeout.
func NewKafka(p Producer, ackTimeout time.Duration) *Kafka {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Kafka{producer: p, ackTimeout: ackTimeout}
}

func (k *Kafka) Name() string { return NameKafka }

// Attempt produces env and blocks until the broker acknowledges or the ack
// window elapses.
func (k *Kafka) Attempt(ctx context.Context, env delivery.Envelope) (delivery.Outcome, error) {
	if k.producer == nil {
		return delivery.OutcomeFailed, delivery.NewTransportError(delivery.CategoryUnavailable, NameKafka, "producer not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, k.ackTimeout)
	defer cancel()

	err := k.producer.Produce(ctx, &producer.Message{
		Topic:   env.Topic,
		Key:     []byte(env.Key),
		Value:   env.Payload,
		Headers: env.Headers,
	})
	if err != nil {
		category := delivery.CategoryFromContext(err, delivery.CategoryUnavailable)
		if errors.Is(err, producer.ErrClosed) {
			category = delivery.CategoryUnavailable
		}
		return delivery.OutcomeFailed, delivery.NewTransportError(category, NameKafka, "produce failed", err)
	}
	return delivery.OutcomeDeliveredPrimary, nil
}
