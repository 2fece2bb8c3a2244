package transport

import (
	"context"

	"github.com/redis/go-redis/v9"

	"suiverify/internal/delivery"
)

// Stream field names written by XADD.
const (
	StreamFieldTopic   = "topic"
	StreamFieldKey     = "key"
	StreamFieldPayload = "payload"
	StreamFieldEventID = "event_id"
)

// Stream appends envelopes to a capped Redis stream. It is an alternative
// primary for deployments without a Kafka broker.
type Stream struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewStream creates a stream transport. A non-positive maxLen leaves the
// stream uncapped.
func NewStream(client redis.Cmdable, stream string, maxLen int64) *Stream {
	return &Stream{client: client, stream: stream, maxLen: maxLen}
}

func (s *Stream) Name() string { return NameStream }

// Attempt runs XADD <stream> MAXLEN ~ <maxLen> * topic .. key .. payload ..
func (s *Stream) Attempt(ctx context.Context, env delivery.Envelope) (delivery.Outcome, error) {
	if s.client == nil {
		return delivery.OutcomeFailed, delivery.NewTransportError(delivery.CategoryUnavailable, NameStream, "redis not configured", nil)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: []any{
			StreamFieldTopic, env.Topic,
			StreamFieldKey, env.Key,
			StreamFieldPayload, string(env.Payload),
			StreamFieldEventID, env.Headers[delivery.HeaderEventID],
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return delivery.OutcomeFailed, delivery.NewTransportError(
			delivery.CategoryFromContext(err, delivery.CategoryUnavailable), NameStream, "xadd failed", err)
	}
	return delivery.OutcomeDeliveredPrimary, nil
}
