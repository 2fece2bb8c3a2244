// Package delivery publishes verification events through an ordered list of
// transports and records the event in a last-resort sink when every
// transport fails.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"suiverify/internal/platform/metrics"
	"suiverify/internal/platform/tracer"
	"suiverify/internal/verification/models"
	"suiverify/pkg/platform/circuit"
)

// Outcome is the terminal result of one Deliver call.
type Outcome string

const (
	OutcomeDeliveredPrimary   Outcome = "delivered-primary"
	OutcomeDeliveredSecondary Outcome = "delivered-secondary"
	OutcomeRecordedFallback   Outcome = "recorded-fallback"
	OutcomeFailed             Outcome = "failed"
)

// Succeeded reports whether the event was delivered or durably recorded.
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeDeliveredPrimary, OutcomeDeliveredSecondary, OutcomeRecordedFallback:
		return true
	default:
		return false
	}
}

// Header keys attached to every envelope.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderResult    = "result"
)

// Envelope is one serialized event ready for a transport. Payload is shared
// by every attempt and must not be modified.
type Envelope struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// Transport is one delivery route. Attempt returns the outcome it achieves
// on success; any error makes the chain fall through to the next transport.
type Transport interface {
	Name() string
	Attempt(ctx context.Context, env Envelope) (Outcome, error)
}

// Sink durably records an event no transport accepted.
type Sink interface {
	Record(ctx context.Context, topic string, payload []byte) error
}

type stage struct {
	transport Transport
	breaker   *circuit.Breaker
}

// Chain tries its transports in order and stops at the first success. It
// holds no per-event state and is safe for concurrent use.
type Chain struct {
	topic    string
	stages   []stage
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	encode   func(any) ([]byte, error)
	breakers map[string]*circuit.Breaker
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) {
		c.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Chain) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithBreaker guards the named transport with b.
func WithBreaker(transport string, b *circuit.Breaker) Option {
	return func(c *Chain) {
		if b != nil {
			c.breakers[transport] = b
		}
	}
}

// WithEncoder overrides the payload encoder.
func WithEncoder(encode func(any) ([]byte, error)) Option {
	return func(c *Chain) {
		if encode != nil {
			c.encode = encode
		}
	}
}

// New creates a Chain publishing to topic through transports, in order,
// then sink.
func New(topic string, sink Sink, transports []Transport, opts ...Option) *Chain {
	c := &Chain{
		topic:    topic,
		sink:     sink,
		logger:   slog.New(slog.DiscardHandler),
		tracer:   tracer.NewNoop(),
		encode:   json.Marshal,
		breakers: make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stages = make([]stage, 0, len(transports))
	for _, t := range transports {
		c.stages = append(c.stages, stage{transport: t, breaker: c.breakers[t.Name()]})
	}
	return c
}

// Topic returns the destination topic.
func (c *Chain) Topic() string {
	return c.topic
}

// Deliver publishes ev. It returns a succeeded outcome when a transport
// accepted the event or the sink recorded it, and OutcomeFailed with either
// an EncodingError or ErrEventLost otherwise.
func (c *Chain) Deliver(ctx context.Context, ev models.Event) (outcome Outcome, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanDeliver,
		tracer.String(tracer.AttrTopic, c.topic),
		tracer.String(tracer.AttrEventID, ev.ID.String()),
	)
	defer func() {
		span.SetAttributes(tracer.String(tracer.AttrOutcome, string(outcome)))
		span.End(err)
		if c.metrics != nil {
			c.metrics.IncrementOutcome(string(outcome))
		}
	}()

	payload, err := c.encode(ev)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncrementEncodingFailures()
		}
		c.logger.ErrorContext(ctx, "verification event could not be encoded",
			"topic", c.topic,
			"event_id", ev.ID.String(),
			"error", err,
		)
		return OutcomeFailed, &EncodingError{Err: err}
	}

	env := Envelope{
		Topic:   c.topic,
		Key:     ev.Key(),
		Payload: payload,
		Headers: map[string]string{
			HeaderEventID:   ev.ID.String(),
			HeaderEventType: models.EventType,
			HeaderResult:    string(ev.Result),
		},
	}

	for i, st := range c.stages {
		name := st.transport.Name()
		result, attemptErr := c.attempt(ctx, st, env)
		if attemptErr == nil {
			c.logger.InfoContext(ctx, "verification event delivered",
				"topic", c.topic,
				"transport", name,
				"outcome", string(result),
				"event_id", ev.ID.String(),
			)
			return result, nil
		}

		c.logger.WarnContext(ctx, "delivery attempt failed",
			"topic", c.topic,
			"transport", name,
			"category", string(CategoryOf(attemptErr)),
			"error", attemptErr,
			"remaining", len(c.stages)-i-1,
		)
		span.AddEvent(tracer.EventFallback, tracer.String(tracer.AttrTransport, name))
	}

	return c.fallback(ctx, env)
}

func (c *Chain) attempt(ctx context.Context, st stage, env Envelope) (Outcome, error) {
	name := st.transport.Name()
	ctx, span := c.tracer.Start(ctx, tracer.SpanAttempt, tracer.String(tracer.AttrTransport, name))

	if st.breaker != nil && !st.breaker.Allow() {
		err := NewTransportError(CategoryCircuitOpen, name, "attempt skipped", ErrCircuitOpen)
		span.SetAttributes(tracer.Bool(tracer.AttrSkipped, true))
		span.End(err)
		c.observe(name, metrics.ResultSkipped, 0)
		return OutcomeFailed, err
	}

	start := time.Now()
	outcome, err := c.safeAttempt(ctx, st.transport, env)
	if err == nil && !outcome.Succeeded() {
		err = NewTransportError(CategoryInternal, name, fmt.Sprintf("transport reported outcome %q", outcome), nil)
	}
	elapsed := time.Since(start)
	span.SetAttributes(tracer.Duration("delivery.latency_ms", elapsed))
	span.End(err)

	if err != nil {
		c.observe(name, metrics.ResultFailure, elapsed.Seconds())
		if st.breaker != nil && st.breaker.RecordFailure().Opened {
			c.logger.WarnContext(ctx, "circuit opened", "transport", name)
		}
		return OutcomeFailed, err
	}

	c.observe(name, metrics.ResultSuccess, elapsed.Seconds())
	if st.breaker != nil && st.breaker.RecordSuccess().Closed {
		c.logger.InfoContext(ctx, "circuit closed", "transport", name)
	}
	return outcome, nil
}

// safeAttempt converts a transport panic into a TransportError.
func (c *Chain) safeAttempt(ctx context.Context, t Transport, env Envelope) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = NewTransportError(CategoryInternal, t.Name(), fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return t.Attempt(ctx, env)
}

func (c *Chain) fallback(ctx context.Context, env Envelope) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanSink, tracer.String(tracer.AttrTopic, env.Topic))

	c.logger.WarnContext(ctx, "all delivery transports failed, recording event for manual processing",
		"topic", env.Topic,
		"event_id", env.Headers[HeaderEventID],
	)

	if err := c.sink.Record(ctx, env.Topic, env.Payload); err != nil {
		span.End(err)
		c.logger.ErrorContext(ctx, "fallback sink failed, verification event lost",
			"topic", env.Topic,
			"event_id", env.Headers[HeaderEventID],
			"error", err,
		)
		return OutcomeFailed, fmt.Errorf("%w: %w", ErrEventLost, err)
	}
	span.End(nil)

	if c.metrics != nil {
		c.metrics.IncrementSinkRecords()
	}
	return OutcomeRecordedFallback, nil
}

func (c *Chain) observe(transport, result string, secs float64) {
	if c.metrics != nil {
		c.metrics.ObserveAttempt(transport, result, secs)
	}
}
