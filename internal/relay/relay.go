// Package relay accepts webhook envelopes from the secondary delivery
// transport and forwards their message to Kafka.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"suiverify/internal/platform/kafka/producer"
	"suiverify/internal/platform/metrics"
	dErrors "suiverify/pkg/domain-errors"
	"suiverify/pkg/platform/httputil"
	"suiverify/pkg/platform/middleware/request"
	s "suiverify/pkg/string"
	"suiverify/pkg/validation"
)

// Path is the endpoint the webhook transport posts to by default.
const Path = "/kafka/messages"

// Forward results reported to metrics.
const (
	ResultForwarded = "forwarded"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Producer publishes a message to Kafka and waits for the acknowledgment.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Envelope is the body posted by the webhook transport.
type Envelope struct {
	Topic   string          `json:"topic" validate:"required,notblank,max=249"`
	Message json.RawMessage `json:"message" validate:"required"`
}

func (e *Envelope) Sanitize() {
	s.TrimStrings(&e.Topic)
}

func (e *Envelope) Validate() error {
	if err := validation.Validate(e); err != nil {
		return err
	}
	if bytes.Equal(bytes.TrimSpace(e.Message), []byte("null")) {
		return dErrors.New(dErrors.CodeValidation, "message is required")
	}
	return nil
}

// Handler forwards envelopes to the producer.
type Handler struct {
	producer Producer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTimeout bounds the wait for the broker acknowledgment.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func New(p Producer, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		producer: p,
		logger:   logger,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post(Path, h.handleForward)
}

// AcceptedResponse acknowledges a forwarded envelope.
type AcceptedResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
}

func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	env, ok := httputil.DecodeAndPrepare[Envelope](w, r, h.logger, ctx, requestID)
	if !ok {
		h.count(ResultRejected)
		return
	}

	produceCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.producer.Produce(produceCtx, &producer.Message{
		Topic: env.Topic,
		Value: env.Message,
		Headers: map[string]string{
			"source": "webhook-relay",
		},
	})
	if err != nil {
		h.count(ResultFailed)
		h.logger.ErrorContext(ctx, "relay produce failed",
			"request_id", requestID,
			"topic", env.Topic,
			"error", err,
		)
		code := dErrors.CodeUnavailable
		if produceCtx.Err() != nil {
			code = dErrors.CodeTimeout
		}
		httputil.WriteError(w, dErrors.Wrap(err, code, "broker did not accept the message"))
		return
	}

	h.count(ResultForwarded)
	h.logger.InfoContext(ctx, "relay forwarded message",
		"request_id", requestID,
		"topic", env.Topic,
		"bytes", len(env.Message),
	)
	httputil.WriteJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", Topic: env.Topic})
}

func (h *Handler) count(result string) {
	if h.metrics != nil {
		h.metrics.IncrementRelayForwarded(result)
	}
}
