package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"suiverify/internal/delivery"
)

// DefaultWebhookTimeout is the client timeout for one webhook POST.
const DefaultWebhookTimeout = 10 * time.Second

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookEnvelope is the body posted to the webhook endpoint. Message holds
// the serialized event unchanged.
type WebhookEnvelope struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// Webhook forwards envelopes to an HTTP endpoint that relays them to the topic.
type Webhook struct {
	url     string
	client  HTTPDoer
	timeout time.Duration
}

// WebhookOption configures a Webhook transport.
type WebhookOption func(*Webhook)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c HTTPDoer) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// NewWebhook creates the secondary transport posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{url: url, timeout: DefaultWebhookTimeout}
	for _, opt := range opts {
		opt(w)
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: w.timeout}
	}
	return w
}

func (w *Webhook) Name() string { return NameWebhook }

// URL returns the endpoint the transport posts to.
func (w *Webhook) URL() string { return w.url }

// Attempt posts {"topic", "message"} and succeeds only on 200, 201 or 202.
func (w *Webhook) Attempt(ctx context.Context, env delivery.Envelope) (delivery.Outcome, error) {
	body, err := json.Marshal(WebhookEnvelope{Topic: env.Topic, Message: json.RawMessage(env.Payload)})
	if err != nil {
		return delivery.OutcomeFailed, delivery.NewTransportError(delivery.CategoryInternal, NameWebhook, "failed to marshal envelope", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return delivery.OutcomeFailed, delivery.NewTransportError(delivery.CategoryInternal, NameWebhook, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return delivery.OutcomeFailed, delivery.NewTransportError(
			delivery.CategoryFromContext(err, delivery.CategoryUnavailable), NameWebhook, "request failed", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return delivery.OutcomeDeliveredSecondary, nil
	}

	category := delivery.CategoryRejected
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		category = delivery.CategoryUnavailable
	}
	return delivery.OutcomeFailed, delivery.NewTransportError(category, NameWebhook,
		fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
}
