package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"suiverify/internal/delivery"
)

func TestWebhookAttempt(t *testing.T) {
	t.Run("posts the topic and the payload unchanged", func(t *testing.T) {
		env := testEnvelope()
		var gotBody []byte
		var gotContentType, gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		outcome, err := NewWebhook(srv.URL+"/kafka/messages").Attempt(context.Background(), env)

		require.NoError(t, err)
		assert.Equal(t, delivery.OutcomeDeliveredSecondary, outcome)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "application/json", gotContentType)

		var body WebhookEnvelope
		require.NoError(t, json.Unmarshal(gotBody, &body))
		assert.Equal(t, env.Topic, body.Topic)
		assert.JSONEq(t, string(env.Payload), string(body.Message))
	})

	statuses := []struct {
		status   int
		wantOK   bool
		category delivery.ErrorCategory
	}{
		{http.StatusOK, true, ""},
		{http.StatusCreated, true, ""},
		{http.StatusAccepted, true, ""},
		{http.StatusNoContent, false, delivery.CategoryRejected},
		{http.StatusBadRequest, false, delivery.CategoryRejected},
		{http.StatusNotFound, false, delivery.CategoryRejected},
		{http.StatusTooManyRequests, false, delivery.CategoryUnavailable},
		{http.StatusInternalServerError, false, delivery.CategoryUnavailable},
		{http.StatusBadGateway, false, delivery.CategoryUnavailable},
	}
	for _, tc := range statuses {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			outcome, err := NewWebhook(srv.URL).Attempt(context.Background(), testEnvelope())

			if tc.wantOK {
				require.NoError(t, err)
				assert.Equal(t, delivery.OutcomeDeliveredSecondary, outcome)
				return
			}
			assert.Equal(t, delivery.OutcomeFailed, outcome)
			assert.Equal(t, tc.category, delivery.CategoryOf(err))
		})
	}

	t.Run("unreachable endpoint is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		outcome, err := NewWebhook(url).Attempt(context.Background(), testEnvelope())

		assert.Equal(t, delivery.OutcomeFailed, outcome)
		assert.Equal(t, delivery.CategoryUnavailable, delivery.CategoryOf(err))
	})

	t.Run("slow endpoint times out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		outcome, err := NewWebhook(srv.URL, WithTimeout(30*time.Millisecond)).Attempt(context.Background(), testEnvelope())

		assert.Equal(t, delivery.OutcomeFailed, outcome)
		assert.Equal(t, delivery.CategoryTimeout, delivery.CategoryOf(err))
	})

	t.Run("malformed url fails without panicking", func(t *testing.T) {
		outcome, err := NewWebhook("http://[::1]:namedport").Attempt(context.Background(), testEnvelope())

		assert.Equal(t, delivery.OutcomeFailed, outcome)
		assert.True(t, delivery.IsTransportError(err))
	})
}
