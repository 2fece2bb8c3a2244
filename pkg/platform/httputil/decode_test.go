package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "suiverify/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRequest struct {
	WalletAddress string `json:"wallet_address"`
	DID           int    `json:"did"`
}

// walletRequest trims and lowercases before validating.
type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
	sanitized     bool
	normalized    bool
}

func (r *walletRequest) Sanitize() {
	r.sanitized = true
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
}

func (r *walletRequest) Normalize() {
	r.normalized = true
	r.WalletAddress = strings.ToLower(r.WalletAddress)
}

func (r *walletRequest) Validate() error {
	if r.WalletAddress == "" {
		return errors.New("wallet_address is required")
	}
	return nil
}

type phoneRequest struct {
	Phone string `json:"phone_number"`
}

func (r *phoneRequest) Validate() error {
	if r.Phone == "" {
		return dErrors.New(dErrors.CodeBadRequest, "phone_number is required")
	}
	return nil
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var errResp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	return errResp
}

func TestDecodeJSON(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	t.Run("successful decode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"wallet_address":"0xabc","did":42}`))
		w := httptest.NewRecorder()

		result, ok := DecodeJSON[eventRequest](w, req, logger, ctx, "req-1")

		assert.True(t, ok)
		require.NotNil(t, result)
		assert.Equal(t, "0xabc", result.WalletAddress)
		assert.Equal(t, 42, result.DID)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{not json}`))
		w := httptest.NewRecorder()

		result, ok := DecodeJSON[eventRequest](w, req, logger, ctx, "req-2")

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", decodeErrorBody(t, w)["error"])
	})

	t.Run("empty body is a bad request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(""))
		w := httptest.NewRecorder()

		_, ok := DecodeJSON[eventRequest](w, req, logger, ctx, "req-3")

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	t.Run("runs sanitize normalize and validate in order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"wallet_address":"  0xABC "}`))
		w := httptest.NewRecorder()

		result, ok := DecodeAndPrepare[walletRequest](w, req, logger, ctx, "req-4")

		assert.True(t, ok)
		require.NotNil(t, result)
		assert.True(t, result.sanitized)
		assert.True(t, result.normalized)
		assert.Equal(t, "0xabc", result.WalletAddress)
	})

	t.Run("plain validation error maps to validation_error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"wallet_address":"   "}`))
		w := httptest.NewRecorder()

		result, ok := DecodeAndPrepare[walletRequest](w, req, logger, ctx, "req-5")

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeErrorBody(t, w)
		assert.Equal(t, "validation_error", body["error"])
		assert.Contains(t, body["error_description"], "wallet_address is required")
	})

	t.Run("domain error code is preserved", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"phone_number":""}`))
		w := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[phoneRequest](w, req, logger, ctx, "req-6")

		assert.False(t, ok)
		assert.Equal(t, "bad_request", decodeErrorBody(t, w)["error"])
	})
}

func TestPrepareRequest(t *testing.T) {
	assert.NoError(t, PrepareRequest(&eventRequest{WalletAddress: "0xabc"}))
	assert.Error(t, PrepareRequest(&walletRequest{}))
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", dErrors.New(dErrors.CodeNotFound, "otp not found"), http.StatusNotFound, "not_found"},
		{"too many requests", dErrors.New(dErrors.CodeTooManyRequests, "wait 42 seconds"), http.StatusTooManyRequests, "too_many_requests"},
		{"otp mismatch", dErrors.New(dErrors.CodeOTPMismatch, "2 attempts remaining"), http.StatusBadRequest, "invalid_otp"},
		{"otp expired", dErrors.New(dErrors.CodeOTPExpired, "expired"), http.StatusBadRequest, "otp_expired"},
		{"upstream unavailable", dErrors.New(dErrors.CodeUnavailable, "broker down"), http.StatusBadGateway, "upstream_unavailable"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tc.wantCode, decodeErrorBody(t, w)["error"])
		})
	}
}
