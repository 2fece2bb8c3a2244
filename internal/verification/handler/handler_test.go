package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"suiverify/internal/delivery"
	"suiverify/internal/verification/handler/mocks"
	"suiverify/internal/verification/models"
	"suiverify/internal/verification/service"
)

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	s.router = chi.NewRouter()
	New(s.svc, slog.New(slog.DiscardHandler)).Register(s.router)
}

func (s *HandlerSuite) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/verification/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestPublishAdaptsBody() {
	s.svc.EXPECT().Publish(gomock.Any(), models.Record{
		WalletAddress: "0xabc",
		DID:           "42",
		Verified:      true,
		AadhaarNumber: "123412341234",
		DateOfBirth:   "1990-01-01",
		PhoneNumber:   "9876543210",
	}).Return(delivery.OutcomeDeliveredPrimary, nil)

	rec := s.post(`{"wallet_address":"0xabc","did":42,"is_verified":1,"aadhaar_number":"123412341234","date_of_birth":"1990-01-01","phone_number":"9876543210"}`)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"success":true,"outcome":"delivered-primary"}`, rec.Body.String())
}

func (s *HandlerSuite) TestPublishFallbackStillSucceeds() {
	s.svc.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(delivery.OutcomeRecordedFallback, nil)

	rec := s.post(`{"wallet_address":"0xabc"}`)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"success":true,"outcome":"recorded-fallback"}`, rec.Body.String())
}

func (s *HandlerSuite) TestPublishLostEvent() {
	s.svc.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(delivery.OutcomeFailed, delivery.ErrEventLost)

	rec := s.post(`{"wallet_address":"0xabc"}`)

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"success":false,"outcome":"failed"}`, rec.Body.String())
}

func (s *HandlerSuite) TestPublishRejectsMalformedBody() {
	s.svc.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	for _, body := range []string{`{not json`, `null`, `[1,2]`} {
		rec := s.post(body)
		s.Equal(http.StatusBadRequest, rec.Code, body)
	}
}

func (s *HandlerSuite) TestHealth() {
	s.Run("connected", func() {
		s.svc.EXPECT().Health(gomock.Any()).Return(service.HealthStatus{Service: "kafka", Status: "healthy", Connected: true})

		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/verification/health", nil))

		s.Equal(http.StatusOK, rec.Code)
		var got service.HealthStatus
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.True(got.Connected)
	})

	s.Run("disconnected", func() {
		msg := "connection refused"
		s.svc.EXPECT().Health(gomock.Any()).Return(service.HealthStatus{Service: "kafka", Status: "unhealthy", Error: &msg})

		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/verification/health", nil))

		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

var _ Service = (*service.Service)(nil)
