package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"suiverify/internal/delivery"
	"suiverify/internal/verification/models"
	"suiverify/internal/verification/service"
	dErrors "suiverify/pkg/domain-errors"
	"suiverify/pkg/platform/httputil"
	"suiverify/pkg/platform/middleware/request"
)

// Service defines the interface for verification publishing.
type Service interface {
	Publish(ctx context.Context, rec models.Record) (delivery.Outcome, error)
	Health(ctx context.Context) service.HealthStatus
}

// Handler exposes the publisher over HTTP.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// New creates a new verification Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the verification routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/verification/events", h.handlePublish)
	r.Get("/api/verification/health", h.handleHealth)
}

// PublishResponse reports what happened to a submitted event.
type PublishResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body == nil {
		h.logger.WarnContext(ctx, "failed to decode verification event",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body must be a JSON object"))
		return
	}

	outcome, err := h.svc.Publish(ctx, models.RecordFromMap(body))
	if err != nil {
		h.logger.ErrorContext(ctx, "verification event not published",
			"request_id", requestID,
			"outcome", string(outcome),
			"error", err,
		)
		httputil.WriteJSON(w, http.StatusInternalServerError, PublishResponse{Success: false, Outcome: string(outcome)})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, PublishResponse{Success: outcome.Succeeded(), Outcome: string(outcome)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Health(r.Context())
	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}
