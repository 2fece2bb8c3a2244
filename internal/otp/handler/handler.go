package handler

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"suiverify/internal/otp/service"
	dErrors "suiverify/pkg/domain-errors"
	"suiverify/pkg/platform/httputil"
	"suiverify/pkg/platform/middleware/request"
	s "suiverify/pkg/string"
	"suiverify/pkg/validation"
)

const maxFormMemory = 1 << 20

// Service defines the OTP operations the handler needs.
type Service interface {
	Send(ctx context.Context, req service.IssueRequest) (*service.IssueResult, error)
	Resend(ctx context.Context, req service.IssueRequest) (*service.IssueResult, error)
	Verify(ctx context.Context, req service.VerifyRequest) (*service.VerifyResult, error)
}

// Handler exposes the OTP flow over HTTP.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the OTP routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/otp", func(r chi.Router) {
		r.Post("/send", h.handleSend)
		r.Post("/resend", h.handleResend)
		r.Post("/verify", h.handleVerify)
	})
}

// IssueRequest is the body of send and resend.
type IssueRequest struct {
	PhoneNumber string `form:"phone_number" json:"phone_number" validate:"required,notblank,max=20"`
	UserAddress string `form:"user_address" json:"user_address" validate:"required,notblank,max=128"`
	Purpose     string `form:"purpose" json:"purpose" validate:"max=64"`
}

func (r *IssueRequest) Sanitize() {
	s.TrimStrings(&r.PhoneNumber, &r.UserAddress, &r.Purpose)
}

func (r *IssueRequest) Validate() error {
	return validation.Validate(r)
}

// VerifyRequest is the body of verify.
type VerifyRequest struct {
	PhoneNumber string `form:"phone_number" json:"phone_number" validate:"required,notblank,max=20"`
	UserAddress string `form:"user_address" json:"user_address" validate:"required,notblank,max=128"`
	OTPCode     string `form:"otp_code" json:"otp_code" validate:"required,min=4,max=10,digits"`
	Purpose     string `form:"purpose" json:"purpose" validate:"max=64"`
}

func (r *VerifyRequest) Sanitize() {
	s.TrimStrings(&r.PhoneNumber, &r.UserAddress, &r.OTPCode, &r.Purpose)
}

func (r *VerifyRequest) Validate() error {
	return validation.Validate(r)
}

// Response is the envelope of every successful OTP response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// IssueData is returned by send and resend.
type IssueData struct {
	Phone            string `json:"phone"`
	UserAddress      string `json:"user_address"`
	Purpose          string `json:"purpose"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
	AttemptsAllowed  int    `json:"attempts_allowed"`
	OTP              string `json:"otp,omitempty"`
}

// VerifyData is returned by verify.
type VerifyData struct {
	Phone         string `json:"phone"`
	UserAddress   string `json:"user_address"`
	Purpose       string `json:"purpose"`
	PhoneVerified bool   `json:"phone_verified"`
	VerifiedAt    string `json:"verified_at"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, h.svc.Send, "OTP sent successfully")
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, h.svc.Resend, "OTP resent successfully")
}

type issueFunc func(ctx context.Context, req service.IssueRequest) (*service.IssueResult, error)

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, fn issueFunc, message string) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := decode[IssueRequest](w, r, h.logger, requestID, func(r *http.Request) *IssueRequest {
		return &IssueRequest{
			PhoneNumber: r.PostFormValue("phone_number"),
			UserAddress: r.PostFormValue("user_address"),
			Purpose:     r.PostFormValue("purpose"),
		}
	})
	if !ok {
		return
	}

	res, err := fn(ctx, service.IssueRequest{
		Phone:       req.PhoneNumber,
		UserAddress: req.UserAddress,
		Purpose:     req.Purpose,
	})
	if err != nil {
		h.logError(ctx, "otp issue failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data: IssueData{
			Phone:            res.PhoneDisplay,
			UserAddress:      res.UserAddress,
			Purpose:          res.Purpose,
			ExpiresInMinutes: res.ExpiresInMinutes,
			AttemptsAllowed:  res.AttemptsAllowed,
			OTP:              res.Code,
		},
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := decode[VerifyRequest](w, r, h.logger, requestID, func(r *http.Request) *VerifyRequest {
		return &VerifyRequest{
			PhoneNumber: r.PostFormValue("phone_number"),
			UserAddress: r.PostFormValue("user_address"),
			OTPCode:     r.PostFormValue("otp_code"),
			Purpose:     r.PostFormValue("purpose"),
		}
	})
	if !ok {
		return
	}

	res, err := h.svc.Verify(ctx, service.VerifyRequest{
		Phone:       req.PhoneNumber,
		UserAddress: req.UserAddress,
		Purpose:     req.Purpose,
		Code:        req.OTPCode,
	})
	if err != nil {
		h.logError(ctx, "otp verification failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "OTP verified successfully",
		Data: VerifyData{
			Phone:         res.PhoneDisplay,
			UserAddress:   res.UserAddress,
			Purpose:       res.Purpose,
			PhoneVerified: true,
			VerifiedAt:    res.VerifiedAt.Format(time.RFC3339),
		},
	})
}

// decode reads a JSON body when the client sends one and form fields
// otherwise, then sanitizes and validates the result.
func decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, requestID string, fromForm func(*http.Request) *T) (*T, bool) {
	ctx := r.Context()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return httputil.DecodeAndPrepare[T](w, r, logger, ctx, requestID)
	}

	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxFormMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to parse form", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form body"))
		return nil, false
	}

	req := fromForm(r)
	if err := httputil.PrepareRequest(req); err != nil {
		logger.WarnContext(ctx, "invalid otp request", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return nil, false
	}
	return req, true
}

func (h *Handler) logError(ctx context.Context, msg, requestID string, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeTimeout) {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		return
	}
	h.logger.InfoContext(ctx, msg, "request_id", requestID, "error", err)
}
