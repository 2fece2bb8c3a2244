// Package service issues and verifies one-time passcodes bound to a phone,
// a wallet address and a purpose.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"suiverify/internal/otp/models"
	"suiverify/internal/otp/sender"
	"suiverify/internal/otp/store"
	"suiverify/internal/platform/metrics"
	"suiverify/internal/platform/privacy"
	dErrors "suiverify/pkg/domain-errors"
	"suiverify/pkg/platform/middleware/request"
)

// Rejection reasons reported to metrics.
const (
	ReasonNotFound        = "not_found"
	ReasonExpired         = "expired"
	ReasonAttemptsSpent   = "attempts_exceeded"
	ReasonMismatch        = "mismatch"
	ReasonAlreadyVerified = "already_verified"
)

// Sender delivers the OTP message to the phone.
type Sender interface {
	Send(ctx context.Context, msg sender.Message) error
}

// Config holds the issuance policy.
type Config struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	CodeLength     int
}

// DefaultConfig is ten minute codes of six digits, three attempts, and a
// sixty second resend cooldown.
func DefaultConfig() Config {
	return Config{
		TTL:            10 * time.Minute,
		MaxAttempts:    3,
		ResendCooldown: 60 * time.Second,
		CodeLength:     6,
	}
}

// IssueRequest is the input to Send and Resend.
type IssueRequest struct {
	Phone       string
	UserAddress string
	Purpose     string
}

// VerifyRequest is the input to Verify.
type VerifyRequest struct {
	Phone       string
	UserAddress string
	Purpose     string
	Code        string
}

// IssueResult describes a freshly issued code. Code is set only for the
// testing purpose.
type IssueResult struct {
	Phone            string
	PhoneDisplay     string
	UserAddress      string
	Purpose          string
	ExpiresAt        time.Time
	ExpiresInMinutes int
	AttemptsAllowed  int
	Code             string
}

// VerifyResult describes a successful verification.
type VerifyResult struct {
	Phone        string
	PhoneDisplay string
	UserAddress  string
	Purpose      string
	VerifiedAt   time.Time
}

// MismatchError carries the attempts left after a wrong code.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Invalid OTP. %d attempts remaining.", e.Remaining)
}

// CooldownError carries the wait before another code may be requested.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("Please wait %d seconds before requesting a new OTP", e.Seconds())
}

// Seconds is the remaining wait rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	secs := int(e.Remaining / time.Second)
	if e.Remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// Service implements the OTP flow over a Store.
type Service struct {
	store    store.Store
	sender   Sender
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func(ctx context.Context) time.Time
	generate func(length int) (string, error)
	hashCost int
}

// Option configures a Service.
type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.TTL > 0 {
			s.cfg.TTL = cfg.TTL
		}
		if cfg.MaxAttempts > 0 {
			s.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.ResendCooldown >= 0 {
			s.cfg.ResendCooldown = cfg.ResendCooldown
		}
		if cfg.CodeLength > 0 {
			s.cfg.CodeLength = cfg.CodeLength
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the request-scoped clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = func(context.Context) time.Time { return now() }
		}
	}
}

// WithCodeGenerator replaces the crypto/rand code source.
func WithCodeGenerator(fn func(length int) (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.generate = fn
		}
	}
}

// WithHashCost sets the bcrypt cost used for stored codes.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

func New(st store.Store, snd Sender, opts ...Option) *Service {
	s := &Service{
		store:    st,
		sender:   snd,
		cfg:      DefaultConfig(),
		logger:   slog.New(slog.DiscardHandler),
		clock:    request.Now,
		generate: GenerateCode,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send issues a new code, replacing any outstanding one for the same key.
func (s *Service) Send(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	return s.issue(ctx, req, false)
}

// Resend issues a new code unless the previous one is younger than the
// resend cooldown.
func (s *Service) Resend(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	return s.issue(ctx, req, true)
}

func (s *Service) issue(ctx context.Context, req IssueRequest, enforceCooldown bool) (*IssueResult, error) {
	phone, err := models.NormalizePhone(req.Phone)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "Invalid Indian phone number format")
	}
	purpose := purposeOrDefault(req.Purpose)
	key := models.Key(phone, req.UserAddress, purpose)

	code, err := s.generate(s.cfg.CodeLength)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate otp")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate otp")
	}

	now := s.clock(ctx)
	rec := &models.Record{
		Key:         key,
		Phone:       phone,
		UserAddress: req.UserAddress,
		Purpose:     purpose,
		CodeHash:    hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}

	err = s.store.Update(ctx, key, func(current *models.Record) (store.Change, error) {
		if enforceCooldown && current != nil {
			if wait := s.cfg.ResendCooldown - now.Sub(current.CreatedAt); wait > 0 {
				return store.Change{}, &CooldownError{Remaining: wait}
			}
		}
		return store.Change{Save: rec}, nil
	})
	if err != nil {
		var cooldown *CooldownError
		if errors.As(err, &cooldown) {
			return nil, dErrors.Wrap(err, dErrors.CodeTooManyRequests, cooldown.Error())
		}
		return nil, s.storeError(ctx, err)
	}

	msg := sender.Message{
		Phone:   phone,
		Code:    code,
		Body:    fmt.Sprintf("Your SuiVerify OTP is: %s. Valid for %d minutes.", code, int(s.cfg.TTL/time.Minute)),
		Purpose: purpose,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "otp dispatch failed",
			"phone", privacy.MaskPhone(phone),
			"error", err,
		)
		s.discard(ctx, key)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to send OTP")
	}

	if s.metrics != nil {
		s.metrics.IncrementOTPIssued(purpose)
	}
	s.logger.InfoContext(ctx, "otp issued",
		"phone", privacy.MaskPhone(phone),
		"wallet", privacy.MaskAddress(req.UserAddress),
		"purpose", purpose,
		"resend", enforceCooldown,
	)

	res := &IssueResult{
		Phone:            phone,
		PhoneDisplay:     models.DisplayPhone(phone),
		UserAddress:      req.UserAddress,
		Purpose:          purpose,
		ExpiresAt:        rec.ExpiresAt,
		ExpiresInMinutes: int(s.cfg.TTL / time.Minute),
		AttemptsAllowed:  s.cfg.MaxAttempts,
	}
	if purpose == models.PurposeTesting {
		res.Code = code
	}
	return res, nil
}

// Verify checks code against the outstanding record. A record is consumed
// on success, on expiry and once its attempts are spent.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	phone, err := models.NormalizePhone(req.Phone)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "Invalid Indian phone number format")
	}
	purpose := purposeOrDefault(req.Purpose)
	key := models.Key(phone, req.UserAddress, purpose)
	now := s.clock(ctx)

	var reason string
	err = s.store.Update(ctx, key, func(current *models.Record) (store.Change, error) {
		switch {
		case current == nil:
			reason = ReasonNotFound
			return store.Change{}, dErrors.New(dErrors.CodeNotFound, "OTP not found or expired. Please request a new OTP.")
		case current.Verified:
			reason = ReasonAlreadyVerified
			return store.Change{}, dErrors.New(dErrors.CodeOTPAlreadyVerified, "OTP already verified")
		case current.IsExpired(now):
			reason = ReasonExpired
			return store.Change{Delete: true}, dErrors.New(dErrors.CodeOTPExpired, "OTP has expired. Please request a new OTP.")
		case current.Attempts >= s.cfg.MaxAttempts:
			reason = ReasonAttemptsSpent
			return store.Change{Delete: true}, dErrors.New(dErrors.CodeOTPAttemptsExceeded, "Maximum verification attempts exceeded. Please request a new OTP.")
		}

		current.Attempts++
		if bcrypt.CompareHashAndPassword(current.CodeHash, []byte(req.Code)) != nil {
			reason = ReasonMismatch
			remaining := current.RemainingAttempts(s.cfg.MaxAttempts)
			if remaining == 0 {
				reason = ReasonAttemptsSpent
				return store.Change{Delete: true}, dErrors.New(dErrors.CodeOTPAttemptsExceeded, "Invalid OTP. Maximum attempts exceeded. Please request a new OTP.")
			}
			mismatch := &MismatchError{Remaining: remaining}
			return store.Change{Save: current}, dErrors.Wrap(mismatch, dErrors.CodeOTPMismatch, mismatch.Error())
		}
		return store.Change{Delete: true}, nil
	})
	if err != nil {
		var domainErr *dErrors.Error
		if !errors.As(err, &domainErr) {
			return nil, s.storeError(ctx, err)
		}
		if s.metrics != nil {
			s.metrics.IncrementOTPRejected(reason)
		}
		s.logger.InfoContext(ctx, "otp rejected",
			"phone", privacy.MaskPhone(phone),
			"purpose", purpose,
			"reason", reason,
		)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementOTPVerified(purpose)
	}
	s.logger.InfoContext(ctx, "otp verified",
		"phone", privacy.MaskPhone(phone),
		"wallet", privacy.MaskAddress(req.UserAddress),
		"purpose", purpose,
	)
	return &VerifyResult{
		Phone:        phone,
		PhoneDisplay: models.DisplayPhone(phone),
		UserAddress:  req.UserAddress,
		Purpose:      purpose,
		VerifiedAt:   now.UTC(),
	}, nil
}

func (s *Service) discard(ctx context.Context, key string) {
	err := s.store.Update(ctx, key, func(*models.Record) (store.Change, error) {
		return store.Change{Delete: true}, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to discard undelivered otp", "error", err)
	}
}

func (s *Service) storeError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "otp store timed out")
	}
	s.logger.ErrorContext(ctx, "otp store failure", "error", err)
	if errors.Is(err, store.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "otp store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "otp store failure")
}

// GenerateCode returns a uniformly random numeric code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("invalid code length %d", length)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

func purposeOrDefault(purpose string) string {
	if p := strings.TrimSpace(purpose); p != "" {
		return p
	}
	return models.DefaultPurpose
}
