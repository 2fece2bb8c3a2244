package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredStore exposes cleanup for lapsed OTP records. The Redis store
// expires keys itself and does not need this worker.
type ExpiredStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Service periodically removes expired OTP records.
type Service struct {
	store    ExpiredStore
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store ExpiredStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	svc := &Service{
		store:    store,
		interval: time.Minute,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start sweeps on every tick until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "otp cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep and returns how many records it removed.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired otp records: %w", err)
	}
	if deleted > 0 {
		s.logger.DebugContext(ctx, "expired otp records removed", "count", deleted)
	}
	return deleted, nil
}
