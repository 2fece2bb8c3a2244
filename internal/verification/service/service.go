// Package service publishes verification outcomes downstream.
package service

import (
	"context"
	"log/slog"
	"sync"

	"suiverify/internal/delivery"
	"suiverify/internal/platform/config"
	"suiverify/internal/platform/privacy"
	"suiverify/internal/verification/composer"
	"suiverify/internal/verification/models"
)

// Deliverer publishes a composed event.
type Deliverer interface {
	Deliver(ctx context.Context, ev models.Event) (delivery.Outcome, error)
}

// Producer is the lifecycle surface of the shared Kafka producer.
type Producer interface {
	Healthy(ctx context.Context) bool
	Close() error
}

// BrokerProbe checks that the broker endpoint accepts connections.
type BrokerProbe interface {
	Check(ctx context.Context) error
}

// Service composes verification events and hands them to the delivery chain.
// It owns the producer passed with WithProducer and releases it on Close.
type Service struct {
	chain    Deliverer
	composer *composer.Composer
	producer Producer
	probe    BrokerProbe
	broker   config.BrokerAddress
	topic    string
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithComposer replaces the default composer.
func WithComposer(c *composer.Composer) Option {
	return func(s *Service) {
		if c != nil {
			s.composer = c
		}
	}
}

// WithProducer hands ownership of the producer to the service.
func WithProducer(p Producer) Option {
	return func(s *Service) {
		s.producer = p
	}
}

// WithBroker sets the broker address and probe reported by Health.
func WithBroker(addr config.BrokerAddress, probe BrokerProbe) Option {
	return func(s *Service) {
		s.broker = addr
		s.probe = probe
	}
}

// New creates a Service publishing to topic through chain.
func New(chain Deliverer, topic string, opts ...Option) *Service {
	s := &Service{
		chain:    chain,
		composer: composer.New(),
		topic:    topic,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish composes and delivers the event for rec.
func (s *Service) Publish(ctx context.Context, rec models.Record) (delivery.Outcome, error) {
	ev := s.composer.Compose(ctx, rec)

	s.logger.InfoContext(ctx, "publishing verification event",
		"topic", s.topic,
		"event_id", ev.ID.String(),
		"wallet", privacy.MaskAddress(ev.UserWallet),
		"did_id", ev.DIDID,
		"result", string(ev.Result),
	)

	outcome, err := s.chain.Deliver(ctx, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "verification event not published",
			"topic", s.topic,
			"event_id", ev.ID.String(),
			"outcome", string(outcome),
			"error", err,
		)
	}
	return outcome, err
}

// SendVerificationData publishes the loosely typed userData mapping. It
// reports true unless the event was neither delivered nor recorded.
func (s *Service) SendVerificationData(ctx context.Context, userData map[string]any) bool {
	outcome, _ := s.Publish(ctx, models.RecordFromMap(userData))
	return outcome.Succeeded()
}

// Close flushes and releases the producer. It is safe to call more than
// once and when no producer was configured.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.producer != nil {
			s.closeErr = s.producer.Close()
		}
		s.logger.Info("verification publisher closed")
	})
	return s.closeErr
}

// HealthStatus reports broker reachability.
type HealthStatus struct {
	Service   string  `json:"service"`
	Status    string  `json:"status"`
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	Server    string  `json:"server"`
	Topic     string  `json:"topic"`
	Connected bool    `json:"connected"`
	Error     *string `json:"error"`
}

// Health probes the broker endpoint and then the producer's metadata path.
func (s *Service) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Service: "kafka",
		Host:    s.broker.Host,
		Port:    s.broker.Port,
		Server:  s.broker.String(),
		Topic:   s.topic,
	}

	var failure string
	switch {
	case s.probe == nil:
		failure = "broker probe not configured"
	default:
		if err := s.probe.Check(ctx); err != nil {
			failure = "cannot connect to " + status.Server + ": " + err.Error()
		} else if s.producer != nil && !s.producer.Healthy(ctx) {
			failure = "kafka producer cannot reach the cluster"
		}
	}

	if failure != "" {
		status.Status = "unhealthy"
		status.Error = &failure
		s.logger.WarnContext(ctx, "kafka health check failed", "server", status.Server, "error", failure)
		return status
	}
	status.Status = "healthy"
	status.Connected = true
	return status
}
