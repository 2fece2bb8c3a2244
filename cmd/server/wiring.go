package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"suiverify/internal/delivery"
	"suiverify/internal/delivery/sink"
	"suiverify/internal/delivery/transport"
	otpcleanup "suiverify/internal/otp/cleanup"
	otphandler "suiverify/internal/otp/handler"
	"suiverify/internal/otp/sender"
	otpservice "suiverify/internal/otp/service"
	otpstore "suiverify/internal/otp/store"
	"suiverify/internal/platform/config"
	"suiverify/internal/platform/health"
	"suiverify/internal/platform/kafka"
	"suiverify/internal/platform/kafka/producer"
	"suiverify/internal/platform/metrics"
	redisplatform "suiverify/internal/platform/redis"
	"suiverify/internal/platform/tracer"
	"suiverify/internal/verification/composer"
	"suiverify/internal/verification/evidence"
	verificationhandler "suiverify/internal/verification/handler"
	verificationservice "suiverify/internal/verification/service"
	"suiverify/pkg/platform/circuit"
	"suiverify/pkg/platform/middleware/request"
)

const (
	maxBodyBytes      = 1 << 20
	brokerDialTimeout = 5 * time.Second
	poolStatsInterval = 15 * time.Second
)

type application struct {
	router  chi.Router
	workers []func(ctx context.Context) error
	close   func()
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*application, error) {
	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)
	app := &application{}

	rc, err := redisplatform.New(ctx, cfg.Redis, redisplatform.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		app.workers = append(app.workers, func(ctx context.Context) error {
			return rc.Run(ctx, poolStatsInterval)
		})
	}

	// The producer connects lazily; a broken broker config degrades to the
	// secondary transport rather than failing startup.
	var prod *producer.Producer
	prodCfg := producer.DefaultConfig(cfg.Kafka.Broker.String())
	prodCfg.ClientID = cfg.Kafka.ClientID
	prodCfg.Retries = cfg.Kafka.Retries
	prodCfg.RetryBackoff = cfg.Kafka.RetryBackoff
	prodCfg.DeliveryTimeout = cfg.Kafka.DeliveryTimeout
	if prod, err = producer.New(prodCfg, log); err != nil {
		log.Warn("kafka producer unavailable, delivering through fallbacks", "error", err)
		prod = nil
	}

	chain := buildChain(cfg, log, m, prod, rc)

	brokerProbe := kafka.NewHealthChecker(cfg.Kafka.Broker.String(), brokerDialTimeout)
	verifyOpts := []verificationservice.Option{
		verificationservice.WithLogger(log),
		verificationservice.WithComposer(composer.New(
			composer.WithHasher(evidence.NewHasher(evidence.WithLogger(log))),
		)),
		verificationservice.WithBroker(cfg.Kafka.Broker, brokerProbe),
	}
	if prod != nil {
		verifyOpts = append(verifyOpts, verificationservice.WithProducer(prod))
	}
	verifySvc := verificationservice.New(chain, cfg.Kafka.Topic, verifyOpts...)

	var st otpstore.Store
	if rc != nil {
		st = otpstore.NewRedisStore(rc.Client)
	} else {
		mem := otpstore.NewInMemoryStore()
		worker, err := otpcleanup.New(mem, otpcleanup.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("otp cleanup: %w", err)
		}
		app.workers = append(app.workers, worker.Start)
		st = mem
	}
	otpSvc := otpservice.New(st, sender.NewLogSender(log),
		otpservice.WithConfig(otpservice.Config{
			TTL:            cfg.OTP.TTL,
			MaxAttempts:    cfg.OTP.MaxAttempts,
			ResendCooldown: cfg.OTP.ResendCooldown,
			CodeLength:     cfg.OTP.Length,
		}),
		otpservice.WithMetrics(m),
		otpservice.WithLogger(log),
	)

	healthHandler := health.New("suiverify", cfg.Server.Environment)
	healthHandler.RegisterCheck("kafka", brokerProbe.Check)
	if rc != nil {
		healthHandler.RegisterCheck("redis", rc.Health)
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(request.Timestamp)
	r.Use(request.LatencyMiddleware(request.NewMetrics(reg)))
	r.Use(request.BodyLimit(maxBodyBytes))

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	verificationhandler.New(verifySvc, log).Register(r)
	otphandler.New(otpSvc, log).Register(r)

	app.router = r
	app.close = func() {
		if err := verifySvc.Close(); err != nil {
			log.Error("closing verification publisher", "error", err)
		}
		if rc != nil {
			if err := rc.Close(); err != nil {
				log.Error("closing redis", "error", err)
			}
		}
	}
	return app, nil
}

// buildChain assembles primary, webhook secondary and the log sink, each
// network transport behind its own breaker.
func buildChain(cfg config.Config, log *slog.Logger, m *metrics.Metrics, prod *producer.Producer, rc *redisplatform.Client) *delivery.Chain {
	var primary delivery.Transport
	if cfg.Delivery.Primary == config.PrimaryRedis && rc != nil {
		primary = transport.NewStream(rc.Client, cfg.Redis.Stream, cfg.Redis.StreamMaxLen)
	} else {
		var p transport.Producer
		if prod != nil {
			p = prod
		}
		primary = transport.NewKafka(p, cfg.Kafka.AckTimeout)
	}
	webhook := transport.NewWebhook(cfg.WebhookURL(), transport.WithTimeout(cfg.Webhook.Timeout))

	opts := []delivery.Option{
		delivery.WithLogger(log),
		delivery.WithMetrics(m),
		delivery.WithTracer(tracer.NewOTel()),
	}
	for _, t := range []delivery.Transport{primary, webhook} {
		if cfg.Delivery.BreakerFailureThreshold <= 0 {
			break
		}
		opts = append(opts, delivery.WithBreaker(t.Name(), circuit.New(t.Name(),
			circuit.WithFailureThreshold(cfg.Delivery.BreakerFailureThreshold),
			circuit.WithSuccessThreshold(cfg.Delivery.BreakerSuccessThreshold),
		)))
	}

	log.Info("delivery chain configured",
		"primary", primary.Name(),
		"webhook_url", webhook.URL(),
		"topic", cfg.Kafka.Topic,
	)
	return delivery.New(cfg.Kafka.Topic, sink.NewLogSink(log.Handler()), []delivery.Transport{primary, webhook}, opts...)
}
