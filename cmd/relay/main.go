// Command relay receives the webhook transport's envelopes and produces them
// to Kafka on the broker host's behalf.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"suiverify/internal/platform/config"
	"suiverify/internal/platform/health"
	"suiverify/internal/platform/kafka"
	"suiverify/internal/platform/kafka/producer"
	"suiverify/internal/platform/logger"
	"suiverify/internal/platform/metrics"
	"suiverify/internal/relay"
	"suiverify/pkg/platform/middleware/request"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay exited", "error", err)
		os.Exit(1)
	}
	log.Info("relay stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	prodCfg := producer.DefaultConfig(cfg.Kafka.Broker.String())
	prodCfg.ClientID = cfg.Kafka.ClientID + "-relay"
	prodCfg.Retries = cfg.Kafka.Retries
	prodCfg.RetryBackoff = cfg.Kafka.RetryBackoff
	prodCfg.DeliveryTimeout = cfg.Kafka.DeliveryTimeout
	prod, err := producer.New(prodCfg, log)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer prod.Close() //nolint:errcheck // Close logs its own flush failures

	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)

	healthHandler := health.New("suiverify-relay", cfg.Server.Environment)
	healthHandler.RegisterCheck("kafka", kafka.NewHealthChecker(cfg.Kafka.Broker.String(), 5*time.Second).Check)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(request.LatencyMiddleware(request.NewMetrics(reg)))
	r.Use(request.BodyLimit(1 << 20))
	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	relay.New(prod, log, relay.WithMetrics(m), relay.WithTimeout(cfg.Kafka.AckTimeout)).Register(r)

	srv := &http.Server{
		Addr:              cfg.Server.RelayAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting relay", "addr", cfg.Server.RelayAddr, "broker", cfg.Kafka.Broker.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
