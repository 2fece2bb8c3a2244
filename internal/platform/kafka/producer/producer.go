package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrClosed is returned by Produce after Close.
var ErrClosed = errors.New("producer is closed")

// Message represents a message to be published to Kafka.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer wraps the franz-go client with a simpler interface. A single
// Producer is shared by every concurrent delivery; franz-go serializes
// access to the underlying connections.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// Config holds producer configuration.
type Config struct {
	Brokers         string
	ClientID        string
	Acks            string
	Retries         int
	RetryBackoff    time.Duration
	DeliveryTimeout time.Duration
	DialTimeout     time.Duration
}

// DefaultConfig mirrors the delivery guarantees the verification topic
// expects: every in-sync replica acknowledges, three retries one second
// apart, a sixty second end-to-end delivery budget.
func DefaultConfig(brokers string) Config {
	return Config{
		Brokers:         brokers,
		ClientID:        "suiverify-verification",
		Acks:            "all",
		Retries:         3,
		RetryBackoff:    time.Second,
		DeliveryTimeout: 60 * time.Second,
		DialTimeout:     5 * time.Second,
	}
}

// New creates a new Kafka producer. The client connects lazily on first
// produce, so construction succeeds even when no broker is reachable.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if strings.TrimSpace(cfg.Brokers) == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	brokers := strings.Split(cfg.Brokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	// Map acks setting
	var acks kgo.Acks
	switch cfg.Acks {
	case "0":
		acks = kgo.NoAck()
	case "1":
		acks = kgo.LeaderAck()
	default:
		acks = kgo.AllISRAcks()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(acks),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerBatchMaxBytes(16384),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}

	if cfg.Acks == "0" || cfg.Acks == "1" {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.RetryBackoff > 0 {
		backoff := cfg.RetryBackoff
		opts = append(opts, kgo.RetryBackoffFn(func(int) time.Duration { return backoff }))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.Dialer(Dialer(cfg.DialTimeout)))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Producer{
		client: client,
		logger: logger,
	}, nil
}

// Produce hands the message to the client and blocks until the broker
// acknowledgment callback fires or ctx is done, whichever comes first.
// The caller bounds the wait with ctx.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	var headers []kgo.RecordHeader
	for k, v := range msg.Headers {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	record := &kgo.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}

	acked := make(chan error, 1)
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		p.report(r, err)
		acked <- err
	})

	select {
	case err := <-acked:
		if err != nil {
			return fmt.Errorf("produce message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("produce message: awaiting acknowledgment: %w", ctx.Err())
	}
}

// report is the delivery callback.
func (p *Producer) report(r *kgo.Record, err error) {
	if err != nil {
		p.logger.Error("kafka delivery failed",
			"topic", r.Topic,
			"error", err,
		)
		return
	}
	p.logger.Info("kafka message delivered",
		"topic", r.Topic,
		"partition", r.Partition,
		"offset", r.Offset,
	)
}

// Close flushes pending sends and releases the client. Calls after the first
// are no-ops.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed messages",
			"error", err,
		)
	}

	p.client.Close()
	p.logger.Info("kafka producer closed")
	return nil
}

// Healthy checks if the producer can communicate with brokers.
func (p *Producer) Healthy(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	return p.client.Ping(ctx) == nil
}

// Dialer returns a custom dialer for the Kafka client.
func Dialer(timeout time.Duration) func(ctx context.Context, network, address string) (net.Conn, error) {
	return (&net.Dialer{
		Timeout: timeout,
	}).DialContext
}
