package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"suiverify/internal/delivery"
	"suiverify/internal/delivery/sink"
	"suiverify/internal/delivery/transport"
	otphandler "suiverify/internal/otp/handler"
	"suiverify/internal/otp/sender"
	otpservice "suiverify/internal/otp/service"
	otpstore "suiverify/internal/otp/store"
	"suiverify/internal/platform/kafka/producer"
	"suiverify/internal/platform/metrics"
	"suiverify/internal/relay"
	verificationhandler "suiverify/internal/verification/handler"
	verificationservice "suiverify/internal/verification/service"
	"suiverify/pkg/platform/middleware/request"
)

const topic = "verified-user-data"

var errBrokerDown = errors.New("kafka: broker not reachable")

// fakeBroker stands in for a Kafka cluster: it keeps every acknowledged
// message and refuses all of them while down.
type fakeBroker struct {
	mu       sync.Mutex
	down     bool
	messages []*producer.Message
}

func (b *fakeBroker) Produce(_ context.Context, msg *producer.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	b.messages = append(b.messages, msg)
	return nil
}

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBroker) received() []*producer.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*producer.Message(nil), b.messages...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Split(strings.TrimSpace(s.buf.String()), "\n")
}

// TestContext holds one in-process deployment and the state between steps.
type TestContext struct {
	Server      *httptest.Server
	RelayServer *httptest.Server
	HTTPClient  *http.Client

	Broker      *fakeBroker
	RelayBroker *fakeBroker
	SinkOutput  *syncBuffer
	AppOutput   *syncBuffer

	LastResponse     *http.Response
	LastResponseBody []byte
	LastOTP          string
}

// NewTestContext starts the service and a relay, wired as in production
// except that both brokers are in memory.
func NewTestContext() *TestContext {
	tc := &TestContext{
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Broker:      &fakeBroker{},
		RelayBroker: &fakeBroker{},
		SinkOutput:  &syncBuffer{},
		AppOutput:   &syncBuffer{},
	}
	log := slog.New(slog.NewJSONHandler(tc.AppOutput, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := metrics.New(prometheus.NewRegistry())

	relayRouter := chi.NewRouter()
	relay.New(tc.RelayBroker, log, relay.WithMetrics(m)).Register(relayRouter)
	tc.RelayServer = httptest.NewServer(relayRouter)

	chain := delivery.New(topic,
		sink.NewLogSink(slog.NewJSONHandler(tc.SinkOutput, nil)),
		[]delivery.Transport{
			transport.NewKafka(tc.Broker, time.Second),
			transport.NewWebhook(tc.RelayServer.URL+relay.Path, transport.WithTimeout(2*time.Second)),
		},
		delivery.WithLogger(log),
		delivery.WithMetrics(m),
	)
	verifySvc := verificationservice.New(chain, topic, verificationservice.WithLogger(log))

	otpSvc := otpservice.New(otpstore.NewInMemoryStore(), sender.NewLogSender(log),
		otpservice.WithMetrics(m),
		otpservice.WithLogger(log),
		otpservice.WithHashCost(bcrypt.MinCost),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Timestamp)
	verificationhandler.New(verifySvc, log).Register(r)
	otphandler.New(otpSvc, log).Register(r)
	tc.Server = httptest.NewServer(r)
	return tc
}

// Close stops both servers.
func (tc *TestContext) Close() {
	tc.Server.Close()
	tc.RelayServer.Close()
}

// POST sends body as JSON and stores the response
func (tc *TestContext) POST(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.do(path, "application/json", bytes.NewReader(data))
}

// POSTForm sends url-encoded form fields and stores the response
func (tc *TestContext) POSTForm(path string, values url.Values) error {
	return tc.do(path, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
}

func (tc *TestContext) do(path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.Server.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a field from the JSON response, descending
// through dotted paths such as "data.otp".
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	for _, part := range strings.Split(field, ".") {
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
		if data, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
	}
	return data, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

// SinkRecords returns the decoded records written to the last-resort sink.
func (tc *TestContext) SinkRecords() ([]map[string]any, error) {
	var out []map[string]any
	for _, line := range tc.SinkOutput.Lines() {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("sink line %q is not JSON: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// AllPublishedPayloads collects every payload that left the service through
// any path.
func (tc *TestContext) AllPublishedPayloads() ([]string, error) {
	var out []string
	for _, m := range tc.Broker.received() {
		out = append(out, string(m.Value))
	}
	for _, m := range tc.RelayBroker.received() {
		out = append(out, string(m.Value))
	}
	recs, err := tc.SinkRecords()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if p, ok := r["payload"].(string); ok {
			out = append(out, p)
		}
	}
	return out, nil
}
