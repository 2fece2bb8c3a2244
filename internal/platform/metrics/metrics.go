package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt results recorded per transport.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Delivery chain metrics
	DeliveryAttempts *prometheus.CounterVec
	DeliveryOutcomes *prometheus.CounterVec
	AttemptLatency   *prometheus.HistogramVec
	SinkRecords      prometheus.Counter
	EncodingFailures prometheus.Counter

	// OTP metrics
	OTPIssued   *prometheus.CounterVec
	OTPVerified *prometheus.CounterVec
	OTPRejected *prometheus.CounterVec

	// Relay metrics
	RelayForwarded *prometheus.CounterVec

	// Redis connection pool, shared by the OTP store and the stream transport
	RedisPoolConns  *prometheus.GaugeVec
	RedisPoolEvents *prometheus.CounterVec
}

// PoolSnapshot is a point-in-time copy of connection pool counters.
type PoolSnapshot struct {
	Hits, Misses, Timeouts, Stale uint32
	Total, Idle                   uint32
}

// New creates and registers all Prometheus metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DeliveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_delivery_attempts_total",
			Help: "Delivery attempts per transport, labeled by result",
		}, []string{"transport", "result"}),
		DeliveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_delivery_outcomes_total",
			Help: "Terminal delivery outcomes of verification events",
		}, []string{"outcome"}),
		AttemptLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "suiverify_delivery_attempt_duration_seconds",
			Help:    "Time spent in a single transport attempt",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"transport"}),
		SinkRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "suiverify_delivery_sink_records_total",
			Help: "Verification events written to the last-resort sink",
		}),
		EncodingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "suiverify_delivery_encoding_failures_total",
			Help: "Verification events that could not be serialized",
		}),
		OTPIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_otp_issued_total",
			Help: "OTP codes issued, labeled by purpose",
		}, []string{"purpose"}),
		OTPVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_otp_verified_total",
			Help: "OTP codes successfully verified, labeled by purpose",
		}, []string{"purpose"}),
		OTPRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_otp_rejected_total",
			Help: "OTP verifications rejected, labeled by reason",
		}, []string{"reason"}),
		RelayForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_relay_forwarded_total",
			Help: "Webhook envelopes forwarded by the relay, labeled by result",
		}, []string{"result"}),
		RedisPoolConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "suiverify_redis_pool_conns",
			Help: "Redis pool connections, labeled total or idle",
		}, []string{"state"}),
		RedisPoolEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suiverify_redis_pool_events_total",
			Help: "Redis pool lookups, labeled hit, miss, timeout or stale",
		}, []string{"event"}),
	}
}

// ObserveAttempt records one transport attempt and its latency.
func (m *Metrics) ObserveAttempt(transport, result string, durationSeconds float64) {
	m.DeliveryAttempts.WithLabelValues(transport, result).Inc()
	if result != ResultSkipped {
		m.AttemptLatency.WithLabelValues(transport).Observe(durationSeconds)
	}
}

// IncrementOutcome counts a terminal delivery outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	m.DeliveryOutcomes.WithLabelValues(outcome).Inc()
}

// IncrementSinkRecords counts an event handed to the last-resort sink.
func (m *Metrics) IncrementSinkRecords() {
	m.SinkRecords.Inc()
}

func (m *Metrics) IncrementEncodingFailures() {
	m.EncodingFailures.Inc()
}

// IncrementOTPIssued increments the issued counter with purpose label
func (m *Metrics) IncrementOTPIssued(purpose string) {
	m.OTPIssued.WithLabelValues(purpose).Inc()
}

// IncrementOTPVerified increments the verified counter with purpose label
func (m *Metrics) IncrementOTPVerified(purpose string) {
	m.OTPVerified.WithLabelValues(purpose).Inc()
}

// IncrementOTPRejected increments the rejected counter with reason label
func (m *Metrics) IncrementOTPRejected(reason string) {
	m.OTPRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementRelayForwarded(result string) {
	m.RelayForwarded.WithLabelValues(result).Inc()
}

// ObserveRedisPool publishes cur and counts pool events accumulated since prev.
// A nil prev counts everything in cur.
func (m *Metrics) ObserveRedisPool(prev *PoolSnapshot, cur PoolSnapshot) {
	m.RedisPoolConns.WithLabelValues("total").Set(float64(cur.Total))
	m.RedisPoolConns.WithLabelValues("idle").Set(float64(cur.Idle))

	var base PoolSnapshot
	if prev != nil {
		base = *prev
	}
	for event, pair := range map[string][2]uint32{
		"hit":     {base.Hits, cur.Hits},
		"miss":    {base.Misses, cur.Misses},
		"timeout": {base.Timeouts, cur.Timeouts},
		"stale":   {base.Stale, cur.Stale},
	} {
		if pair[1] > pair[0] {
			m.RedisPoolEvents.WithLabelValues(event).Add(float64(pair[1] - pair[0]))
		}
	}
}
