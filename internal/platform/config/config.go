package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultBrokerPort is used when KAFKA_SERVER carries no port.
const DefaultBrokerPort = 9092

// Primary transport selectors for DELIVERY_PRIMARY.
const (
	PrimaryKafka = "kafka"
	PrimaryRedis = "redis"
)

// Config is the full process configuration, sourced from the environment.
type Config struct {
	Server   Server
	Kafka    Kafka
	Webhook  Webhook
	Delivery Delivery
	Redis    Redis
	OTP      OTP
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string     `env:"SUIVERIFY_ADDR" envDefault:":8000"`
	RelayAddr   string     `env:"RELAY_ADDR" envDefault:":8080"`
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// Kafka configures the primary transport producer.
type Kafka struct {
	Server          string        `env:"KAFKA_SERVER" envDefault:"localhost:9092"`
	Topic           string        `env:"KAFKA_TOPIC" envDefault:"verified-user-data"`
	ClientID        string        `env:"KAFKA_CLIENT_ID" envDefault:"suiverify-verification"`
	Retries         int           `env:"KAFKA_RETRIES" envDefault:"3"`
	RetryBackoff    time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"1s"`
	AckTimeout      time.Duration `env:"KAFKA_ACK_TIMEOUT" envDefault:"30s"`
	DeliveryTimeout time.Duration `env:"KAFKA_DELIVERY_TIMEOUT" envDefault:"60s"`

	// Broker is the parsed form of Server, filled in by FromEnv.
	Broker BrokerAddress
}

// Webhook configures the secondary transport.
type Webhook struct {
	URL          string        `env:"KAFKA_WEBHOOK_URL"`
	FallbackPort int           `env:"WEBHOOK_FALLBACK_PORT" envDefault:"8080"`
	FallbackPath string        `env:"WEBHOOK_FALLBACK_PATH" envDefault:"/kafka/messages"`
	Timeout      time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
}

// Delivery configures the attempt chain.
type Delivery struct {
	Primary                 string `env:"DELIVERY_PRIMARY" envDefault:"kafka"`
	BreakerFailureThreshold int    `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerSuccessThreshold int    `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"3"`
}

// Redis configures the optional Redis client used by the OTP store and the
// stream transport. An empty URL disables Redis.
type Redis struct {
	URL          string        `env:"REDIS_URL"`
	Stream       string        `env:"REDIS_STREAM" envDefault:"verification_stream"`
	StreamMaxLen int64         `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"5s"`
}

// OTP configures one-time passcode issuance.
type OTP struct {
	TTL            time.Duration `env:"OTP_TTL" envDefault:"10m"`
	MaxAttempts    int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
	ResendCooldown time.Duration `env:"OTP_RESEND_COOLDOWN" envDefault:"60s"`
	Length         int           `env:"OTP_LENGTH" envDefault:"6"`
}

// ConfigurationError reports a configuration value the process cannot run with.
type ConfigurationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%q: %s", e.Key, e.Value, e.Reason)
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	broker, err := ParseBrokerAddress(c.Kafka.Server)
	if err != nil {
		return err
	}
	c.Kafka.Broker = broker

	switch c.Delivery.Primary {
	case PrimaryKafka:
	case PrimaryRedis:
		if c.Redis.URL == "" {
			return &ConfigurationError{Key: "DELIVERY_PRIMARY", Value: c.Delivery.Primary, Reason: "REDIS_URL is required"}
		}
	default:
		return &ConfigurationError{Key: "DELIVERY_PRIMARY", Value: c.Delivery.Primary, Reason: "must be kafka or redis"}
	}

	if c.Webhook.FallbackPort <= 0 || c.Webhook.FallbackPort > 65535 {
		return &ConfigurationError{Key: "WEBHOOK_FALLBACK_PORT", Value: strconv.Itoa(c.Webhook.FallbackPort), Reason: "port out of range"}
	}
	return nil
}

// WebhookURL resolves the secondary transport endpoint: the explicit
// KAFKA_WEBHOOK_URL when set, else the primary broker host on the fallback
// port and path.
func (c Config) WebhookURL() string {
	if c.Webhook.URL != "" {
		return c.Webhook.URL
	}
	path := c.Webhook.FallbackPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(c.Kafka.Broker.Host, strconv.Itoa(c.Webhook.FallbackPort)) + path
}

// BrokerAddress is a single host:port broker endpoint.
type BrokerAddress struct {
	Host string
	Port int
}

// String renders the address as host:port.
func (b BrokerAddress) String() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// ParseBrokerAddress parses "host:port", "[ipv6]:port" or a bare host or IPv6
// literal, defaulting the port to 9092.
func ParseBrokerAddress(raw string) (BrokerAddress, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return BrokerAddress{}, &ConfigurationError{Key: "KAFKA_SERVER", Value: raw, Reason: "broker address is empty"}
	}

	if !strings.Contains(value, ":") {
		return BrokerAddress{Host: value, Port: DefaultBrokerPort}, nil
	}
	// bare IPv6 literal; a port needs the bracketed form
	if ip := net.ParseIP(value); ip != nil {
		return BrokerAddress{Host: value, Port: DefaultBrokerPort}, nil
	}

	host, portStr, err := net.SplitHostPort(value)
	if err != nil {
		return BrokerAddress{}, &ConfigurationError{Key: "KAFKA_SERVER", Value: raw, Reason: err.Error()}
	}
	if host == "" {
		return BrokerAddress{}, &ConfigurationError{Key: "KAFKA_SERVER", Value: raw, Reason: "missing host"}
	}
	if portStr == "" {
		return BrokerAddress{Host: host, Port: DefaultBrokerPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return BrokerAddress{}, &ConfigurationError{Key: "KAFKA_SERVER", Value: raw, Reason: "invalid port"}
	}
	return BrokerAddress{Host: host, Port: port}, nil
}
