package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestParseBrokerAddress() {
	tests := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "host and port", input: "kafka.internal:19092", wantHost: "kafka.internal", wantPort: 19092},
		{name: "bare host defaults port", input: "kafka.internal", wantHost: "kafka.internal", wantPort: DefaultBrokerPort},
		{name: "trailing colon defaults port", input: "kafka.internal:", wantHost: "kafka.internal", wantPort: DefaultBrokerPort},
		{name: "surrounding whitespace", input: "  10.0.0.5:9093 ", wantHost: "10.0.0.5", wantPort: 9093},
		{name: "bracketed ipv6", input: "[::1]:9092", wantHost: "::1", wantPort: 9092},
		{name: "bare ipv6 loopback defaults port", input: "::1", wantHost: "::1", wantPort: DefaultBrokerPort},
		{name: "bare ipv6 defaults port", input: "fe80::1:2", wantHost: "fe80::1:2", wantPort: DefaultBrokerPort},
		{name: "empty", input: "", wantErr: true},
		{name: "non numeric port", input: "kafka:abc", wantErr: true},
		{name: "port out of range", input: "kafka:70000", wantErr: true},
		{name: "missing host", input: ":9092", wantErr: true},
		{name: "too many colons", input: "a:b:c", wantErr: true},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			addr, err := ParseBrokerAddress(tc.input)
			if tc.wantErr {
				s.Require().Error(err)
				var cfgErr *ConfigurationError
				s.True(errors.As(err, &cfgErr), "expected ConfigurationError, got %T", err)
				s.Equal("KAFKA_SERVER", cfgErr.Key)
				return
			}
			s.Require().NoError(err)
			s.Equal(tc.wantHost, addr.Host)
			s.Equal(tc.wantPort, addr.Port)
		})
	}
}

func (s *ConfigSuite) TestBareIPv6BrokerRoundTrips() {
	addr, err := ParseBrokerAddress("::1")
	s.Require().NoError(err)
	s.Equal("[::1]:9092", addr.String())

	again, err := ParseBrokerAddress(addr.String())
	s.Require().NoError(err)
	s.Equal(addr, again)
}

func (s *ConfigSuite) TestFromEnvDefaults() {
	s.T().Setenv("KAFKA_SERVER", "localhost")

	cfg, err := FromEnv()
	s.Require().NoError(err)

	s.Equal(":8000", cfg.Server.Addr)
	s.Equal(slog.LevelInfo, cfg.Server.LogLevel)
	s.Equal("verified-user-data", cfg.Kafka.Topic)
	s.Equal("suiverify-verification", cfg.Kafka.ClientID)
	s.Equal(3, cfg.Kafka.Retries)
	s.Equal(time.Second, cfg.Kafka.RetryBackoff)
	s.Equal(30*time.Second, cfg.Kafka.AckTimeout)
	s.Equal(60*time.Second, cfg.Kafka.DeliveryTimeout)
	s.Equal(10*time.Second, cfg.Webhook.Timeout)
	s.Equal(BrokerAddress{Host: "localhost", Port: 9092}, cfg.Kafka.Broker)
	s.Equal(PrimaryKafka, cfg.Delivery.Primary)
	s.Equal(10*time.Minute, cfg.OTP.TTL)
	s.Equal(3, cfg.OTP.MaxAttempts)
}

func (s *ConfigSuite) TestFromEnvRejectsBadBroker() {
	s.T().Setenv("KAFKA_SERVER", "broker:notaport")

	_, err := FromEnv()
	var cfgErr *ConfigurationError
	s.Require().ErrorAs(err, &cfgErr)
}

func (s *ConfigSuite) TestFromEnvRedisPrimaryRequiresURL() {
	s.T().Setenv("DELIVERY_PRIMARY", PrimaryRedis)
	s.T().Setenv("REDIS_URL", "")

	_, err := FromEnv()
	var cfgErr *ConfigurationError
	s.Require().ErrorAs(err, &cfgErr)
	s.Equal("DELIVERY_PRIMARY", cfgErr.Key)
}

func (s *ConfigSuite) TestFromEnvUnknownPrimary() {
	s.T().Setenv("DELIVERY_PRIMARY", "carrier-pigeon")

	_, err := FromEnv()
	s.Require().Error(err)
}

func (s *ConfigSuite) TestWebhookURL() {
	s.Run("explicit override wins", func() {
		cfg := Config{
			Kafka:   Kafka{Broker: BrokerAddress{Host: "kafka.internal", Port: 9092}},
			Webhook: Webhook{URL: "https://relay.example.com/in", FallbackPort: 8080, FallbackPath: "/kafka/messages"},
		}
		s.Equal("https://relay.example.com/in", cfg.WebhookURL())
	})

	s.Run("derived from broker host", func() {
		cfg := Config{
			Kafka:   Kafka{Broker: BrokerAddress{Host: "kafka.internal", Port: 9092}},
			Webhook: Webhook{FallbackPort: 8080, FallbackPath: "/kafka/messages"},
		}
		s.Equal("http://kafka.internal:8080/kafka/messages", cfg.WebhookURL())
	})

	s.Run("path without leading slash", func() {
		cfg := Config{
			Kafka:   Kafka{Broker: BrokerAddress{Host: "10.1.2.3", Port: 9092}},
			Webhook: Webhook{FallbackPort: 9000, FallbackPath: "ingest"},
		}
		s.Equal("http://10.1.2.3:9000/ingest", cfg.WebhookURL())
	})
}
