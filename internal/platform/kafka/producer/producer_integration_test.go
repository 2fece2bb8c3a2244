//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"suiverify/internal/platform/kafka/producer"
	"suiverify/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())

	cfg := producer.DefaultConfig(s.kafka.Brokers)
	cfg.DeliveryTimeout = 10 * time.Second
	prod, err := producer.New(cfg, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
}

// Invariant: Produce only returns success after broker acknowledgment.
func (s *ProducerIntegrationSuite) TestProduceDeliversMessage() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "verified-user-data-it"

	err := s.producer.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte("verification_1700000000000_abcdef12"),
		Value: []byte(`{"result":"verified"}`),
		Headers: map[string]string{
			"event_type": "verification_result",
		},
	})
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer("produce-it-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "verification_1700000000000_abcdef12"
	})
	s.Require().NotNil(record, "message should be consumable")
	s.Equal(`{"result":"verified"}`, string(record.Value))

	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal("verification_result", headers["event_type"])
}

func (s *ProducerIntegrationSuite) TestProducerHealthy() {
	s.True(s.producer.Healthy(context.Background()))
}
