//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"qcgate/internal/platform/kafka/producer"
	"qcgate/pkg/testutil/containers"
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
	s.kafka = containers.SharedKafka(s.T())
	cfg := producer.DefaultConfig(s.kafka.Brokers)
	cfg.DeliveryTimeout = 10 * time.Second
	p, err := producer.New(cfg, nil)
	s.Require().NoError(err)
	s.producer = p
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.NoError(s.producer.Close())
	}
}

func (s *ProducerIntegrationSuite) TestProduceDeliversKeyValueAndHeaders() {
	ctx := context.Background()
	topic := "producer-roundtrip"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic))

	s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
		Topic:   topic,
		Key:     []byte("machine-7"),
		Value:   []byte(`{"status":"APPROVED"}`),
		Headers: map[string]string{"event_type": "approval_approved"},
	}))

	record := s.kafka.WaitForRecord(ctx, topic, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "machine-7"
	})
	s.Require().NotNil(record)
	s.JSONEq(`{"status":"APPROVED"}`, string(record.Value))
	s.Equal("approval_approved", containers.Headers(record)["event_type"])
}

func (s *ProducerIntegrationSuite) TestUnknownTopicIsCreated() {
	ctx := context.Background()
	topic := "producer-autocreate-" + time.Now().Format("20060102150405")

	s.Require().NoError(s.producer.Produce(ctx, &producer.Message{Topic: topic, Key: []byte("k"), Value: []byte("v")}))
	s.NotNil(s.kafka.WaitForRecord(ctx, topic, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "k"
	}))
}

func (s *ProducerIntegrationSuite) TestCheckAndClose() {
	ctx := context.Background()
	s.NoError(s.producer.Check(ctx))

	p, err := producer.New(producer.DefaultConfig(s.kafka.Brokers), nil)
	s.Require().NoError(err)
	s.Require().NoError(p.Close())
	s.NoError(p.Close())
	s.Error(p.Check(ctx))
	s.Error(p.Produce(ctx, &producer.Message{Topic: "closed"}))
}
