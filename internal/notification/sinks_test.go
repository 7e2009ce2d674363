package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"qcgate/internal/platform/kafka/producer"
	"qcgate/pkg/testutil"
)

type recordingProducer struct {
	messages []*producer.Message
	err      error
}

func (r *recordingProducer) Produce(_ context.Context, msg *producer.Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

type SinkSuite struct {
	suite.Suite
	ctx    context.Context
	ev     Event
	mr     *miniredis.Miniredis
	client *redis.Client
}

func TestSinkSuite(t *testing.T) {
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupTest() {
	s.ctx = context.Background()
	s.ev = Event{
		Type:          TypeApprovalRejected,
		Title:         "Approval rejected",
		Message:       "rejected: missing calibration certificate",
		RelatedEntity: RelatedEntity{Kind: "approval_request", ID: "r-7"},
		OccurredAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = s.client.Close() })
}

func (s *SinkSuite) TestKafka() {
	s.Run("record keyed by recipient", func() {
		p := &recordingProducer{}
		sink := NewKafkaPublisher(p, "")
		s.Require().NoError(sink.Publish(s.ctx, testutil.ManagerID, s.ev))

		s.Require().Len(p.messages, 1)
		msg := p.messages[0]
		s.Equal(DefaultTopic, msg.Topic)
		s.Equal(testutil.ManagerID.String(), string(msg.Key))
		s.Equal(string(TypeApprovalRejected), msg.Headers["event_type"])

		var env Envelope
		s.Require().NoError(json.Unmarshal(msg.Value, &env))
		s.Equal(testutil.ManagerID.String(), env.UserID)
		s.Equal(s.ev.Message, env.Message)
		s.Equal("r-7", env.RelatedEntity.ID)
	})

	s.Run("producer error is returned", func() {
		sink := NewKafkaPublisher(&recordingProducer{err: errors.New("no brokers")}, "custom")
		s.Error(sink.Publish(s.ctx, testutil.ManagerID, s.ev))
	})
}

func (s *SinkSuite) TestRedisInbox() {
	sink := NewRedisPublisher(s.client, 2)
	for i := range 3 {
		ev := s.ev
		ev.RelatedEntity.ID = []string{"a", "b", "c"}[i]
		s.Require().NoError(sink.Publish(s.ctx, testutil.ManagerID, ev))
	}

	inbox, err := sink.Inbox(s.ctx, testutil.ManagerID, 0)
	s.Require().NoError(err)
	s.Require().Len(inbox, 2)
	s.Equal("c", inbox[0].RelatedEntity.ID)
	s.Equal("b", inbox[1].RelatedEntity.ID)

	empty, err := sink.Inbox(s.ctx, testutil.AdminID, 10)
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *SinkSuite) TestRedisChannel() {
	sub := s.client.Subscribe(s.ctx, ChannelKey(testutil.ManagerID))
	defer sub.Close()
	_, err := sub.Receive(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(NewRedisPublisher(s.client, 0).Publish(s.ctx, testutil.ManagerID, s.ev))

	select {
	case msg := <-sub.Channel():
		var env Envelope
		s.Require().NoError(json.Unmarshal([]byte(msg.Payload), &env))
		s.Equal(TypeApprovalRejected, env.Type)
	case <-time.After(2 * time.Second):
		s.Fail("no message on channel")
	}
}

func (s *SinkSuite) TestRedisUnavailable() {
	s.mr.Close()
	err := NewRedisPublisher(s.client, 0).Publish(s.ctx, testutil.ManagerID, s.ev)
	s.Error(err)
}
