package gcrudredis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lemmego/gcrud"
)

// PublisherTestSuite runs the publisher against an in-process Redis
type PublisherTestSuite struct {
	suite.Suite
	ctx    context.Context
	mr     *miniredis.Miniredis
	client *redis.Client
	pub    *Publisher
}

func (s *PublisherTestSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.mr, err = miniredis.Run()
	s.Require().NoError(err)
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.pub = NewPublisher(s.client, WithPrefix("app"))
}

func (s *PublisherTestSuite) TearDownTest() {
	s.client.Close()
	s.mr.Close()
}

func (s *PublisherTestSuite) receive(sub *Subscription) gcrud.ChangeEvent {
	select {
	case ev, ok := <-sub.Events():
		s.Require().True(ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("no event received")
	}
	return gcrud.ChangeEvent{}
}

func (s *PublisherTestSuite) TestChannel() {
	s.Equal("app:Ticket:create", s.pub.Channel("Ticket", gcrud.EventCreate))
	s.Equal("gcrud:User:delete", NewPublisher(s.client).Channel("User", gcrud.EventDelete))
}

func (s *PublisherTestSuite) TestPublishAndSubscribe() {
	sub, err := s.pub.Subscribe(s.ctx, "Ticket")
	s.Require().NoError(err)
	defer sub.Close()

	n, err := s.pub.Publish(s.ctx, gcrud.ChangeEvent{Kind: gcrud.EventCreate, Entity: "User", RecordID: 9})
	s.Require().NoError(err)
	s.Equal(int64(0), n, "other entities are not delivered")

	n, err = s.pub.Publish(s.ctx, gcrud.ChangeEvent{
		Kind:     gcrud.EventCreate,
		Entity:   "Ticket",
		RecordID: 1,
		Data:     gcrud.Record{"title": "Broken build"},
	})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	ev := s.receive(sub)
	s.Equal("Ticket", ev.Entity)
	s.Equal(gcrud.EventCreate, ev.Kind)
	s.Equal(float64(1), ev.RecordID)
	s.Equal("Broken build", ev.Data["title"])
}

func (s *PublisherTestSuite) TestAttachForwardsSelectedKinds() {
	notifier := gcrud.NewNotifier()
	defer notifier.Close()

	sub, err := s.pub.Subscribe(s.ctx, "")
	s.Require().NoError(err)
	defer sub.Close()

	detach := s.pub.Attach(notifier, gcrud.EventDelete)
	defer detach()

	notifier.Publish(gcrud.ChangeEvent{Kind: gcrud.EventCreate, Entity: "Ticket", RecordID: 1})
	notifier.Publish(gcrud.ChangeEvent{Kind: gcrud.EventDelete, Entity: "Ticket", RecordID: 2})

	ev := s.receive(sub)
	s.Equal(gcrud.EventDelete, ev.Kind)
	s.Equal(float64(2), ev.RecordID)
	s.NotEmpty(ev.ID.String())
	s.False(ev.OccurredAt.IsZero())
}

func (s *PublisherTestSuite) TestConnect() {
	client, err := Connect(s.ctx, gcrud.EventsConfig{RedisAddr: s.mr.Addr()})
	s.Require().NoError(err)
	s.NoError(client.Close())

	_, err = Connect(s.ctx, gcrud.EventsConfig{})
	s.True(gcrud.IsValidation(err))
}

func (s *PublisherTestSuite) TestPublishWhenServerIsGone() {
	s.mr.Close()

	_, err := s.pub.Publish(s.ctx, gcrud.ChangeEvent{Kind: gcrud.EventUpdate, Entity: "Ticket"})
	s.Require().Error(err)
	s.True(gcrud.IsConnection(err), "got %v", err)
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherTestSuite))
}

func TestConvertRedisError(t *testing.T) {
	assert.Nil(t, convertRedisError(nil))
	assert.True(t, gcrud.IsNotFound(convertRedisError(redis.Nil)))
	assert.True(t, gcrud.IsErrorType(convertRedisError(context.DeadlineExceeded), gcrud.ErrorTypeTimeout))
	require.True(t, gcrud.IsErrorType(convertRedisError(assert.AnError), gcrud.ErrorTypeStore))
}
