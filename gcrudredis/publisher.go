// Package gcrudredis forwards gcrud change events to Redis pub/sub. Events
// are published as JSON on "<prefix>:<entity>:<kind>" channels.
package gcrudredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
)

const (
	defaultPrefix  = "gcrud"
	defaultTimeout = 5 * time.Second
)

// Publisher publishes change events to Redis
type Publisher struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Publisher
type Option func(*Publisher)

// WithPrefix sets the channel prefix
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithTimeout bounds each PUBLISH issued for a notifier subscription
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger for failed publishes
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher returns a publisher over client
func NewPublisher(client redis.UniversalClient, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		prefix:  defaultPrefix,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect opens a client for events.redis_addr and checks it with PING
func Connect(ctx context.Context, config gcrud.EventsConfig) (*redis.Client, error) {
	if config.RedisAddr == "" {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "events.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to connect to Redis", err)
	}
	return client, nil
}

// Channel returns the channel events of kind on entity are published on
func (p *Publisher) Channel(entity string, kind gcrud.EventKind) string {
	return p.prefix + ":" + entity + ":" + string(kind)
}

// Publish sends ev and returns the number of clients that received it
func (p *Publisher) Publish(ctx context.Context, ev gcrud.ChangeEvent) (int64, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "failed to encode change event", err)
	}
	n, err := p.client.Publish(ctx, p.Channel(ev.Entity, ev.Kind), payload).Result()
	if err != nil {
		return 0, convertRedisError(err)
	}
	return n, nil
}

// Attach subscribes the publisher to n for the given kinds, or all kinds.
// Failed publishes are logged; they never reach the mutation that raised
// the event. The returned func detaches.
func (p *Publisher) Attach(n *gcrud.Notifier, kinds ...gcrud.EventKind) func() {
	return n.Subscribe(func(ev gcrud.ChangeEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if _, err := p.Publish(ctx, ev); err != nil {
			p.logger.Warn("failed to publish change event",
				zap.String("channel", p.Channel(ev.Entity, ev.Kind)),
				zap.Stringer("event_id", ev.ID),
				zap.Error(err))
		}
	}, kinds...)
}

// =====================================
// Subscriptions
// =====================================

// Subscription receives the events published for one entity, or all
// entities, by any Publisher with the same prefix
type Subscription struct {
	pubsub *redis.PubSub
	events chan gcrud.ChangeEvent
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// Subscribe listens to the events of entity, or of every entity when entity
// is empty. The subscription is confirmed before Subscribe returns.
func (p *Publisher) Subscribe(ctx context.Context, entity string) (*Subscription, error) {
	if entity == "" {
		entity = "*"
	}
	pubsub := p.client.PSubscribe(ctx, p.prefix+":"+entity+":*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, convertRedisError(err)
	}

	s := &Subscription{
		pubsub: pubsub,
		events: make(chan gcrud.ChangeEvent),
		done:   make(chan struct{}),
		logger: p.logger,
	}
	go s.run()
	return s, nil
}

// Events is closed when the subscription is closed
func (s *Subscription) Events() <-chan gcrud.ChangeEvent {
	return s.events
}

// Close ends the subscription
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

func (s *Subscription) run() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev gcrud.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn("skipping malformed change event", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// =====================================
// Error Handling
// =====================================

// convertRedisError converts Redis errors to gcrud errors
func convertRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return gcrud.NewError(gcrud.ErrorTypeNotFound, "key not found")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "redis operation timeout", err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "client is closed") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout") {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "redis connection error", err)
	}
	return gcrud.NewErrorWithCause(gcrud.ErrorTypeStore, fmt.Sprintf("redis operation failed: %v", err), err)
}
