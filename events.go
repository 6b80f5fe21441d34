package gcrud

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =====================================
// Change Events
// =====================================

// EventKind names the mutation an event reports
type EventKind string

const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent reports a completed mutation. Create events carry Data,
// update events InputData, and all carry the store's Result.
type ChangeEvent struct {
	ID         uuid.UUID `json:"id"`
	Kind       EventKind `json:"kind"`
	Entity     string    `json:"entity"`
	RecordID   any       `json:"recordId,omitempty"`
	Data       Record    `json:"data,omitempty"`
	InputData  Record    `json:"inputData,omitempty"`
	Result     Record    `json:"result,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Subscriber receives change events on its own goroutine
type Subscriber func(ChangeEvent)

const defaultEventBuffer = 64

// Notifier broadcasts change events to subscribers without blocking the
// publisher. Each subscriber has its own queue; when the queue is full the
// event is dropped for that subscriber. A panicking subscriber is logged and
// keeps receiving later events.
type Notifier struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	id    uint64
	kinds map[EventKind]bool
	ch    chan ChangeEvent
	fn    Subscriber
}

// NotifierOption configures a Notifier
type NotifierOption func(*Notifier)

// WithNotifierLogger sets the logger used for dropped events and subscriber panics
func WithNotifierLogger(logger *zap.Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithBufferSize sets the per-subscriber queue length
func WithBufferSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.buffer = size
		}
	}
}

// NewNotifier creates a notifier with no subscribers
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		logger: zap.NewNop(),
		buffer: defaultEventBuffer,
		subs:   make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers fn for the given kinds, or for every kind when none
// are given. The returned func unsubscribes.
func (n *Notifier) Subscribe(fn Subscriber, kinds ...EventKind) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return func() {}
	}

	n.nextID++
	s := &subscription{
		id: n.nextID,
		ch: make(chan ChangeEvent, n.buffer),
		fn: fn,
	}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	n.subs[s.id] = s

	n.wg.Add(1)
	go n.run(s)

	return func() { n.unsubscribe(s.id) }
}

// OnCreate subscribes fn to create events
func (n *Notifier) OnCreate(fn Subscriber) func() { return n.Subscribe(fn, EventCreate) }

// OnUpdate subscribes fn to update events
func (n *Notifier) OnUpdate(fn Subscriber) func() { return n.Subscribe(fn, EventUpdate) }

// OnDelete subscribes fn to delete events
func (n *Notifier) OnDelete(fn Subscriber) func() { return n.Subscribe(fn, EventDelete) }

// Publish queues ev for every interested subscriber and returns immediately.
// A zero ID or timestamp is filled in.
func (n *Notifier) Publish(ev ChangeEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}
	for _, s := range n.subs {
		if s.kinds != nil && !s.kinds[ev.Kind] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			n.logger.Warn("dropping change event, subscriber queue full",
				zap.Uint64("subscriber", s.id),
				zap.String("entity", ev.Entity),
				zap.String("kind", string(ev.Kind)),
				zap.Stringer("event_id", ev.ID))
		}
	}
}

// Close stops delivery and waits for subscribers to drain their queues
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id, s := range n.subs {
		close(s.ch)
		delete(n.subs, id)
	}
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.subs[id]; ok {
		close(s.ch)
		delete(n.subs, id)
	}
}

func (n *Notifier) run(s *subscription) {
	defer n.wg.Done()
	for ev := range s.ch {
		n.deliver(s, ev)
	}
}

func (n *Notifier) deliver(s *subscription, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("change event subscriber panicked",
				zap.Uint64("subscriber", s.id),
				zap.String("entity", ev.Entity),
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	s.fn(ev)
}
