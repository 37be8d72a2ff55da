package services

import (
	"sync"
	"time"
)

const (
	TopicConnection   = "connection"
	TopicVitals       = "vitals"
	TopicNotification = "notification"
	TopicMetrics      = "metrics"
)

type Event struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sentAt"`
}

// EventPublisher is what the ingest and heartbeat paths depend on; the
// concrete EventBus lives behind it so tests can capture publishes.
type EventPublisher interface {
	Publish(userID, topic string, payload interface{})
}

// EventBus is an in-process broker keyed by user id. Delivery is
// at-most-once: a subscriber whose buffer is full misses the event, and
// there is no replay for clients that connect late.
type EventBus struct {
	mu   sync.Mutex
	subs map[*Subscription]bool
}

type Subscription struct {
	UserID string
	C      chan Event

	roles map[string]bool
	bus   *EventBus
	once  sync.Once
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[*Subscription]bool{}}
}

func (b *EventBus) Subscribe(userID string, roles []string) *Subscription {
	roleSet := make(map[string]bool, len(roles))
	for _, role := range roles {
		roleSet[role] = true
	}
	sub := &Subscription{
		UserID: userID,
		C:      make(chan Event, 16),
		roles:  roleSet,
		bus:    b,
	}
	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.C)
	})
}

func (b *EventBus) Publish(userID, topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload, SentAt: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.UserID != userID {
			continue
		}
		select {
		case sub.C <- event:
		default:
		}
	}
}

// BroadcastRole delivers to every subscriber holding the role, regardless
// of user id. Used for the server-metrics feed.
func (b *EventBus) BroadcastRole(role, topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload, SentAt: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.roles[role] {
			continue
		}
		select {
		case sub.C <- event:
		default:
		}
	}
}

func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
