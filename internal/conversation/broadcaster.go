// ABOUTME: In-memory fan-out broadcaster for newly appended messages
// ABOUTME: Publishes persisted Messages to every subscription on a conversation topic

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/hostchat/internal/store"
)

const (
	// DefaultSubscriberBuffer is the channel buffer for each subscription.
	DefaultSubscriberBuffer = 64
)

// Subscription is the binding of one client to one topic.
// Messages published to the topic arrive on C() until the subscription ends,
// at which point the channel is closed.
type Subscription struct {
	topic    string
	clientID string
	ch       chan *store.Message
	done     chan struct{}
	once     sync.Once
	b        *EventBroadcaster
}

// C returns the channel on which published messages arrive.
// Messages are shared between subscribers and must not be modified.
func (s *Subscription) C() <-chan *store.Message {
	return s.ch
}

// Topic returns the topic this subscription is bound to.
func (s *Subscription) Topic() string {
	return s.topic
}

// ClientID returns the client that owns this subscription.
func (s *Subscription) ClientID() string {
	return s.clientID
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

// terminate closes the subscription's channels. Callers hold b.mu for writing,
// so no Publish can be sending on ch concurrently.
func (s *Subscription) terminate() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// EventBroadcaster provides in-memory pub/sub for persisted Messages.
// Topics are conversation IDs. Each client holds at most one subscription per
// topic; subscribing again returns the existing one.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscription // topic -> clientID -> sub
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. A non-positive bufferSize uses
// DefaultSubscriberBuffer. Pass nil logger for default.
func NewEventBroadcaster(bufferSize int, logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers clientID for messages on topic.
// If the client already holds a subscription for the topic, that subscription
// is returned unchanged. The subscription is automatically cleaned up when ctx
// is cancelled. After Close, the returned subscription is already ended.
func (b *EventBroadcaster) Subscribe(ctx context.Context, topic, clientID string) *Subscription {
	b.mu.Lock()
	if existing, ok := b.subscribers[topic][clientID]; ok {
		b.mu.Unlock()
		return existing
	}

	sub := &Subscription{
		topic:    topic,
		clientID: clientID,
		ch:       make(chan *store.Message, b.bufferSize),
		done:     make(chan struct{}),
		b:        b,
	}

	if b.closed {
		sub.terminate()
		b.mu.Unlock()
		return sub
	}

	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]*Subscription)
	}
	b.subscribers[topic][clientID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "client_id", clientID)

	// Auto-cleanup on context cancellation
	go func() {
		select {
		case <-ctx.Done():
			b.remove(sub)
		case <-sub.done:
		}
	}()

	return sub
}

// Publish enqueues msg for every current subscriber of topic and reports how many
// subscribers received it and how many were skipped because their buffer was full.
// Never blocks; dropped messages are not retried.
func (b *EventBroadcaster) Publish(topic string, msg *store.Message) (delivered, dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for clientID, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			dropped++
			b.logger.Debug("dropped message for slow subscriber",
				"topic", topic,
				"client_id", clientID,
				"message_id", msg.ID)
		}
	}
	return delivered, dropped
}

// Unsubscribe ends clientID's subscription to topic, if any.
func (b *EventBroadcaster) Unsubscribe(topic, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[topic][clientID]
	if !ok {
		return
	}
	b.removeLocked(sub)
}

// UnsubscribeAll ends every subscription held by clientID and returns how many there were.
func (b *EventBroadcaster) UnsubscribeAll(clientID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, subs := range b.subscribers {
		if sub, ok := subs[clientID]; ok {
			b.removeLocked(sub)
			n++
		}
	}
	return n
}

// SubscriberCount returns the number of subscriptions on topic.
func (b *EventBroadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

func (b *EventBroadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// removeLocked deletes sub if it is still the registered subscription for its
// (topic, client) pair, then ends it.
func (b *EventBroadcaster) removeLocked(sub *Subscription) {
	if subs, ok := b.subscribers[sub.topic]; ok && subs[sub.clientID] == sub {
		delete(subs, sub.clientID)
		if len(subs) == 0 {
			delete(b.subscribers, sub.topic)
		}
		b.logger.Debug("subscriber removed", "topic", sub.topic, "client_id", sub.clientID)
	}
	sub.terminate()
}

// Close shuts down the broadcaster and ends all subscriptions.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for clientID, sub := range subs {
			sub.terminate()
			delete(subs, clientID)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
