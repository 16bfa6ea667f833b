// Package broker implements the topic-based publish/subscribe facility: a
// topic registry, a subscription id allocator, and per-subscriber bounded
// queues with non-blocking, drop-on-full delivery.
package broker

import (
	"sync"
	"sync/atomic"

	"kvserver/internal/wire"
)

// DefaultQueueCapacity matches the default bounded queue size per
// subscriber.
const DefaultQueueCapacity = 128

const shardCount = 16

// Subscription is a single (topic, id) registration and its delivery queue.
type Subscription struct {
	ID    uint32
	Topic string
	Queue chan wire.CommandResponse
}

// Broker owns all live topics and subscriptions. Topics are sharded by name
// so fanout on one topic never contends with registrations on another; no
// single global lock is ever held across a fanout.
//
// The lock discipline carries the teardown invariant: queues are only closed
// while holding the shard's write lock, and Publish only sends while holding
// the shard's read lock, so no publish can ever reach a queue after it has
// been closed.
type Broker struct {
	queueCapacity int
	nextID        uint32
	closed        atomic.Bool

	shards [shardCount]*topicShard
}

type topicShard struct {
	mu     sync.RWMutex
	topics map[string]map[uint32]*Subscription
}

// New constructs an empty Broker. queueCapacity <= 0 selects
// DefaultQueueCapacity.
func New(queueCapacity int) *Broker {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	b := &Broker{queueCapacity: queueCapacity}
	for i := range b.shards {
		b.shards[i] = &topicShard{topics: make(map[string]map[uint32]*Subscription)}
	}
	return b
}

func (b *Broker) shardFor(topic string) *topicShard {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(topic); i++ {
		h ^= uint32(topic[i])
		h *= prime32
	}
	return b.shards[h%shardCount]
}

// Subscribe registers a new subscription on topic. The welcome response,
// carrying the allocated id as its single value, is enqueued before the
// subscription is returned, so the first item the subscriber reads is its
// own id.
func (b *Broker) Subscribe(topic string) *Subscription {
	id := atomic.AddUint32(&b.nextID, 1)
	sub := &Subscription{ID: id, Topic: topic, Queue: make(chan wire.CommandResponse, b.queueCapacity)}

	sub.Queue <- wire.CommandResponse{
		Status:         wire.StatusOK,
		Values:         []wire.Value{wire.IntValue(int64(id))},
		SubscriptionID: id,
	}

	s := b.shardFor(topic)
	s.mu.Lock()
	if b.closed.Load() {
		s.mu.Unlock()
		close(sub.Queue)
		return sub
	}
	subs, ok := s.topics[topic]
	if !ok {
		subs = make(map[uint32]*Subscription)
		s.topics[topic] = subs
	}
	subs[id] = sub
	s.mu.Unlock()

	return sub
}

// Unsubscribe tears down one subscription. Removal from the topic set and
// closing the queue happen under the same write lock, so a concurrent
// Publish either completes its delivery before the close or never sees the
// subscriber at all. An emptied topic is reaped.
func (b *Broker) Unsubscribe(topic string, id uint32) bool {
	s := b.shardFor(topic)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.topics[topic]
	if !ok {
		return false
	}
	sub, ok := subs[id]
	if !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(s.topics, topic)
	}
	close(sub.Queue)
	return true
}

// Publish fans resp out to every current subscriber of topic using a
// non-blocking send; a subscriber whose queue is full has resp dropped
// rather than blocking the publisher. It returns the counts of delivered
// and dropped sends.
func (b *Broker) Publish(topic string, resp wire.CommandResponse) (delivered, dropped int) {
	s := b.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.topics[topic] {
		select {
		case sub.Queue <- resp:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// UnsubscribeAll tears down every subscription owned by a single stream,
// called when a substream disconnects.
func (b *Broker) UnsubscribeAll(subs []*Subscription) {
	for _, sub := range subs {
		b.Unsubscribe(sub.Topic, sub.ID)
	}
}

// Close shuts the broker down: every live queue is closed so each
// subscriber observes end-of-stream, and later Subscribe calls receive an
// already-closed queue.
func (b *Broker) Close() {
	b.closed.Store(true)
	for _, s := range b.shards {
		s.mu.Lock()
		for topic, subs := range s.topics {
			for _, sub := range subs {
				close(sub.Queue)
			}
			delete(s.topics, topic)
		}
		s.mu.Unlock()
	}
}

// TopicSubscriberCount reports how many live subscribers a topic has.
func (b *Broker) TopicSubscriberCount(topic string) int {
	s := b.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[topic])
}
