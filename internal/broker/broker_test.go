package broker

import (
	"testing"

	"kvserver/internal/wire"
)

func TestSubscribeQueuesWelcomeFirst(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("prices")
	if sub.ID == 0 {
		t.Fatalf("subscription id must be non-zero")
	}

	select {
	case welcome := <-sub.Queue:
		if welcome.Status != wire.StatusOK {
			t.Fatalf("expected 200 welcome, got %d", welcome.Status)
		}
		if welcome.SubscriptionID != sub.ID {
			t.Fatalf("welcome subscription id %d != sub.ID %d", welcome.SubscriptionID, sub.ID)
		}
		if len(welcome.Values) != 1 || welcome.Values[0].Kind != wire.KindInt || welcome.Values[0].Int != int64(sub.ID) {
			t.Fatalf("welcome must carry the id as its single value, got %+v", welcome.Values)
		}
	default:
		t.Fatalf("expected the welcome to be queued before Subscribe returns")
	}
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	b := New(0)
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		sub := b.Subscribe("t")
		if seen[sub.ID] {
			t.Fatalf("id %d allocated twice", sub.ID)
		}
		seen[sub.ID] = true
	}
}

func drainWelcome(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Queue:
	default:
		t.Fatalf("expected a welcome on subscription %d", sub.ID)
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New(0)
	sub1 := b.Subscribe("prices")
	sub2 := b.Subscribe("prices")
	drainWelcome(t, sub1)
	drainWelcome(t, sub2)

	delivered, dropped := b.Publish("prices", wire.CommandResponse{Status: wire.StatusOK})
	if delivered != 2 || dropped != 0 {
		t.Fatalf("expected 2 delivered 0 dropped, got %d %d", delivered, dropped)
	}

	for _, s := range []*Subscription{sub1, sub2} {
		select {
		case <-s.Queue:
		default:
			t.Fatalf("expected a queued message for subscription %d", s.ID)
		}
	}
}

func TestPublishToUnknownTopicIsNoop(t *testing.T) {
	b := New(0)
	delivered, dropped := b.Publish("nobody-home", wire.CommandResponse{})
	if delivered != 0 || dropped != 0 {
		t.Fatalf("expected no-op, got %d %d", delivered, dropped)
	}
}

func TestPublishDropsOnFullQueue(t *testing.T) {
	b := New(1)
	sub := b.Subscribe("prices")
	drainWelcome(t, sub)

	d1, dr1 := b.Publish("prices", wire.CommandResponse{Status: 1})
	d2, dr2 := b.Publish("prices", wire.CommandResponse{Status: 2})

	if d1 != 1 || dr1 != 0 {
		t.Fatalf("first publish: got delivered=%d dropped=%d", d1, dr1)
	}
	if d2 != 0 || dr2 != 1 {
		t.Fatalf("second publish should drop: got delivered=%d dropped=%d", d2, dr2)
	}
}

func TestUnsubscribeClosesQueueAfterRemovingFromTopic(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("prices")
	drainWelcome(t, sub)

	ok := b.Unsubscribe("prices", sub.ID)
	if !ok {
		t.Fatalf("expected unsubscribe to report true")
	}
	if b.TopicSubscriberCount("prices") != 0 {
		t.Fatalf("expected topic to have no subscribers left")
	}
	// The queue must be closed; reading from it yields the zero value and ok=false.
	if _, stillOpen := <-sub.Queue; stillOpen {
		t.Fatalf("expected queue to be closed after unsubscribe")
	}

	if b.Unsubscribe("prices", sub.ID) {
		t.Fatalf("expected second unsubscribe of same id to report false")
	}
}

func TestUnsubscribeUnknownIDReturnsFalse(t *testing.T) {
	b := New(0)
	if b.Unsubscribe("prices", 999) {
		t.Fatalf("expected false for unknown subscription id")
	}
}

func TestNoPublishAfterUnsubscribe(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("prices")
	drainWelcome(t, sub)
	b.Unsubscribe("prices", sub.ID)

	delivered, _ := b.Publish("prices", wire.CommandResponse{})
	if delivered != 0 {
		t.Fatalf("publish after unsubscribe must not deliver, got %d", delivered)
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New(1)
	sub := b.Subscribe("prices")
	drainWelcome(t, sub)
	// Fill the one slot, then publish repeatedly; none of these calls must
	// block even though nobody ever drains the queue.
	for i := 0; i < 50; i++ {
		b.Publish("prices", wire.CommandResponse{})
	}
}

func TestCloseEndsEveryStream(t *testing.T) {
	b := New(0)
	sub1 := b.Subscribe("a")
	sub2 := b.Subscribe("b")
	drainWelcome(t, sub1)
	drainWelcome(t, sub2)

	b.Close()

	for _, s := range []*Subscription{sub1, sub2} {
		if _, open := <-s.Queue; open {
			t.Fatalf("expected closed queue for subscription %d after broker shutdown", s.ID)
		}
	}

	// Subscribing after shutdown hands back an already-ended stream: the
	// welcome, then end-of-stream.
	late := b.Subscribe("a")
	<-late.Queue
	if _, open := <-late.Queue; open {
		t.Fatalf("expected late subscription to observe end-of-stream")
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New(4)
	const rounds = 200
	for i := 0; i < rounds; i++ {
		sub := b.Subscribe("races")
		drainWelcome(t, sub)
		done := make(chan struct{})
		go func() {
			b.Unsubscribe("races", sub.ID)
			close(done)
		}()
		// Must never panic with a send on a closed queue.
		b.Publish("races", wire.CommandResponse{})
		<-done
	}
}
