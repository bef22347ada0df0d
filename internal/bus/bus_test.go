package bus

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Ch():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPublish_PrefixRouting(t *testing.T) {
	b := New()
	tasksSub := b.Subscribe(TopicTaskLifecycle)
	all := b.Subscribe("")
	defer b.Unsubscribe(tasksSub)
	defer b.Unsubscribe(all)

	b.Publish(TopicTaskSubmitted, TaskEvent{TaskID: "a", Seq: -1})
	b.Publish(TopicTaskEvent, TaskEvent{TaskID: "a", Seq: 0})
	b.Publish("config.reloaded", nil)

	if ev := recv(t, tasksSub); ev.Topic != TopicTaskSubmitted {
		t.Fatalf("topic = %q", ev.Topic)
	}
	expectNone(t, tasksSub)

	if got := []string{recv(t, all).Topic, recv(t, all).Topic, recv(t, all).Topic}; got[0] != TopicTaskSubmitted || got[1] != TopicTaskEvent || got[2] != "config.reloaded" {
		t.Fatalf("all-topics order = %v", got)
	}
}

func TestPublish_FullSubscriberDropsAndCounts(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	const extra = 7
	for i := 0; i < subscriberBuffer+extra; i++ {
		b.Publish("x", i)
	}
	if got := sub.Dropped(); got != extra {
		t.Fatalf("Dropped = %d, want %d", got, extra)
	}
	// The buffered events are the oldest ones, in order.
	for i := 0; i < subscriberBuffer; i++ {
		if ev := recv(t, sub); ev.Payload != i {
			t.Fatalf("event %d payload = %v", i, ev.Payload)
		}
	}
}

func TestUnsubscribe_ClosesOnceAndIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestClose_EndsSubscriptions(t *testing.T) {
	b := New()
	sub := b.SubscribeTask("a")
	b.Close()

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel after Close")
	}
	b.Publish(TopicTaskEvent, TaskEvent{TaskID: "a"})
	b.Unsubscribe(sub)

	late := b.Subscribe("")
	if _, ok := <-late.Ch(); ok {
		t.Fatal("subscribing to a closed bus should yield a closed subscription")
	}
	b.Close()
}

func TestPublish_ConcurrentWithUnsubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := b.SubscribeTask("a")
				b.Publish(TopicTaskEvent, TaskEvent{TaskID: "a", Seq: j})
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()
	if b.SubscriberCount() != 0 {
		t.Fatalf("leaked %d subscriptions", b.SubscriberCount())
	}
}
