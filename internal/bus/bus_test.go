package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(NewEvent(KindSessionChanged, "token"))

	select {
	case evt := <-ch:
		if evt.Kind != KindSessionChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindSessionChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSnapshot})
	b.Publish(Event{Kind: KindUserNotification})

	select {
	case evt := <-ch:
		if evt.Kind != KindUserNotification {
			t.Errorf("got kind %q, want %s", evt.Kind, KindUserNotification)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("status.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: KindStatusChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestOnDropReportsMissedEvents(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("rt.", 1)
	defer unsub()

	var dropped []string
	b.OnDrop(func(namespace string, evt Event) {
		dropped = append(dropped, namespace+" "+evt.Kind)
	})

	b.Publish(Event{Kind: KindConversationMessage})
	b.Publish(Event{Kind: KindUserNotification})
	b.Publish(Event{Kind: KindSnapshot})

	if len(dropped) != 1 || dropped[0] != "rt. "+KindUserNotification {
		t.Errorf("dropped = %v, want [rt. %s]", dropped, KindUserNotification)
	}
}

func TestConsume(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	b.Consume(ctx, "channel.", 4, func(evt Event) {
		got <- evt.Kind
	})

	b.Publish(NewEvent(KindChannelState, nil))

	select {
	case kind := <-got:
		if kind != KindChannelState {
			t.Errorf("kind = %q, want %s", kind, KindChannelState)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never ran")
	}
}
