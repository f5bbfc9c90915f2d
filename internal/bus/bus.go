package bus

import (
	"context"
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	onDrop DropFunc
}

// DropFunc is told about an event a subscriber missed because its buffer was
// full. It runs on the publisher's goroutine and must neither block nor publish.
type DropFunc func(namespace string, evt Event)

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
// A subscriber whose buffer is full misses the event; Publish never blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				if b.onDrop != nil {
					b.onDrop(sub.namespace, evt)
				}
			}
		}
	}
}

// OnDrop installs fn as the drop callback, replacing any previous one.
func (b *Bus) OnDrop(fn DropFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Consume subscribes to namespace and calls fn for every event on a dedicated
// goroutine until ctx is cancelled.
func (b *Bus) Consume(ctx context.Context, namespace string, bufSize int, fn func(Event)) {
	ch, unsub := b.Subscribe(namespace, bufSize)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				fn(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}
