// Package changefeed carries cart change markers between the contexts that share a
// namespace: in-process subscribers and, optionally, other instances over Pub/Sub.
package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

// Publisher announces a change event.
type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

const subscriberBuffer = 4

// Broadcaster fans events out to in-process subscribers of a namespace. Sends never block:
// a subscriber whose buffer is full misses the event and relies on re-reading the marker.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan domain.ChangeEvent
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[uint64]chan domain.ChangeEvent)}
}

// Subscribe registers for events in namespace. The returned cancel func must be called to
// release the subscription; it closes the channel.
func (b *Broadcaster) Subscribe(namespace string) (<-chan domain.ChangeEvent, func()) {
	ch := make(chan domain.ChangeEvent, subscriberBuffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[namespace] == nil {
		b.subs[namespace] = make(map[uint64]chan domain.ChangeEvent)
	}
	b.subs[namespace][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if group, ok := b.subs[namespace]; ok {
				delete(group, id)
				if len(group) == 0 {
					delete(b.subs, namespace)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers event to every current subscriber of its namespace.
func (b *Broadcaster) Publish(_ context.Context, event domain.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.Namespace] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions for namespace.
func (b *Broadcaster) Subscribers(namespace string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[namespace])
}

// Fanout publishes to every publisher, joining their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event domain.ChangeEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
