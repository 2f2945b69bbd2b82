package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Wildcards and well-known entities.
const (
	// NameAll subscribes to every event name.
	NameAll = "*"

	// EntityAll subscribes to every entity.
	EntityAll = -1

	// EntityDevice is the entity id of device-wide properties.
	EntityDevice = 0
)

// ErrClosed is returned by WaitFor after the bus has shut down.
var ErrClosed = errors.New("bus: closed")

// Event is a single property-change notification.
type Event struct {
	// Name identifies what changed, e.g. "zone.volume_change".
	Name string

	// Entity is the zone slot the event belongs to, or EntityDevice.
	Entity int

	// Value is the new confirmed value.
	Value any
}

// Subscription is one consumer's bounded delivery queue.
type Subscription struct {
	id      string
	name    string
	entity  int
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the event delivery channel. It is closed when the subscription
// is cancelled or the bus shuts down.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the subscriber's
// buffer was full. A non-zero value means the consumer is too slow for the
// buffer it asked for.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) matches(e Event) bool {
	if s.name != NameAll && s.name != e.Name {
		return false
	}
	if s.entity != EntityAll && s.entity != e.Entity {
		return false
	}
	return true
}

// Bus fans events out to subscribers without ever blocking a publisher.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// New creates a Bus. buffer is the default per-subscriber channel depth.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a consumer for events matching name and entity.
// Use NameAll and EntityAll as wildcards. buffer <= 0 uses the bus default.
func (b *Bus) Subscribe(name string, entity int, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.buffer
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		name:   name,
		entity: entity,
		ch:     make(chan Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, present := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if present {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish delivers the event to every matching subscriber. Delivery is
// non-blocking: a full subscriber buffer drops the event and bumps the
// subscriber's drop counter.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// WaitFor blocks until one event matching name and entity arrives, the
// context is done, or the bus closes.
func (b *Bus) WaitFor(ctx context.Context, name string, entity int) (Event, error) {
	sub := b.Subscribe(name, entity, 1)
	defer b.Unsubscribe(sub)

	select {
	case e, ok := <-sub.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close shuts the bus down, closing every subscriber channel. Publishes
// after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, id)
	}
}
