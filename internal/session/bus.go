package session

import (
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus fans typed events out to subscribers. Handlers for one event type run
// synchronously, in subscription order, on the publishing goroutine.
// All methods are safe for concurrent use.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[reflect.Type][]subscription
}

type subscription struct {
	id uuid.UUID
	fn func(any)
}

// NewBus creates an empty Bus.
//
// Precondition: logger must be non-nil.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[reflect.Type][]subscription),
	}
}

// Subscribe registers fn for events of type E and returns a function that
// removes the registration. Calling the returned function more than once is
// harmless.
//
// Precondition: b and fn must be non-nil.
func Subscribe[E any](b *Bus, fn func(E)) (unsubscribe func()) {
	typ := reflect.TypeFor[E]()
	sub := subscription{
		id: uuid.New(),
		fn: func(ev any) { fn(ev.(E)) },
	}

	b.mu.Lock()
	b.subs[typ] = append(b.subs[typ], sub)
	b.mu.Unlock()

	return func() { b.remove(typ, sub.id) }
}

// Publish delivers ev to every current subscriber of type E. A panicking
// handler is logged and does not prevent delivery to the others.
func Publish[E any](b *Bus, ev E) {
	typ := reflect.TypeFor[E]()

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[typ]))
	copy(subs, b.subs[typ])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(typ, sub, ev)
	}
}

func (b *Bus) deliver(typ reflect.Type, sub subscription, ev any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", typ.String()),
				zap.String("subscription", sub.id.String()),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(ev)
}

func (b *Bus) remove(typ reflect.Type, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[typ]
	for i, s := range subs {
		if s.id == id {
			b.subs[typ] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[typ]) == 0 {
		delete(b.subs, typ)
	}
}

// SubscriberCount returns the number of live subscriptions across all types.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Reset drops every subscription.
//
// Postcondition: SubscriberCount returns 0.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[reflect.Type][]subscription)
}
