package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockstep-engine/lockstep/pkg/sequence"
)

// Event is a single engine occurrence: an entity being created, a store being
// initialized, a snapshot being restored. Data carries the payload the
// publisher chose to attach.
type Event struct {
	Type      string
	Source    string
	Timestamp time.Time
	Data      any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(typ, source string, data any) Event {
	return Event{Type: typ, Source: source, Timestamp: time.Now(), Data: data}
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine so simulation code observes them deterministically.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	id        uuid.UUID
	eventType string
	cancel    func()
	active    bool
}

func (s *Subscription) ID() uuid.UUID     { return s.id }
func (s *Subscription) EventType() string { return s.eventType }
func (s *Subscription) IsActive() bool    { return s.active }

// Cancel removes the handler from the bus. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.active && s.cancel != nil {
		s.cancel()
	}
	s.active = false
}

type handlerEntry struct {
	sub      *Subscription
	handler  Handler
	priority int
	seq      uint64
}

// Bus is a synchronous publish/subscribe bus. Delivery order is priority
// descending, then subscription order, so identical subscription histories
// observe identical delivery sequences.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[uuid.UUID]*handlerEntry
	nextSeq  uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]map[uuid.UUID]*handlerEntry)}
}

// Subscribe registers a handler for an event type with priority 0.
func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	return b.SubscribePriority(eventType, 0, handler)
}

// SubscribePriority registers a handler with an explicit delivery priority.
// Higher priority handlers run first.
func (b *Bus) SubscribePriority(eventType string, priority int, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uuid.UUID]*handlerEntry)
	}
	id := uuid.New()
	sub := &Subscription{id: id, eventType: eventType, active: true}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.handlers[eventType]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.handlers, eventType)
			}
		}
	}
	b.nextSeq++
	b.handlers[eventType][id] = &handlerEntry{
		sub:      sub,
		handler:  handler,
		priority: priority,
		seq:      b.nextSeq,
	}
	return sub
}

// Publish delivers the event to every handler of its type, synchronously.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	entries := make([]*handlerEntry, 0, len(b.handlers[event.Type]))
	for _, e := range b.handlers[event.Type] {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	// The heap breaks priority ties arbitrarily, so fold the subscription
	// sequence into the key: earlier subscribers win within a priority.
	pq := sequence.NewPriorityQueue[*handlerEntry]()
	for _, e := range entries {
		pq.Enqueue(e, e.priority*(1<<20)-int(e.seq))
	}
	for {
		e, ok := pq.Dequeue()
		if !ok {
			return
		}
		e.handler(event)
	}
}

// HandlerCount returns the number of live handlers for an event type.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
