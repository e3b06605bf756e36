package notify

import (
	"sync"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
)

// Action describes what happened to a mirror record
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionSynced   Action = "synced"
	ActionConflict Action = "conflict"
	ActionResolved Action = "resolved"
)

// Change is broadcast to subscribers after a mirror mutation commits
type Change struct {
	Entity    models.EntityType `json:"entity"`
	EntityID  string            `json:"entity_id"`
	Action    Action            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
}

// Subscriber receives change notifications
type Subscriber func(Change)

// Bus fans out mirror change notifications to UI subscribers. Publishing
// never blocks the mutating transaction; subscribers run on their own
// goroutine in publish order.
type Bus struct {
	mu      sync.RWMutex
	byType  map[models.EntityType][]Subscriber
	all     []Subscriber
	queue   chan Change
	started sync.Once
}

// NewBus creates a notification bus
func NewBus() *Bus {
	return &Bus{
		byType: make(map[models.EntityType][]Subscriber),
		queue:  make(chan Change, 256),
	}
}

// Subscribe registers a callback for changes to one entity type
func (b *Bus) Subscribe(entity models.EntityType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[entity] = append(b.byType[entity], fn)
}

// SubscribeAll registers a callback for changes to every entity type
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

// Publish queues a change for delivery. Drops the change if the queue is
// full rather than blocking a store transaction.
func (b *Bus) Publish(ch Change) {
	b.started.Do(func() { go b.dispatchLoop() })

	if ch.Timestamp.IsZero() {
		ch.Timestamp = time.Now().UTC()
	}

	select {
	case b.queue <- ch:
	default:
	}
}

func (b *Bus) dispatchLoop() {
	for ch := range b.queue {
		b.mu.RLock()
		subs := make([]Subscriber, 0, len(b.all)+len(b.byType[ch.Entity]))
		subs = append(subs, b.all...)
		subs = append(subs, b.byType[ch.Entity]...)
		b.mu.RUnlock()

		for _, fn := range subs {
			fn(ch)
		}
	}
}
