package events

import (
	"sync"
	"time"
)

// Event is a typed cross-component notification.
type Event interface {
	EventName() string
}

// ConflictDetected is published when a new unresolved conflict is recorded.
type ConflictDetected struct {
	ConflictID string
	EntityID   string
	Priority   string
}

func (ConflictDetected) EventName() string { return "conflict_detected" }

// SyncStatusChanged is published whenever the engine's status snapshot
// changes (phase transitions, cycle completion, errors).
type SyncStatusChanged struct {
	Status       string
	LastSyncedAt time.Time
}

func (SyncStatusChanged) EventName() string { return "sync_status_changed" }

// OperationPermanentlyFailed is published when an operation exhausts its
// total attempt ceiling and is removed from the queue.
type OperationPermanentlyFailed struct {
	OperationID string
	EntityID    string
	Err         error
}

func (OperationPermanentlyFailed) EventName() string { return "operation_permanently_failed" }

// SubjectDeleted is published when a library subject disappears remotely
// and local access should be removed.
type SubjectDeleted struct {
	SubjectID string
}

func (SubjectDeleted) EventName() string { return "subject_deleted" }

// PermissionsChanged is published when remote access to a subject was
// revoked or altered; its pending operations are discarded.
type PermissionsChanged struct {
	SubjectID string
}

func (PermissionsChanged) EventName() string { return "permissions_changed" }

// Bus fans typed events out to subscribers. Publish never blocks: a
// subscriber whose channel is full loses the event rather than stalling
// the sync engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *Logger
}

// NewBus creates an event bus.
func NewBus(logger *Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.WithField("component", "event_bus"),
	}
}

// Subscribe registers a consumer. The returned cancel func must be called
// to release the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.WithField("event", event.EventName()).Debug("Subscriber full, dropping event")
		}
	}
}
