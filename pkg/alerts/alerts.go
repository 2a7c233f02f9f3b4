// Package alerts is a small pub-sub broker for operator-facing pipeline
// events: backup exhaustion, registry exhaustion, and prolonged lock
// contention (spec §7). Adapted from the cluster event broker pattern: a
// buffered intake channel fanned out to per-subscriber buffered channels.
package alerts

import (
	"sync"
	"time"
)

// EventType names one alertable pipeline condition.
type EventType string

const (
	EventBackupRetriesExhausted   EventType = "backup.retries_exhausted"
	EventRegistryRetriesExhausted EventType = "registry.retries_exhausted"
	EventLockContentionProlonged  EventType = "lock.contention_prolonged"
	EventOrphanDiscovered         EventType = "orphan.discovered"
	EventTickFailed               EventType = "tick.failed"
)

// Event is one alertable occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber receives published events.
type Subscriber chan *Event

// Broker fans out published events to every live subscriber.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker returns a Broker with a 100-event intake buffer.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new 50-event buffered subscription channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues event for distribution, stamping Timestamp if unset.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
