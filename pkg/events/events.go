package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zuluhq/zulu/pkg/metrics"
)

// EventType represents the type of control-plane event
type EventType string

const (
	EventDispatchStarted   EventType = "dispatch.started"
	EventDispatchCompleted EventType = "dispatch.completed"
	EventDispatchFailed    EventType = "dispatch.failed"
	EventDispatchRetried   EventType = "dispatch.retried"
	EventPlanCreated       EventType = "plan.created"
	EventPlanExecuted      EventType = "plan.executed"
	EventWatchdogViolation EventType = "watchdog.violation"
	EventWatchdogKill      EventType = "watchdog.kill"
	EventPolicyReloaded    EventType = "policy.reloaded"
	EventAttestVerified    EventType = "attest.verified"
	EventAttestFailed      EventType = "attest.failed"
	EventNightshiftRun     EventType = "nightshift.run"
)

// Event represents a control-plane event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans control-plane events out to subscribers. Slow subscribers
// drop events rather than block the plane.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers, stamping ID and timestamp
// when absent. Never blocks: a full backlog drops the event.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// Backlog full, drop
	}
}

// Emit is shorthand for publishing a typed event with a message and metadata
func (b *Broker) Emit(eventType EventType, message string, metadata map[string]string) {
	b.Publish(&Event{Type: eventType, Message: message, Metadata: metadata})
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
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Default is the process-wide broker. Producers publish through the
// package-level Emit; consumers subscribe with Default.Subscribe.
var Default = NewBroker()

var defaultOnce sync.Once

// Emit publishes through the Default broker, starting it on first use
func Emit(eventType EventType, message string, metadata map[string]string) {
	defaultOnce.Do(Default.Start)
	Default.Emit(eventType, message, metadata)
}
