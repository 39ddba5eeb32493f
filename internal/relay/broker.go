package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber receives events for one deployment.
type Subscriber struct {
	ID           string
	DeploymentID string
	Ch           chan Event
	CreatedAt    time.Time
}

// Broker manages subscriptions and delivers published events.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	buffer      int
	logger      *slog.Logger
	onDrop      func(*Subscriber, Event)
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers a subscriber for a deployment's events.
func (b *Broker) Subscribe(deploymentID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		Ch:           make(chan Event, b.buffer),
		CreatedAt:    time.Now(),
	}
	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added",
		"subscriber_id", sub.ID,
		"deployment_id", deploymentID,
	)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
// It reports whether the subscription was still registered.
func (b *Broker) Unsubscribe(sub *Subscriber) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; !exists {
		return false
	}
	close(sub.Ch)
	delete(b.subscribers, sub.ID)
	b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	return true
}

// Publish delivers an event to every subscriber of its deployment. A
// subscriber whose buffer is full misses the event.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.DeploymentID != ev.DeploymentID {
			continue
		}
		select {
		case sub.Ch <- ev:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"deployment_id", ev.DeploymentID,
				"type", ev.Kind,
			)
			if b.onDrop != nil {
				b.onDrop(sub, ev)
			}
		}
	}
}

// CloseAll removes every subscriber and closes their channels.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// CountFor returns the number of subscribers of one deployment.
func (b *Broker) CountFor(deploymentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subscribers {
		if sub.DeploymentID == deploymentID {
			n++
		}
	}
	return n
}
