// Package notify fans playback status snapshots out to observers.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicholasTracy/CueBeam/internal/app/trigger"
)

// Status is a point-in-time view of the controller, published on every
// state change and on the heartbeat tick.
type Status struct {
	SequenceNo uint64
	State      string
	Clip       string    // path of the playing clip, empty when stopped
	Cue        string    // cue name when an event clip is playing
	Since      time.Time // when the current state was entered
	Sources    []trigger.Health
}

// subscription is one observer's delivery channel.
type subscription struct {
	id string
	ch chan Status
}

// Manager manages status subscriptions and broadcasting. Slow observers
// lose intermediate snapshots rather than stalling the publisher.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	last          *Status
}

// NewManager creates a new status manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe registers an observer. The returned channel immediately
// yields the last published status, if any, so late joiners see state.
func (m *Manager) Subscribe() (string, <-chan Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	sub := &subscription{id: id, ch: make(chan Status, 4)}
	m.subscriptions[id] = sub
	if m.last != nil {
		sub.ch <- *m.last
	}
	return id, sub.ch
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		delete(m.subscriptions, subscriptionID)
		close(sub.ch)
	}
}

// Broadcast stamps a sequence number on the status and delivers it to all
// subscribers. A full observer channel drops its oldest snapshot first.
func (m *Manager) Broadcast(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequenceNo++
	status.SequenceNo = m.sequenceNo
	m.last = &status

	for _, sub := range m.subscriptions {
		select {
		case sub.ch <- status:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- status
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		close(sub.ch)
	}
	m.subscriptions = make(map[string]*subscription)
}
