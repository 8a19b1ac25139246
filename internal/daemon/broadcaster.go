package daemon

import (
	"sync"
	"time"
)

// Event is a task lifecycle event streamed to subscribers
type Event struct {
	Type     string    `json:"type"`
	TS       time.Time `json:"ts"`
	TaskID   int64     `json:"task_id"`
	Owner    string    `json:"owner"`
	Repo     string    `json:"repo"`
	PRNumber int       `json:"pr_number"`
	SHA      string    `json:"sha,omitempty"`
	Decision string    `json:"decision,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Broadcaster manages event subscriptions and fan-out
type Broadcaster interface {
	Subscribe(repo string) (int, <-chan Event)
	Unsubscribe(id int)
	Broadcast(event Event)
	SubscriberCount() int
}

type subscriber struct {
	id   int
	repo string // filter: only events for this owner/repo (empty = all)
	ch   chan Event
}

// EventBroadcaster implements Broadcaster
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster() Broadcaster {
	return &EventBroadcaster{
		subscribers: make(map[int]*subscriber),
		nextID:      1,
	}
}

// Subscribe adds a subscriber with an optional "owner/repo" filter
func (b *EventBroadcaster) Subscribe(repo string) (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 10)
	b.subscribers[id] = &subscriber{id: id, repo: repo, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Broadcast sends an event to all matching subscribers. Non-blocking: a
// subscriber with a full channel drops the event.
func (b *EventBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	slug := event.Owner + "/" + event.Repo
	for _, sub := range b.subscribers {
		if sub.repo != "" && sub.repo != slug {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
