package chain

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

// EventType says what happened to a chain.
type EventType string

const (
	EventAppended EventType = "appended"
	EventEdited   EventType = "edited"
	EventDeleted  EventType = "deleted"
)

// Event is published after a mutation has committed.
type Event struct {
	Type      EventType
	EntityKey string
	Comment   *domain.Comment
	// SuccessorID is set on EventDeleted when another comment was re-linked.
	SuccessorID string
}

const subscriberBuffer = 16

// Observer fans committed chain events out to subscribers of an entity key.
type Observer struct {
	mu sync.RWMutex
	//   map[entityKey] map[subscriberID] channel
	subs map[string]map[string]chan Event
}

// NewObserver creates an observer with no subscribers.
func NewObserver() *Observer {
	return &Observer{
		subs: make(map[string]map[string]chan Event),
	}
}

// Subscribe returns a channel of events for entityKey. The channel is closed once ctx is done.
// Slow subscribers miss events rather than block writers.
func (o *Observer) Subscribe(ctx context.Context, entityKey string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	subID := uuid.NewString()

	o.mu.Lock()
	if o.subs[entityKey] == nil {
		o.subs[entityKey] = make(map[string]chan Event)
	}
	o.subs[entityKey][subID] = ch
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		if keySubs, ok := o.subs[entityKey]; ok {
			delete(keySubs, subID)
			if len(keySubs) == 0 {
				delete(o.subs, entityKey)
			}
		}
		close(ch)
		o.mu.Unlock()
	}()

	return ch
}

func (o *Observer) publish(ev Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subs[ev.EntityKey] {
		select {
		case ch <- Event{Type: ev.Type, EntityKey: ev.EntityKey, Comment: ev.Comment.Clone(), SuccessorID: ev.SuccessorID}:
		default:
		}
	}
}

// subscribers reports how many subscriptions exist for entityKey.
func (o *Observer) subscribers(entityKey string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs[entityKey])
}
