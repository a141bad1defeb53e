package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// EventFilter selects events for a subscriber. Zero values match everything.
type EventFilter struct {
	JobID string
	Types []EventType
}

func (f EventFilter) matches(e Event) bool {
	if f.JobID != "" && f.JobID != e.JobID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// EventBus distributes job events to in-process subscribers (the SSE
// stream). It keeps a ring buffer so reconnecting clients can replay.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
func (eb *EventBus) Subscribe(filter EventFilter) (<-chan Event, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan Event, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		delete(eb.subscribers, id)
		eb.mu.Unlock()
	}
	return ch, cancel
}

// ReplaySince returns buffered events after lastEventID, oldest first. An
// empty lastEventID replays the whole buffer.
func (eb *EventBus) ReplaySince(lastEventID string, filter EventFilter) []Event {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""
	for i := 0; i < eb.ringSize; i++ {
		e := eb.ring[(eb.ringHead+i)%eb.ringSize]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if filter.matches(e) {
			events = append(events, e)
		}
	}
	return events
}

// Publish assigns an ID, buffers the event and hands it to matching
// subscribers. Slow subscribers miss events rather than stall the job.
func (eb *EventBus) Publish(e Event) {
	e.ID = fmt.Sprintf("%d-%d", e.Time.UnixMilli(), eb.seq.Add(1))

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = e
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if sub.filter.matches(e) {
			select {
			case sub.ch <- e:
			default:
			}
		}
	}
	eb.mu.RUnlock()
}
