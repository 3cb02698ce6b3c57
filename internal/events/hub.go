package events

import (
	"sync"

	"github.com/proeugene/field-syncer/internal/signal"
)

// Event is one orchestrator progress notification: the step being entered,
// the light pattern it implies (if any), running byte count and terminal
// error.
type Event struct {
	Step   string
	Signal signal.Event
	Bytes  int64
	Err    error
}

// Subscriber receives hub events on Out until Close.
type Subscriber struct {
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the subscriber is done (idempotent).
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.Closed)
	})
}

// Hub fans orchestrator progress out to the signal driver and the log
// follower. Slow subscribers lose events rather than stalling the sync.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]struct{}
	OutBufSize int
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{subs: make(map[*Subscriber]struct{})} }

// Subscribe registers and returns a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	buf := h.OutBufSize
	if buf <= 0 {
		buf = 16
	}
	s := &Subscriber{Out: make(chan Event, buf), Closed: make(chan struct{})}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Remove unregisters a subscriber; safe to call multiple times.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.Close()
}

// Publish sends ev to all subscribers, dropping the oldest queued event for
// a full subscriber so the newest state always lands.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		select {
		case s.Out <- ev:
		default:
			select {
			case <-s.Out:
			default:
			}
			select {
			case s.Out <- ev:
			default:
			}
		}
	}
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.subs); h.mu.RUnlock(); return n }
