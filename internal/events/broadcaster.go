// Package events fans telemetry and step-state events out to subscribers.
// Delivery is best-effort: slow subscribers lose events and late subscribers
// get no replay.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/rs/xid"
)

// Publisher is implemented by every event sink.
type Publisher interface {
	PublishTelemetry(ctx context.Context, ev models.Telemetry)
	PublishStepState(ctx context.Context, ev models.StepState)
}

// Event is what a subscriber receives; exactly one field is set.
type Event struct {
	Telemetry *models.Telemetry
	StepState *models.StepState
}

// SlotID returns the slot the event belongs to.
func (e Event) SlotID() string {
	if e.Telemetry != nil {
		return e.Telemetry.SlotID
	}
	if e.StepState != nil {
		return e.StepState.SlotID
	}
	return ""
}

// DropCounter is notified when a subscriber buffer is full.
type DropCounter interface {
	EventDropped()
}

// Hub is the in-process broadcaster.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	drops  DropCounter
	closed bool
}

func NewHub(drops DropCounter) *Hub {
	return &Hub{subs: make(map[*Subscription]struct{}), drops: drops}
}

// Subscription is a live feed; read from C until it is closed.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	slotID string
	hub    *Hub
	once   sync.Once
}

// Subscribe registers a feed with the given buffer. slotID filters events to
// one slot; empty receives everything.
func (h *Hub) Subscribe(buffer int, slotID string) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, slotID: slotID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if _, ok := s.hub.subs[s]; ok {
			delete(s.hub.subs, s)
			close(s.ch)
		}
	})
}

func (h *Hub) PublishTelemetry(_ context.Context, ev models.Telemetry) {
	stamp(&ev.EventID, &ev.Timestamp)
	h.broadcast(Event{Telemetry: &ev})
}

func (h *Hub) PublishStepState(_ context.Context, ev models.StepState) {
	stamp(&ev.EventID, &ev.Timestamp)
	h.broadcast(Event{StepState: &ev})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	slot := ev.SlotID()
	for s := range h.subs {
		if s.slotID != "" && s.slotID != slot {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			if h.drops != nil {
				h.drops.EventDropped()
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription; later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func stamp(id *string, ts *time.Time) {
	if *id == "" {
		*id = xid.New().String()
	}
	if ts.IsZero() {
		*ts = time.Now().UTC()
	}
}

// Tee publishes every event to all of pubs in order.
func Tee(pubs ...Publisher) Publisher {
	return tee(pubs)
}

type tee []Publisher

func (t tee) PublishTelemetry(ctx context.Context, ev models.Telemetry) {
	stamp(&ev.EventID, &ev.Timestamp)
	for _, p := range t {
		p.PublishTelemetry(ctx, ev)
	}
}

func (t tee) PublishStepState(ctx context.Context, ev models.StepState) {
	stamp(&ev.EventID, &ev.Timestamp)
	for _, p := range t {
		p.PublishStepState(ctx, ev)
	}
}
