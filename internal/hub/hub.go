// Package hub implements the Subscription Hub (C7): per-event subscriber
// sets that receive book snapshots and incremental updates (spec section
// 4.7). Book-changed notifications are dispatched through a small tomb.v2
// worker pool — the same pattern the teacher's server package used for its
// connection workers — so a burst of fills never blocks the matching
// engine's own goroutine on slow subscriber delivery.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"predmkt-exchange/internal/projector"
)

const taskBacklog = 256

// Message is the wire envelope for every frame the hub sends, matching
// spec section 6's snapshot/update/pong shapes.
type Message struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      *projector.Data `json:"data,omitempty"`
}

// Subscriber is anything that can receive a Message without blocking the
// hub indefinitely. The transport package's websocket adapter implements
// this over a per-connection outbound channel.
type Subscriber interface {
	ID() string
	Send(Message) error
}

// Hub owns every event's subscriber set plus the worker pool that fans
// out book-changed notifications.
type Hub struct {
	proj *projector.Projector

	mu   sync.RWMutex
	subs map[string]map[string]Subscriber

	tasks chan string
	t     *tomb.Tomb
}

func New(proj *projector.Projector) *Hub {
	return &Hub{
		proj:  proj,
		subs:  make(map[string]map[string]Subscriber),
		tasks: make(chan string, taskBacklog),
	}
}

// Start launches the dispatch worker pool under a tomb supervised by ctx.
// Call once, before the engine begins notifying the hub of book changes.
func (h *Hub) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	t, ctx := tomb.WithContext(ctx)
	h.t = t
	for i := 0; i < workers; i++ {
		t.Go(func() error { return h.dispatchLoop(ctx) })
	}
}

// Stop kills the worker pool and waits for it to drain.
func (h *Hub) Stop() error {
	if h.t == nil {
		return nil
	}
	h.t.Kill(nil)
	return h.t.Wait()
}

func (h *Hub) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case eventID := <-h.tasks:
			h.broadcast(eventID, "update")
		}
	}
}

// NotifyBookChanged enqueues an update broadcast for eventID. It never
// blocks: if the task backlog is full (an unusually deep burst), the
// notification is dropped and logged rather than stalling the caller,
// which in practice is the matching engine's own goroutine.
func (h *Hub) NotifyBookChanged(eventID string) {
	select {
	case h.tasks <- eventID:
	default:
		log.Warn().Str("event_id", eventID).Msg("hub dispatch backlog full, dropping update notification")
	}
}

// Subscribe registers sub for eventID and immediately sends it a snapshot,
// per spec section 4.7.
func (h *Hub) Subscribe(eventID string, sub Subscriber) {
	h.mu.Lock()
	set, ok := h.subs[eventID]
	if !ok {
		set = make(map[string]Subscriber)
		h.subs[eventID] = set
	}
	set[sub.ID()] = sub
	h.mu.Unlock()

	h.sendSnapshot(eventID, sub, "snapshot")
}

// Unsubscribe removes a single subscriber from an event's set.
func (h *Hub) Unsubscribe(eventID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[eventID]; ok {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(h.subs, eventID)
		}
	}
}

// CloseEvent unsubscribes every subscriber and releases the event's set,
// called on event resolution (spec section 4.8 step 4).
func (h *Hub) CloseEvent(eventID string) {
	h.mu.Lock()
	delete(h.subs, eventID)
	h.mu.Unlock()
}

// Refresh sends a fresh snapshot to one subscriber in response to a
// "refresh" control message.
func (h *Hub) Refresh(eventID string, sub Subscriber) {
	h.sendSnapshot(eventID, sub, "snapshot")
}

// Pong answers a "ping" control message.
func (h *Hub) Pong(sub Subscriber) {
	_ = sub.Send(Message{Type: "pong", Timestamp: nowISO()})
}

func (h *Hub) sendSnapshot(eventID string, sub Subscriber, msgType string) {
	data := h.proj.Snapshot(eventID)
	msg := Message{Type: msgType, EventID: eventID, Timestamp: nowISO(), Data: &data}
	if err := sub.Send(msg); err != nil {
		h.Unsubscribe(eventID, sub.ID())
	}
}

// broadcast sends a non-blocking delivery to every subscriber of eventID;
// a subscriber whose send errors is dropped (spec section 4.7).
func (h *Hub) broadcast(eventID, msgType string) {
	h.mu.RLock()
	set, ok := h.subs[eventID]
	if !ok || len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(set))
	for _, s := range set {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	data := h.proj.Snapshot(eventID)
	msg := Message{Type: msgType, EventID: eventID, Timestamp: nowISO(), Data: &data}

	var dead []string
	for _, s := range subs {
		if err := s.Send(msg); err != nil {
			dead = append(dead, s.ID())
		}
	}
	for _, id := range dead {
		h.Unsubscribe(eventID, id)
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
