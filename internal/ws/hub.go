package ws

import (
	"sync"
	"time"
)

// Relay progress stages pushed to subscribed browsers while a request is in
// flight.
const (
	StageReceived   = "received"
	StageStored     = "stored"
	StageDispatched = "dispatched"
	StageDone       = "done"
	StageFailed     = "failed"
)

// sendBuffer bounds the per-connection event queue. A subscriber that falls
// this far behind is dropped.
const sendBuffer = 16

// Event is one relay progress notification.
type Event struct {
	Stage  string    `json:"stage"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Conn is the subset of a websocket connection the hub needs. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// subscriber owns all writes to one connection. Publishers queue events on
// send; a single write loop drains it, since a websocket connection allows
// only one writer at a time.
type subscriber struct {
	hub    *Hub
	userID int64
	conn   Conn
	send   chan Event
}

func (s *subscriber) writeLoop() {
	for event := range s.send {
		if err := s.conn.WriteJSON(event); err != nil {
			s.hub.Unsubscribe(s.userID, s.conn)
			_ = s.conn.Close()
			return
		}
	}
}

// Hub tracks event subscribers per user and broadcasts relay progress to
// them. Delivery is best-effort: subscribers that stall or whose write fails
// are dropped, and events published with no subscriber are discarded.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]map[Conn]*subscriber
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int64]map[Conn]*subscriber)}
}

// Subscribe registers a connection for the user's events and starts its
// write loop.
func (h *Hub) Subscribe(userID int64, conn Conn) {
	sub := &subscriber{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan Event, sendBuffer),
	}

	h.mu.Lock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[Conn]*subscriber)
	}
	h.subscribers[userID][conn] = sub
	h.mu.Unlock()

	go sub.writeLoop()
}

// Unsubscribe removes a connection and stops its write loop.
func (h *Hub) Unsubscribe(userID int64, conn Conn) {
	h.mu.Lock()
	var sub *subscriber
	if conns, ok := h.subscribers[userID]; ok {
		sub = conns[conn]
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subscribers, userID)
		}
	}
	h.mu.Unlock()

	if sub != nil {
		close(sub.send)
	}
}

// Publish queues an event for every subscriber of the user. A subscriber
// whose queue is full is dropped and closed. The queue send happens under the
// read lock and Unsubscribe closes under the write lock, so a queue is never
// closed mid-send.
func (h *Hub) Publish(userID int64, stage, detail string) {
	event := Event{Stage: stage, Detail: detail, At: time.Now().UTC()}

	h.mu.RLock()
	var stalled []*subscriber
	for _, sub := range h.subscribers[userID] {
		select {
		case sub.send <- event:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stalled {
		h.Unsubscribe(sub.userID, sub.conn)
		_ = sub.conn.Close()
	}
}

// SubscriberCount reports how many connections a user has open.
func (h *Hub) SubscriberCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
