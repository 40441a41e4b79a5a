package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber channel capacity when none is configured.
const DefaultBuffer = 16

// Subscription is one subscriber's view of a room's event stream. The
// channel is closed when the subscriber falls behind, unsubscribes, or the
// room is closed; a closed channel means the stream is over and the client
// must reconnect to resync.
type Subscription struct {
	ID     string
	RoomID uuid.UUID
	ch     chan Event
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// roomTopic holds one room's subscribers. Its mutex serializes publishes so
// every subscriber observes events in the same relative order. Lock order is
// always Hub.mu before roomTopic.mu.
type roomTopic struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// Hub fans room events out to per-room subscribers. Each subscriber has a
// bounded buffer; a subscriber that cannot keep up is terminated rather than
// allowed to stall or skew the stream.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*roomTopic
	buffer int
	logger *zap.Logger
}

// NewHub creates a hub. buffer <= 0 selects DefaultBuffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]*roomTopic),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe attaches a new subscriber to a room's stream.
func (h *Hub) Subscribe(roomID uuid.UUID) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		RoomID: roomID,
		ch:     make(chan Event, h.buffer),
	}

	h.mu.Lock()
	topic := h.rooms[roomID]
	if topic == nil {
		topic = &roomTopic{subs: make(map[string]*Subscription)}
		h.rooms[roomID] = topic
	}
	topic.mu.Lock()
	topic.subs[sub.ID] = sub
	topic.mu.Unlock()
	h.mu.Unlock()

	h.logger.Debug("subscriber joined room", zap.String("subscription_id", sub.ID), zap.String("room_id", roomID.String()))
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// more than once and after the room has been closed.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	topic := h.rooms[sub.RoomID]
	if topic == nil {
		h.mu.Unlock()
		return
	}
	topic.mu.Lock()
	if _, ok := topic.subs[sub.ID]; ok {
		delete(topic.subs, sub.ID)
		close(sub.ch)
	}
	empty := len(topic.subs) == 0
	topic.mu.Unlock()
	if empty {
		delete(h.rooms, sub.RoomID)
	}
	h.mu.Unlock()

	h.logger.Debug("subscriber left room", zap.String("subscription_id", sub.ID), zap.String("room_id", sub.RoomID.String()))
}

// Publish delivers an event to every subscriber of a room. A subscriber
// whose buffer is full is terminated: its channel is closed and it is
// removed, so the remaining subscribers keep an identical stream.
func (h *Hub) Publish(roomID uuid.UUID, event Event) {
	h.mu.RLock()
	topic := h.rooms[roomID]
	h.mu.RUnlock()
	if topic == nil {
		return
	}

	topic.mu.Lock()
	for id, sub := range topic.subs {
		select {
		case sub.ch <- event:
		default:
			delete(topic.subs, id)
			close(sub.ch)
			h.logger.Warn("slow subscriber terminated",
				zap.String("subscription_id", id),
				zap.String("room_id", roomID.String()),
				zap.String("event", event.Name))
		}
	}
	empty := len(topic.subs) == 0
	topic.mu.Unlock()

	if empty {
		h.dropIfEmpty(roomID, topic)
	}
}

// CloseRoom terminates every subscriber of a room and forgets it. Called
// when a room expires; later publishes for the room are no-ops.
func (h *Hub) CloseRoom(roomID uuid.UUID) {
	h.mu.Lock()
	topic := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if topic == nil {
		return
	}

	topic.mu.Lock()
	for id, sub := range topic.subs {
		delete(topic.subs, id)
		close(sub.ch)
	}
	topic.mu.Unlock()
	h.logger.Debug("room stream closed", zap.String("room_id", roomID.String()))
}

// SubscriberCount returns the number of active subscribers in a room.
func (h *Hub) SubscriberCount(roomID uuid.UUID) int {
	h.mu.RLock()
	topic := h.rooms[roomID]
	h.mu.RUnlock()
	if topic == nil {
		return 0
	}
	topic.mu.Lock()
	defer topic.mu.Unlock()
	return len(topic.subs)
}

// dropIfEmpty removes a room entry once its last subscriber is gone. The
// emptiness re-check under both locks guards against a subscriber that
// attached between the publish fan-out and this cleanup.
func (h *Hub) dropIfEmpty(roomID uuid.UUID, topic *roomTopic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] != topic {
		return
	}
	topic.mu.Lock()
	empty := len(topic.subs) == 0
	topic.mu.Unlock()
	if empty {
		delete(h.rooms, roomID)
	}
}
