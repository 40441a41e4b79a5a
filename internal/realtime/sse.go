// Package realtime serves the push transports: server-sent event streams
// and WebSocket connections, both fed by room subscriptions. The transports
// only ever push already-decided facts; every action goes through the HTTP
// API.
package realtime

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordo-vote/backend/internal/events"
	"github.com/ordo-vote/backend/internal/rooms"
	"github.com/ordo-vote/backend/pkg/response"
)

// KeepAliveInterval paces SSE keep-alive events so idle streams survive
// proxies and load balancers.
const KeepAliveInterval = 15 * time.Second

// Handler bridges registry subscriptions onto client connections.
type Handler struct {
	registry *rooms.Registry
	logger   *zap.Logger
}

// NewHandler creates a realtime handler.
func NewHandler(registry *rooms.Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

func subscribeError(c *gin.Context, err error) {
	if errors.Is(err, rooms.ErrRoomNotFound) {
		response.NotFound(c, "room not found")
		return
	}
	response.Internal(c, "unexpected error")
}

// eventSnapshot greets every new stream with the room's current state, so a
// client knows its subscription is active and can resync after a reconnect.
const eventSnapshot = "snapshot"

// RoomEvents handles GET /rooms/:id/events (SSE).
func (h *Handler) RoomEvents(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	sub, err := h.registry.Subscribe(c.Request.Context(), roomID)
	if err != nil {
		subscribeError(c, err)
		return
	}
	snap, err := h.registry.SnapshotForVoter(c.Request.Context(), roomID)
	if err != nil {
		h.registry.Unsubscribe(sub)
		subscribeError(c, err)
		return
	}
	h.stream(c, sub, events.NewEvent(eventSnapshot, snap))
}

// AdminEvents handles GET /admin/rooms/:code/events (SSE).
func (h *Handler) AdminEvents(c *gin.Context) {
	sub, err := h.registry.SubscribeAdmin(c.Request.Context(), c.Param("code"))
	if err != nil {
		subscribeError(c, err)
		return
	}
	snap, err := h.registry.SnapshotForAdmin(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.registry.Unsubscribe(sub)
		subscribeError(c, err)
		return
	}
	h.stream(c, sub, events.NewEvent(eventSnapshot, snap))
}

// stream greets the client, then pumps the subscription onto the SSE
// response until it closes (expiry, slow consumer) or the client goes away.
func (h *Handler) stream(c *gin.Context, sub *events.Subscription, greeting events.Event) {
	defer h.registry.Unsubscribe(sub)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()
	clientGone := c.Request.Context().Done()

	h.logger.Debug("sse stream opened", zap.String("room_id", sub.RoomID.String()), zap.String("subscription_id", sub.ID))
	c.SSEvent(greeting.Name, greeting.Data)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			if len(ev.Data) > 0 {
				c.SSEvent(ev.Name, ev.Data)
			} else {
				c.SSEvent(ev.Name, "")
			}
			return true
		case <-keepAlive.C:
			c.SSEvent("keep_alive", "")
			return true
		case <-clientGone:
			return false
		}
	})
	h.logger.Debug("sse stream closed", zap.String("room_id", sub.RoomID.String()), zap.String("subscription_id", sub.ID))
}
