package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ordo-vote/backend/internal/events"
	"github.com/ordo-vote/backend/internal/models"
	"github.com/ordo-vote/backend/internal/rooms"
	"github.com/ordo-vote/backend/pkg/response"
)

const (
	// PingInterval and PongWait are the WebSocket heartbeat cadence.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// client is one WebSocket connection bridging a room subscription.
type client struct {
	conn     *websocket.Conn
	sub      *events.Subscription
	greeting events.Event
	registry *rooms.Registry
	logger   *zap.Logger
}

// ServeWS handles GET /ws?room_id=... (voter view) or
// GET /ws?admin_code=... (admin view). The socket is push-only: inbound
// frames only feed connection liveness. The first frame is always a
// snapshot of the room's current state.
func (h *Handler) ServeWS(c *gin.Context) {
	var (
		sub  *events.Subscription
		snap models.RoomSnapshot
	)
	switch {
	case c.Query("room_id") != "":
		roomID, err := uuid.Parse(c.Query("room_id"))
		if err != nil {
			response.BadRequest(c, "invalid room_id")
			return
		}
		sub, err = h.registry.Subscribe(c.Request.Context(), roomID)
		if err != nil {
			subscribeError(c, err)
			return
		}
		snap, err = h.registry.SnapshotForVoter(c.Request.Context(), roomID)
		if err != nil {
			h.registry.Unsubscribe(sub)
			subscribeError(c, err)
			return
		}
	case c.Query("admin_code") != "":
		var err error
		sub, err = h.registry.SubscribeAdmin(c.Request.Context(), c.Query("admin_code"))
		if err != nil {
			subscribeError(c, err)
			return
		}
		snap, err = h.registry.SnapshotForAdmin(c.Request.Context(), c.Query("admin_code"))
		if err != nil {
			h.registry.Unsubscribe(sub)
			subscribeError(c, err)
			return
		}
	default:
		response.BadRequest(c, "room_id or admin_code required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.registry.Unsubscribe(sub)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:     conn,
		sub:      sub,
		greeting: events.NewEvent(eventSnapshot, snap),
		registry: h.registry,
		logger:   h.logger,
	}
	h.logger.Debug("websocket opened", zap.String("room_id", sub.RoomID.String()), zap.String("subscription_id", sub.ID))
	go cl.writePump()
	cl.readPump()
}

func (cl *client) readPump() {
	defer func() {
		cl.registry.Unsubscribe(cl.sub)
		_ = cl.conn.Close()
	}()

	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(PongWait))
	cl.conn.SetPongHandler(func(string) error {
		_ = cl.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteJSON(cl.greeting); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-cl.sub.Events():
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
