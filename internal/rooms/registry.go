package rooms

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordo-vote/backend/internal/events"
	"github.com/ordo-vote/backend/internal/models"
	"github.com/ordo-vote/backend/pkg/queue"
	"github.com/ordo-vote/backend/pkg/utils"
)

// DefaultTTL is how long a room lives from creation, regardless of status.
const DefaultTTL = time.Hour

// PurgeQueue hands expired rooms to the background worker. *queue.Queue
// satisfies it; a nil queue makes the registry delete rows inline.
type PurgeQueue interface {
	EnqueueRoomPurge(ctx context.Context, payload queue.RoomPurgePayload) error
}

// Registry is the process-wide table of live rooms. It owns creation,
// lookup by public id or admin code, and expiry; every inbound action
// resolves its room here. Lookups that race an expiry see either the live
// room or ErrRoomNotFound, never a half-torn-down room.
type Registry struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*Room
	byAdmin map[string]*Room
	timers  map[uuid.UUID]*time.Timer
	closed  bool

	store  Store
	hub    *events.Hub
	purge  PurgeQueue
	ttl    time.Duration
	logger *zap.Logger
}

// NewRegistry creates a registry. ttl <= 0 selects DefaultTTL; purge may be
// nil when no worker is deployed.
func NewRegistry(store Store, hub *events.Hub, purge PurgeQueue, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byID:    make(map[uuid.UUID]*Room),
		byAdmin: make(map[string]*Room),
		timers:  make(map[uuid.UUID]*time.Timer),
		store:   store,
		hub:     hub,
		purge:   purge,
		ttl:     ttl,
		logger:  logger,
	}
}

// CreateRoom validates the request, persists a fresh waiting room, and
// schedules its expiry. Creation is durability-critical: a room whose row
// cannot be written is never registered. The admin code is returned in
// plaintext exactly once; only its digest is kept.
func (reg *Registry) CreateRoom(ctx context.Context, name string, options []string) (uuid.UUID, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(options) < 2 {
		return uuid.Nil, "", ErrInvalidInput
	}
	labels := make([]string, len(options))
	for i, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return uuid.Nil, "", ErrInvalidInput
		}
		labels[i] = opt
	}

	adminCode, err := utils.NewCode()
	if err != nil {
		return uuid.Nil, "", err
	}
	now := time.Now()
	rec := models.Room{
		ID:            uuid.New(),
		Name:          name,
		Options:       labels,
		Status:        models.StatusWaiting,
		AdminCodeHash: utils.HashCode(adminCode),
		CreatedAt:     now,
		ExpiresAt:     now.Add(reg.ttl),
	}
	if err := reg.store.SaveRoom(ctx, &rec); err != nil {
		reg.logger.Error("room creation not persisted, rejecting", zap.Error(err), zap.String("room_id", rec.ID.String()))
		return uuid.Nil, "", ErrPersistenceUnavailable
	}

	room := newRoom(rec, nil, reg.store, reg.hub, reg.logger)
	reg.mu.Lock()
	reg.byID[rec.ID] = room
	reg.byAdmin[rec.AdminCodeHash] = room
	reg.scheduleExpiryLocked(rec.ID, reg.ttl)
	reg.mu.Unlock()

	reg.logger.Info("room created",
		zap.String("room_id", rec.ID.String()),
		zap.String("name", name),
		zap.Int("options", len(labels)),
		zap.Time("expires_at", rec.ExpiresAt))
	return rec.ID, adminCode, nil
}

// scheduleExpiryLocked arms the room's expiry timer. Callers must hold mu.
func (reg *Registry) scheduleExpiryLocked(roomID uuid.UUID, d time.Duration) {
	if reg.closed {
		return
	}
	reg.timers[roomID] = time.AfterFunc(d, func() {
		reg.ExpireRoom(context.Background(), roomID)
	})
}

// GetRoomForVoter resolves a room by public id, falling back to the store
// when the registry does not hold it (fresh process, other instance wrote it).
func (reg *Registry) GetRoomForVoter(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	reg.mu.RLock()
	room := reg.byID[roomID]
	reg.mu.RUnlock()
	if room != nil {
		return room, nil
	}
	rec, err := reg.store.LoadRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return reg.adopt(ctx, rec)
}

// GetRoomForAdmin resolves a room by admin code. The code is hashed first;
// neither maps nor store ever see plaintext.
func (reg *Registry) GetRoomForAdmin(ctx context.Context, adminCode string) (*Room, error) {
	hash := utils.HashCode(adminCode)
	reg.mu.RLock()
	room := reg.byAdmin[hash]
	reg.mu.RUnlock()
	if room != nil {
		return room, nil
	}
	rec, err := reg.store.LoadRoomByAdminCodeHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return reg.adopt(ctx, rec)
}

// adopt revives a stored room into the registry, rescheduling the remaining
// TTL. A room already past its expiry is purged instead of revived.
func (reg *Registry) adopt(ctx context.Context, rec *models.Room) (*Room, error) {
	remaining := time.Until(rec.ExpiresAt)
	if remaining <= 0 {
		reg.purgeRoom(ctx, rec.ID)
		return nil, ErrRoomNotFound
	}
	voters, err := reg.store.ListVotersForRoom(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	room := newRoom(*rec, voters, reg.store, reg.hub, reg.logger)

	reg.mu.Lock()
	if existing := reg.byID[rec.ID]; existing != nil {
		reg.mu.Unlock()
		return existing, nil
	}
	reg.byID[rec.ID] = room
	reg.byAdmin[rec.AdminCodeHash] = room
	reg.scheduleExpiryLocked(rec.ID, remaining)
	reg.mu.Unlock()

	reg.logger.Info("room restored from store",
		zap.String("room_id", rec.ID.String()),
		zap.String("status", string(rec.Status)),
		zap.Int("voters", len(voters)),
		zap.Duration("remaining_ttl", remaining))
	return room, nil
}

// RestoreActive reloads every stored room on boot: live rooms are revived
// with their remaining TTL, rooms that expired while the process was down
// are purged. Purges that fail are retried on the next boot since the rows
// remain.
func (reg *Registry) RestoreActive(ctx context.Context) error {
	records, err := reg.store.ListRooms(ctx)
	if err != nil {
		return err
	}
	restored, purged := 0, 0
	for _, rec := range records {
		if time.Until(rec.ExpiresAt) <= 0 {
			reg.purgeRoom(ctx, rec.ID)
			purged++
			continue
		}
		if _, err := reg.adopt(ctx, rec); err != nil {
			reg.logger.Warn("room not restored", zap.Error(err), zap.String("room_id", rec.ID.String()))
			continue
		}
		restored++
	}
	reg.logger.Info("room registry restored", zap.Int("restored", restored), zap.Int("purged", purged))
	return nil
}

// ExpireRoom tears a room down: remove it from the registry, fail in-flight
// operations, notify and disconnect subscribers, then purge the stored rows.
// Idempotent and safe to invoke concurrently with operations on the room.
func (reg *Registry) ExpireRoom(ctx context.Context, roomID uuid.UUID) {
	reg.mu.Lock()
	room := reg.byID[roomID]
	if room != nil {
		delete(reg.byID, roomID)
		delete(reg.byAdmin, room.AdminCodeHash())
	}
	if t := reg.timers[roomID]; t != nil {
		t.Stop()
		delete(reg.timers, roomID)
	}
	reg.mu.Unlock()
	if room == nil {
		return
	}
	if room.Expire() {
		reg.logger.Info("room expired", zap.String("room_id", roomID.String()))
		reg.purgeRoom(ctx, roomID)
	}
}

// purgeRoom hands the room's rows to the worker, or deletes them inline
// when no queue is configured or the enqueue fails.
func (reg *Registry) purgeRoom(ctx context.Context, roomID uuid.UUID) {
	if reg.purge != nil {
		err := reg.purge.EnqueueRoomPurge(ctx, queue.RoomPurgePayload{RoomID: roomID})
		if err == nil {
			return
		}
		reg.logger.Warn("purge enqueue failed, deleting inline", zap.Error(err), zap.String("room_id", roomID.String()))
	}
	if err := reg.store.DeleteRoom(ctx, roomID); err != nil {
		reg.logger.Warn("room purge failed, rows remain until next boot", zap.Error(err), zap.String("room_id", roomID.String()))
	}
}

// Subscribe attaches an event stream to a live room. The liveness re-check
// after attaching closes the race with a concurrent expiry, so a subscriber
// never waits on a stream nothing will ever close.
func (reg *Registry) Subscribe(ctx context.Context, roomID uuid.UUID) (*events.Subscription, error) {
	if _, err := reg.GetRoomForVoter(ctx, roomID); err != nil {
		return nil, err
	}
	sub := reg.hub.Subscribe(roomID)
	reg.mu.RLock()
	_, live := reg.byID[roomID]
	reg.mu.RUnlock()
	if !live {
		reg.hub.Unsubscribe(sub)
		return nil, ErrRoomNotFound
	}
	return sub, nil
}

// SubscribeAdmin resolves the admin code and attaches an event stream.
func (reg *Registry) SubscribeAdmin(ctx context.Context, adminCode string) (*events.Subscription, error) {
	room, err := reg.GetRoomForAdmin(ctx, adminCode)
	if err != nil {
		return nil, err
	}
	return reg.Subscribe(ctx, room.ID())
}

// Unsubscribe releases a subscription. Safe at any time.
func (reg *Registry) Unsubscribe(sub *events.Subscription) {
	reg.hub.Unsubscribe(sub)
}

// Join admits a voter to a room.
func (reg *Registry) Join(ctx context.Context, roomID uuid.UUID) (uuid.UUID, string, error) {
	room, err := reg.GetRoomForVoter(ctx, roomID)
	if err != nil {
		return uuid.Nil, "", err
	}
	return room.Join(ctx)
}

// Approve marks a voter approved on behalf of the room's admin.
func (reg *Registry) Approve(ctx context.Context, adminCode string, voterID uuid.UUID) error {
	room, err := reg.GetRoomForAdmin(ctx, adminCode)
	if err != nil {
		return err
	}
	return room.Approve(ctx, voterID)
}

// Start opens voting on behalf of the room's admin.
func (reg *Registry) Start(ctx context.Context, adminCode string) error {
	room, err := reg.GetRoomForAdmin(ctx, adminCode)
	if err != nil {
		return err
	}
	return room.Start(ctx)
}

// SubmitBallot records a voter's ranking.
func (reg *Registry) SubmitBallot(ctx context.Context, roomID uuid.UUID, voterCode string, ranking []int) error {
	room, err := reg.GetRoomForVoter(ctx, roomID)
	if err != nil {
		return err
	}
	return room.SubmitBallot(ctx, voterCode, ranking)
}

// End closes voting and returns the final ranking.
func (reg *Registry) End(ctx context.Context, adminCode string) ([]models.RankedOption, error) {
	room, err := reg.GetRoomForAdmin(ctx, adminCode)
	if err != nil {
		return nil, err
	}
	return room.End(ctx)
}

// SnapshotForVoter returns a room's public view by public id.
func (reg *Registry) SnapshotForVoter(ctx context.Context, roomID uuid.UUID) (models.RoomSnapshot, error) {
	room, err := reg.GetRoomForVoter(ctx, roomID)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	return room.Snapshot()
}

// SnapshotForAdmin returns a room's public view by admin code.
func (reg *Registry) SnapshotForAdmin(ctx context.Context, adminCode string) (models.RoomSnapshot, error) {
	room, err := reg.GetRoomForAdmin(ctx, adminCode)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	return room.Snapshot()
}

// Shutdown stops every expiry timer and blocks new ones from arming. Rooms
// and their rows stay put; the next boot restores them.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.closed = true
	for id, t := range reg.timers {
		t.Stop()
		delete(reg.timers, id)
	}
}
