package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ordo-vote/backend/internal/events"
	"github.com/ordo-vote/backend/internal/models"
	"github.com/ordo-vote/backend/pkg/utils"
)

// fakeStore is an in-memory Store with switchable write failures, shared by
// the room, registry, and handler tests.
type fakeStore struct {
	mu            sync.Mutex
	rooms         map[uuid.UUID]*models.Room
	voters        map[uuid.UUID]*models.Voter
	voterOrder    []uuid.UUID
	failSaveRoom  bool
	failSaveVoter bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:  make(map[uuid.UUID]*models.Room),
		voters: make(map[uuid.UUID]*models.Voter),
	}
}

func (s *fakeStore) setFailSaveRoom(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaveRoom = fail
}

func (s *fakeStore) setFailSaveVoter(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaveVoter = fail
}

func copyRoom(r *models.Room) *models.Room {
	c := *r
	c.Options = append([]string(nil), r.Options...)
	if r.Ranking != nil {
		c.Ranking = append([]models.RankedOption(nil), r.Ranking...)
	}
	return &c
}

func copyVoter(v *models.Voter) *models.Voter {
	c := *v
	if v.Ballot != nil {
		c.Ballot = append([]int(nil), v.Ballot...)
	}
	return &c
}

func (s *fakeStore) SaveRoom(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveRoom {
		return errors.New("store down")
	}
	s.rooms[room.ID] = copyRoom(room)
	return nil
}

func (s *fakeStore) SaveVoter(_ context.Context, voter *models.Voter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveVoter {
		return errors.New("store down")
	}
	if _, ok := s.voters[voter.ID]; !ok {
		s.voterOrder = append(s.voterOrder, voter.ID)
	}
	s.voters[voter.ID] = copyVoter(voter)
	return nil
}

func (s *fakeStore) LoadRoomByID(_ context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (s *fakeStore) LoadRoomByAdminCodeHash(_ context.Context, hash string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.AdminCodeHash == hash {
			return copyRoom(room), nil
		}
	}
	return nil, ErrRoomNotFound
}

func (s *fakeStore) ListVotersForRoom(_ context.Context, roomID uuid.UUID) ([]*models.Voter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Voter
	for _, id := range s.voterOrder {
		if v := s.voters[id]; v != nil && v.RoomID == roomID {
			list = append(list, copyVoter(v))
		}
	}
	return list, nil
}

func (s *fakeStore) ListRooms(_ context.Context) ([]*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Room
	for _, room := range s.rooms {
		list = append(list, copyRoom(room))
	}
	return list, nil
}

func (s *fakeStore) DeleteRoom(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	for vid, v := range s.voters {
		if v.RoomID == id {
			delete(s.voters, vid)
		}
	}
	return nil
}

func (s *fakeStore) hasRoom(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok
}

func newTestRoom(store Store, hub *events.Hub, options ...string) *Room {
	if len(options) == 0 {
		options = []string{"rick", "morty"}
	}
	now := time.Now()
	rec := models.Room{
		ID:            uuid.New(),
		Name:          "test room",
		Options:       options,
		Status:        models.StatusWaiting,
		AdminCodeHash: utils.HashCode("admin-code"),
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	return newRoom(rec, nil, store, hub, zap.NewNop())
}

func waitEvent(t *testing.T, sub *events.Subscription) events.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestJoinCreatesUnapprovedVoter(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)
	sub := hub.Subscribe(room.ID())

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, voterID)
	assert.NotEmpty(t, code)

	e := waitEvent(t, sub)
	require.Equal(t, events.EventVoterJoined, e.Name)
	var p events.VoterJoinedPayload
	require.NoError(t, json.Unmarshal(e.Data, &p))
	assert.Equal(t, 1, p.Count)

	snap, err := room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.VoterCount)
	require.Len(t, snap.Voters, 1)
	assert.Equal(t, voterID, snap.Voters[0].ID)
	assert.False(t, snap.Voters[0].Approved)
	assert.False(t, snap.Voters[0].Voted)
}

func TestJoinAllowedWhileStarted(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, _, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))
	require.NoError(t, room.Start(ctx))

	_, _, err = room.Join(ctx)
	assert.NoError(t, err)
}

func TestJoinRejectedAfterEnd(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))
	require.NoError(t, room.Start(ctx))
	require.NoError(t, room.SubmitBallot(ctx, code, []int{0, 1}))
	_, err = room.End(ctx)
	require.NoError(t, err)

	_, _, err = room.Join(ctx)
	assert.ErrorIs(t, err, ErrRoomEnded)
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, _, err := room.Join(ctx)
	require.NoError(t, err)
	sub := hub.Subscribe(room.ID())

	require.NoError(t, room.Approve(ctx, voterID))
	e := waitEvent(t, sub)
	require.Equal(t, events.EventVoterApproved, e.Name)
	var p events.VoterApprovedPayload
	require.NoError(t, json.Unmarshal(e.Data, &p))
	assert.Equal(t, voterID, p.VoterID)

	assert.ErrorIs(t, room.Approve(ctx, voterID), ErrAlreadyApproved)
	assert.ErrorIs(t, room.Approve(ctx, uuid.New()), ErrVoterNotFound)
}

func TestApproveRejectedAfterEnd(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	approvedID, code, err := room.Join(ctx)
	require.NoError(t, err)
	lateID, _, err := room.Join(ctx)
	require.NoError(t, err)

	require.NoError(t, room.Approve(ctx, approvedID))
	require.NoError(t, room.Start(ctx))
	require.NoError(t, room.SubmitBallot(ctx, code, []int{1, 0}))
	_, err = room.End(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, room.Approve(ctx, lateID), ErrInvalidTransition)
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	assert.ErrorIs(t, room.Start(ctx), ErrInsufficientVoters)

	voterID, _, err := room.Join(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, room.Start(ctx), ErrInsufficientVoters, "unapproved voters do not count")

	require.NoError(t, room.Approve(ctx, voterID))
	sub := hub.Subscribe(room.ID())
	require.NoError(t, room.Start(ctx))
	assert.Equal(t, events.EventVoteStarted, waitEvent(t, sub).Name)

	assert.ErrorIs(t, room.Start(ctx), ErrInvalidTransition)
}

func TestSubmitBallotGuards(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub, "A", "B", "C")

	approvedID, approvedCode, err := room.Join(ctx)
	require.NoError(t, err)
	_, pendingCode, err := room.Join(ctx)
	require.NoError(t, err)

	// voting not started yet
	assert.ErrorIs(t, room.SubmitBallot(ctx, approvedCode, []int{0, 1, 2}), ErrInvalidTransition)

	require.NoError(t, room.Approve(ctx, approvedID))
	require.NoError(t, room.Start(ctx))

	assert.ErrorIs(t, room.SubmitBallot(ctx, "no-such-code", []int{0, 1, 2}), ErrVoterNotFound)
	assert.ErrorIs(t, room.SubmitBallot(ctx, pendingCode, []int{0, 1, 2}), ErrNotApproved)

	bad := []struct {
		name    string
		ranking []int
	}{
		{"missing an option", []int{0, 1}},
		{"duplicate", []int{0, 1, 1}},
		{"out of range", []int{0, 1, 3}},
		{"too long", []int{0, 1, 2, 2}},
		{"empty", nil},
	}
	for _, tc := range bad {
		assert.ErrorIs(t, room.SubmitBallot(ctx, approvedCode, tc.ranking), ErrMalformedBallot, tc.name)
	}

	sub := hub.Subscribe(room.ID())
	require.NoError(t, room.SubmitBallot(ctx, approvedCode, []int{2, 0, 1}))
	e := waitEvent(t, sub)
	require.Equal(t, events.EventBallotSubmitted, e.Name)
	var p events.BallotSubmittedPayload
	require.NoError(t, json.Unmarshal(e.Data, &p))
	assert.Equal(t, approvedID, p.VoterID)

	assert.ErrorIs(t, room.SubmitBallot(ctx, approvedCode, []int{0, 1, 2}), ErrAlreadyVoted)
}

func TestSubmitBallotCopiesRanking(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))
	require.NoError(t, room.Start(ctx))

	ranking := []int{1, 0} // morty > rick
	require.NoError(t, room.SubmitBallot(ctx, code, ranking))
	ranking[0], ranking[1] = 0, 1

	final, err := room.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, "morty", final[0].Option)
}

func TestConcurrentSubmitSameVoter(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))
	require.NoError(t, room.Start(ctx))

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- room.SubmitBallot(ctx, code, []int{0, 1})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, duplicates := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyVoted):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one submission may win")
	assert.Equal(t, attempts-1, duplicates)
}

func TestEndGuardsAndTally(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))

	_, err = room.End(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition, "cannot end before start")

	require.NoError(t, room.Start(ctx))
	_, err = room.End(ctx)
	assert.ErrorIs(t, err, ErrInsufficientBallots)

	require.NoError(t, room.SubmitBallot(ctx, code, []int{1, 0}))
	sub := hub.Subscribe(room.ID())

	final, err := room.End(ctx)
	require.NoError(t, err)
	require.Len(t, final, 2)
	assert.Equal(t, models.RankedOption{Option: "morty", Points: 1}, final[0])
	assert.Equal(t, models.RankedOption{Option: "rick", Points: 0}, final[1])

	e := waitEvent(t, sub)
	require.Equal(t, events.EventVoteEnded, e.Name)
	var p events.VoteEndedPayload
	require.NoError(t, json.Unmarshal(e.Data, &p))
	assert.Equal(t, final, p.Ranking)

	_, err = room.End(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition, "end is idempotent-rejecting")

	snap, err := room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, snap.Status)
	assert.Equal(t, final, snap.Ranking)
}

func TestEndRequiresDurableWrite(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))
	require.NoError(t, room.Start(ctx))
	require.NoError(t, room.SubmitBallot(ctx, code, []int{0, 1}))

	sub := hub.Subscribe(room.ID())
	store.setFailSaveRoom(true)
	_, err = room.End(ctx)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)

	snap, err := room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, snap.Status, "failed end must leave the room started")
	assert.Empty(t, snap.Ranking)

	select {
	case e := <-sub.Events():
		t.Fatalf("no event may be published for a failed end, got %q", e.Name)
	case <-time.After(50 * time.Millisecond):
	}

	store.setFailSaveRoom(false)
	final, err := room.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.EventVoteEnded, waitEvent(t, sub).Name)
	assert.Equal(t, "rick", final[0].Option)
}

func TestConcurrentIdentityReadsDuringEnd(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	voterID, code, err := room.Join(ctx)
	require.NoError(t, err)
	require.NoError(t, room.Approve(ctx, voterID))
	require.NoError(t, room.Start(ctx))
	require.NoError(t, room.SubmitBallot(ctx, code, []int{0, 1}))

	id, hash := room.ID(), room.AdminCodeHash()

	// ID and AdminCodeHash are read without the room lock (the registry
	// calls them while attaching subscribers and tearing down expired
	// rooms), so they must stay constant while End commits the terminal
	// record.
	stop := make(chan struct{})
	stale := false
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if room.ID() != id || room.AdminCodeHash() != hash {
					stale = true
					return
				}
			}
		}
	}()

	_, err = room.End(ctx)
	require.NoError(t, err)
	close(stop)
	wg.Wait()

	assert.False(t, stale, "room identity must not change when End commits")
	assert.Equal(t, id, room.ID())
	assert.Equal(t, hash, room.AdminCodeHash())
}

func TestJoinDegradesWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	store.setFailSaveVoter(true)
	voterID, code, err := room.Join(ctx)
	require.NoError(t, err, "join continues in memory when the store is down")
	assert.NotEmpty(t, code)

	snap, err := room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.VoterCount)
	assert.Equal(t, voterID, snap.Voters[0].ID)
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hub := events.NewHub(32, zap.NewNop())
	room := newTestRoom(store, hub)

	_, code, err := room.Join(ctx)
	require.NoError(t, err)
	sub := hub.Subscribe(room.ID())

	assert.True(t, room.Expire())
	assert.False(t, room.Expire(), "second expire is a no-op")

	e := waitEvent(t, sub)
	assert.Equal(t, events.EventRoomExpired, e.Name)
	_, open := <-sub.Events()
	assert.False(t, open, "stream must close after expiry")

	_, _, err = room.Join(ctx)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, room.SubmitBallot(ctx, code, []int{0, 1}), ErrRoomNotFound)
	_, err = room.Snapshot()
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
