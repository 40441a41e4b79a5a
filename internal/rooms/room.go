package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordo-vote/backend/internal/events"
	"github.com/ordo-vote/backend/internal/models"
	"github.com/ordo-vote/backend/internal/tally"
	"github.com/ordo-vote/backend/pkg/utils"
)

// Room is the live state machine for one voting room. All mutating
// operations serialize on mu; operations on different rooms are fully
// independent. The in-memory state is authoritative, with every mutation
// written through to the store.
type Room struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	rec    models.Room
	voters map[uuid.UUID]*models.Voter
	byCode map[string]uuid.UUID
	order  []uuid.UUID
	gone   bool

	store  Store
	hub    *events.Hub
	logger *zap.Logger
}

func newRoom(rec models.Room, voters []*models.Voter, store Store, hub *events.Hub, logger *zap.Logger) *Room {
	r := &Room{
		rec:    rec,
		voters: make(map[uuid.UUID]*models.Voter, len(voters)),
		byCode: make(map[string]uuid.UUID, len(voters)),
		store:  store,
		hub:    hub,
		logger: logger,
	}
	for _, v := range voters {
		r.voters[v.ID] = v
		r.byCode[v.CodeHash] = v.ID
		r.order = append(r.order, v.ID)
	}
	return r
}

// ID returns the room's public id.
func (r *Room) ID() uuid.UUID { return r.rec.ID }

// AdminCodeHash returns the digest the registry indexes admins by.
func (r *Room) AdminCodeHash() string { return r.rec.AdminCodeHash }

// publishLocked hands off from the state lock to the emit lock before
// publishing, so events leave in the order their transitions committed while
// fan-out never runs under the state lock. Callers must hold mu; it is
// released here.
func (r *Room) publishLocked(evs ...events.Event) {
	r.emitMu.Lock()
	r.mu.Unlock()
	for _, ev := range evs {
		r.hub.Publish(r.rec.ID, ev)
	}
	r.emitMu.Unlock()
}

// Join admits a new, unapproved voter and returns its id and one-time code.
// Allowed while the room is waiting or started.
func (r *Room) Join(ctx context.Context) (uuid.UUID, string, error) {
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return uuid.Nil, "", ErrRoomNotFound
	}
	if r.rec.Status == models.StatusEnded {
		r.mu.Unlock()
		return uuid.Nil, "", ErrRoomEnded
	}
	code, err := utils.NewCode()
	if err != nil {
		r.mu.Unlock()
		return uuid.Nil, "", err
	}
	voter := &models.Voter{
		ID:        uuid.New(),
		RoomID:    r.rec.ID,
		CodeHash:  utils.HashCode(code),
		CreatedAt: time.Now(),
	}
	if err := r.store.SaveVoter(ctx, voter); err != nil {
		r.logger.Warn("voter not persisted, continuing in memory",
			zap.Error(err), zap.String("room_id", r.rec.ID.String()), zap.String("voter_id", voter.ID.String()))
	}
	r.voters[voter.ID] = voter
	r.byCode[voter.CodeHash] = voter.ID
	r.order = append(r.order, voter.ID)
	count := len(r.voters)

	r.publishLocked(events.NewEvent(events.EventVoterJoined, events.VoterJoinedPayload{Count: count}))
	return voter.ID, code, nil
}

// Approve marks a voter eligible to vote. Legal until the room has ended.
func (r *Room) Approve(ctx context.Context, voterID uuid.UUID) error {
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if r.rec.Status == models.StatusEnded {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	voter, ok := r.voters[voterID]
	if !ok {
		r.mu.Unlock()
		return ErrVoterNotFound
	}
	if voter.Approved {
		r.mu.Unlock()
		return ErrAlreadyApproved
	}
	voter.Approved = true
	if err := r.store.SaveVoter(ctx, voter); err != nil {
		r.logger.Warn("approval not persisted, continuing in memory",
			zap.Error(err), zap.String("room_id", r.rec.ID.String()), zap.String("voter_id", voterID.String()))
	}

	r.publishLocked(events.NewEvent(events.EventVoterApproved, events.VoterApprovedPayload{VoterID: voterID}))
	return nil
}

// Start opens voting. Requires waiting status and at least one approved voter.
func (r *Room) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if r.rec.Status != models.StatusWaiting {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	approved := 0
	for _, v := range r.voters {
		if v.Approved {
			approved++
		}
	}
	if approved == 0 {
		r.mu.Unlock()
		return ErrInsufficientVoters
	}
	r.rec.Status = models.StatusStarted
	if err := r.store.SaveRoom(ctx, &r.rec); err != nil {
		r.logger.Warn("start not persisted, continuing in memory",
			zap.Error(err), zap.String("room_id", r.rec.ID.String()))
	}

	r.publishLocked(events.NewEvent(events.EventVoteStarted, nil))
	return nil
}

// SubmitBallot records an approved voter's ranking, once. The ranking must
// be a permutation of the room's option indices; it is copied, so the
// stored ballot cannot be mutated through the caller's slice.
func (r *Room) SubmitBallot(ctx context.Context, voterCode string, ranking []int) error {
	hash := utils.HashCode(voterCode)

	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if r.rec.Status != models.StatusStarted {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	voterID, ok := r.byCode[hash]
	if !ok {
		r.mu.Unlock()
		return ErrVoterNotFound
	}
	voter := r.voters[voterID]
	if !voter.Approved {
		r.mu.Unlock()
		return ErrNotApproved
	}
	if voter.Ballot != nil {
		r.mu.Unlock()
		return ErrAlreadyVoted
	}
	if !tally.ValidBallot(len(r.rec.Options), ranking) {
		r.mu.Unlock()
		return ErrMalformedBallot
	}
	ballot := make([]int, len(ranking))
	copy(ballot, ranking)
	voter.Ballot = ballot
	if err := r.store.SaveVoter(ctx, voter); err != nil {
		r.logger.Warn("ballot not persisted, continuing in memory",
			zap.Error(err), zap.String("room_id", r.rec.ID.String()), zap.String("voter_id", voterID.String()))
	}

	r.publishLocked(events.NewEvent(events.EventBallotSubmitted, events.BallotSubmittedPayload{VoterID: voterID}))
	return nil
}

// End closes voting and computes the final ranking. The terminal record must
// be durable before anyone is told voting ended: if the store write fails,
// the room stays started, no event is published, and the caller gets
// ErrPersistenceUnavailable.
func (r *Room) End(ctx context.Context) ([]models.RankedOption, error) {
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if r.rec.Status != models.StatusStarted {
		r.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	var ballots [][]int
	for _, id := range r.order {
		if b := r.voters[id].Ballot; b != nil {
			ballots = append(ballots, b)
		}
	}
	if len(ballots) == 0 {
		r.mu.Unlock()
		return nil, ErrInsufficientBallots
	}
	ranking := tally.Ranking(r.rec.Options, ballots)
	endedAt := time.Now()

	saved := r.rec
	saved.Status = models.StatusEnded
	saved.Ranking = ranking
	saved.EndedAt = &endedAt
	if err := r.store.SaveRoom(ctx, &saved); err != nil {
		r.logger.Error("terminal transition not persisted, rejecting end",
			zap.Error(err), zap.String("room_id", r.rec.ID.String()))
		r.mu.Unlock()
		return nil, ErrPersistenceUnavailable
	}
	// Commit field by field rather than replacing the struct: ID and
	// AdminCodeHash are read without the lock and must never be rewritten.
	r.rec.Status = saved.Status
	r.rec.Ranking = saved.Ranking
	r.rec.EndedAt = saved.EndedAt

	r.publishLocked(events.NewEvent(events.EventVoteEnded, events.VoteEndedPayload{Ranking: ranking}))
	return ranking, nil
}

// Expire marks the room gone so in-flight operations fail with
// ErrRoomNotFound, announces the expiry, and closes the room's stream.
// Idempotent; reports whether this call performed the teardown.
func (r *Room) Expire() bool {
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return false
	}
	r.gone = true

	r.emitMu.Lock()
	r.mu.Unlock()
	r.hub.Publish(r.rec.ID, events.NewEvent(events.EventRoomExpired, nil))
	r.hub.CloseRoom(r.rec.ID)
	r.emitMu.Unlock()
	return true
}

// Snapshot returns the room's public view: status, voter summaries in join
// order, and the final ranking once ended. Codes and ballot contents are
// never included.
func (r *Room) Snapshot() (models.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	snap := models.RoomSnapshot{
		ID:         r.rec.ID,
		Name:       r.rec.Name,
		Options:    append([]string(nil), r.rec.Options...),
		Status:     r.rec.Status,
		VoterCount: len(r.voters),
		Voters:     make([]models.VoterSummary, 0, len(r.order)),
		CreatedAt:  r.rec.CreatedAt,
		ExpiresAt:  r.rec.ExpiresAt,
	}
	for _, id := range r.order {
		snap.Voters = append(snap.Voters, r.voters[id].Summary())
	}
	if r.rec.Status == models.StatusEnded {
		snap.Ranking = append([]models.RankedOption(nil), r.rec.Ranking...)
	}
	return snap, nil
}
