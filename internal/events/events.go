// Package events carries room lifecycle events from the coordinator to
// subscribed clients (SSE and WebSocket).
package events

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ordo-vote/backend/internal/models"
)

// Wire event names.
const (
	EventVoterJoined     = "voter_joined"
	EventVoterApproved   = "voter_approved"
	EventVoteStarted     = "vote_started"
	EventBallotSubmitted = "ballot_submitted"
	EventVoteEnded       = "vote_ended"
	EventRoomExpired     = "room_expired"
)

// Event is one wire event. Data is pre-marshaled so every subscriber
// receives identical bytes.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// VoterJoinedPayload announces a new voter; only the count is public.
type VoterJoinedPayload struct {
	Count int `json:"count"`
}

// VoterApprovedPayload announces an admin approval.
type VoterApprovedPayload struct {
	VoterID uuid.UUID `json:"voter_id"`
}

// BallotSubmittedPayload announces that a voter's ballot was counted.
// The ballot contents are never broadcast.
type BallotSubmittedPayload struct {
	VoterID uuid.UUID `json:"voter_id"`
}

// VoteEndedPayload carries the final ranking, best first.
type VoteEndedPayload struct {
	Ranking []models.RankedOption `json:"ranking"`
}

// NewEvent builds an Event, marshaling payload once. A nil payload yields
// an event with no data (vote_started, room_expired).
func NewEvent(name string, payload interface{}) Event {
	if payload == nil {
		return Event{Name: name}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{Name: name}
	}
	return Event{Name: name, Data: data}
}
