package models

import (
	"time"

	"github.com/google/uuid"
)

// Voter is a participant in a room. CodeHash and Ballot never serialize;
// who voted for what stays server-side.
type Voter struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	CodeHash  string    `json:"-"`
	Approved  bool      `json:"approved"`
	Ballot    []int     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Voted reports whether the voter has submitted a ballot.
func (v *Voter) Voted() bool { return v.Ballot != nil }

// Summary returns the public view of the voter.
func (v *Voter) Summary() VoterSummary {
	return VoterSummary{ID: v.ID, Approved: v.Approved, Voted: v.Voted()}
}

// VoterSummary is what other participants may see about a voter.
type VoterSummary struct {
	ID       uuid.UUID `json:"id"`
	Approved bool      `json:"approved"`
	Voted    bool      `json:"voted"`
}
