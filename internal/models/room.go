package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the lifecycle state of a room. Transitions are monotonic:
// waiting -> started -> ended.
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusStarted RoomStatus = "started"
	StatusEnded   RoomStatus = "ended"
)

// Room represents a ranked-choice voting room. AdminCodeHash never serializes.
type Room struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Options       []string       `json:"options"`
	Status        RoomStatus     `json:"status"`
	AdminCodeHash string         `json:"-"`
	Ranking       []RankedOption `json:"ranking,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

// RankedOption is one row of a final ranking, best first. Points is the
// option's Borda total across all counted ballots.
type RankedOption struct {
	Option string `json:"option"`
	Points int    `json:"points"`
}

// RoomSnapshot is the public view of a room returned by read endpoints and
// sent to reconnecting subscribers. It never carries codes or ballot contents.
type RoomSnapshot struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Options    []string       `json:"options"`
	Status     RoomStatus     `json:"status"`
	VoterCount int            `json:"voter_count"`
	Voters     []VoterSummary `json:"voters"`
	Ranking    []RankedOption `json:"ranking,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// RoomArchive is the JSON document written to S3 before an expired room is purged.
type RoomArchive struct {
	RoomID     uuid.UUID      `json:"room_id"`
	Name       string         `json:"name"`
	Options    []string       `json:"options"`
	Status     RoomStatus     `json:"status"`
	Ranking    []RankedOption `json:"ranking,omitempty"`
	VoterCount int            `json:"voter_count"`
	CreatedAt  time.Time      `json:"created_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	ArchivedAt time.Time      `json:"archived_at"`
}
