package rooms

import (
	"context"

	"github.com/google/uuid"

	"github.com/ordo-vote/backend/internal/models"
)

// Store mirrors rooms, voters, and ballots to durable storage so they
// survive a process restart. The registry's in-memory state stays
// authoritative for concurrency control; the store is written through on
// every mutation and read back on boot or on a registry miss.
//
// Load methods return ErrRoomNotFound when no row matches.
type Store interface {
	SaveRoom(ctx context.Context, room *models.Room) error
	SaveVoter(ctx context.Context, voter *models.Voter) error
	LoadRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	LoadRoomByAdminCodeHash(ctx context.Context, hash string) (*models.Room, error)
	ListVotersForRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Voter, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
}
