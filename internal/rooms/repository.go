package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordo-vote/backend/internal/models"
)

// Repository is the Postgres-backed Store. Options, rankings, and ballots
// are stored as JSONB; voters cascade-delete with their room.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a room repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveRoom upserts a room. Name, options, and identifiers are written once;
// later saves only move status, ranking, and ended_at forward.
func (r *Repository) SaveRoom(ctx context.Context, room *models.Room) error {
	options, err := json.Marshal(room.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	var ranking []byte
	if room.Ranking != nil {
		ranking, err = json.Marshal(room.Ranking)
		if err != nil {
			return fmt.Errorf("marshal ranking: %w", err)
		}
	}
	const q = `INSERT INTO rooms (id, name, options, status, admin_code_hash, ranking, created_at, expires_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, ranking = EXCLUDED.ranking, ended_at = EXCLUDED.ended_at`
	_, err = r.pool.Exec(ctx, q, room.ID, room.Name, options, string(room.Status), room.AdminCodeHash, ranking, room.CreatedAt, room.ExpiresAt, room.EndedAt)
	return err
}

// SaveVoter upserts a voter. Later saves only move approved and ballot forward.
func (r *Repository) SaveVoter(ctx context.Context, voter *models.Voter) error {
	var ballot []byte
	if voter.Ballot != nil {
		var err error
		ballot, err = json.Marshal(voter.Ballot)
		if err != nil {
			return fmt.Errorf("marshal ballot: %w", err)
		}
	}
	const q = `INSERT INTO voters (id, room_id, code_hash, approved, ballot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET approved = EXCLUDED.approved, ballot = EXCLUDED.ballot`
	_, err := r.pool.Exec(ctx, q, voter.ID, voter.RoomID, voter.CodeHash, voter.Approved, ballot, voter.CreatedAt)
	return err
}

const roomColumns = `id, name, options, status, admin_code_hash, ranking, created_at, expires_at, ended_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var room models.Room
	var options, ranking []byte
	var status string
	err := row.Scan(&room.ID, &room.Name, &options, &status, &room.AdminCodeHash, &ranking, &room.CreatedAt, &room.ExpiresAt, &room.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	room.Status = models.RoomStatus(status)
	if err := json.Unmarshal(options, &room.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if len(ranking) > 0 {
		if err := json.Unmarshal(ranking, &room.Ranking); err != nil {
			return nil, fmt.Errorf("decode ranking: %w", err)
		}
	}
	return &room, nil
}

// LoadRoomByID returns a room by its public id.
func (r *Repository) LoadRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	return scanRoom(r.pool.QueryRow(ctx, q, id))
}

// LoadRoomByAdminCodeHash returns a room by the digest of its admin code.
func (r *Repository) LoadRoomByAdminCodeHash(ctx context.Context, hash string) (*models.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms WHERE admin_code_hash = $1`
	return scanRoom(r.pool.QueryRow(ctx, q, hash))
}

// ListVotersForRoom returns a room's voters in join order.
func (r *Repository) ListVotersForRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Voter, error) {
	const q = `SELECT id, room_id, code_hash, approved, ballot, created_at
		FROM voters WHERE room_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Voter
	for rows.Next() {
		var v models.Voter
		var ballot []byte
		if err := rows.Scan(&v.ID, &v.RoomID, &v.CodeHash, &v.Approved, &ballot, &v.CreatedAt); err != nil {
			return nil, err
		}
		if len(ballot) > 0 {
			if err := json.Unmarshal(ballot, &v.Ballot); err != nil {
				return nil, fmt.Errorf("decode ballot: %w", err)
			}
		}
		list = append(list, &v)
	}
	return list, rows.Err()
}

// ListRooms returns every stored room, oldest first. Used on boot to
// restore live rooms and purge expired ones.
func (r *Repository) ListRooms(ctx context.Context) ([]*models.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, room)
	}
	return list, rows.Err()
}

// DeleteRoom removes a room; voters cascade.
func (r *Repository) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM rooms WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}
