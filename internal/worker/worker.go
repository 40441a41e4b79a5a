package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ordo-vote/backend/internal/models"
	"github.com/ordo-vote/backend/internal/rooms"
	"github.com/ordo-vote/backend/pkg/queue"
	"github.com/ordo-vote/backend/pkg/storage"
)

// Uploader is the slice of archive storage the processor needs; *storage.S3
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// PurgeProcessor processes room purge jobs: archive the summary of an ended
// room (when storage is configured), then delete the room and its voters from
// the store. Rooms that expired before ending leave no archive.
type PurgeProcessor struct {
	store    rooms.Store
	uploader Uploader
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewPurgeProcessor creates a purge processor. uploader may be nil; archival
// is then skipped and purges only delete.
func NewPurgeProcessor(store rooms.Store, uploader Uploader, q *queue.Queue, logger *zap.Logger) *PurgeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurgeProcessor{store: store, uploader: uploader, queue: q, logger: logger}
}

// buildArchive condenses a room into its archive record. Individual ballots
// are never archived; only the aggregate outcome leaves the store.
func buildArchive(room *models.Room, voterCount int, now time.Time) models.RoomArchive {
	return models.RoomArchive{
		RoomID:     room.ID,
		Name:       room.Name,
		Options:    room.Options,
		Status:     room.Status,
		Ranking:    room.Ranking,
		VoterCount: voterCount,
		CreatedAt:  room.CreatedAt,
		EndedAt:    room.EndedAt,
		ArchivedAt: now,
	}
}

// Process executes one room purge job. It is idempotent: a room that is
// already gone counts as success, so retried jobs settle cleanly.
func (p *PurgeProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRoomPurge {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RoomPurgePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	room, err := p.store.LoadRoomByID(ctx, payload.RoomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		p.logger.Info("room already purged", zap.String("room_id", payload.RoomID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}

	if p.uploader != nil && room.Status == models.StatusEnded {
		voters, err := p.store.ListVotersForRoom(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("list voters: %w", err)
		}
		body, err := json.Marshal(buildArchive(room, len(voters), time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("marshal archive: %w", err)
		}
		key := storage.ArchiveKey(room.ID.String())
		s3URL, err := p.uploader.Upload(ctx, key, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("archive upload: %w", err)
		}
		p.logger.Info("room archived", zap.String("room_id", room.ID.String()), zap.String("s3_url", s3URL))
	}

	if err := p.store.DeleteRoom(ctx, room.ID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	p.logger.Info("room purged", zap.String("room_id", room.ID.String()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PurgeProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("purge worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx, queue.RetryBackoff)
		}
	}
}

func (p *PurgeProcessor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
