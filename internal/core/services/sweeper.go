package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

// Sweeper is the periodic task of §4.9, grounded on the teacher's
// CronScheduler ticker-loop shape, simplified to a fixed interval.
type Sweeper struct {
	logger     *slog.Logger
	store      ports.DataStore
	storage    ports.ObjectStorage
	interval   time.Duration
	batchSize  int
	maxRetries int
}

func NewSweeper(logger *slog.Logger, store ports.DataStore, storage ports.ObjectStorage, interval time.Duration, batchSize, maxRetries int) *Sweeper {
	return &Sweeper{
		logger:     logger,
		store:      store,
		storage:    storage,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// Run starts the sweeper loop. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("orphan sweeper started", "interval", s.interval, "batch_size", s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("orphan sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	orphans, err := s.store.ListOrphanedFiles(ctx, s.batchSize, s.maxRetries)
	if err != nil {
		s.logger.Error("list orphaned files", "error", err)
		return
	}
	if len(orphans) == 0 {
		return
	}
	s.logger.Info("sweeping orphaned files", "count", len(orphans))

	for _, o := range orphans {
		if err := s.storage.Delete(ctx, o.S3Key); err != nil {
			s.logger.Warn("orphan deletion failed, will retry", "id", o.ID, "s3_key", o.S3Key, "error", err)
			if markErr := s.store.MarkOrphanRetry(ctx, o.ID, err.Error()); markErr != nil {
				s.logger.Error("mark orphan retry", "id", o.ID, "error", markErr)
			}
			continue
		}
		if err := s.store.MarkOrphanDeleted(ctx, o.ID, time.Now()); err != nil {
			s.logger.Error("mark orphan deleted", "id", o.ID, "error", err)
		}
	}
}
