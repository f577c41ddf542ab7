package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
)

func (s *Store) GetModelJob(ctx context.Context, id string) (domain.ModelJob, error) {
	var job domain.ModelJob
	err := s.db.GetContext(ctx, &job, `SELECT * FROM model_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ModelJob{}, domain.Classify(domain.KindNotFound, "get model job", domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.ModelJob{}, classifyDBErr("get model job", err)
	}
	return job, nil
}

func (s *Store) MarkModelJobRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE model_jobs SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)
	`, domain.JobStatusRunning, id, domain.JobStatusPending, domain.JobStatusRetrying)
	if err != nil {
		return false, classifyDBErr("mark model job running", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) SetModelJobProviderID(ctx context.Context, id string, providerJobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE model_jobs SET provider_job_id = $1, updated_at = now() WHERE id = $2
	`, providerJobID, id)
	return classifyDBErr("set model job provider id", err)
}

// UpdateModelJobProgress enforces invariant 5's monotonic non-decrease:
// the write only lands if the new value is >= the stored one, so a
// reordered or duplicate poll response cannot regress a client-visible
// progress bar.
func (s *Store) UpdateModelJobProgress(ctx context.Context, id string, progress int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE model_jobs SET progress = $1, updated_at = now()
		WHERE id = $2 AND progress <= $1
	`, progress, id)
	if err != nil {
		return false, classifyDBErr("update model job progress", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) RetryModelJob(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE model_jobs
		SET status = $1, retry_count = retry_count + 1, next_retry_at = $2, error_message = $3, updated_at = now()
		WHERE id = $4
	`, domain.JobStatusRetrying, nextRetryAt, errMsg, id)
	return classifyDBErr("retry model job", err)
}

func (s *Store) DeadLetterModelJob(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE model_jobs SET status = $1, error_message = $2, updated_at = now() WHERE id = $3
	`, domain.JobStatusFailed, errMsg, id)
	if err != nil {
		return classifyDBErr("dead letter model job", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, queue, job_id, error_message) VALUES ($1, $2, $3, $4)
	`, id+"-dl", domain.QueueModel, id, errMsg)
	return classifyDBErr("write dead letter", err)
}
