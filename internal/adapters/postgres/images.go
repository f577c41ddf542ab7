package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
)

func (s *Store) GetImage(ctx context.Context, id domain.ImageID) (domain.Image, error) {
	var img domain.Image
	err := s.db.GetContext(ctx, &img, `SELECT * FROM images WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Image{}, domain.Classify(domain.KindNotFound, "get image", domain.ErrImageNotFound)
	}
	if err != nil {
		return domain.Image{}, classifyDBErr("get image", err)
	}
	s.rewriteImage(&img)
	return img, nil
}

func (s *Store) ListImagesByRequest(ctx context.Context, requestID domain.RequestID) ([]domain.Image, error) {
	var imgs []domain.Image
	err := s.db.SelectContext(ctx, &imgs, `SELECT * FROM images WHERE request_id = $1 ORDER BY image_index`, requestID)
	if err != nil {
		return nil, classifyDBErr("list images by request", err)
	}
	for i := range imgs {
		s.rewriteImage(&imgs[i])
	}
	return imgs, nil
}

// SetImageGenerating transitions Image PENDING -> GENERATING, step 2 of §4.6.
func (s *Store) SetImageGenerating(ctx context.Context, id domain.ImageID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE images SET image_status = $1, updated_at = now()
		WHERE id = $2 AND image_status = $3
	`, domain.ImageStatusGenerating, id, domain.ImageStatusPending)
	return classifyDBErr("set image generating", err)
}

// SetImagePrompt records the per-image style variant produced by
// createRequest's async LLM side-task (§4.8), before the image job runs.
func (s *Store) SetImagePrompt(ctx context.Context, id domain.ImageID, prompt string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE images SET image_prompt = $1, updated_at = now() WHERE id = $2
	`, prompt, id)
	return classifyDBErr("set image prompt", err)
}

// CompleteImage is the single transactional step of §4.6 step 5: the
// Image and its one-to-one ImageJob move to their terminal-success state
// together.
func (s *Store) CompleteImage(ctx context.Context, imageID domain.ImageID, jobID string, url string, completedAt time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyDBErr("begin complete-image tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE images SET image_url = $1, image_status = $2, completed_at = $3, updated_at = now()
		WHERE id = $4
	`, url, domain.ImageStatusCompleted, completedAt, imageID)
	if err != nil {
		return classifyDBErr("complete image", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE image_jobs SET status = $1, updated_at = now() WHERE id = $2
	`, domain.JobStatusCompleted, jobID)
	if err != nil {
		return classifyDBErr("complete image job", err)
	}

	return classifyDBErr("commit complete-image tx", tx.Commit())
}

// FailImage only moves the Image to its terminal FAILED state; the owning
// ImageJob row and the dead_letters table are the queue's own bookkeeping
// (see RetryImageJob/DeadLetterImageJob), never written here.
func (s *Store) FailImage(ctx context.Context, imageID domain.ImageID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE images SET image_status = $1, error_message = $2, updated_at = now() WHERE id = $3
	`, domain.ImageStatusFailed, errMsg, imageID)
	return classifyDBErr("fail image", err)
}

func (s *Store) GetImageJob(ctx context.Context, id string) (domain.ImageJob, error) {
	var job domain.ImageJob
	err := s.db.GetContext(ctx, &job, `SELECT * FROM image_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImageJob{}, domain.Classify(domain.KindNotFound, "get image job", domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.ImageJob{}, classifyDBErr("get image job", err)
	}
	return job, nil
}

// MarkImageJobRunning is the conditional claim the image job handler runs
// for every delivered job before doing work: only a PENDING or RETRYING job
// moves to RUNNING, so a job delivered twice is run once.
func (s *Store) MarkImageJobRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE image_jobs SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)
	`, domain.JobStatusRunning, id, domain.JobStatusPending, domain.JobStatusRetrying)
	if err != nil {
		return false, classifyDBErr("mark image job running", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) RetryImageJob(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE image_jobs
		SET status = $1, retry_count = retry_count + 1, next_retry_at = $2, error_message = $3, updated_at = now()
		WHERE id = $4
	`, domain.JobStatusRetrying, nextRetryAt, errMsg, id)
	return classifyDBErr("retry image job", err)
}

func (s *Store) DeadLetterImageJob(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE image_jobs SET status = $1, error_message = $2, updated_at = now() WHERE id = $3
	`, domain.JobStatusFailed, errMsg, id)
	if err != nil {
		return classifyDBErr("dead letter image job", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, queue, job_id, error_message) VALUES ($1, $2, $3, $4)
	`, id+"-dl", domain.QueueImage, id, errMsg)
	return classifyDBErr("write dead letter", err)
}
