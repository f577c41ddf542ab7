package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
)

func (s *Store) CreateRequestWithImagesAndJobs(ctx context.Context, req domain.Request, images [4]domain.Image, jobs [4]domain.ImageJob) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyDBErr("begin create-request tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (id, external_user_id, original_prompt, status, phase, selected_image_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.ExternalUserID, req.OriginalPrompt, req.Status, req.Phase, req.SelectedImageIndex, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return classifyDBErr("insert request", err)
	}

	for _, img := range images {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO images (id, request_id, image_index, image_url, image_prompt, image_status, error_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, img.ID, img.RequestID, img.Index, img.ImageURL, img.ImagePrompt, img.ImageStatus, img.ErrorMessage, img.CreatedAt, img.UpdatedAt)
		if err != nil {
			return classifyDBErr("insert image", err)
		}
	}

	for _, job := range jobs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO image_jobs (id, image_id, request_id, status, priority, retry_count, max_retries, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, job.ID, job.ImageID, job.RequestID, job.Status, job.Priority, job.RetryCount, job.MaxRetries, job.CreatedAt, job.UpdatedAt)
		if err != nil {
			return classifyDBErr("insert image job", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyDBErr("commit create-request tx", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id domain.RequestID) (domain.Request, error) {
	var req domain.Request
	err := s.db.GetContext(ctx, &req, `SELECT * FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Request{}, domain.Classify(domain.KindNotFound, "get request", domain.ErrRequestNotFound)
	}
	if err != nil {
		return domain.Request{}, classifyDBErr("get request", err)
	}
	return req, nil
}

func (s *Store) GetRequestSnapshot(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return domain.RequestSnapshot{}, err
	}

	images, err := s.ListImagesByRequest(ctx, id)
	if err != nil {
		return domain.RequestSnapshot{}, err
	}

	snap := domain.RequestSnapshot{Request: req, Images: images}

	model, err := s.GetModelByRequest(ctx, id)
	if err == nil {
		snap.Model = &model
	} else if domain.KindOf(err) != domain.KindNotFound {
		return domain.RequestSnapshot{}, err
	}

	return snap, nil
}

// UpdateRequestStatus applies the single-conditional-update pattern
// mandated by the spec's Open Question on the last-image-completion race:
// the write only takes effect if the row is still in the expected status,
// so two concurrent workers racing to declare completion cannot both win.
func (s *Store) UpdateRequestStatus(ctx context.Context, id domain.RequestID, expected, next domain.RequestStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, next, id, expected)
	if err != nil {
		return false, classifyDBErr("update request status", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TransitionToAwaitingSelection is the conditional update of §4.6 step 7:
// all four images completed, Request moves IMAGE_GENERATING -> IMAGE_COMPLETED/AWAITING_SELECTION.
func (s *Store) TransitionToAwaitingSelection(ctx context.Context, id domain.RequestID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = $1, phase = $2, updated_at = now()
		WHERE id = $3 AND phase = $4
	`, domain.RequestStatusImageCompleted, domain.PhaseAwaitingSelection, id, domain.PhaseImageGeneration)
	if err != nil {
		return false, classifyDBErr("transition to awaiting selection", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) SelectImageAndCreateModel(ctx context.Context, reqID domain.RequestID, index int, model domain.Model, job domain.ModelJob) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyDBErr("begin select-image tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE requests
		SET selected_image_index = $1, phase = $2, status = $3, updated_at = now()
		WHERE id = $4 AND phase = $5
	`, index, domain.PhaseModelGeneration, domain.RequestStatusModelPending, reqID, domain.PhaseAwaitingSelection)
	if err != nil {
		return classifyDBErr("update request for selection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Classify(domain.KindInvalidState, "select image", domain.ErrInvalidPhase)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO models (id, external_user_id, source, request_id, source_image_id, name, format, visibility, published_at, print_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, model.ID, model.ExternalUserID, model.Source, model.RequestID, model.SourceImageID, model.Name, model.Format, model.Visibility, model.PublishedAt, model.PrintStatus, model.CreatedAt, model.UpdatedAt)
	if err != nil {
		return classifyDBErr("insert model", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO model_jobs (id, model_id, request_id, status, priority, progress, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.ModelID, job.RequestID, job.Status, job.Priority, job.Progress, job.RetryCount, job.MaxRetries, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return classifyDBErr("insert model job", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyDBErr("commit select-image tx", err)
	}
	return nil
}

func (s *Store) CompleteRequest(ctx context.Context, id domain.RequestID, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = $1, phase = $2, completed_at = $3, updated_at = now()
		WHERE id = $4 AND completed_at IS NULL
	`, domain.RequestStatusCompleted, domain.PhaseCompleted, completedAt, id)
	return classifyDBErr("complete request", err)
}

// DeleteRequestCascade loads the request, its images, and its model (if
// any) before deleting so the orchestrator can attempt storage cleanup for
// each owned key; the actual row deletion happens afterward in one
// statement per entity, mirroring §4.8's "delete model, then request;
// store cascades images and jobs". Unlike the read accessors, this reads
// the raw stored URLs rather than the proxy-rewritten form: the caller
// needs the real storage location to delete it, not the external one.
func (s *Store) DeleteRequestCascade(ctx context.Context, id domain.RequestID) (domain.Request, []domain.Image, *domain.Model, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, nil, nil, err
	}

	var images []domain.Image
	if err := s.db.SelectContext(ctx, &images, `SELECT * FROM images WHERE request_id = $1 ORDER BY image_index`, id); err != nil {
		return domain.Request{}, nil, nil, classifyDBErr("list images for delete", err)
	}

	var modelPtr *domain.Model
	var model domain.Model
	err = s.db.GetContext(ctx, &model, `SELECT * FROM models WHERE request_id = $1`, id)
	if err == nil {
		modelPtr = &model
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Request{}, nil, nil, classifyDBErr("get model for delete", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Request{}, nil, nil, classifyDBErr("begin delete tx", err)
	}
	defer tx.Rollback()

	if modelPtr != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM models WHERE id = $1`, modelPtr.ID); err != nil {
			return domain.Request{}, nil, nil, classifyDBErr("delete model", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id); err != nil {
		return domain.Request{}, nil, nil, classifyDBErr("delete request", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Request{}, nil, nil, classifyDBErr("commit delete tx", err)
	}

	return req, images, modelPtr, nil
}
