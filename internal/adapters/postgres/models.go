package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
)

func (s *Store) GetModel(ctx context.Context, id domain.ModelID) (domain.Model, error) {
	var m domain.Model
	err := s.db.GetContext(ctx, &m, `SELECT * FROM models WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Model{}, domain.Classify(domain.KindNotFound, "get model", domain.ErrModelNotFound)
	}
	if err != nil {
		return domain.Model{}, classifyDBErr("get model", err)
	}
	s.rewriteModel(&m)
	return m, nil
}

func (s *Store) GetModelByRequest(ctx context.Context, requestID domain.RequestID) (domain.Model, error) {
	var m domain.Model
	err := s.db.GetContext(ctx, &m, `SELECT * FROM models WHERE request_id = $1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Model{}, domain.Classify(domain.KindNotFound, "get model by request", domain.ErrModelNotFound)
	}
	if err != nil {
		return domain.Model{}, classifyDBErr("get model by request", err)
	}
	s.rewriteModel(&m)
	return m, nil
}

// SetModelGenerating is step 2 of §4.7: the ModelJob moves to RUNNING and
// the Request from MODEL_PENDING to MODEL_GENERATING in one transaction;
// the Model row itself is not changed.
func (s *Store) SetModelGenerating(ctx context.Context, id domain.ModelID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyDBErr("begin set-model-generating tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE model_jobs SET status = $1, updated_at = now() WHERE model_id = $2
	`, domain.JobStatusRunning, id); err != nil {
		return classifyDBErr("mark model job running", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE requests SET status = $1, updated_at = now()
		WHERE id = (SELECT request_id FROM models WHERE id = $2) AND status = $3
	`, domain.RequestStatusModelGenerating, id, domain.RequestStatusModelPending)
	if err != nil {
		return classifyDBErr("set request model generating", err)
	}
	_ = res

	return classifyDBErr("commit set-model-generating tx", tx.Commit())
}

// CompleteModel is §4.7 step 8: Model, ModelJob, and Request all move to
// their terminal-success states in one transaction.
func (s *Store) CompleteModel(ctx context.Context, modelID domain.ModelID, jobID string, modelURL, mtlURL, textureURL, previewURL *string, format string, completedAt time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyDBErr("begin complete-model tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE models
		SET model_url = $1, mtl_url = $2, texture_url = $3, preview_image_url = $4,
		    format = $5, completed_at = $6, updated_at = now()
		WHERE id = $7
	`, modelURL, mtlURL, textureURL, previewURL, format, completedAt, modelID)
	if err != nil {
		return classifyDBErr("complete model", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE model_jobs SET status = $1, progress = 100, updated_at = now() WHERE id = $2
	`, domain.JobStatusCompleted, jobID); err != nil {
		return classifyDBErr("complete model job", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE requests
		SET status = $1, phase = $2, completed_at = $3, updated_at = now()
		WHERE id = (SELECT request_id FROM models WHERE id = $4)
	`, domain.RequestStatusCompleted, domain.PhaseCompleted, completedAt, modelID); err != nil {
		return classifyDBErr("complete request for model", err)
	}

	return classifyDBErr("commit complete-model tx", tx.Commit())
}

// FailModel moves the Model and its owning Request to their terminal
// failed states. Like FailImage, the ModelJob row and the dead_letters
// table are left to the queue's own bookkeeping (RetryModelJob /
// DeadLetterModelJob).
func (s *Store) FailModel(ctx context.Context, modelID domain.ModelID, errMsg string, failedAt time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyDBErr("begin fail-model tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE models SET error_message = $1, failed_at = $2, updated_at = now() WHERE id = $3
	`, errMsg, failedAt, modelID); err != nil {
		return classifyDBErr("fail model", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE requests
		SET status = $1, updated_at = now()
		WHERE id = (SELECT request_id FROM models WHERE id = $2)
	`, domain.RequestStatusModelFailed, modelID); err != nil {
		return classifyDBErr("fail request for model", err)
	}

	return classifyDBErr("commit fail-model tx", tx.Commit())
}

// SetSliceTask rejects submitting a new slice task while one is already
// in flight (SLICING or PRINTING), per §4.8's submitPrintTask guard.
func (s *Store) SetSliceTask(ctx context.Context, modelID domain.ModelID, sliceTaskID string, status domain.PrintStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE models SET slice_task_id = $1, print_status = $2, updated_at = now()
		WHERE id = $3 AND print_status NOT IN ($4, $5)
	`, sliceTaskID, status, modelID, domain.PrintStatusSlicing, domain.PrintStatusPrinting)
	if err != nil {
		return classifyDBErr("set slice task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Classify(domain.KindInvalidState, "set slice task", domain.ErrSliceInFlight)
	}
	return nil
}

func (s *Store) SetPrintStatus(ctx context.Context, modelID domain.ModelID, status domain.PrintStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE models SET print_status = $1, updated_at = now() WHERE id = $2
	`, status, modelID)
	return classifyDBErr("set print status", err)
}

// ListInFlightPrints backs the print status poller's sweep: any model with
// a slice task submitted but not yet resolved.
func (s *Store) ListInFlightPrints(ctx context.Context, limit int) ([]domain.Model, error) {
	var models []domain.Model
	err := s.db.SelectContext(ctx, &models, `
		SELECT * FROM models WHERE print_status IN ($1, $2) ORDER BY updated_at ASC LIMIT $3
	`, domain.PrintStatusSlicing, domain.PrintStatusPrinting, limit)
	if err != nil {
		return nil, classifyDBErr("list in-flight prints", err)
	}
	for i := range models {
		s.rewriteModel(&models[i])
	}
	return models, nil
}
