package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgectl/forge3d/internal/core/domain"
)

func TestUpdateRequestStatus_NoRowsAffectedReturnsFalse(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE requests SET status = \$1, updated_at = now\(\) WHERE id = \$2 AND status = \$3`).
		WithArgs(domain.RequestStatusImageGenerating, "req-1", domain.RequestStatusImagePending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.UpdateRequestStatus(context.Background(), "req-1", domain.RequestStatusImagePending, domain.RequestStatusImageGenerating)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionToAwaitingSelection_SucceedsWhenPhaseMatches(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE requests`).
		WithArgs(domain.RequestStatusImageCompleted, domain.PhaseAwaitingSelection, "req-1", domain.PhaseImageGeneration).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.TransitionToAwaitingSelection(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSelectImageAndCreateModel_RollsBackAndFailsWhenPhaseDoesNotMatch(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE requests`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	now := time.Now()
	reqID := domain.RequestID("req-1")
	model := domain.Model{ID: "model-1", RequestID: &reqID, CreatedAt: now, UpdatedAt: now}
	job := domain.ModelJob{ID: "job-1", ModelID: "model-1", RequestID: reqID, CreatedAt: now, UpdatedAt: now}

	err := store.SelectImageAndCreateModel(context.Background(), reqID, 0, model, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectImageAndCreateModel_CommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE requests`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO models`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO model_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now()
	reqID := domain.RequestID("req-1")
	model := domain.Model{ID: "model-1", RequestID: &reqID, CreatedAt: now, UpdatedAt: now}
	job := domain.ModelJob{ID: "job-1", ModelID: "model-1", RequestID: reqID, CreatedAt: now, UpdatedAt: now}

	err := store.SelectImageAndCreateModel(context.Background(), reqID, 0, model, job)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRequestCascade_ReadsRawURLsAndDeletesInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	reqRows := sqlmock.NewRows([]string{"id", "external_user_id", "original_prompt", "status", "phase", "selected_image_index", "created_at", "updated_at", "completed_at"}).
		AddRow("req-1", "user-1", "a dragon", domain.RequestStatusCompleted, domain.PhaseCompleted, nil, time.Now(), time.Now(), nil)
	mock.ExpectQuery(`SELECT \* FROM requests WHERE id = \$1`).WithArgs("req-1").WillReturnRows(reqRows)

	imgRows := sqlmock.NewRows([]string{"id", "request_id", "image_index", "image_url", "image_prompt", "image_status", "error_message", "created_at", "updated_at", "completed_at"}).
		AddRow("img-1", "req-1", 0, "https://s3.example/images/img-1/0.png", nil, domain.ImageStatusCompleted, nil, time.Now(), time.Now(), nil)
	mock.ExpectQuery(`SELECT \* FROM images WHERE request_id = \$1`).WithArgs("req-1").WillReturnRows(imgRows)

	mock.ExpectQuery(`SELECT \* FROM models WHERE request_id = \$1`).WithArgs("req-1").WillReturnError(sql.ErrNoRows)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM requests WHERE id = \$1`).WithArgs("req-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req, images, model, err := store.DeleteRequestCascade(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestID("req-1"), req.ID)
	require.Len(t, images, 1)
	assert.Equal(t, "https://s3.example/images/img-1/0.png", *images[0].ImageURL)
	assert.Nil(t, model)
	require.NoError(t, mock.ExpectationsWereMet())
}
