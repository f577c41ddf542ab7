package ports

import (
	"context"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
)

// DataStore is the durable, transactional store of all core entities
// (§4.1). Implementations own URL rewriting to proxy URLs on every read
// that returns a storage URL to a caller outside the store itself.
type DataStore interface {
	// Requests
	CreateRequestWithImagesAndJobs(ctx context.Context, req domain.Request, images [4]domain.Image, jobs [4]domain.ImageJob) error
	GetRequest(ctx context.Context, id domain.RequestID) (domain.Request, error)
	GetRequestSnapshot(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error)
	UpdateRequestStatus(ctx context.Context, id domain.RequestID, expected, next domain.RequestStatus) (bool, error)
	TransitionToAwaitingSelection(ctx context.Context, id domain.RequestID) (bool, error)
	SelectImageAndCreateModel(ctx context.Context, req domain.RequestID, index int, model domain.Model, job domain.ModelJob) error
	CompleteRequest(ctx context.Context, id domain.RequestID, completedAt time.Time) error
	DeleteRequestCascade(ctx context.Context, id domain.RequestID) (domain.Request, []domain.Image, *domain.Model, error)

	// Images
	GetImage(ctx context.Context, id domain.ImageID) (domain.Image, error)
	ListImagesByRequest(ctx context.Context, requestID domain.RequestID) ([]domain.Image, error)
	SetImageGenerating(ctx context.Context, id domain.ImageID) error
	SetImagePrompt(ctx context.Context, id domain.ImageID, prompt string) error
	CompleteImage(ctx context.Context, imageID domain.ImageID, jobID string, url string, completedAt time.Time) error
	// FailImage marks the Image itself FAILED. It does not touch the owning
	// ImageJob row or the dead letter table — that bookkeeping belongs
	// exclusively to the queue (pgqueue.Queue.onFailure via RetryImageJob /
	// DeadLetterImageJob), so a terminal failure is recorded exactly once.
	FailImage(ctx context.Context, imageID domain.ImageID, errMsg string) error

	// Image jobs
	GetImageJob(ctx context.Context, id string) (domain.ImageJob, error)
	MarkImageJobRunning(ctx context.Context, id string) (bool, error)
	RetryImageJob(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error
	DeadLetterImageJob(ctx context.Context, id string, errMsg string) error

	// Models
	GetModel(ctx context.Context, id domain.ModelID) (domain.Model, error)
	GetModelByRequest(ctx context.Context, requestID domain.RequestID) (domain.Model, error)
	SetModelGenerating(ctx context.Context, id domain.ModelID) error
	CompleteModel(ctx context.Context, modelID domain.ModelID, jobID string, modelURL, mtlURL, textureURL, previewURL *string, format string, completedAt time.Time) error
	// FailModel marks the Model and its owning Request FAILED. Like
	// FailImage, it never touches the ModelJob row or the dead letter
	// table; that is the queue's exclusive responsibility.
	FailModel(ctx context.Context, modelID domain.ModelID, errMsg string, failedAt time.Time) error
	SetSliceTask(ctx context.Context, modelID domain.ModelID, sliceTaskID string, status domain.PrintStatus) error
	SetPrintStatus(ctx context.Context, modelID domain.ModelID, status domain.PrintStatus) error
	// ListInFlightPrints returns models whose print_status is SLICING or
	// PRINTING, for the print status poller (§4.8's getPrintStatus is a
	// read; this is what keeps the read value current).
	ListInFlightPrints(ctx context.Context, limit int) ([]domain.Model, error)

	// Model jobs
	GetModelJob(ctx context.Context, id string) (domain.ModelJob, error)
	MarkModelJobRunning(ctx context.Context, id string) (bool, error)
	SetModelJobProviderID(ctx context.Context, id string, providerJobID string) error
	UpdateModelJobProgress(ctx context.Context, id string, progress int) (bool, error)
	RetryModelJob(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error
	DeadLetterModelJob(ctx context.Context, id string, errMsg string) error

	// Orphaned files
	CreateOrphanedFile(ctx context.Context, o domain.OrphanedFile) error
	ListOrphanedFiles(ctx context.Context, batchSize int, maxRetries int) ([]domain.OrphanedFile, error)
	MarkOrphanDeleted(ctx context.Context, id string, deletedAt time.Time) error
	MarkOrphanRetry(ctx context.Context, id string, errMsg string) error

	// Dead letters (read accessor; never auto-retried — §4.3)
	ListDeadLetters(ctx context.Context, queue domain.QueueName, limit int) ([]DeadLetterEntry, error)
}

// DeadLetterEntry is a read-only projection of a job that exhausted its
// retries, surfaced for operator inspection.
type DeadLetterEntry struct {
	JobID        string
	Queue        domain.QueueName
	ErrorMessage string
	FailedAt     time.Time
}
