package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

// Orchestrator is the only component that mutates more than one entity
// atomically on behalf of a request (§4.8). It owns no storage of its own;
// every mutation goes through the Data Store's transactional methods, and
// every queue submission happens only after the owning transaction commits.
type Orchestrator struct {
	store       ports.DataStore
	storage     ports.ObjectStorage
	imageQueue  ports.JobQueue
	modelQueue  ports.JobQueue
	bus         ports.EventBus
	llm         ports.LLMProvider
	slicer      ports.SlicerProvider
	log         *slog.Logger
}

func NewOrchestrator(
	store ports.DataStore,
	storage ports.ObjectStorage,
	imageQueue ports.JobQueue,
	modelQueue ports.JobQueue,
	bus ports.EventBus,
	llm ports.LLMProvider,
	slicer ports.SlicerProvider,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		storage:    storage,
		imageQueue: imageQueue,
		modelQueue: modelQueue,
		bus:        bus,
		llm:        llm,
		slicer:     slicer,
		log:        log,
	}
}

// CreateRequest validates the prompt, creates the Request and its four
// Images/ImageJobs in one transaction, then kicks off the LLM variant
// side-task and enqueues the four image jobs once that transaction commits.
func (o *Orchestrator) CreateRequest(ctx context.Context, userID, prompt string) (domain.Request, error) {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) == 0 {
		return domain.Request{}, domain.Classify(domain.KindValidation, "create request", domain.ErrEmptyPrompt)
	}
	if len(trimmed) > domain.MaxPromptLength {
		return domain.Request{}, domain.Classify(domain.KindValidation, "create request", domain.ErrPromptTooLong)
	}

	now := time.Now()
	req := domain.NewRequest(domain.RequestID(uuid.NewString()), userID, trimmed, now)

	var imageIDs [4]domain.ImageID
	for i := range imageIDs {
		imageIDs[i] = domain.ImageID(uuid.NewString())
	}
	images := domain.NewImages(req.ID, imageIDs, now)

	var jobs [4]domain.ImageJob
	for i, img := range images {
		jobs[i] = domain.ImageJob{
			ID:         uuid.NewString(),
			ImageID:    img.ID,
			RequestID:  req.ID,
			Status:     domain.JobStatusPending,
			MaxRetries: domain.DefaultMaxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := o.store.CreateRequestWithImagesAndJobs(ctx, req, images, jobs); err != nil {
		return domain.Request{}, err
	}

	go o.generateVariantsAndEnqueue(context.Background(), req.ID, trimmed, images, jobs)

	return req, nil
}

// generateVariantsAndEnqueue is createRequest's async side-task: ask the
// LLM for four style variants, persist each to its Image, then enqueue the
// job. A failed LLM call degrades to repeating the original prompt four
// times rather than failing the request (§4.8).
func (o *Orchestrator) generateVariantsAndEnqueue(ctx context.Context, requestID domain.RequestID, prompt string, images [4]domain.Image, jobs [4]domain.ImageJob) {
	variants, err := o.variantsOrFallback(ctx, prompt)
	if err != nil {
		o.log.Warn("llm variant generation degraded to original prompt", "request_id", requestID, "error", err)
	}

	for i := range images {
		if err := o.store.SetImagePrompt(ctx, images[i].ID, variants[i]); err != nil {
			o.log.Error("persist image prompt", "request_id", requestID, "image_id", images[i].ID, "error", err)
			continue
		}
		payload := domain.JobPayload{"job_id": jobs[i].ID, "image_id": string(images[i].ID), "request_id": string(requestID)}
		if err := o.imageQueue.Enqueue(ctx, jobs[i].ID, payload, ports.EnqueueOptions{}); err != nil {
			o.log.Error("enqueue image job", "request_id", requestID, "job_id", jobs[i].ID, "error", err)
		}
	}
}

func (o *Orchestrator) variantsOrFallback(ctx context.Context, prompt string) ([4]string, error) {
	var fallback [4]string
	for i := range fallback {
		fallback[i] = prompt
	}
	if o.llm == nil {
		return fallback, nil
	}
	variants, err := o.llm.Variants(ctx, prompt, "")
	if err != nil {
		return fallback, err
	}
	return variants, nil
}

// SelectImageAndGenerateModel implements §4.8's selectImageAndGenerateModel:
// validate the index and phase, create the Model and ModelJob transactionally,
// then enqueue the model job once that transaction commits.
func (o *Orchestrator) SelectImageAndGenerateModel(ctx context.Context, requestID domain.RequestID, index int) (domain.Model, error) {
	if index < 0 || index > 3 {
		return domain.Model{}, domain.Classify(domain.KindValidation, "select image", domain.ErrInvalidIndex)
	}

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Model{}, err
	}
	if req.Phase != domain.PhaseAwaitingSelection {
		return domain.Model{}, domain.Classify(domain.KindInvalidState, "select image", domain.ErrInvalidPhase)
	}

	images, err := o.store.ListImagesByRequest(ctx, requestID)
	if err != nil {
		return domain.Model{}, err
	}
	if index >= len(images) {
		return domain.Model{}, domain.Classify(domain.KindValidation, "select image", domain.ErrInvalidIndex)
	}
	selected := images[index]
	if selected.ImageStatus != domain.ImageStatusCompleted || selected.ImageURL == nil {
		return domain.Model{}, domain.Classify(domain.KindInvalidState, "select image", fmt.Errorf("selected image is not ready"))
	}

	if _, err := o.store.GetModelByRequest(ctx, requestID); err == nil {
		return domain.Model{}, domain.Classify(domain.KindInvalidState, "select image", domain.ErrModelExists)
	} else if domain.KindOf(err) != domain.KindNotFound {
		return domain.Model{}, err
	}

	now := time.Now()
	model := domain.Model{
		ID:             domain.ModelID(uuid.NewString()),
		ExternalUserID: req.ExternalUserID,
		Source:         domain.ModelSourceAIGenerated,
		RequestID:      &requestID,
		SourceImageID:  &selected.ID,
		Name:           modelNameFromPrompt(req.OriginalPrompt),
		Format:         domain.DefaultModelFormat,
		Visibility:     domain.VisibilityPublic,
		PublishedAt:    &now,
		PrintStatus:    domain.PrintStatusNotStarted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	job := domain.ModelJob{
		ID:         uuid.NewString(),
		ModelID:    model.ID,
		RequestID:  requestID,
		Status:     domain.JobStatusPending,
		MaxRetries: domain.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := o.store.SelectImageAndCreateModel(ctx, requestID, index, model, job); err != nil {
		return domain.Model{}, err
	}

	payload := domain.JobPayload{"job_id": job.ID, "model_id": string(model.ID), "request_id": string(requestID)}
	if err := o.modelQueue.Enqueue(ctx, job.ID, payload, ports.EnqueueOptions{}); err != nil {
		o.log.Error("enqueue model job", "request_id", requestID, "job_id", job.ID, "error", err)
	}

	return model, nil
}

// DeleteRequestSummary reports how much of a deleteRequest cleanup
// succeeded immediately versus was deferred to the orphan sweeper.
type DeleteRequestSummary struct {
	ImagesDeleted   int
	ModelDeleted    bool
	StorageFailures int
}

// DeleteRequest implements §4.8's deleteRequest: the Data Store removes the
// rows (cascading to images and jobs); this then attempts to delete every
// owned storage key, recording an OrphanedFile for anything that fails so
// the sweeper can retry it later.
func (o *Orchestrator) DeleteRequest(ctx context.Context, requestID domain.RequestID) (DeleteRequestSummary, error) {
	req, images, model, err := o.store.DeleteRequestCascade(ctx, requestID)
	if err != nil {
		return DeleteRequestSummary{}, err
	}

	var summary DeleteRequestSummary
	for _, img := range images {
		if img.ImageURL == nil {
			continue
		}
		key := domain.ImageKey(img.ID, img.Index, extOf(*img.ImageURL, "png"))
		if o.deleteOrOrphan(ctx, key, req.ID) {
			summary.ImagesDeleted++
		} else {
			summary.StorageFailures++
		}
	}

	if model != nil {
		summary.ModelDeleted = true
		for _, key := range modelStorageKeys(*model) {
			if !o.deleteOrOrphan(ctx, key, req.ID) {
				summary.StorageFailures++
			}
		}
	}

	return summary, nil
}

func (o *Orchestrator) deleteOrOrphan(ctx context.Context, key string, requestID domain.RequestID) bool {
	if err := o.storage.Delete(ctx, key); err != nil {
		o.log.Warn("storage deletion failed, recording orphan", "key", key, "request_id", requestID, "error", err)
		msg := err.Error()
		orphan := domain.OrphanedFile{
			ID:        uuid.NewString(),
			S3Key:     key,
			RequestID: requestID,
			LastError: &msg,
			CreatedAt: time.Now(),
		}
		if createErr := o.store.CreateOrphanedFile(ctx, orphan); createErr != nil {
			o.log.Error("record orphaned file", "key", key, "error", createErr)
		}
		return false
	}
	return true
}

// SubmitPrintTask implements §4.8's submitPrintTask: the caller must own
// the request, the model must have a completed file, and no slice task may
// already be in flight.
func (o *Orchestrator) SubmitPrintTask(ctx context.Context, requestID domain.RequestID, userID string) (domain.Model, error) {
	if o.slicer == nil {
		return domain.Model{}, domain.Classify(domain.KindFatal, "submit print task", fmt.Errorf("no slicer provider configured"))
	}

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Model{}, err
	}
	if req.ExternalUserID != userID {
		return domain.Model{}, domain.Classify(domain.KindForbidden, "submit print task", domain.ErrNotOwner)
	}
	if req.Phase != domain.PhaseModelGeneration && req.Phase != domain.PhaseCompleted {
		return domain.Model{}, domain.Classify(domain.KindInvalidState, "submit print task", domain.ErrInvalidPhase)
	}

	model, err := o.store.GetModelByRequest(ctx, requestID)
	if err != nil {
		return domain.Model{}, err
	}
	if model.ModelURL == nil {
		return domain.Model{}, domain.Classify(domain.KindInvalidState, "submit print task", fmt.Errorf("model has no generated file yet"))
	}
	if model.SliceTaskID != nil && model.PrintStatus != domain.PrintStatusFailed {
		return domain.Model{}, domain.Classify(domain.KindInvalidState, "submit print task", domain.ErrSliceInFlight)
	}

	fileName := fmt.Sprintf("%s.%s", model.ID, strings.ToLower(model.Format))
	sliceTaskID, err := o.slicer.CreateSliceTask(ctx, *model.ModelURL, fileName)
	if err != nil {
		return domain.Model{}, err
	}

	if err := o.store.SetSliceTask(ctx, model.ID, sliceTaskID, domain.PrintStatusSlicing); err != nil {
		return domain.Model{}, err
	}

	model.SliceTaskID = &sliceTaskID
	model.PrintStatus = domain.PrintStatusSlicing
	return model, nil
}

// PrintStatusView is the response shape of §4.8's getPrintStatus.
type PrintStatusView struct {
	PrintStatus domain.PrintStatus
	SliceTaskID *string
	Progress    int
}

func (o *Orchestrator) GetPrintStatus(ctx context.Context, requestID domain.RequestID) (PrintStatusView, error) {
	model, err := o.store.GetModelByRequest(ctx, requestID)
	if err != nil {
		return PrintStatusView{}, err
	}
	return PrintStatusView{
		PrintStatus: model.PrintStatus,
		SliceTaskID: model.SliceTaskID,
		Progress:    domain.PrintProgress[model.PrintStatus],
	}, nil
}

func modelNameFromPrompt(prompt string) string {
	const maxLen = 60
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen]
}

func extOf(url, fallback string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(url)), ".")
	if ext == "" {
		return fallback
	}
	return ext
}

// modelStorageKeys enumerates the storage keys a completed Model owns,
// mirroring the upload keys chosen by the model worker's unpack step.
func modelStorageKeys(m domain.Model) []string {
	var keys []string
	if m.ModelURL != nil {
		keys = append(keys, domain.ModelKey(m.ID, extOf(*m.ModelURL, strings.ToLower(m.Format))))
	}
	if m.MTLURL != nil {
		keys = append(keys, domain.ModelMTLKey(m.ID))
	}
	if m.TextureURL != nil {
		keys = append(keys, domain.ModelTextureKey(m.ID, extOf(*m.TextureURL, "png")))
	}
	if m.PreviewImageURL != nil {
		keys = append(keys, domain.ModelPreviewKey(m.ID))
	}
	return keys
}
