package services

import (
	"context"
	"sync"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

// fakeDataStore is an in-memory ports.DataStore used by the services
// package's own tests, standing in for the sqlmock-backed Postgres store
// exercised in internal/adapters/postgres.
type fakeDataStore struct {
	mu sync.Mutex

	requests    map[domain.RequestID]domain.Request
	images      map[domain.ImageID]domain.Image
	imageJobs   map[string]domain.ImageJob
	models      map[domain.ModelID]domain.Model
	modelJobs   map[string]domain.ModelJob
	orphans     map[string]domain.OrphanedFile
	deadLetters []ports.DeadLetterEntry
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		requests:  make(map[domain.RequestID]domain.Request),
		images:    make(map[domain.ImageID]domain.Image),
		imageJobs: make(map[string]domain.ImageJob),
		models:    make(map[domain.ModelID]domain.Model),
		modelJobs: make(map[string]domain.ModelJob),
		orphans:   make(map[string]domain.OrphanedFile),
	}
}

func (s *fakeDataStore) CreateRequestWithImagesAndJobs(ctx context.Context, req domain.Request, images [4]domain.Image, jobs [4]domain.ImageJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	for _, img := range images {
		s.images[img.ID] = img
	}
	for _, job := range jobs {
		s.imageJobs[job.ID] = job
	}
	return nil
}

func (s *fakeDataStore) GetRequest(ctx context.Context, id domain.RequestID) (domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.Request{}, domain.Classify(domain.KindNotFound, "get request", domain.ErrRequestNotFound)
	}
	return req, nil
}

func (s *fakeDataStore) GetRequestSnapshot(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return domain.RequestSnapshot{}, err
	}
	images, err := s.ListImagesByRequest(ctx, id)
	if err != nil {
		return domain.RequestSnapshot{}, err
	}
	snap := domain.RequestSnapshot{Request: req, Images: images}
	if model, err := s.GetModelByRequest(ctx, id); err == nil {
		snap.Model = &model
	}
	return snap, nil
}

func (s *fakeDataStore) UpdateRequestStatus(ctx context.Context, id domain.RequestID, expected, next domain.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != expected {
		return false, nil
	}
	req.Status = next
	s.requests[id] = req
	return true, nil
}

func (s *fakeDataStore) TransitionToAwaitingSelection(ctx context.Context, id domain.RequestID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Phase != domain.PhaseImageGeneration {
		return false, nil
	}
	req.Status = domain.RequestStatusImageCompleted
	req.Phase = domain.PhaseAwaitingSelection
	s.requests[id] = req
	return true, nil
}

func (s *fakeDataStore) SelectImageAndCreateModel(ctx context.Context, reqID domain.RequestID, index int, model domain.Model, job domain.ModelJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[reqID]
	if !ok || req.Phase != domain.PhaseAwaitingSelection {
		return domain.Classify(domain.KindInvalidState, "select image", domain.ErrInvalidPhase)
	}
	req.SelectedImageIndex = &index
	req.Phase = domain.PhaseModelGeneration
	req.Status = domain.RequestStatusModelPending
	s.requests[reqID] = req
	s.models[model.ID] = model
	s.modelJobs[job.ID] = job
	return nil
}

func (s *fakeDataStore) CompleteRequest(ctx context.Context, id domain.RequestID, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.Classify(domain.KindNotFound, "complete request", domain.ErrRequestNotFound)
	}
	req.Status = domain.RequestStatusCompleted
	req.Phase = domain.PhaseCompleted
	req.CompletedAt = &completedAt
	s.requests[id] = req
	return nil
}

func (s *fakeDataStore) DeleteRequestCascade(ctx context.Context, id domain.RequestID) (domain.Request, []domain.Image, *domain.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.Request{}, nil, nil, domain.Classify(domain.KindNotFound, "get request", domain.ErrRequestNotFound)
	}
	var images []domain.Image
	for _, img := range s.images {
		if img.RequestID == id {
			images = append(images, img)
		}
	}
	var modelPtr *domain.Model
	for _, m := range s.models {
		if m.RequestID != nil && *m.RequestID == id {
			mm := m
			modelPtr = &mm
			delete(s.models, m.ID)
		}
	}
	for _, img := range images {
		delete(s.images, img.ID)
	}
	delete(s.requests, id)
	return req, images, modelPtr, nil
}

func (s *fakeDataStore) GetImage(ctx context.Context, id domain.ImageID) (domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return domain.Image{}, domain.Classify(domain.KindNotFound, "get image", domain.ErrImageNotFound)
	}
	return img, nil
}

func (s *fakeDataStore) ListImagesByRequest(ctx context.Context, requestID domain.RequestID) ([]domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Image
	for _, img := range s.images {
		if img.RequestID == requestID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (s *fakeDataStore) SetImageGenerating(ctx context.Context, id domain.ImageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok || img.ImageStatus != domain.ImageStatusPending {
		return nil
	}
	img.ImageStatus = domain.ImageStatusGenerating
	s.images[id] = img
	return nil
}

func (s *fakeDataStore) SetImagePrompt(ctx context.Context, id domain.ImageID, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return domain.Classify(domain.KindNotFound, "set image prompt", domain.ErrImageNotFound)
	}
	img.ImagePrompt = &prompt
	s.images[id] = img
	return nil
}

func (s *fakeDataStore) CompleteImage(ctx context.Context, imageID domain.ImageID, jobID string, url string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.images[imageID]
	img.ImageURL = &url
	img.ImageStatus = domain.ImageStatusCompleted
	img.CompletedAt = &completedAt
	s.images[imageID] = img

	job := s.imageJobs[jobID]
	job.Status = domain.JobStatusCompleted
	s.imageJobs[jobID] = job
	return nil
}

func (s *fakeDataStore) FailImage(ctx context.Context, imageID domain.ImageID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.images[imageID]
	img.ImageStatus = domain.ImageStatusFailed
	img.ErrorMessage = &errMsg
	s.images[imageID] = img
	return nil
}

func (s *fakeDataStore) GetImageJob(ctx context.Context, id string) (domain.ImageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.imageJobs[id]
	if !ok {
		return domain.ImageJob{}, domain.Classify(domain.KindNotFound, "get image job", domain.ErrJobNotFound)
	}
	return job, nil
}

func (s *fakeDataStore) MarkImageJobRunning(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.imageJobs[id]
	if !ok || (job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRetrying) {
		return false, nil
	}
	job.Status = domain.JobStatusRunning
	s.imageJobs[id] = job
	return true, nil
}

func (s *fakeDataStore) RetryImageJob(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.imageJobs[id]
	job.Status = domain.JobStatusRetrying
	job.RetryCount++
	job.NextRetryAt = &nextRetryAt
	job.ErrorMessage = &errMsg
	s.imageJobs[id] = job
	return nil
}

func (s *fakeDataStore) DeadLetterImageJob(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.imageJobs[id]
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = &errMsg
	s.imageJobs[id] = job
	s.deadLetters = append(s.deadLetters, ports.DeadLetterEntry{JobID: id, Queue: domain.QueueImage, ErrorMessage: errMsg, FailedAt: time.Now()})
	return nil
}

func (s *fakeDataStore) GetModel(ctx context.Context, id domain.ModelID) (domain.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return domain.Model{}, domain.Classify(domain.KindNotFound, "get model", domain.ErrModelNotFound)
	}
	return m, nil
}

func (s *fakeDataStore) GetModelByRequest(ctx context.Context, requestID domain.RequestID) (domain.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.models {
		if m.RequestID != nil && *m.RequestID == requestID {
			return m, nil
		}
	}
	return domain.Model{}, domain.Classify(domain.KindNotFound, "get model by request", domain.ErrModelNotFound)
}

func (s *fakeDataStore) SetModelGenerating(ctx context.Context, id domain.ModelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.models[id]
	m.PrintStatus = m.PrintStatus
	s.models[id] = m
	return nil
}

func (s *fakeDataStore) CompleteModel(ctx context.Context, modelID domain.ModelID, jobID string, modelURL, mtlURL, textureURL, previewURL *string, format string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.models[modelID]
	m.ModelURL = modelURL
	m.MTLURL = mtlURL
	m.TextureURL = textureURL
	m.PreviewImageURL = previewURL
	m.Format = format
	m.CompletedAt = &completedAt
	s.models[modelID] = m

	job := s.modelJobs[jobID]
	job.Status = domain.JobStatusCompleted
	s.modelJobs[jobID] = job
	return nil
}

func (s *fakeDataStore) FailModel(ctx context.Context, modelID domain.ModelID, errMsg string, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.models[modelID]
	m.ErrorMessage = &errMsg
	m.FailedAt = &failedAt
	s.models[modelID] = m
	return nil
}

func (s *fakeDataStore) SetSliceTask(ctx context.Context, modelID domain.ModelID, sliceTaskID string, status domain.PrintStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.models[modelID]
	m.SliceTaskID = &sliceTaskID
	m.PrintStatus = status
	s.models[modelID] = m
	return nil
}

func (s *fakeDataStore) SetPrintStatus(ctx context.Context, modelID domain.ModelID, status domain.PrintStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.models[modelID]
	m.PrintStatus = status
	s.models[modelID] = m
	return nil
}

func (s *fakeDataStore) ListInFlightPrints(ctx context.Context, limit int) ([]domain.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Model
	for _, m := range s.models {
		if m.PrintStatus == domain.PrintStatusSlicing || m.PrintStatus == domain.PrintStatusPrinting {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeDataStore) GetModelJob(ctx context.Context, id string) (domain.ModelJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.modelJobs[id]
	if !ok {
		return domain.ModelJob{}, domain.Classify(domain.KindNotFound, "get model job", domain.ErrJobNotFound)
	}
	return job, nil
}

func (s *fakeDataStore) MarkModelJobRunning(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.modelJobs[id]
	if !ok || (job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRetrying) {
		return false, nil
	}
	job.Status = domain.JobStatusRunning
	s.modelJobs[id] = job
	return true, nil
}

func (s *fakeDataStore) SetModelJobProviderID(ctx context.Context, id string, providerJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.modelJobs[id]
	job.ProviderJobID = &providerJobID
	s.modelJobs[id] = job
	return nil
}

func (s *fakeDataStore) UpdateModelJobProgress(ctx context.Context, id string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.modelJobs[id]
	if !ok || progress < job.Progress {
		return false, nil
	}
	job.Progress = progress
	s.modelJobs[id] = job
	return true, nil
}

func (s *fakeDataStore) RetryModelJob(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.modelJobs[id]
	job.Status = domain.JobStatusRetrying
	job.RetryCount++
	job.NextRetryAt = &nextRetryAt
	job.ErrorMessage = &errMsg
	s.modelJobs[id] = job
	return nil
}

func (s *fakeDataStore) DeadLetterModelJob(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.modelJobs[id]
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = &errMsg
	s.modelJobs[id] = job
	s.deadLetters = append(s.deadLetters, ports.DeadLetterEntry{JobID: id, Queue: domain.QueueModel, ErrorMessage: errMsg, FailedAt: time.Now()})
	return nil
}

func (s *fakeDataStore) CreateOrphanedFile(ctx context.Context, o domain.OrphanedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans[o.ID] = o
	return nil
}

func (s *fakeDataStore) ListOrphanedFiles(ctx context.Context, batchSize int, maxRetries int) ([]domain.OrphanedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrphanedFile
	for _, o := range s.orphans {
		if o.DeletedAt == nil && o.RetryCount < maxRetries {
			out = append(out, o)
			if len(out) >= batchSize {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeDataStore) MarkOrphanDeleted(ctx context.Context, id string, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orphans[id]
	o.DeletedAt = &deletedAt
	s.orphans[id] = o
	return nil
}

func (s *fakeDataStore) MarkOrphanRetry(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orphans[id]
	o.RetryCount++
	o.LastError = &errMsg
	s.orphans[id] = o
	return nil
}

func (s *fakeDataStore) ListDeadLetters(ctx context.Context, queue domain.QueueName, limit int) ([]ports.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.DeadLetterEntry
	for _, d := range s.deadLetters {
		if d.Queue == queue {
			out = append(out, d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// fakeObjectStorage is an in-memory ports.ObjectStorage.
type fakeObjectStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (s *fakeObjectStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStorage) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.Classify(domain.KindNotFound, "download", domain.ErrImageNotFound)
	}
	return data, nil
}

func (s *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeObjectStorage) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://storage.example/" + key, nil
}

func (s *fakeObjectStorage) PublicURL(key string) string {
	return "https://storage.example/" + key
}
