package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

// ImageWorker is the handler registered with the image ports.JobQueue,
// grounded on the teacher's executeImageJob (worker_lifecycle.go): publish
// status, call the provider, download the result, persist, publish again.
type ImageWorker struct {
	store    ports.DataStore
	storage  ports.ObjectStorage
	bus      ports.EventBus
	provider ports.ImageProvider
	log      *slog.Logger
	client   *http.Client
}

func NewImageWorker(store ports.DataStore, storage ports.ObjectStorage, bus ports.EventBus, provider ports.ImageProvider, log *slog.Logger) *ImageWorker {
	return &ImageWorker{
		store:    store,
		storage:  storage,
		bus:      bus,
		provider: provider,
		log:      log,
		client:   &http.Client{Timeout: 45 * time.Second},
	}
}

// Handle implements the queue handler contract of §4.6.
func (w *ImageWorker) Handle(ctx context.Context, jobID string, payload domain.JobPayload) error {
	imageID := domain.ImageID(payload["image_id"])
	requestID := domain.RequestID(payload["request_id"])

	job, err := w.store.GetImageJob(ctx, jobID)
	if domain.KindOf(err) == domain.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	img, err := w.store.GetImage(ctx, imageID)
	if domain.KindOf(err) == domain.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	running, err := w.store.MarkImageJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	if err := w.store.SetImageGenerating(ctx, imageID); err != nil {
		return err
	}
	// Best-effort: the first image to start running flips the request out
	// of IMAGE_PENDING. A false return means another image already did.
	_, _ = w.store.UpdateRequestStatus(ctx, requestID, domain.RequestStatusImagePending, domain.RequestStatusImageGenerating)

	prompt := ""
	if img.ImagePrompt != nil {
		prompt = *img.ImagePrompt
	}
	w.publish(requestID, domain.EventImageGenerating, map[string]any{
		"imageId": imageID, "index": img.Index, "prompt": prompt,
	})

	imageURL, err := w.provider.Generate(ctx, prompt)
	if err != nil {
		return w.handleFailure(ctx, job, img, requestID, err)
	}

	data, ext, err := w.download(ctx, imageURL)
	if err != nil {
		return w.handleFailure(ctx, job, img, requestID, domain.Classify(domain.KindRetryable, "download generated image", err))
	}

	key := domain.ImageKey(imageID, img.Index, ext)
	if err := w.storage.Upload(ctx, key, data, contentTypeForExt(ext)); err != nil {
		return w.handleFailure(ctx, job, img, requestID, domain.Classify(domain.KindRetryable, "upload generated image", err))
	}

	completedAt := time.Now()
	storedURL := w.storage.PublicURL(key)
	if err := w.store.CompleteImage(ctx, imageID, jobID, storedURL, completedAt); err != nil {
		return err
	}
	w.publish(requestID, domain.EventImageCompleted, map[string]any{
		"imageId": imageID, "index": img.Index, "imageUrl": storedURL, "completedAt": completedAt,
	})

	return w.reconcileRequestPhase(ctx, requestID)
}

// handleFailure applies the §4.6 terminal-failure rule: fatal errors, or a
// retryable error on the last permitted attempt, mark the Image FAILED and
// notify subscribers. The classified error is still returned so the queue's
// own retry/dead-letter bookkeeping (which re-checks retry_count itself)
// stays in sync.
func (w *ImageWorker) handleFailure(ctx context.Context, job domain.ImageJob, img domain.Image, requestID domain.RequestID, err error) error {
	exhausted := job.RetryCount+1 >= job.MaxRetries
	if domain.KindOf(err) != domain.KindRetryable || exhausted {
		msg := err.Error()
		if failErr := w.store.FailImage(ctx, img.ID, msg); failErr != nil {
			w.log.Error("fail image", "image_id", img.ID, "error", failErr)
		}
		w.publish(requestID, domain.EventImageFailed, map[string]any{"imageId": img.ID, "index": img.Index, "errorMessage": msg})
		if reconcileErr := w.reconcileRequestPhase(ctx, requestID); reconcileErr != nil {
			w.log.Error("reconcile request phase after image failure", "request_id", requestID, "error", reconcileErr)
		}
	}
	return err
}

// reconcileRequestPhase implements §4.6 step 7: once every image for the
// request reaches a terminal status, move the request to AWAITING_SELECTION
// (all completed) or IMAGE_FAILED (at least one failed).
func (w *ImageWorker) reconcileRequestPhase(ctx context.Context, requestID domain.RequestID) error {
	images, err := w.store.ListImagesByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	allTerminal := true
	allCompleted := true
	anyFailed := false
	for _, img := range images {
		if !img.Terminal() {
			allTerminal = false
		}
		if img.ImageStatus != domain.ImageStatusCompleted {
			allCompleted = false
		}
		if img.ImageStatus == domain.ImageStatusFailed {
			anyFailed = true
		}
	}
	if !allTerminal {
		return nil
	}

	if allCompleted {
		ok, err := w.store.TransitionToAwaitingSelection(ctx, requestID)
		if err != nil {
			return err
		}
		if ok {
			w.publish(requestID, domain.EventTaskUpdated, map[string]any{
				"requestId": requestID, "status": domain.RequestStatusImageCompleted, "phase": domain.PhaseAwaitingSelection,
			})
		}
		return nil
	}

	if anyFailed {
		ok, err := w.store.UpdateRequestStatus(ctx, requestID, domain.RequestStatusImageGenerating, domain.RequestStatusImageFailed)
		if err != nil {
			return err
		}
		if ok {
			w.publish(requestID, domain.EventTaskUpdated, map[string]any{
				"requestId": requestID, "status": domain.RequestStatusImageFailed, "phase": domain.PhaseImageGeneration,
			})
		}
	}
	return nil
}

func (w *ImageWorker) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, extFromContentType(resp.Header.Get("Content-Type")), nil
}

func (w *ImageWorker) publish(requestID domain.RequestID, eventType domain.EventType, data any) {
	if err := w.bus.Publish(context.Background(), domain.Event{TaskID: requestID, EventType: eventType, Data: data}); err != nil {
		w.log.Warn("publish event", "request_id", requestID, "event_type", eventType, "error", err)
	}
}

func extFromContentType(ct string) string {
	switch ct {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

func contentTypeForExt(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
