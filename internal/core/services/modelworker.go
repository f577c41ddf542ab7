package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

const modelPollInterval = 5 * time.Second

// ModelWorker is the handler registered with the model ports.JobQueue, per
// §4.7: submit to the external 3D provider, poll for progress, unpack and
// re-host the resulting archive under the model's storage key prefix.
type ModelWorker struct {
	store    ports.DataStore
	storage  ports.ObjectStorage
	bus      ports.EventBus
	provider ports.Model3DProvider
	log      *slog.Logger
	client   *http.Client
}

func NewModelWorker(store ports.DataStore, storage ports.ObjectStorage, bus ports.EventBus, provider ports.Model3DProvider, log *slog.Logger) *ModelWorker {
	return &ModelWorker{
		store:    store,
		storage:  storage,
		bus:      bus,
		provider: provider,
		log:      log,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *ModelWorker) Handle(ctx context.Context, jobID string, payload domain.JobPayload) error {
	modelID := domain.ModelID(payload["model_id"])
	requestID := domain.RequestID(payload["request_id"])

	job, err := w.store.GetModelJob(ctx, jobID)
	if domain.KindOf(err) == domain.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	model, err := w.store.GetModel(ctx, modelID)
	if domain.KindOf(err) == domain.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	running, err := w.store.MarkModelJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	if err := w.store.SetModelGenerating(ctx, modelID); err != nil {
		return err
	}
	w.publish(requestID, domain.EventModelGenerating, map[string]any{"modelId": modelID})

	sourceImageURL, err := w.sourceImageURL(ctx, model)
	if err != nil {
		return w.handleFailure(ctx, job, model, requestID, err)
	}

	providerJobID, err := w.provider.Submit(ctx, sourceImageURL)
	if err != nil {
		return w.handleFailure(ctx, job, model, requestID, err)
	}
	if err := w.store.SetModelJobProviderID(ctx, jobID, providerJobID); err != nil {
		return err
	}

	resultURL, err := w.pollUntilDone(ctx, jobID, modelID, requestID, providerJobID)
	if err != nil {
		return w.handleFailure(ctx, job, model, requestID, err)
	}

	archive, err := w.fetch(ctx, resultURL)
	if err != nil {
		return w.handleFailure(ctx, job, model, requestID, domain.Classify(domain.KindRetryable, "download model result", err))
	}

	modelURL, mtlURL, textureURL, err := w.unpackAndUpload(ctx, modelID, archive, model.Format)
	if err != nil {
		return w.handleFailure(ctx, job, model, requestID, err)
	}

	previewURL, err := w.uploadPreview(ctx, modelID, sourceImageURL)
	if err != nil {
		w.log.Warn("upload preview", "model_id", modelID, "error", err)
	}

	completedAt := time.Now()
	format := model.Format
	if format == "" {
		format = domain.DefaultModelFormat
	}
	if err := w.store.CompleteModel(ctx, modelID, jobID, &modelURL, mtlURL, textureURL, previewURL, format, completedAt); err != nil {
		return err
	}

	w.publish(requestID, domain.EventModelCompleted, map[string]any{
		"modelId": modelID, "modelUrl": modelURL, "mtlUrl": mtlURL, "textureUrl": textureURL,
		"previewImageUrl": previewURL, "format": format, "completedAt": completedAt,
	})
	w.publish(requestID, domain.EventTaskUpdated, map[string]any{
		"requestId": requestID, "status": domain.RequestStatusCompleted, "phase": domain.PhaseCompleted,
	})
	return nil
}

func (w *ModelWorker) sourceImageURL(ctx context.Context, model domain.Model) (string, error) {
	if model.SourceImageID == nil {
		return "", domain.Classify(domain.KindFatal, "resolve source image", fmt.Errorf("model has no source image"))
	}
	img, err := w.store.GetImage(ctx, *model.SourceImageID)
	if err != nil {
		return "", err
	}
	if img.ImageURL == nil {
		return "", domain.Classify(domain.KindFatal, "resolve source image", fmt.Errorf("source image has no url"))
	}
	return *img.ImageURL, nil
}

// pollUntilDone implements §4.7 step 4: bounded polling, monotonic progress
// updates, capped at the model queue's job_timeout.
func (w *ModelWorker) pollUntilDone(ctx context.Context, jobID string, modelID domain.ModelID, requestID domain.RequestID, providerJobID string) (string, error) {
	deadline := time.Now().Add(domain.JobTimeout(domain.QueueModel))
	ticker := time.NewTicker(modelPollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return "", domain.Classify(domain.KindRetryable, "poll model provider", fmt.Errorf("job_timeout exceeded"))
		}

		status, progress, resultURL, err := w.provider.Poll(ctx, providerJobID)
		if err != nil {
			return "", err
		}

		if progress != nil {
			updated, err := w.store.UpdateModelJobProgress(ctx, jobID, *progress)
			if err != nil {
				return "", err
			}
			if updated {
				w.publish(requestID, domain.EventModelProgress, map[string]any{"modelId": modelID, "progress": *progress})
			}
		}

		switch status {
		case ports.ProviderJobCompleted:
			if resultURL == nil || *resultURL == "" {
				return "", domain.Classify(domain.KindFatal, "model provider completion", fmt.Errorf("completed with no result url"))
			}
			return *resultURL, nil
		case ports.ProviderJobFailed:
			return "", domain.Classify(domain.KindRetryable, "model provider job", fmt.Errorf("provider reported failure"))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ModelWorker) handleFailure(ctx context.Context, job domain.ModelJob, model domain.Model, requestID domain.RequestID, err error) error {
	exhausted := job.RetryCount+1 >= job.MaxRetries
	if domain.KindOf(err) != domain.KindRetryable || exhausted {
		msg := err.Error()
		if failErr := w.store.FailModel(ctx, model.ID, msg, time.Now()); failErr != nil {
			w.log.Error("fail model", "model_id", model.ID, "error", failErr)
		}
		w.publish(requestID, domain.EventModelFailed, map[string]any{"modelId": model.ID, "errorMessage": msg})
	}
	return err
}

var mtlTextureRef = regexp.MustCompile(`(?i)^(map_Kd|map_Ka|map_Ks|map_Bump|map_d|bump)\s+(.+)$`)

// unpackAndUpload implements §4.7 step 6: a ZIP archive (or a declared OBJ
// format) is unpacked and must hold exactly one .obj (none, or more than
// one, is fatal). The .mtl and the texture image are optional; if several
// are present the last in archive order is used, and the .mtl is uploaded
// only when a texture is uploaded with it. Anything else is uploaded
// verbatim as model.<format>.
func (w *ModelWorker) unpackAndUpload(ctx context.Context, modelID domain.ModelID, data []byte, format string) (modelURL string, mtlURL, textureURL *string, err error) {
	isZip := len(data) >= 2 && data[0] == 'P' && data[1] == 'K'
	isOBJ := strings.EqualFold(format, "obj") || strings.EqualFold(format, domain.DefaultModelFormat)

	if !isZip && !isOBJ {
		key := domain.ModelKey(modelID, strings.ToLower(format))
		if err := w.storage.Upload(ctx, key, data, "application/octet-stream"); err != nil {
			return "", nil, nil, domain.Classify(domain.KindRetryable, "upload model file", err)
		}
		return w.storage.PublicURL(key), nil, nil, nil
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "open model archive", err)
	}

	var objFile, mtlFile *zip.File
	var textureFile *zip.File
	for _, f := range reader.File {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".obj":
			if objFile != nil {
				return "", nil, nil, domain.Classify(domain.KindFatal, "unpack model archive", domain.ErrMultipleOBJ)
			}
			objFile = f
		case ".mtl":
			mtlFile = f
		case ".png", ".jpg", ".jpeg":
			textureFile = f
		}
	}
	if objFile == nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "unpack model archive", fmt.Errorf("no .obj entry found"))
	}

	objBytes, err := readZipFile(objFile)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "read obj entry", err)
	}
	objKey := domain.ModelKey(modelID, "obj")
	if err := w.storage.Upload(ctx, objKey, objBytes, "model/obj"); err != nil {
		return "", nil, nil, domain.Classify(domain.KindRetryable, "upload obj", err)
	}
	modelURL = w.storage.PublicURL(objKey)

	if textureFile != nil {
		texBytes, err := readZipFile(textureFile)
		if err != nil {
			return "", nil, nil, domain.Classify(domain.KindFatal, "read texture entry", err)
		}
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(textureFile.Name)), ".")
		texKey := domain.ModelTextureKey(modelID, ext)
		if err := w.storage.Upload(ctx, texKey, texBytes, contentTypeForExt(ext)); err != nil {
			return "", nil, nil, domain.Classify(domain.KindRetryable, "upload texture", err)
		}
		u := w.storage.PublicURL(texKey)
		textureURL = &u

		if mtlFile != nil {
			mtlBytes, err := readZipFile(mtlFile)
			if err != nil {
				return "", nil, nil, domain.Classify(domain.KindFatal, "read mtl entry", err)
			}
			rewritten := rewriteMTL(string(mtlBytes), path.Base(textureFile.Name), "material."+ext)
			mtlKey := domain.ModelMTLKey(modelID)
			if err := w.storage.Upload(ctx, mtlKey, []byte(rewritten), "text/plain"); err != nil {
				return "", nil, nil, domain.Classify(domain.KindRetryable, "upload mtl", err)
			}
			u := w.storage.PublicURL(mtlKey)
			mtlURL = &u
		}
	}

	return modelURL, mtlURL, textureURL, nil
}

// rewriteMTL rewrites every texture reference line (map_Kd, map_Ka, map_Ks,
// map_Bump, map_d, bump, and bare filename references) so the material file
// points at the re-hosted texture name rather than the original filename.
func rewriteMTL(contents, originalTextureName, newTextureName string) string {
	lines := strings.Split(contents, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if m := mtlTextureRef.FindStringSubmatch(trimmed); m != nil {
			lines[i] = m[1] + " " + newTextureName
			continue
		}
		if strings.Contains(trimmed, originalTextureName) {
			lines[i] = strings.ReplaceAll(trimmed, originalTextureName, newTextureName)
		}
	}
	return strings.Join(lines, "\n")
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// uploadPreview re-hosts the request's source image as the model's preview
// thumbnail; the external 3D providers in this deployment don't return a
// distinct rendered preview, so the input image stands in for one.
func (w *ModelWorker) uploadPreview(ctx context.Context, modelID domain.ModelID, sourceImageURL string) (*string, error) {
	data, err := w.fetch(ctx, sourceImageURL)
	if err != nil {
		return nil, err
	}
	key := domain.ModelPreviewKey(modelID)
	if err := w.storage.Upload(ctx, key, data, "image/png"); err != nil {
		return nil, err
	}
	u := w.storage.PublicURL(key)
	return &u, nil
}

func (w *ModelWorker) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (w *ModelWorker) publish(requestID domain.RequestID, eventType domain.EventType, data any) {
	if err := w.bus.Publish(context.Background(), domain.Event{TaskID: requestID, EventType: eventType, Data: data}); err != nil {
		w.log.Warn("publish event", "request_id", requestID, "event_type", eventType, "error", err)
	}
}
