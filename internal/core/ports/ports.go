package ports

import (
	"context"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
)

// ObjectStorage is the keyed binary store of §4.2.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	// PublicURL returns the durable, storage-origin URL for key, before
	// the Data Store's proxy rewrite is applied.
	PublicURL(key string) string
}

// EnqueueOptions configures one job submission, §4.3.
type EnqueueOptions struct {
	Priority int
	Attempts int
}

// JobQueue is one of the two independent durable queues of §4.3. Handler
// return values drive the queue's retry/dead-letter bookkeeping: a nil
// error is success, a domain.KindRetryable classified error schedules a
// delayed retry, anything else dead-letters immediately.
type JobQueue interface {
	Enqueue(ctx context.Context, jobKey string, payload domain.JobPayload, opts EnqueueOptions) error
	// Run starts the bounded-concurrency consumer loop and blocks until
	// ctx is cancelled. handler receives the enqueued payload and the
	// underlying job id, and must return a classified error or nil.
	Run(ctx context.Context, concurrency int, handler func(ctx context.Context, jobID string, payload domain.JobPayload) error) error
}

// EventBus is the out-of-process publish/subscribe channel of §4.4.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	// Subscribe returns a channel of events for all requests; callers
	// filter by TaskID. Closing ctx stops delivery and closes the channel.
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// SubscriptionSink is a single streaming subscriber, §4.5: an opaque sink
// with Send and Close; it exposes no writable flag.
type SubscriptionSink interface {
	Send(event domain.Event) error
	Close()
}

// ImageProvider issues one generated image per call, or runs an
// async submit+poll cycle, per §6.
type ImageProvider interface {
	Generate(ctx context.Context, prompt string) (imageURL string, err error)
}

// Model3DProvider drives an external 3D-generation job, §6.
type Model3DProvider interface {
	Submit(ctx context.Context, imageURL string) (providerJobID string, err error)
	Poll(ctx context.Context, providerJobID string) (status ProviderJobStatus, progress *int, resultURL *string, err error)
}

type ProviderJobStatus string

const (
	ProviderJobRunning   ProviderJobStatus = "RUNNING"
	ProviderJobCompleted ProviderJobStatus = "COMPLETED"
	ProviderJobFailed    ProviderJobStatus = "FAILED"
)

// LLMProvider supports the prompt pre-processing side-task of createRequest.
type LLMProvider interface {
	Chat(ctx context.Context, system, user string) (string, error)
	Variants(ctx context.Context, user, system string) ([4]string, error)
}

// SlicerProvider is consumed only through submitPrintTask/getPrintStatus;
// the slicer/printer protocol itself is out of core scope (§1).
type SlicerProvider interface {
	CreateSliceTask(ctx context.Context, objectURL, fileName string) (sliceTaskID string, err error)
	GetSliceTaskStatus(ctx context.Context, id string) (status domain.PrintStatus, progress *int, gcodeURL *string, err error)
}
