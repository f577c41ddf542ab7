package domain

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusRetrying  JobStatus = "RETRYING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusTimeout   JobStatus = "TIMEOUT"
)

const DefaultMaxRetries = 3

// ImageJob is one-to-one with an Image.
type ImageJob struct {
	ID           string     `db:"id" json:"id"`
	ImageID      ImageID    `db:"image_id" json:"imageId"`
	RequestID    RequestID  `db:"request_id" json:"requestId"`
	Status       JobStatus  `db:"status" json:"status"`
	Priority     int        `db:"priority" json:"priority"`
	RetryCount   int        `db:"retry_count" json:"retryCount"`
	MaxRetries   int        `db:"max_retries" json:"maxRetries"`
	NextRetryAt  *time.Time `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	TimeoutAt    *time.Time `db:"timeout_at" json:"timeoutAt,omitempty"`
	ProviderName *string    `db:"provider_name" json:"providerName,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// ModelJob is one-to-one with a Model, adding monotonic progress.
type ModelJob struct {
	ID            string     `db:"id" json:"id"`
	ModelID       ModelID    `db:"model_id" json:"modelId"`
	RequestID     RequestID  `db:"request_id" json:"requestId"`
	Status        JobStatus  `db:"status" json:"status"`
	Priority      int        `db:"priority" json:"priority"`
	Progress      int        `db:"progress" json:"progress"`
	RetryCount    int        `db:"retry_count" json:"retryCount"`
	MaxRetries    int        `db:"max_retries" json:"maxRetries"`
	NextRetryAt   *time.Time `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	TimeoutAt     *time.Time `db:"timeout_at" json:"timeoutAt,omitempty"`
	ProviderName  *string    `db:"provider_name" json:"providerName,omitempty"`
	ProviderJobID *string    `db:"provider_job_id" json:"providerJobId,omitempty"`
	ErrorMessage  *string    `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// QueueName identifies one of the two independent queues of §4.3.
type QueueName string

const (
	QueueImage QueueName = "image"
	QueueModel QueueName = "model"
)

// JobTimeout returns the per-queue job_timeout default from §4.3.
func JobTimeout(q QueueName) time.Duration {
	switch q {
	case QueueImage:
		return 10 * time.Minute
	case QueueModel:
		return 30 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// Backoff computes the exponential retry delay, base 2s, for a given
// retry attempt number (1-indexed).
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := 2 * time.Second
	for i := 1; i < retryCount; i++ {
		d *= 2
	}
	const cap = 5 * time.Minute
	if d > cap {
		return cap
	}
	return d
}

// JobPayload is the small, ids-only map enqueued with a job (§4.3: "never
// entities"). Queue adapters marshal/unmarshal this to/from their storage.
type JobPayload map[string]string
