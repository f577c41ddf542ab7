package domain

import "time"

type ModelID string

type ModelSource string

const (
	ModelSourceAIGenerated   ModelSource = "AI_GENERATED"
	ModelSourceUserUploaded  ModelSource = "USER_UPLOADED"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

type PrintStatus string

const (
	PrintStatusNotStarted    PrintStatus = "NOT_STARTED"
	PrintStatusSlicing       PrintStatus = "SLICING"
	PrintStatusSliceComplete PrintStatus = "SLICE_COMPLETE"
	PrintStatusPrinting      PrintStatus = "PRINTING"
	PrintStatusPrintComplete PrintStatus = "PRINT_COMPLETE"
	PrintStatusFailed        PrintStatus = "FAILED"
)

// PrintProgress is the fixed progress map from §4.8's getPrintStatus.
var PrintProgress = map[PrintStatus]int{
	PrintStatusNotStarted:    0,
	PrintStatusSlicing:       30,
	PrintStatusSliceComplete: 50,
	PrintStatusPrinting:      75,
	PrintStatusPrintComplete: 100,
	PrintStatusFailed:        0,
}

const DefaultModelFormat = "OBJ"

// Model is the 3D artifact produced for a chosen image.
type Model struct {
	ID               ModelID     `db:"id" json:"id"`
	ExternalUserID   string      `db:"external_user_id" json:"externalUserId"`
	Source           ModelSource `db:"source" json:"source"`
	RequestID        *RequestID  `db:"request_id" json:"requestId,omitempty"`
	SourceImageID    *ImageID    `db:"source_image_id" json:"sourceImageId,omitempty"`
	Name             string      `db:"name" json:"name"`
	ModelURL         *string     `db:"model_url" json:"modelUrl,omitempty"`
	MTLURL           *string     `db:"mtl_url" json:"mtlUrl,omitempty"`
	TextureURL       *string     `db:"texture_url" json:"textureUrl,omitempty"`
	PreviewImageURL  *string     `db:"preview_image_url" json:"previewImageUrl,omitempty"`
	Format           string      `db:"format" json:"format"`
	FileSize         *int64      `db:"file_size" json:"fileSize,omitempty"`
	Visibility       Visibility  `db:"visibility" json:"visibility"`
	PublishedAt      *time.Time  `db:"published_at" json:"publishedAt,omitempty"`
	ViewCount        int         `db:"view_count" json:"viewCount"`
	LikeCount        int         `db:"like_count" json:"likeCount"`
	FavoriteCount    int         `db:"favorite_count" json:"favoriteCount"`
	DownloadCount    int         `db:"download_count" json:"downloadCount"`
	SliceTaskID      *string     `db:"slice_task_id" json:"sliceTaskId,omitempty"`
	PrintStatus      PrintStatus `db:"print_status" json:"printStatus"`
	ErrorMessage     *string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updatedAt"`
	CompletedAt      *time.Time  `db:"completed_at" json:"completedAt,omitempty"`
	FailedAt         *time.Time  `db:"failed_at" json:"failedAt,omitempty"`
}

// OrphanedFile records a storage key whose owning row was deleted but
// whose object-storage blob deletion failed, so the sweeper (§4.9) can
// retry it independently of the request lifecycle.
type OrphanedFile struct {
	ID         string     `db:"id" json:"id"`
	S3Key      string     `db:"s3_key" json:"s3Key"`
	RequestID  RequestID  `db:"request_id" json:"requestId"`
	RetryCount int        `db:"retry_count" json:"retryCount"`
	LastError  *string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}
