package domain

import "time"

type ImageID string

type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "PENDING"
	ImageStatusGenerating ImageStatus = "GENERATING"
	ImageStatusCompleted  ImageStatus = "COMPLETED"
	ImageStatusFailed     ImageStatus = "FAILED"
)

// Image is one of the four candidate artifacts generated for a Request.
type Image struct {
	ID           ImageID     `db:"id" json:"id"`
	RequestID    RequestID   `db:"request_id" json:"requestId"`
	Index        int         `db:"image_index" json:"index"`
	ImageURL     *string     `db:"image_url" json:"imageUrl,omitempty"`
	ImagePrompt  *string     `db:"image_prompt" json:"imagePrompt,omitempty"`
	ImageStatus  ImageStatus `db:"image_status" json:"imageStatus"`
	ErrorMessage *string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updatedAt"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completedAt,omitempty"`
}

// Terminal reports whether the image has reached a status it will never
// leave without external intervention (used by the "all four terminal"
// check in §4.6 step 7).
func (i Image) Terminal() bool {
	return i.ImageStatus == ImageStatusCompleted || i.ImageStatus == ImageStatusFailed
}

func NewImages(requestID RequestID, ids [4]ImageID, now time.Time) [4]Image {
	var imgs [4]Image
	for idx, id := range ids {
		imgs[idx] = Image{
			ID:          id,
			RequestID:   requestID,
			Index:       idx,
			ImageStatus: ImageStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return imgs
}
