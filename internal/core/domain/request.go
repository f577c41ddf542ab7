package domain

import "time"

type RequestID string

type RequestStatus string

const (
	RequestStatusImagePending    RequestStatus = "IMAGE_PENDING"
	RequestStatusImageGenerating RequestStatus = "IMAGE_GENERATING"
	RequestStatusImageCompleted  RequestStatus = "IMAGE_COMPLETED"
	RequestStatusImageFailed     RequestStatus = "IMAGE_FAILED"
	RequestStatusModelPending    RequestStatus = "MODEL_PENDING"
	RequestStatusModelGenerating RequestStatus = "MODEL_GENERATING"
	RequestStatusModelCompleted  RequestStatus = "MODEL_COMPLETED"
	RequestStatusModelFailed     RequestStatus = "MODEL_FAILED"
	RequestStatusCompleted       RequestStatus = "COMPLETED"
	RequestStatusFailed          RequestStatus = "FAILED"
	RequestStatusCancelled       RequestStatus = "CANCELLED"
)

type Phase string

const (
	PhaseImageGeneration  Phase = "IMAGE_GENERATION"
	PhaseAwaitingSelection Phase = "AWAITING_SELECTION"
	PhaseModelGeneration  Phase = "MODEL_GENERATION"
	PhaseCompleted        Phase = "COMPLETED"
)

const MaxPromptLength = 500

// Request is the parent of a single image->model generation workflow.
type Request struct {
	ID                  RequestID     `db:"id" json:"id"`
	ExternalUserID      string        `db:"external_user_id" json:"externalUserId"`
	OriginalPrompt      string        `db:"original_prompt" json:"originalPrompt"`
	Status              RequestStatus `db:"status" json:"status"`
	Phase               Phase         `db:"phase" json:"phase"`
	SelectedImageIndex  *int          `db:"selected_image_index" json:"selectedImageIndex,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`
	CompletedAt         *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
}

// NewRequest builds a Request in its required creation-time state (§3:
// status=IMAGE_PENDING, phase=IMAGE_GENERATION, selected_image_index=null).
func NewRequest(id RequestID, userID, prompt string, now time.Time) Request {
	return Request{
		ID:             id,
		ExternalUserID: userID,
		OriginalPrompt: prompt,
		Status:         RequestStatusImagePending,
		Phase:          PhaseImageGeneration,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RequestSnapshot is the task:init payload: the request plus its owned
// images and, if one exists, its model. Built by the Data Store so URL
// rewriting (§6) happens in one place.
type RequestSnapshot struct {
	Request Request  `json:"request"`
	Images  []Image  `json:"images"`
	Model   *Model   `json:"model,omitempty"`
}
