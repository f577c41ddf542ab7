package domain

// EventType enumerates the event names carried on the bus, per §4.4/§6.
type EventType string

const (
	EventImageGenerating EventType = "image:generating"
	EventImageCompleted  EventType = "image:completed"
	EventImageFailed     EventType = "image:failed"
	EventModelGenerating EventType = "model:generating"
	EventModelProgress   EventType = "model:progress"
	EventModelCompleted  EventType = "model:completed"
	EventModelFailed     EventType = "model:failed"
	EventTaskUpdated     EventType = "task:updated"
	EventTaskInit        EventType = "task:init"
	EventHeartbeat       EventType = "heartbeat"
	EventError           EventType = "error"
)

// Event is the wire envelope of §6: {taskId, eventType, data}.
type Event struct {
	TaskID    RequestID   `json:"taskId"`
	EventType EventType   `json:"eventType"`
	Data      interface{} `json:"data"`
}
