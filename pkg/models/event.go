package models

// EventType names an observable output signal
type EventType string

const (
	EventStart            EventType = "start"
	EventStop             EventType = "stop"
	EventStarting         EventType = "starting"
	EventStopping         EventType = "stopping"
	EventActivate         EventType = "activate"
	EventDeactivate       EventType = "deactivate"
	EventReconnect        EventType = "reconnect"
	EventReconnectSuccess EventType = "reconnect_success"
	EventSentTrackedFrame EventType = "sent_tracked_frame"
)

// Event carries the parameters of an output signal.
// Only the fields relevant to the event type are set.
type Event struct {
	Type        EventType `json:"type"`
	Output      string    `json:"output"`                // Name of the emitting output
	Code        StopCode  `json:"code"`                  // stop
	TimeoutSec  int       `json:"timeoutSec,omitempty"`  // reconnect
	TrackedID   uint64    `json:"trackedId,omitempty"`   // sent_tracked_frame
	FrameNumber int       `json:"frameNumber,omitempty"` // sent_tracked_frame
	PTS         int64     `json:"pts,omitempty"`         // sent_tracked_frame
	TimebaseDen int32     `json:"timebaseDen,omitempty"` // sent_tracked_frame
}
