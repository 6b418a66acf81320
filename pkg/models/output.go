package models

import "fmt"

// OutputFlags describes the capabilities a sink declares
type OutputFlags uint32

const (
	FlagVideo      OutputFlags = 1 << 0
	FlagAudio      OutputFlags = 1 << 1
	FlagAV         OutputFlags = FlagVideo | FlagAudio
	FlagEncoded    OutputFlags = 1 << 2
	FlagService    OutputFlags = 1 << 3
	FlagMultiTrack OutputFlags = 1 << 4
)

// Has reports whether all bits of f2 are set
func (f OutputFlags) Has(f2 OutputFlags) bool {
	return f&f2 == f2
}

// DelayFlags controls delay buffer behavior
type DelayFlags uint32

const (
	// DelayPreserve keeps buffered packets across a disconnect/reconnect cycle
	DelayPreserve DelayFlags = 1 << 0
)

// MaxAudioMixes is the maximum number of audio tracks an output can carry
const MaxAudioMixes = 6

// StopCode is reported with the terminal stop event
type StopCode int

const (
	StopSuccess       StopCode = 0
	StopBadPath       StopCode = -1
	StopConnectFailed StopCode = -2
	StopInvalidStream StopCode = -3
	StopError         StopCode = -4
	StopDisconnected  StopCode = -5
	StopUnsupported   StopCode = -6
	StopNoSpace       StopCode = -7
)

func (c StopCode) String() string {
	switch c {
	case StopSuccess:
		return "success"
	case StopBadPath:
		return "bad_path"
	case StopConnectFailed:
		return "connect_failed"
	case StopInvalidStream:
		return "invalid_stream"
	case StopError:
		return "error"
	case StopDisconnected:
		return "disconnected"
	case StopUnsupported:
		return "unsupported"
	case StopNoSpace:
		return "no_space"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// OutputState represents the current lifecycle state of an output
type OutputState string

const (
	OutputStateIdle         OutputState = "idle"
	OutputStateStarting     OutputState = "starting"
	OutputStateActive       OutputState = "active"
	OutputStateStopping     OutputState = "stopping"
	OutputStateReconnecting OutputState = "reconnecting"
)

// OutputStats holds delivery counters and stop diagnostics
type OutputStats struct {
	TotalFrames        int     `json:"totalFrames"`        // Video frames delivered
	TotalBytes         uint64  `json:"totalBytes"`         // Bytes reported by the sink
	DroppedFrames      int     `json:"droppedFrames"`      // Frames dropped by the sink
	SkippedFrames      uint32  `json:"skippedFrames"`      // Frames skipped due to encoding lag
	LaggedFrames       uint32  `json:"laggedFrames"`       // Frames lagged due to rendering stalls
	Duration           float64 `json:"duration"`           // Seconds between first and last delivered PTS
	AbandonedQueueUsec int64   `json:"abandonedQueueUsec"` // Queue left undelivered on the last timed stop
	StopFrameQueued    bool    `json:"stopFrameQueued"`    // Whether the stop frame was queued at timeout
	ReconnectAttempts  int     `json:"reconnectAttempts"`  // Attempts in the current reconnect cycle
	DelayBuffered      int     `json:"delayBuffered"`      // Entries held in the delay buffer
}
