// Package media models the raw capture pipeline that feeds encoders and
// raw outputs: frame fan-out, frame counters and tracked frame ids.
package media

import (
	"sync"
	"sync/atomic"

	"rapidoutput/pkg/models"
)

// VideoFunc receives raw video frames
type VideoFunc func(*models.VideoFrame)

type videoConsumer struct {
	owner any
	fn    VideoFunc
}

// FrameCounters is a snapshot of the pipeline frame counters
type FrameCounters struct {
	Total   uint32 // Frames output by the pipeline
	Skipped uint32 // Frames skipped due to encoding lag
	Drawn   uint32 // Frames rendered
	Lagged  uint32 // Frames lagged due to rendering stalls
}

// Video fans raw frames out to connected consumers
type Video struct {
	width  int
	height int

	consumers []videoConsumer
	mu        sync.RWMutex

	idMu      sync.Mutex
	lastID    uint64
	pendingID uint64

	total   atomic.Uint32
	skipped atomic.Uint32
	drawn   atomic.Uint32
	lagged  atomic.Uint32
}

// NewVideo creates a video pipeline producing frames of the given size
func NewVideo(width, height int) *Video {
	return &Video{width: width, height: height}
}

// Size returns the frame dimensions
func (v *Video) Size() (width, height int) {
	return v.width, v.height
}

// Connect adds a consumer. Connecting the same owner twice replaces its
// callback.
func (v *Video) Connect(owner any, fn VideoFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, c := range v.consumers {
		if c.owner == owner {
			v.consumers[i].fn = fn
			return
		}
	}
	v.consumers = append(v.consumers, videoConsumer{owner: owner, fn: fn})
}

// Disconnect removes the consumer registered by owner
func (v *Video) Disconnect(owner any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, c := range v.consumers {
		if c.owner == owner {
			v.consumers = append(v.consumers[:i], v.consumers[i+1:]...)
			return
		}
	}
}

// Connected returns the number of consumers
func (v *Video) Connected() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.consumers)
}

// NextTrackedFrameID returns the tracked id the next pushed frame will carry.
// Ids are process-wide and increase monotonically; callers asking before the
// same frame share its id.
func (v *Video) NextTrackedFrameID() uint64 {
	v.idMu.Lock()
	defer v.idMu.Unlock()

	if v.pendingID == 0 {
		v.lastID++
		v.pendingID = v.lastID
	}
	return v.pendingID
}

// Push tags the frame with the pending tracked id, if any, and delivers it
// to every consumer
func (v *Video) Push(frame *models.VideoFrame) {
	v.idMu.Lock()
	frame.TrackedID = v.pendingID
	v.pendingID = 0
	v.idMu.Unlock()

	v.total.Add(1)
	v.drawn.Add(1)

	v.mu.RLock()
	consumers := make([]videoConsumer, len(v.consumers))
	copy(consumers, v.consumers)
	v.mu.RUnlock()

	for _, c := range consumers {
		c.fn(frame)
	}
}

// Skip records a frame dropped because encoding fell behind
func (v *Video) Skip() {
	v.total.Add(1)
	v.skipped.Add(1)
}

// Lag records a frame the renderer failed to produce in time
func (v *Video) Lag() {
	v.drawn.Add(1)
	v.lagged.Add(1)
}

// Counters returns the frame counters
func (v *Video) Counters() FrameCounters {
	return FrameCounters{
		Total:   v.total.Load(),
		Skipped: v.skipped.Load(),
		Drawn:   v.drawn.Load(),
		Lagged:  v.lagged.Load(),
	}
}
