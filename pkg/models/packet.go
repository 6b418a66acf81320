package models

// TrackType identifies the kind of media a packet or encoder carries
type TrackType int

const (
	TrackVideo TrackType = iota
	TrackAudio
)

// String returns the lowercase name used in logs and metric labels
func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Drop priorities stamped by the encoder. Network sinks shed lower
// priorities first when their send queue backs up.
const (
	PriorityLow     = iota // non-key video
	PriorityHigh           // audio
	PriorityHighest        // video keyframes
)

// Packet represents a single encoded audio or video packet
type Packet struct {
	Type        TrackType // Video or audio
	TrackIdx    int       // Audio track (mixer) index, 0 for video
	DTS         int64     // Decode timestamp in timebase units
	PTS         int64     // Presentation timestamp in timebase units
	TimebaseNum int32     // Timebase numerator
	TimebaseDen int32     // Timebase denominator
	DTSUsec     int64     // Decode time normalized to microseconds
	TrackedID   uint64    // Tracked video frame id, 0 if untracked
	Keyframe    bool      // true for IDR frames (video only)
	Priority    int       // Drop priority hint for network sinks
	Data        []byte    // Encoded payload
	EncoderID   string    // Identity of the producing encoder
}

// NormalizedDTS converts the decode timestamp to microseconds
func (p *Packet) NormalizedDTS() int64 {
	return ToMicroseconds(p.DTS, p.TimebaseNum, p.TimebaseDen)
}

// Clone duplicates the packet, including its payload
func (p *Packet) Clone() *Packet {
	out := *p
	if p.Data != nil {
		out.Data = make([]byte, len(p.Data))
		copy(out.Data, p.Data)
	}
	return &out
}

// ToMicroseconds converts a timestamp in num/den units to microseconds
func ToMicroseconds(ts int64, num, den int32) int64 {
	if den == 0 {
		return 0
	}
	if num == 0 {
		num = 1
	}
	return ts * 1000000 * int64(num) / int64(den)
}

// ToMilliseconds converts a timestamp in num/den units to milliseconds
func ToMilliseconds(ts int64, num, den int32) int64 {
	if den == 0 {
		return 0
	}
	if num == 0 {
		num = 1
	}
	return ts * 1000 * int64(num) / int64(den)
}

// VideoFrame is a raw (non-encoded) video frame
type VideoFrame struct {
	Timestamp uint64   // System time in nanoseconds
	Width     int      // Frame width
	Height    int      // Frame height
	Planes    [][]byte // Plane data
	TrackedID uint64   // Tracked frame id, 0 if untracked
}

// AudioFrame is a block of raw audio samples for one mix
type AudioFrame struct {
	Timestamp uint64   // System time in nanoseconds
	Frames    int      // Number of sample frames
	Planes    [][]byte // Plane data
}
