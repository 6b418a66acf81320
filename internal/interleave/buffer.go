// Package interleave merges independently produced video and audio packet
// streams into one sequence ordered by normalized decode time.
package interleave

import (
	"rapidoutput/pkg/models"
)

// Buffer holds packets ordered by DTSUsec until they can be delivered.
// It is not safe for concurrent use; the owning output serializes access.
type Buffer struct {
	packets []*models.Packet

	audioTracks int // required audio tracks

	receivedVideo bool
	receivedAudio bool

	videoOffset  int64
	audioOffsets [models.MaxAudioMixes]int64

	highestVideoTS int64
	highestAudioTS int64

	pruned int
}

// New creates an interleave buffer waiting for one video track and
// audioTracks audio tracks
func New(audioTracks int) *Buffer {
	if audioTracks < 1 {
		audioTracks = 1
	}
	if audioTracks > models.MaxAudioMixes {
		audioTracks = models.MaxAudioMixes
	}
	return &Buffer{audioTracks: audioTracks}
}

// Reset drops all buffered packets and timing state
func (b *Buffer) Reset(audioTracks int) {
	*b = *New(audioTracks)
}

// Started reports whether every required track has been seen and the zero
// offsets are applied
func (b *Buffer) Started() bool {
	return b.receivedVideo && b.receivedAudio
}

// Push inserts a packet the buffer now owns. It returns true when the buffer
// is initialized and the front packet may be checked for delivery.
func (b *Buffer) Push(p *models.Packet) bool {
	wasStarted := b.Started()

	if wasStarted {
		b.applyOffset(p)
	} else {
		p.DTSUsec = p.NormalizedDTS()
		b.checkReceived(p)
	}

	b.insert(p)
	b.setHigherTS(p)

	if !b.Started() {
		return false
	}
	if wasStarted {
		return true
	}

	b.prune()
	if !b.initialize() {
		return false
	}
	b.resort()
	return true
}

// Front returns the oldest buffered packet
func (b *Buffer) Front() (*models.Packet, bool) {
	if len(b.packets) == 0 {
		return nil, false
	}
	return b.packets[0], true
}

// Ready reports whether a packet of the opposite type with a strictly later
// normalized decode time has been seen, so nothing earlier than p can still
// arrive on p's track unnoticed.
func (b *Buffer) Ready(p *models.Packet) bool {
	if p.Type == models.TrackVideo {
		return b.highestAudioTS > p.DTSUsec
	}
	return b.highestVideoTS > p.DTSUsec
}

// PopFront removes and returns the oldest buffered packet
func (b *Buffer) PopFront() *models.Packet {
	if len(b.packets) == 0 {
		return nil
	}
	p := b.packets[0]
	b.packets[0] = nil
	b.packets = b.packets[1:]
	return p
}

// Len returns the number of buffered packets
func (b *Buffer) Len() int {
	return len(b.packets)
}

// Pruned returns the number of packets discarded before initialization
func (b *Buffer) Pruned() int {
	return b.pruned
}

// QueueSpanUsec returns the normalized time between the oldest buffered
// packet and the first packet carrying trackedID, or the newest buffered
// packet when none does. found reports whether the tracked packet is queued.
func (b *Buffer) QueueSpanUsec(trackedID uint64) (span int64, found bool) {
	n := len(b.packets)
	if n == 0 {
		return 0, false
	}

	last := b.packets[n-1]
	if trackedID != 0 {
		for _, p := range b.packets {
			if p.TrackedID == trackedID {
				last, found = p, true
				break
			}
		}
	}

	return last.DTSUsec - b.packets[0].DTSUsec, found
}

func (b *Buffer) checkReceived(p *models.Packet) {
	if p.Type == models.TrackVideo {
		b.receivedVideo = true
	} else {
		b.receivedAudio = true
	}
}

// applyOffset shifts the packet so every track starts at zero and
// recomputes its normalized decode time
func (b *Buffer) applyOffset(p *models.Packet) {
	var offset int64
	if p.Type == models.TrackVideo {
		offset = b.videoOffset
	} else {
		offset = b.audioOffsets[p.TrackIdx]
	}

	p.DTS -= offset
	p.PTS -= offset
	p.DTSUsec = p.NormalizedDTS()
}

func (b *Buffer) setHigherTS(p *models.Packet) {
	if p.Type == models.TrackVideo {
		if b.highestVideoTS < p.DTSUsec {
			b.highestVideoTS = p.DTSUsec
		}
	} else {
		if b.highestAudioTS < p.DTSUsec {
			b.highestAudioTS = p.DTSUsec
		}
	}
}

// insert places p after every packet with an equal or lower DTSUsec so that
// per-track arrival order is kept
func (b *Buffer) insert(p *models.Packet) {
	idx := 0
	for ; idx < len(b.packets); idx++ {
		if p.DTSUsec < b.packets[idx].DTSUsec {
			break
		}
	}

	b.packets = append(b.packets, nil)
	copy(b.packets[idx+1:], b.packets[idx:])
	b.packets[idx] = p
}

func (b *Buffer) resort() {
	old := b.packets
	b.packets = make([]*models.Packet, 0, len(old))
	for _, p := range old {
		b.insert(p)
	}
}

// canPrune assumes audio arrives no later than its paired video, so leading
// audio without a video packet at the same time can never be delivered.
func (b *Buffer) canPrune(idx int) bool {
	if idx >= len(b.packets)-1 {
		return false
	}

	p := b.packets[idx]
	if p.Type != models.TrackAudio {
		return false
	}

	next := b.packets[idx+1]
	if next.Type == models.TrackVideo && next.DTSUsec == p.DTSUsec {
		return false
	}

	return true
}

func (b *Buffer) prune() {
	start := 0
	for b.canPrune(start) {
		start++
	}

	if start > 0 {
		for i := 0; i < start; i++ {
			b.packets[i] = nil
		}
		b.packets = b.packets[start:]
		b.pruned += start
	}
}

func (b *Buffer) findFirst(t models.TrackType, audioIdx int) *models.Packet {
	for _, p := range b.packets {
		if p.Type != t {
			continue
		}
		if t == models.TrackAudio && p.TrackIdx != audioIdx {
			continue
		}
		return p
	}
	return nil
}

// initialize records the first decode time of every track as its zero
// offset and rewrites the buffered packets. It fails while any required
// track has no buffered packet.
func (b *Buffer) initialize() bool {
	var audio [models.MaxAudioMixes]*models.Packet

	video := b.findFirst(models.TrackVideo, 0)
	if video == nil {
		b.receivedVideo = false
	}

	for i := 0; i < b.audioTracks; i++ {
		audio[i] = b.findFirst(models.TrackAudio, i)
		if audio[i] == nil {
			b.receivedAudio = false
			return false
		}
	}

	if video == nil {
		return false
	}

	b.videoOffset = video.DTS
	for i := 0; i < b.audioTracks; i++ {
		b.audioOffsets[i] = audio[i].DTS
	}

	b.highestAudioTS -= audio[0].DTSUsec
	b.highestVideoTS -= video.DTSUsec

	for _, p := range b.packets {
		b.applyOffset(p)
	}

	return true
}
