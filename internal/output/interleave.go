package output

import (
	"fmt"

	"rapidoutput/pkg/models"
)

// preparePacket copies a packet handed out by an encoder, since the same
// packet goes to every output of the encoder, and resolves its audio track
func (o *Output) preparePacket(p *models.Packet) *models.Packet {
	out := *p
	if out.Type == models.TrackAudio {
		out.TrackIdx = o.audioTrackIndex(p.EncoderID)
	} else {
		out.TrackIdx = 0
	}
	return &out
}

// audioTrackIndex matches the producing encoder against the bound audio
// encoders. A packet from an encoder that is not bound cannot be placed on
// any track.
func (o *Output) audioTrackIndex(encoderID string) int {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()

	for i, enc := range o.audioEncoders {
		if enc != nil && enc.ID() == encoderID {
			return i
		}
	}
	panic(fmt.Sprintf("output %s: packet from unbound audio encoder %s", o.name, encoderID))
}

// sendDirect is the packet path of single-track sinks
func (o *Output) sendDirect(p *models.Packet) {
	if !o.active.Load() {
		return
	}
	out := o.preparePacket(p)

	o.interleavedMu.Lock()
	defer o.interleavedMu.Unlock()

	out.DTSUsec = out.NormalizedDTS()
	o.sendPacket(out)
}

// interleavePacket is the packet path of audio/video sinks
func (o *Output) interleavePacket(p *models.Packet) {
	if !o.active.Load() {
		return
	}
	out := o.preparePacket(p)

	o.interleavedMu.Lock()
	defer o.interleavedMu.Unlock()

	pruned := o.interleaver.Pruned()
	ready := o.interleaver.Push(out)

	if n := o.interleaver.Pruned() - pruned; n > 0 {
		o.m.RecordPruned(o.name, n)
		o.pruneLog.Do(func() {
			o.log.Debugf("Output '%s': pruned %d premature audio packets", o.name, n)
		})
	}

	if ready {
		o.sendInterleaved()
	}
}

// sendInterleaved delivers every front packet whose ordering is settled.
// Called with interleavedMu held.
func (o *Output) sendInterleaved() {
	for {
		if o.stopTimedOut.Load() {
			return
		}

		front, ok := o.interleaver.Front()
		if !ok {
			return
		}
		if o.handleStopTimeout() {
			return
		}
		if !o.interleaver.Ready(front) {
			return
		}

		o.sendPacket(o.interleaver.PopFront())
	}
}

// sendPacket hands one packet to the sink. Called with interleavedMu held.
func (o *Output) sendPacket(p *models.Packet) {
	if p.Type == models.TrackVideo {
		o.totalFrames++
	}

	o.sink.EncodedPacket(p)
	o.updateTimestamps(p)
	o.m.RecordPacket(o.name, p.Type, len(p.Data))

	if p.Type != models.TrackVideo {
		return
	}

	if p.TrackedID != 0 {
		o.m.RecordTrackedFrame(o.name)
		o.emit(models.Event{
			Type:        models.EventSentTrackedFrame,
			TrackedID:   p.TrackedID,
			FrameNumber: o.totalFrames,
			PTS:         p.PTS,
			TimebaseDen: p.TimebaseDen,
		})
	}

	if o.stopping.Load() {
		o.handleQueuedStop(p)
	}
}

func (o *Output) updateTimestamps(p *models.Packet) {
	pts := models.ToMicroseconds(p.PTS, p.TimebaseNum, p.TimebaseDen)

	o.tsMu.Lock()
	defer o.tsMu.Unlock()

	if !o.hasTS {
		o.startTS = pts
		o.hasTS = true
	}
	if pts > o.stopTS {
		o.stopTS = pts
	}
}

// PushRawVideo hands a raw frame to a raw sink
func (o *Output) PushRawVideo(frame *models.VideoFrame) {
	if !o.active.Load() {
		return
	}

	o.interleavedMu.Lock()
	o.totalFrames++
	o.interleavedMu.Unlock()

	o.sink.RawVideo(frame)
}

// PushRawAudio hands raw audio of one mix to a raw sink
func (o *Output) PushRawAudio(mix int, frame *models.AudioFrame) {
	if !o.active.Load() {
		return
	}
	o.sink.RawAudio(mix, frame)
}
