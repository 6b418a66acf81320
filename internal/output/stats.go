package output

import (
	"rapidoutput/pkg/models"
)

// TotalBytes returns the bytes the sink has written. It reads 0 while a
// delay is buffering but not delivering.
func (o *Output) TotalBytes() uint64 {
	if o.delayActive.Load() && !o.delayCapturing.Load() {
		return 0
	}
	return o.sink.TotalBytes()
}

// TotalFrames returns the video frames delivered in the current session
func (o *Output) TotalFrames() int {
	o.interleavedMu.Lock()
	defer o.interleavedMu.Unlock()
	return o.totalFrames
}

// Duration returns the presentation time covered by the delivered packets,
// in seconds
func (o *Output) Duration() float64 {
	o.tsMu.Lock()
	defer o.tsMu.Unlock()

	if !o.hasTS {
		return 0
	}
	return float64(o.stopTS-o.startTS) / 1e6
}

// State derives the lifecycle state from the run flags
func (o *Output) State() models.OutputState {
	switch {
	case o.reconnecting.Load():
		return models.OutputStateReconnecting
	case o.stopping.Load():
		return models.OutputStateStopping
	case o.started.Load() && (o.active.Load() || o.delayActive.Load()):
		if o.delayActive.Load() && !o.delayCapturing.Load() {
			return models.OutputStateStarting
		}
		return models.OutputStateActive
	case o.holdsRef.Load():
		return models.OutputStateStarting
	default:
		return models.OutputStateIdle
	}
}

// Stats returns the delivery counters and the diagnostics of the last stop
func (o *Output) Stats() models.OutputStats {
	st := models.OutputStats{
		TotalFrames:       o.TotalFrames(),
		TotalBytes:        o.TotalBytes(),
		DroppedFrames:     o.sink.DroppedFrames(),
		Duration:          o.Duration(),
		ReconnectAttempts: o.reconnectAttempts(),
		DelayBuffered:     o.delay.Len(),
	}

	o.statsMu.Lock()
	st.AbandonedQueueUsec = o.abandonedUsec
	st.StopFrameQueued = o.stopFrameQueued
	start := o.startingCounters
	o.statsMu.Unlock()

	if o.video != nil {
		c := o.video.Counters()
		st.SkippedFrames = c.Skipped - start.Skipped
		st.LaggedFrames = c.Lagged - start.Lagged
	}
	return st
}

// Info returns the API view of the output
func (o *Output) Info() models.OutputInfo {
	sec, _ := o.Delay()
	return models.OutputInfo{
		ID:           o.id,
		Name:         o.name,
		Sink:         o.sink.Name(),
		State:        o.State(),
		Active:       o.Active(),
		Reconnecting: o.reconnecting.Load(),
		DelaySec:     sec,
		DelayActive:  o.delayActive.Load(),
		Stats:        o.Stats(),
	}
}

func percent(n, total uint32) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// logFrameInfo logs the frame counters of the session that just stopped
func (o *Output) logFrameInfo() {
	if o.video == nil {
		return
	}

	o.statsMu.Lock()
	start := o.startingCounters
	o.statsMu.Unlock()

	c := o.video.Counters()
	total := c.Total - start.Total
	drawn := c.Drawn - start.Drawn
	lagged := c.Lagged - start.Lagged
	skipped := c.Skipped - start.Skipped
	dropped := o.sink.DroppedFrames()
	encoded := o.TotalFrames()

	o.log.Infof("Output '%s': stopping", o.name)
	o.log.Infof("Output '%s': Total frames output: %d", o.name, encoded)
	o.log.Infof("Output '%s': Total drawn frames: %d (%d attempted)", o.name, drawn-lagged, drawn)
	if drawn > 0 {
		o.log.Infof("Output '%s': Number of lagged frames due to rendering lag/stalls: %d (%0.1f%%)",
			o.name, lagged, percent(lagged, drawn))
	}
	if total > 0 {
		o.log.Infof("Output '%s': Number of skipped frames due to encoding lag: %d (%0.1f%%)",
			o.name, skipped, percent(skipped, total))
	}
	if dropped > 0 && encoded > 0 {
		o.log.Infof("Output '%s': Number of dropped frames due to insufficient bandwidth/connection stalls: %d (%0.1f%%)",
			o.name, dropped, float64(dropped)/float64(encoded)*100)
	}

	o.statsMu.Lock()
	abandoned, queued := o.abandonedUsec, o.stopFrameQueued
	o.statsMu.Unlock()
	if abandoned > 0 {
		o.log.Infof("Output '%s': Abandoned %dus of queued data, stop frame queued: %t", o.name, abandoned, queued)
	}
}
