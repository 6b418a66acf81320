package output

import (
	"math"
	"time"

	"rapidoutput/pkg/models"
)

// noDeadline is the hard stop value of a stop that waits for its stop frame
// however long it takes
const noDeadline = math.MaxInt64

// Stop stops the output once the frame live at the time of the call has
// been delivered
func (o *Output) Stop() bool {
	return o.stopWithDeadline(noDeadline)
}

// StopWithTimeout stops the output once the frame live at the time of the
// call has been delivered, or after timeoutMs, whichever comes first.
// A zero timeout stops at the next delivery attempt.
func (o *Output) StopWithTimeout(timeoutMs uint64) bool {
	return o.stopWithDeadline(deadlineAfter(o.now(), timeoutMs))
}

// deadlineAfter returns now+timeout in unix nanoseconds, saturating to
// noDeadline
func deadlineAfter(now time.Time, timeoutMs uint64) int64 {
	ns := now.UnixNano()
	if timeoutMs > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return noDeadline
	}
	d := int64(timeoutMs) * int64(time.Millisecond)
	if ns > math.MaxInt64-d {
		return noDeadline
	}
	return ns + d
}

func (o *Output) stopWithDeadline(deadline int64) bool {
	if o.reconnecting.Load() {
		o.ForceStop()
		return true
	}
	if !o.started.Load() {
		o.log.Debugf("Output '%s': stop requested while not started", o.name)
		return false
	}
	if !o.stopping.CompareAndSwap(false, true) {
		o.log.Debugf("Output '%s': already stopping", o.name)
		return false
	}

	if o.delayActive.Load() {
		o.stopping.Store(false)
		o.delayStop()
		return true
	}

	if o.video != nil && o.coordinatedStopReady() {
		o.hardStop.Store(deadline)
		o.stopFrameID.Store(o.video.NextTrackedFrameID())
		o.log.Infof("Output '%s': stopping at frame %d", o.name, o.stopFrameID.Load())
		o.emit(models.Event{Type: models.EventStopping})
		o.armStopDeadline(deadline)
		return true
	}

	o.log.Infof("Output '%s': stopping", o.name)
	o.emit(models.Event{Type: models.EventStopping})
	o.stopping.Store(false)
	o.actualStop(false)
	return true
}

// coordinatedStopReady reports whether packets flow through the
// interleaver and it has seen every track
func (o *Output) coordinatedStopReady() bool {
	o.capMu.Lock()
	c := o.wiring
	o.capMu.Unlock()

	if !c.encoded || !c.video || !c.audio {
		return false
	}

	o.interleavedMu.Lock()
	defer o.interleavedMu.Unlock()
	return o.interleaver.Started()
}

// ForceStop stops the output immediately, superseding any pending timed,
// delayed or reconnecting stop
func (o *Output) ForceStop() {
	if !o.started.Load() && !o.reconnecting.Load() && !o.delayActive.Load() {
		return
	}
	if !o.stopping.Load() {
		o.emit(models.Event{Type: models.EventStopping})
	}
	o.actualStop(true)
}

// actualStop stops the sink and, unless a delayed restart is pending, ends
// capture and emits the terminal stop event
func (o *Output) actualStop(force bool) {
	o.stopSession(force, 0)
}

// stopSession is actualStop for a stop queued by session. It does nothing
// once a later session has started. Session 0 stops whatever is running.
func (o *Output) stopSession(force bool, session uint64) {
	o.stopMu.Lock()
	defer o.stopMu.Unlock()

	if session != 0 && o.session.Load() != session {
		o.log.Debugf("Output '%s': dropping stop queued by an earlier session", o.name)
		return
	}

	delayTeardown := force && o.delayActive.Load()
	if !o.started.Load() && !o.reconnecting.Load() && !delayTeardown {
		return
	}

	if o.reconnecting.Load() {
		o.reconnectStop.signal()
		o.reconnectWG.Wait()
	}
	wasStarted := o.started.Swap(false)
	o.reconnecting.Store(false)
	o.stopDeadlineTimer()

	if wasStarted {
		var ts uint64
		if !force {
			ts = uint64(o.now().UnixNano())
		}
		o.sink.Stop(ts)
	}
	o.EndDataCapture()
	o.logFrameInfo()

	if o.delayActive.Load() && (force || o.delay.RestartRefs() == 0) {
		o.teardownDelay()
	}

	o.stopping.Store(false)
	if force || !o.delayActive.Load() {
		o.finish(models.StopSuccess)
	}
}

// armStopDeadline makes the deadline fire even when no packet arrives to
// notice it
func (o *Output) armStopDeadline(deadline int64) {
	if deadline == noDeadline {
		return
	}

	d := time.Duration(deadline - o.now().UnixNano())
	if d < 0 {
		d = 0
	}

	h := o.handle
	o.deadlineMu.Lock()
	defer o.deadlineMu.Unlock()
	if o.deadlineTimer != nil {
		o.deadlineTimer.Stop()
	}
	o.deadlineTimer = time.AfterFunc(d, func() {
		out, ok := h.Get()
		if !ok {
			return
		}
		defer h.Release()

		out.interleavedMu.Lock()
		defer out.interleavedMu.Unlock()
		out.handleStopTimeout()
	})
}

func (o *Output) stopDeadlineTimer() {
	o.deadlineMu.Lock()
	defer o.deadlineMu.Unlock()
	if o.deadlineTimer != nil {
		o.deadlineTimer.Stop()
		o.deadlineTimer = nil
	}
}

// handleStopTimeout forces the pending stop once the hard deadline has
// passed and records how much queued data it abandons. Called with
// interleavedMu held.
func (o *Output) handleStopTimeout() bool {
	hard := o.hardStop.Load()
	if hard == 0 || hard == noDeadline || o.now().UnixNano() < hard {
		return false
	}
	if !o.stopTimedOut.CompareAndSwap(false, true) {
		return true
	}

	span, queued := o.interleaver.QueueSpanUsec(o.stopFrameID.Load())

	o.statsMu.Lock()
	o.abandonedUsec = span
	o.stopFrameQueued = queued
	o.statsMu.Unlock()

	o.m.RecordStopTimeout(span, queued)
	o.log.Infof("Output '%s': stop timed out with %dus queued, stop frame queued: %t", o.name, span, queued)

	o.beginQueuedStop()
	return true
}

// handleQueuedStop triggers the stop once the stop frame has been
// delivered. A stop frame decoded ahead of its presentation waits for the
// decode time to catch up, so frames it references are delivered too.
// Called with interleavedMu held.
func (o *Output) handleQueuedStop(p *models.Packet) {
	if o.waitForDTS {
		if p.DTS >= o.stopDTS {
			o.waitForDTS = false
			o.beginQueuedStop()
		}
		return
	}

	id := o.stopFrameID.Load()
	if id == 0 || p.TrackedID != id {
		return
	}
	o.stopFrameID.Store(0)

	if p.DTS < p.PTS {
		o.waitForDTS = true
		o.stopDTS = p.PTS
		return
	}
	o.beginQueuedStop()
}

// beginQueuedStop runs the stop off the packet delivery goroutine
func (o *Output) beginQueuedStop() {
	if !o.started.Load() {
		return
	}
	if !o.stopQueued.CompareAndSwap(false, true) {
		return
	}
	session := o.session.Load()
	o.spawn(func() {
		o.stopSession(false, session)
	})
}

// spawn runs fn on a task goroutine holding a strong reference. Tasks run
// one at a time in the order they were spawned.
func (o *Output) spawn(fn func()) {
	o.taskMu.Lock()
	prev := o.taskDone
	done := make(chan struct{})
	o.taskDone = done
	o.taskMu.Unlock()

	o.handle.AddRef()
	go func() {
		defer o.handle.Release()
		defer close(done)

		if prev != nil {
			<-prev
		}
		fn()
	}()
}

// joinTasks waits for every spawned task
func (o *Output) joinTasks() {
	o.taskMu.Lock()
	done := o.taskDone
	o.taskMu.Unlock()

	if done != nil {
		<-done
	}
}

// resetStopState clears the coordinated stop state before a new session
func (o *Output) resetStopState() {
	o.hardStop.Store(0)
	o.stopFrameID.Store(0)
	o.stopTimedOut.Store(false)
	o.stopQueued.Store(false)

	o.interleavedMu.Lock()
	o.waitForDTS = false
	o.stopDTS = 0
	o.interleavedMu.Unlock()

	o.statsMu.Lock()
	o.abandonedUsec = 0
	o.stopFrameQueued = false
	o.statsMu.Unlock()
}
