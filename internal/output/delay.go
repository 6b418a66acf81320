package output

import (
	"time"

	"rapidoutput/internal/delay"
	"rapidoutput/pkg/models"
)

// delayStart queues a delayed start. The first one also begins capture so
// packets start filling the delay buffer; the sink is started once the
// start entry comes out of the buffer.
func (o *Output) delayStart() bool {
	if !o.delayActive.Load() {
		if !o.CanBeginDataCapture(0) {
			o.log.Warnf("Output '%s': missing encoders, pipelines or service for delayed start", o.name)
			return false
		}
		if !o.InitializeEncoders(0) {
			return false
		}
	}

	o.delay.PushStart(o.now())
	o.m.SetDelayBuffered(o.name, o.delay.Len())

	if o.delayActive.Load() {
		if o.delay.RestartRefs() > 1 {
			o.log.Infof("Output '%s': restart already queued", o.name)
		}
		o.emit(models.Event{Type: models.EventStarting})
		return true
	}

	if !o.BeginDataCapture(0) {
		o.cleanupDelay()
		return false
	}
	return true
}

// delayStop queues a delayed stop behind the packets already buffered
func (o *Output) delayStop() {
	o.delay.PushStop(o.now())
	o.stopping.Store(true)
	o.m.SetDelayBuffered(o.name, o.delay.Len())

	sec, _ := o.Delay()
	o.log.Infof("Output '%s': stopping in %d seconds", o.name, sec)
	o.emit(models.Event{Type: models.EventStopping})
}

// cleanupDelay drops every buffered entry and turns delay off
func (o *Output) cleanupDelay() {
	n := o.delay.Clear()
	o.delayActive.Store(false)
	o.delayCapturing.Store(false)
	o.m.SetDelayBuffered(o.name, 0)
	if n > 0 {
		o.log.Debugf("Output '%s': discarded %d delayed entries", o.name, n)
	}
}

// receiveDelayed is the encoder callback while a delay is configured. The
// buffer keeps its own copy of the packet.
func (o *Output) receiveDelayed(p *models.Packet) {
	now := o.now()
	o.delay.PushPacket(p.Clone(), now)
	o.processDelay(now)
}

// processDelay releases every entry older than the active delay
func (o *Output) processDelay(now time.Time) {
	o.delayMu.Lock()
	defer o.delayMu.Unlock()

	for {
		e, ok := o.delay.Pop(now, o.reconnecting.Load())
		if !ok {
			break
		}

		switch e.Kind {
		case delay.KindPacket:
			if !o.delayActive.Load() || !o.delayCapturing.Load() {
				o.m.RecordDropped(o.name, "delay_inactive")
				o.dropLog.Do(func() {
					o.log.Debugf("Output '%s': dropping delayed packets while not capturing", o.name)
				})
				continue
			}
			o.interleavedMu.Lock()
			path := o.path
			o.interleavedMu.Unlock()
			if path != nil {
				path(e.Packet)
			}
		case delay.KindStart:
			o.spawn(o.delayedStart)
		case delay.KindStop:
			o.spawn(o.delayedStop)
		}
	}

	o.m.SetDelayBuffered(o.name, o.delay.Len())
}

// delayedStart starts the sink when a queued start comes out of the buffer
func (o *Output) delayedStart() {
	if o.actualStart() {
		return
	}

	o.log.Warnf("Output '%s': sink failed to start after delay", o.name)
	o.teardownDelay()
	o.finish(models.StopError)
}

// delayedStop stops the sink when a queued stop comes out of the buffer. It
// runs after any delayed start queued before it.
func (o *Output) delayedStop() {
	o.actualStop(false)
}

// beginDelayedCapture resumes capture into the sink while the delay buffer
// keeps running
func (o *Output) beginDelayedCapture() bool {
	o.resetInterleaver()
	o.delayCapturing.Store(true)

	if o.reconnecting.Swap(false) {
		o.log.Infof("Output '%s': reconnected", o.name)
		o.m.RecordReconnectSuccess(o.name)
		o.emit(models.Event{Type: models.EventReconnectSuccess})
		return true
	}

	o.log.Infof("Output '%s': started", o.name)
	o.emit(models.Event{Type: models.EventStart})
	return true
}

func (o *Output) resetInterleaver() {
	o.capMu.Lock()
	mixes := o.wiring.mixes
	o.capMu.Unlock()

	o.interleavedMu.Lock()
	o.interleaver.Reset(mixes)
	o.waitForDTS = false
	o.stopDTS = 0
	o.interleavedMu.Unlock()
}
