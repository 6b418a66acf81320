package output

import (
	"time"

	"rapidoutput/internal/encoder"
	"rapidoutput/pkg/models"
)

// Start starts the output. Starting a started output is a no-op, except
// during a delayed stop where it queues a restart. Start fails without
// emitting any event when the encoders, pipelines or service the sink needs
// are not bound.
func (o *Output) Start() bool {
	if o.delayActive.Load() && o.stopping.Load() {
		// restart behind the queued stop
		return o.delayStart()
	}
	if o.started.Load() {
		return true
	}
	if !o.holdsRef.CompareAndSwap(false, true) {
		// a start, a delayed restart or a reconnect cycle is in flight
		return true
	}
	if _, ok := o.handle.Get(); !ok {
		o.holdsRef.Store(false)
		return false
	}

	sec, _ := o.Delay()
	if o.flags.Has(models.FlagEncoded) && sec > 0 {
		if o.delayStart() {
			return true
		}
		o.releaseStartRef()
		return false
	}

	if !o.canBeginCapture(o.convertFlags(0)) {
		o.log.Warnf("Output '%s': missing encoders, pipelines or service for start", o.name)
		o.releaseStartRef()
		return false
	}

	o.emit(models.Event{Type: models.EventStarting})
	if o.actualStart() {
		return true
	}

	o.log.Warnf("Output '%s': sink failed to start", o.name)
	if o.releaseStartRef() {
		o.emit(models.Event{Type: models.EventStop, Code: models.StopError})
	}
	return false
}

// releaseStartRef gives back the reference Start took. It reports whether
// this call released it.
func (o *Output) releaseStartRef() bool {
	if !o.holdsRef.CompareAndSwap(true, false) {
		return false
	}
	o.handle.Release()
	return true
}

// actualStart asks the sink to start a session. It is used by Start, by the
// reconnect worker and by a delayed start.
func (o *Output) actualStart() bool {
	o.session.Add(1)
	o.resetStopState()
	o.started.Store(true)

	ok := o.sink.Start(o)
	if ok {
		o.stopping.Store(false)
		if o.video != nil {
			o.statsMu.Lock()
			o.startingCounters = o.video.Counters()
			o.statsMu.Unlock()
		}
	} else {
		o.started.Store(false)
	}

	o.delay.ReleaseRestart()
	return ok
}

// convertFlags narrows the requested capture flags to what the sink
// declares. Zero requests everything the sink declares.
func (o *Output) convertFlags(flags models.OutputFlags) capture {
	f := o.flags
	if flags != 0 {
		f = flags & o.flags
	}

	return capture{
		video:   f.Has(models.FlagVideo),
		audio:   f.Has(models.FlagAudio),
		service: f.Has(models.FlagService),
		encoded: o.flags.Has(models.FlagEncoded),
	}
}

func (o *Output) canBeginCapture(c capture) bool {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()

	if c.video {
		if c.encoded && o.videoEncoder == nil {
			return false
		}
		if !c.encoded && o.video == nil {
			return false
		}
	}
	if c.audio {
		if c.encoded && o.audioEncoders[0] == nil {
			return false
		}
		if !c.encoded && o.audio == nil {
			return false
		}
	}
	if c.service && o.service == nil {
		return false
	}
	return true
}

// CanBeginDataCapture reports whether BeginDataCapture would succeed
func (o *Output) CanBeginDataCapture(flags models.OutputFlags) bool {
	if o.delayActive.Load() {
		return true
	}
	if o.active.Load() {
		return false
	}
	return o.canBeginCapture(o.convertFlags(flags))
}

// numAudioMixes returns the audio track count: the contiguous bound audio
// encoders of a multi-track sink, limited to one when the service cannot
// take more.
func (o *Output) numAudioMixes() int {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()

	if o.service != nil && !o.service.SupportsMultitrack() {
		return 1
	}
	if !o.flags.Has(models.FlagMultiTrack) {
		return 1
	}

	n := 0
	for n < models.MaxAudioMixes && o.audioEncoders[n] != nil {
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

// InitializeEncoders initializes the service and encoders the sink needs
// and pairs a lone audio encoder with the video encoder
func (o *Output) InitializeEncoders(flags models.OutputFlags) bool {
	if o.active.Load() {
		return o.delayActive.Load()
	}

	c := o.convertFlags(flags)
	if !c.encoded {
		return false
	}

	o.cfgMu.Lock()
	svc := o.service
	venc := o.videoEncoder
	aencs := o.audioEncoders
	o.cfgMu.Unlock()

	if c.service {
		if svc == nil {
			o.log.Warnf("Output '%s': no service bound", o.name)
			return false
		}
		if err := svc.Initialize(); err != nil {
			o.log.WithError(err).Warnf("Output '%s': service initialization failed", o.name)
			return false
		}
	}

	if c.video {
		if venc == nil {
			o.log.Warnf("Output '%s': no video encoder bound", o.name)
			return false
		}
		if err := venc.Initialize(); err != nil {
			o.log.WithError(err).Warnf("Output '%s': video encoder initialization failed", o.name)
			return false
		}
	}

	mixes := o.numAudioMixes()
	if c.audio {
		for i := 0; i < mixes; i++ {
			if aencs[i] == nil {
				o.log.Warnf("Output '%s': no audio encoder bound for track %d", o.name, i)
				return false
			}
			if err := aencs[i].Initialize(); err != nil {
				o.log.WithError(err).Warnf("Output '%s': audio encoder %d initialization failed", o.name, i)
				return false
			}
		}
	}

	if c.video && c.audio && mixes == 1 {
		o.pairEncoders()
	}
	return true
}

// pairEncoders makes the audio encoder wait for the video start timestamp.
// Encoders already running or paired elsewhere are left alone.
func (o *Output) pairEncoders() {
	o.cfgMu.Lock()
	venc := o.videoEncoder
	aenc := o.audioEncoders[0]
	o.cfgMu.Unlock()

	if venc == nil || aenc == nil {
		return
	}
	if venc.Active() || aenc.Active() || venc.Paired() != nil || aenc.Paired() != nil {
		return
	}

	o.log.Debugf("Output '%s': pairing '%s' with '%s'", o.name, aenc.Name(), venc.Name())
	encoder.Pair(venc, aenc)
}

// BeginDataCapture wires the packet path and starts the encoders or
// connects the raw pipelines. Sinks call it once they are ready.
func (o *Output) BeginDataCapture(flags models.OutputFlags) bool {
	if o.delayActive.Load() {
		return o.beginDelayedCapture()
	}

	o.capMu.Lock()
	if o.active.Load() {
		o.capMu.Unlock()
		return false
	}

	c := o.convertFlags(flags)
	if !o.canBeginCapture(c) {
		o.capMu.Unlock()
		return false
	}
	c.mixes = o.numAudioMixes()

	o.active.Store(true)
	o.hookDataCapture(c)
	o.wiring = c

	svc := o.Service()
	if c.service && svc != nil {
		svc.Activate()
	}
	o.capMu.Unlock()

	o.m.RecordOutputStart()
	o.emit(models.Event{Type: models.EventActivate})

	switch {
	case o.reconnecting.Swap(false):
		o.log.Infof("Output '%s': reconnected", o.name)
		o.m.RecordReconnectSuccess(o.name)
		o.emit(models.Event{Type: models.EventReconnectSuccess})
	case o.delayActive.Load():
		o.emit(models.Event{Type: models.EventStarting})
	default:
		o.log.Infof("Output '%s': started", o.name)
		o.emit(models.Event{Type: models.EventStart})
	}
	return true
}

// hookDataCapture resets the packet path and connects it to the sources.
// Called with capMu held.
func (o *Output) hookDataCapture(c capture) {
	o.resetPacketData(c.mixes)

	if !c.encoded {
		o.cfgMu.Lock()
		mix := o.mixer
		o.cfgMu.Unlock()

		if c.video {
			o.video.Connect(o, o.PushRawVideo)
		}
		if c.audio {
			o.audio.Connect(mix, o, o.PushRawAudio)
		}
		return
	}

	path := o.sendDirect
	if c.video && c.audio {
		path = o.interleavePacket
	}
	o.interleavedMu.Lock()
	o.path = path
	o.interleavedMu.Unlock()

	cb := path
	sec, flags := o.Delay()
	if sec > 0 {
		o.delay.Activate(time.Duration(sec)*time.Second, flags)
		o.delayCapturing.Store(true)
		o.delayActive.Store(true)
		cb = o.receiveDelayed

		preserve := "off"
		if o.delay.Preserve() {
			preserve = "on"
		}
		o.log.Infof("Output '%s': %d second delay active, preserve on disconnect is %s", o.name, sec, preserve)
	}

	o.cfgMu.Lock()
	venc := o.videoEncoder
	aencs := o.audioEncoders
	o.cfgMu.Unlock()

	if c.video {
		venc.Start(o, cb)
	}
	if c.audio {
		for i := 0; i < c.mixes; i++ {
			aencs[i].Start(o, cb)
		}
	}
}

// resetPacketData clears the interleaver and the timing state
func (o *Output) resetPacketData(mixes int) {
	o.interleavedMu.Lock()
	o.interleaver.Reset(mixes)
	o.totalFrames = 0
	o.waitForDTS = false
	o.stopDTS = 0
	o.interleavedMu.Unlock()

	o.tsMu.Lock()
	o.startTS, o.stopTS, o.hasTS = 0, 0, false
	o.tsMu.Unlock()
}

// EndDataCapture disconnects the sources and deactivates the service. While
// a delay is active only delayed capture ends; the encoders keep feeding the
// delay buffer.
func (o *Output) EndDataCapture() {
	if o.delayActive.Load() {
		o.delayCapturing.Store(false)
		return
	}

	o.capMu.Lock()
	if !o.active.Load() {
		o.capMu.Unlock()
		return
	}
	c := o.wiring

	o.cfgMu.Lock()
	venc := o.videoEncoder
	aencs := o.audioEncoders
	svc := o.service
	o.cfgMu.Unlock()

	if c.encoded {
		if c.video && venc != nil {
			venc.Stop(o)
		}
		if c.audio {
			for i := 0; i < c.mixes; i++ {
				if aencs[i] != nil {
					aencs[i].Stop(o)
				}
			}
		}
	} else {
		if c.video {
			o.video.Disconnect(o)
		}
		if c.audio {
			o.audio.Disconnect(o.mixerIndex(), o)
		}
	}

	if c.service && svc != nil {
		svc.Deactivate(false)
	}
	if o.delay.ActiveDelay() != 0 {
		if n := o.delay.Clear(); n > 0 {
			o.log.Debugf("Output '%s': discarded %d delayed entries", o.name, n)
		}
		o.m.SetDelayBuffered(o.name, 0)
	}

	o.active.Store(false)
	o.capMu.Unlock()

	o.m.RecordOutputDeactivate()
	o.emit(models.Event{Type: models.EventDeactivate})
}

func (o *Output) mixerIndex() int {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.mixer
}

// SignalStop is how a sink reports the end of its session. A disconnect
// starts reconnecting when retries are configured; anything else while
// reconnecting retries again. Otherwise the output is torn down and the
// terminal stop event carries code.
//
// A report racing a stop already in progress waits for it and then finds
// the output stopped by the user. Sinks must not call SignalStop from Stop.
func (o *Output) SignalStop(code models.StopCode) {
	o.stopMu.Lock()
	defer o.stopMu.Unlock()

	o.EndDataCapture()

	stoppedByUser := !o.started.Load() && !o.reconnecting.Load()
	if !stoppedByUser {
		maxRetries, _ := o.ReconnectSettings()
		if (o.reconnecting.Load() && code != models.StopSuccess) ||
			(code == models.StopDisconnected && maxRetries > 0) {
			o.outputReconnect()
			return
		}
	}

	if code != models.StopSuccess {
		o.log.Warnf("Output '%s': sink stopped with %s", o.name, code)
	}
	o.teardownDelay()
	o.finish(code)
}

// teardownDelay turns delay off and ends the capture it kept alive
func (o *Output) teardownDelay() {
	if o.delayActive.CompareAndSwap(true, false) {
		o.delayCapturing.Store(false)
		o.EndDataCapture()
	}
}

// finish clears the run state and, once per start, emits the terminal stop
// event and releases the start reference
func (o *Output) finish(code models.StopCode) {
	o.stopping.Store(false)
	o.started.Store(false)
	o.stopDeadlineTimer()
	o.hardStop.Store(0)
	o.stopFrameID.Store(0)

	if !o.holdsRef.CompareAndSwap(true, false) {
		return
	}

	o.m.RecordOutputStop(o.name, code, o.Duration())
	o.log.Infof("Output '%s': stopped (%s)", o.name, code)
	o.emit(models.Event{Type: models.EventStop, Code: code})
	o.handle.Release()
}

func (o *Output) emit(ev models.Event) {
	ev.Output = o.name
	o.bus.Emit(ev)
}
