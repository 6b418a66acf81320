// Package encoder models the encoders that feed outputs. An encoder fans
// finished packets out to the callbacks of every output started on it.
package encoder

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rapidoutput/pkg/models"
)

// ErrInvalidTimebase is returned by Initialize for a zero timebase
var ErrInvalidTimebase = errors.New("invalid timebase")

// PacketFunc receives encoded packets
type PacketFunc func(*models.Packet)

type callback struct {
	owner any
	fn    PacketFunc
}

// Encoder is a video or audio encoder shared by any number of outputs
type Encoder struct {
	id    string
	name  string
	kind  models.TrackType
	tbNum int32
	tbDen int32

	extraData []byte

	callbacks   []callback
	mu          sync.Mutex
	initialized bool

	// Outputs bound to this encoder
	outputs   []any
	outputsMu sync.Mutex

	paired       atomic.Pointer[Encoder]
	waitForVideo atomic.Bool
	started      atomic.Bool
	startTSUsec  atomic.Int64

	log logrus.FieldLogger
}

// New creates an encoder with the given time base
func New(kind models.TrackType, name string, tbNum, tbDen int32, log logrus.FieldLogger) *Encoder {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Encoder{
		id:    uuid.NewString(),
		name:  name,
		kind:  kind,
		tbNum: tbNum,
		tbDen: tbDen,
		log:   log.WithField("encoder", name),
	}
}

func (e *Encoder) ID() string { return e.id }

func (e *Encoder) Name() string { return e.name }

func (e *Encoder) Type() models.TrackType { return e.kind }

// Timebase returns the numerator and denominator of packet timestamps
func (e *Encoder) Timebase() (num, den int32) { return e.tbNum, e.tbDen }

// SetExtraData sets the codec header (SPS/PPS, AudioSpecificConfig)
func (e *Encoder) SetExtraData(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extraData = append([]byte(nil), data...)
}

// ExtraData returns the codec header
func (e *Encoder) ExtraData() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.extraData
}

// Initialize prepares the encoder. Initializing an active encoder is a no-op.
func (e *Encoder) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.callbacks) > 0 {
		return nil
	}
	if e.tbDen <= 0 || e.tbNum <= 0 {
		return fmt.Errorf("encoder %s: %w %d/%d", e.name, ErrInvalidTimebase, e.tbNum, e.tbDen)
	}

	e.initialized = true
	return nil
}

// Start registers owner's packet callback. The encoder is active while at
// least one callback is registered.
func (e *Encoder) Start(owner any, fn PacketFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.callbacks {
		if c.owner == owner {
			e.callbacks[i].fn = fn
			return
		}
	}

	first := len(e.callbacks) == 0
	e.callbacks = append(e.callbacks, callback{owner: owner, fn: fn})
	if first {
		e.log.Debug("Encoder started")
	}
}

// Stop removes owner's callback. The last Stop shuts the encoder down and
// clears its pairing.
func (e *Encoder) Stop(owner any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.callbacks {
		if c.owner == owner {
			e.callbacks = append(e.callbacks[:i], e.callbacks[i+1:]...)
			break
		}
	}

	if len(e.callbacks) == 0 {
		e.shutdown()
	}
}

func (e *Encoder) shutdown() {
	if p := e.paired.Swap(nil); p != nil {
		p.paired.CompareAndSwap(e, nil)
	}
	e.waitForVideo.Store(false)
	e.started.Store(false)
	e.startTSUsec.Store(0)
	e.initialized = false
}

// Active reports whether any output is receiving packets
func (e *Encoder) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.callbacks) > 0
}

// AddOutput binds an output to this encoder
func (e *Encoder) AddOutput(output any) {
	if e == nil {
		return
	}

	e.outputsMu.Lock()
	defer e.outputsMu.Unlock()

	for _, o := range e.outputs {
		if o == output {
			return
		}
	}
	e.outputs = append(e.outputs, output)
}

// RemoveOutput unbinds an output from this encoder
func (e *Encoder) RemoveOutput(output any) {
	if e == nil {
		return
	}

	e.outputsMu.Lock()
	defer e.outputsMu.Unlock()

	for i, o := range e.outputs {
		if o == output {
			e.outputs = append(e.outputs[:i], e.outputs[i+1:]...)
			return
		}
	}
}

// Outputs returns the bound outputs
func (e *Encoder) Outputs() []any {
	e.outputsMu.Lock()
	defer e.outputsMu.Unlock()

	out := make([]any, len(e.outputs))
	copy(out, e.outputs)
	return out
}

// Pair binds an audio encoder to a video encoder so the audio encoder holds
// back packets until the video encoder has produced its first packet
func Pair(video, audio *Encoder) {
	audio.waitForVideo.Store(true)
	audio.paired.Store(video)
	video.paired.Store(audio)
}

// Paired returns the encoder this one is paired with, if any
func (e *Encoder) Paired() *Encoder {
	return e.paired.Load()
}

// WaitingForVideo reports whether audio is still held back for video
func (e *Encoder) WaitingForVideo() bool {
	return e.waitForVideo.Load()
}

// StartTSUsec returns the normalized decode time of the first packet the
// encoder pushed since it became active
func (e *Encoder) StartTSUsec() (int64, bool) {
	if !e.started.Load() {
		return 0, false
	}
	return e.startTSUsec.Load(), true
}

// Push stamps a finished packet with the encoder's identity and delivers it
// to the callback of every started output still bound to the encoder.
// Callbacks run outside the encoder lock. Packets pushed while no bound
// output is started are dropped.
func (e *Encoder) Push(p *models.Packet) {
	e.mu.Lock()
	started := make([]callback, len(e.callbacks))
	copy(started, e.callbacks)
	e.mu.Unlock()

	bound := e.Outputs()
	callbacks := started[:0]
	for _, c := range started {
		if slices.Contains(bound, c.owner) {
			callbacks = append(callbacks, c)
		}
	}
	if len(callbacks) == 0 {
		return
	}

	p.Type = e.kind
	p.EncoderID = e.id
	p.TimebaseNum = e.tbNum
	p.TimebaseDen = e.tbDen
	p.DTSUsec = p.NormalizedDTS()
	switch {
	case e.kind == models.TrackAudio:
		p.Priority = models.PriorityHigh
	case p.Keyframe:
		p.Priority = models.PriorityHighest
	default:
		p.Priority = models.PriorityLow
	}

	if e.kind == models.TrackAudio && e.WaitingForVideo() {
		if !e.videoReached(p) {
			return
		}
		e.waitForVideo.Store(false)
		e.log.Debugf("Audio synced to video start at %dus", p.DTSUsec)
	}

	if e.started.CompareAndSwap(false, true) {
		e.startTSUsec.Store(p.DTSUsec)
	}

	for _, c := range callbacks {
		c.fn(p)
	}
}

// videoReached reports whether the paired video encoder has started and p
// does not precede its first packet
func (e *Encoder) videoReached(p *models.Packet) bool {
	video := e.paired.Load()
	if video == nil {
		return true
	}

	start, ok := video.StartTSUsec()
	if !ok {
		return false
	}
	return p.DTSUsec >= start
}
