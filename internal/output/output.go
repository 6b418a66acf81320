// Package output implements the output lifecycle: binding encoders and a
// service to a sink, ordering packets across tracks, optional broadcast
// delay, coordinated stop and reconnection.
package output

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"rapidoutput/internal/delay"
	"rapidoutput/internal/encoder"
	"rapidoutput/internal/events"
	"rapidoutput/internal/interleave"
	"rapidoutput/internal/media"
	"rapidoutput/internal/metrics"
	"rapidoutput/internal/ref"
	"rapidoutput/internal/service"
	"rapidoutput/internal/sink"
	"rapidoutput/pkg/models"
)

const (
	DefaultReconnectRetrySec   = 2
	DefaultReconnectMaxRetries = 20
)

var (
	ErrNoSink          = errors.New("output has no sink")
	ErrInvalidEncoder  = errors.New("invalid encoder")
	ErrTrackOutOfRange = errors.New("audio track index out of range")
	ErrOutputActive    = errors.New("output is active")
	ErrNoService       = errors.New("no service")
	ErrNotEncoded      = errors.New("sink does not take encoded packets")
	ErrInvalidSetting  = errors.New("invalid setting")
)

var _ sink.Host = (*Output)(nil)

// Config holds the collaborators of an output
type Config struct {
	Name    string
	Sink    sink.Sink
	Video   *media.Video // raw video pipeline, also the tracked frame id source
	Audio   *media.Audio // raw audio pipeline
	Events  *events.Bus  // shared bus; a private one is created when nil
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
}

// capture records which packet paths BeginDataCapture wired
type capture struct {
	video   bool
	audio   bool
	service bool
	encoded bool
	mixes   int
}

// Output delivers the packets of its encoders, or the frames of the raw
// pipelines, to one sink.
//
// An Output is reference counted. The creator owns one strong reference and
// must call Release when done; a running output holds an extra reference
// until its terminal stop event.
type Output struct {
	id     string
	name   string
	sink   sink.Sink
	flags  models.OutputFlags
	video  *media.Video
	audio  *media.Audio
	bus    *events.Bus
	m      *metrics.Metrics
	log    logrus.FieldLogger
	handle *ref.Handle[Output]

	now       func() time.Time
	retryUnit time.Duration

	// Bindings and settings
	cfgMu         sync.Mutex
	videoEncoder  *encoder.Encoder
	audioEncoders [models.MaxAudioMixes]*encoder.Encoder
	service       *service.Service
	mixer         int
	delaySec      uint32
	delayFlags    models.DelayFlags
	retrySec      int
	maxRetries    int

	// State
	started        atomic.Bool
	stopping       atomic.Bool
	active         atomic.Bool
	reconnecting   atomic.Bool
	delayActive    atomic.Bool
	delayCapturing atomic.Bool
	holdsRef       atomic.Bool

	capMu  sync.Mutex
	wiring capture

	// Packet path, guarded by interleavedMu
	interleavedMu sync.Mutex
	interleaver   *interleave.Buffer
	totalFrames   int
	waitForDTS    bool
	stopDTS       int64
	path          func(*models.Packet)

	tsMu    sync.Mutex
	startTS int64
	stopTS  int64
	hasTS   bool

	// Delay
	delay   *delay.Buffer
	delayMu sync.Mutex

	// Coordinated stop
	hardStop      atomic.Int64
	stopFrameID   atomic.Uint64
	stopTimedOut  atomic.Bool
	stopQueued    atomic.Bool
	deadlineMu    sync.Mutex
	deadlineTimer *time.Timer
	stopMu        sync.Mutex

	taskMu   sync.Mutex
	taskDone chan struct{}
	session  atomic.Uint64 // bumped by every sink start

	// Reconnect
	reconnectMu      sync.Mutex
	reconnectCurSec  int
	reconnectRetries int
	reconnectStop    *event
	reconnectWG      sync.WaitGroup

	// Diagnostics
	statsMu          sync.Mutex
	startingCounters media.FrameCounters
	abandonedUsec    int64
	stopFrameQueued  bool

	pruneLog rate.Sometimes
	dropLog  rate.Sometimes
}

// New creates an idle output. The returned output carries the creator's
// strong reference.
func New(cfg Config) (*Output, error) {
	if cfg.Sink == nil {
		return nil, ErrNoSink
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: empty output name", ErrInvalidSetting)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	bus := cfg.Events
	if bus == nil {
		bus = events.New()
	}

	o := &Output{
		id:            uuid.NewString(),
		name:          cfg.Name,
		sink:          cfg.Sink,
		flags:         cfg.Sink.Flags(),
		video:         cfg.Video,
		audio:         cfg.Audio,
		bus:           bus,
		m:             cfg.Metrics,
		log:           log.WithFields(logrus.Fields{"output": cfg.Name, "sink": cfg.Sink.Name()}),
		now:           time.Now,
		retryUnit:     time.Second,
		retrySec:      DefaultReconnectRetrySec,
		maxRetries:    DefaultReconnectMaxRetries,
		interleaver:   interleave.New(1),
		delay:         delay.New(),
		reconnectStop: newEvent(),
		pruneLog:      rate.Sometimes{Interval: 5 * time.Second},
		dropLog:       rate.Sometimes{Interval: 5 * time.Second},
	}
	o.handle = ref.New(o, (*Output).destroy)

	o.log.Infof("Output '%s' (%s) created", o.name, o.sink.Name())
	return o, nil
}

func (o *Output) ID() string { return o.id }

// Name returns the output name
func (o *Output) Name() string { return o.name }

func (o *Output) Sink() sink.Sink { return o.sink }

// Events returns the bus the output emits its signals on
func (o *Output) Events() *events.Bus { return o.bus }

// Handle returns the output's control block, for weak references
func (o *Output) Handle() *ref.Handle[Output] { return o.handle }

// AddRef takes a strong reference
func (o *Output) AddRef() { o.handle.AddRef() }

// Release drops a strong reference. The output is destroyed when the last
// one goes away.
func (o *Output) Release() { o.handle.Release() }

// Active reports whether the output is capturing or reconnecting
func (o *Output) Active() bool {
	return o.active.Load() || o.reconnecting.Load()
}

func (o *Output) Reconnecting() bool { return o.reconnecting.Load() }

// DelayActive reports whether packets currently go through the delay buffer
func (o *Output) DelayActive() bool { return o.delayActive.Load() }

// busy reports whether bindings are frozen
func (o *Output) busy() bool {
	return o.active.Load() || o.reconnecting.Load() || o.delayActive.Load()
}

// VideoEncoder returns the bound video encoder
func (o *Output) VideoEncoder() *encoder.Encoder {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.videoEncoder
}

// AudioEncoder returns the audio encoder bound to track idx
func (o *Output) AudioEncoder(idx int) *encoder.Encoder {
	if idx < 0 || idx >= models.MaxAudioMixes {
		return nil
	}

	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.audioEncoders[idx]
}

// Service returns the bound service
func (o *Output) Service() *service.Service {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.service
}

// SetVideoEncoder binds the video encoder
func (o *Output) SetVideoEncoder(enc *encoder.Encoder) error {
	if enc == nil || enc.Type() != models.TrackVideo {
		o.log.Warnf("Output '%s': tried to set a non-video encoder as video encoder", o.name)
		return ErrInvalidEncoder
	}
	if o.busy() {
		o.log.Warnf("Output '%s': tried to set video encoder while active", o.name)
		return ErrOutputActive
	}

	o.cfgMu.Lock()
	old := o.videoEncoder
	o.videoEncoder = enc
	o.cfgMu.Unlock()

	if old != enc {
		old.RemoveOutput(o)
		enc.AddOutput(o)
	}
	return nil
}

// SetAudioEncoder binds the audio encoder of track idx. Only multi-track
// sinks accept tracks other than 0.
func (o *Output) SetAudioEncoder(enc *encoder.Encoder, idx int) error {
	if enc == nil || enc.Type() != models.TrackAudio {
		o.log.Warnf("Output '%s': tried to set a non-audio encoder as audio encoder", o.name)
		return ErrInvalidEncoder
	}
	if idx < 0 || idx >= models.MaxAudioMixes || (idx > 0 && !o.flags.Has(models.FlagMultiTrack)) {
		o.log.Warnf("Output '%s': audio track %d out of range", o.name, idx)
		return fmt.Errorf("%w: %d", ErrTrackOutOfRange, idx)
	}
	if o.busy() {
		o.log.Warnf("Output '%s': tried to set audio encoder %d while active", o.name, idx)
		return ErrOutputActive
	}

	o.cfgMu.Lock()
	old := o.audioEncoders[idx]
	o.audioEncoders[idx] = enc
	o.cfgMu.Unlock()

	if old != enc {
		old.RemoveOutput(o)
		enc.AddOutput(o)
	}
	return nil
}

// SetService binds svc, taking it away from any other output
func (o *Output) SetService(svc *service.Service) error {
	if svc == nil {
		return ErrNoService
	}
	if o.busy() {
		o.log.Warnf("Output '%s': tried to set service while active", o.name)
		return ErrOutputActive
	}
	if svc.Active() {
		o.log.Warnf("Output '%s': service '%s' is in use", o.name, svc.Name())
		return ErrOutputActive
	}

	o.cfgMu.Lock()
	old := o.service
	o.service = svc
	o.cfgMu.Unlock()

	if old != nil && old != svc {
		old.Unbind(o)
	}
	if prev, ok := svc.Bind(o).(*Output); ok && prev != o {
		prev.dropService(svc)
	}
	return nil
}

func (o *Output) dropService(svc *service.Service) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	if o.service == svc {
		o.service = nil
	}
}

// SetMixer selects the raw audio mix a raw sink receives
func (o *Output) SetMixer(mix int) error {
	if mix < 0 || mix >= models.MaxAudioMixes {
		return fmt.Errorf("%w: %d", ErrTrackOutOfRange, mix)
	}
	if o.busy() {
		return ErrOutputActive
	}

	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	o.mixer = mix
	return nil
}

// SetDelay configures the broadcast delay applied from the next start.
// Setting it while no delay is running discards anything left in the delay
// buffer.
func (o *Output) SetDelay(sec uint32, flags models.DelayFlags) error {
	if !o.flags.Has(models.FlagEncoded) {
		return ErrNotEncoded
	}

	o.cfgMu.Lock()
	o.delaySec = sec
	o.delayFlags = flags
	o.cfgMu.Unlock()

	if !o.delayActive.Load() {
		if n := o.delay.Clear(); n > 0 {
			o.log.Debugf("Output '%s': discarded %d delayed entries", o.name, n)
		}
	}
	return nil
}

// Delay returns the configured delay
func (o *Output) Delay() (sec uint32, flags models.DelayFlags) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.delaySec, o.delayFlags
}

// SetReconnectSettings sets the retry budget and base backoff. maxRetries 0
// disables reconnection.
func (o *Output) SetReconnectSettings(maxRetries, retrySec int) error {
	if maxRetries < 0 || retrySec < 0 {
		return fmt.Errorf("%w: retries %d, retry seconds %d", ErrInvalidSetting, maxRetries, retrySec)
	}

	o.reconnectMu.Lock()
	defer o.reconnectMu.Unlock()
	o.maxRetries = maxRetries
	o.retrySec = retrySec
	return nil
}

// ReconnectSettings returns the retry budget and base backoff
func (o *Output) ReconnectSettings() (maxRetries, retrySec int) {
	o.reconnectMu.Lock()
	defer o.reconnectMu.Unlock()
	return o.maxRetries, o.retrySec
}

// destroy runs once, when the last strong reference is released
func (o *Output) destroy() {
	o.log.Infof("Output '%s' destroyed", o.name)

	if o.active.Load() || o.reconnecting.Load() || o.delayActive.Load() {
		o.actualStop(true)
	}
	o.joinTasks()
	o.reconnectStop.signal()
	o.reconnectWG.Wait()
	o.stopDeadlineTimer()

	o.cfgMu.Lock()
	svc := o.service
	venc := o.videoEncoder
	aencs := o.audioEncoders
	o.service = nil
	o.videoEncoder = nil
	o.audioEncoders = [models.MaxAudioMixes]*encoder.Encoder{}
	o.cfgMu.Unlock()

	if svc != nil {
		svc.Unbind(o)
	}
	venc.RemoveOutput(o)
	for _, enc := range aencs {
		enc.RemoveOutput(o)
	}

	if err := o.sink.Close(); err != nil {
		o.log.WithError(err).Warnf("Output '%s': closing sink failed", o.name)
	}
}
