package output

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rapidoutput/internal/encoder"
	"rapidoutput/internal/logging"
	"rapidoutput/internal/media"
	"rapidoutput/internal/service"
	"rapidoutput/internal/sink"
	"rapidoutput/pkg/models"
)

// fakeSink starts synchronously and records what it receives
type fakeSink struct {
	flags models.OutputFlags

	mu        sync.Mutex
	host      sink.Host
	failNext  int // synchronous start failures before a start succeeds
	starts    int
	stops     []uint64
	packets   []*models.Packet
	rawVideo  int
	rawAudio  map[int]int
	bytes     uint64
	closed    bool
	delivered chan struct{}
	onStop    func(host sink.Host) // runs after Stop is recorded
}

func newFakeSink(flags models.OutputFlags) *fakeSink {
	return &fakeSink{
		flags:     flags,
		rawAudio:  make(map[int]int),
		delivered: make(chan struct{}, 1024),
	}
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Flags() models.OutputFlags { return s.flags }

func (s *fakeSink) Start(host sink.Host) bool {
	s.mu.Lock()
	s.starts++
	s.host = host
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	s.mu.Unlock()

	if fail {
		return false
	}
	if s.flags.Has(models.FlagEncoded) && !host.InitializeEncoders(0) {
		return false
	}
	return host.BeginDataCapture(0)
}

func (s *fakeSink) Stop(ts uint64) {
	s.mu.Lock()
	s.stops = append(s.stops, ts)
	host, onStop := s.host, s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop(host)
	}
}

func (s *fakeSink) EncodedPacket(p *models.Packet) {
	s.mu.Lock()
	s.packets = append(s.packets, p)
	s.bytes += uint64(len(p.Data))
	s.mu.Unlock()

	select {
	case s.delivered <- struct{}{}:
	default:
	}
}

func (s *fakeSink) RawVideo(*models.VideoFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawVideo++
}

func (s *fakeSink) RawAudio(mix int, _ *models.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawAudio[mix]++
}

func (s *fakeSink) TotalBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *fakeSink) DroppedFrames() int { return 0 }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) setFailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *fakeSink) snapshot() []*models.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Packet, len(s.packets))
	copy(out, s.packets)
	return out
}

func (s *fakeSink) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *fakeSink) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stops)
}

// eventLog records every event in emission order
type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func watch(o *Output) *eventLog {
	l := &eventLog{}
	o.Events().Subscribe(func(ev models.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
	})
	return l
}

func (l *eventLog) all() []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) types() []models.EventType {
	var out []models.EventType
	for _, ev := range l.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) count(typ models.EventType) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) of(typ models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range l.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor blocks until n events of typ were emitted
func (l *eventLog) waitFor(t *testing.T, typ models.EventType, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l.count(typ) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d %s events, got %v", n, typ, l.types())
}

func equalTypes(got, want []models.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	out   *Output
	sink  *fakeSink
	video *media.Video
	audio *media.Audio
	venc  *encoder.Encoder
	aenc  *encoder.Encoder
	log   *eventLog
}

// newFixture builds an output over a fake sink with one video and one
// audio encoder bound as far as the sink flags ask for them
func newFixture(t *testing.T, flags models.OutputFlags) *fixture {
	t.Helper()

	log := logging.Discard()
	f := &fixture{
		sink:  newFakeSink(flags),
		video: media.NewVideo(1280, 720),
		audio: media.NewAudio(48000, 2),
		venc:  encoder.New(models.TrackVideo, "video", 1, 30, log),
		aenc:  encoder.New(models.TrackAudio, "audio", 1, 48000, log),
	}

	out, err := New(Config{
		Name:   "test",
		Sink:   f.sink,
		Video:  f.video,
		Audio:  f.audio,
		Logger: log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.out = out
	f.log = watch(out)

	if flags.Has(models.FlagEncoded) {
		if flags.Has(models.FlagVideo) {
			if err := out.SetVideoEncoder(f.venc); err != nil {
				t.Fatalf("SetVideoEncoder: %v", err)
			}
		}
		if flags.Has(models.FlagAudio) {
			if err := out.SetAudioEncoder(f.aenc, 0); err != nil {
				t.Fatalf("SetAudioEncoder: %v", err)
			}
		}
	}

	t.Cleanup(func() {
		out.ForceStop()
		out.Release()
	})
	return f
}

const (
	encodedVideo = models.FlagVideo | models.FlagEncoded
	encodedAV    = models.FlagAV | models.FlagEncoded
	rawAV        = models.FlagAV
)

// pushVideo pushes frame n (30 fps timebase)
func (f *fixture) pushVideo(n int64, trackedID uint64) {
	f.venc.Push(&models.Packet{DTS: n, PTS: n, TrackedID: trackedID, Data: []byte{0x65, byte(n)}})
}

// pushAudio pushes the audio block aligned with video frame n
func (f *fixture) pushAudio(n int64) {
	f.aenc.Push(&models.Packet{DTS: n * 1600, PTS: n * 1600, Data: []byte{0x21}})
}

func TestNewRequiresSink(t *testing.T) {
	if _, err := New(Config{Name: "x"}); !errors.Is(err, ErrNoSink) {
		t.Errorf("Expected ErrNoSink, got %v", err)
	}
	if _, err := New(Config{Sink: newFakeSink(encodedVideo)}); !errors.Is(err, ErrInvalidSetting) {
		t.Errorf("Expected ErrInvalidSetting for empty name, got %v", err)
	}
}

func TestStartWithoutEncodersEmitsNothing(t *testing.T) {
	log := logging.Discard()
	s := newFakeSink(encodedAV)
	out, err := New(Config{Name: "bare", Sink: s, Logger: log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := watch(out)

	if out.Start() {
		t.Fatal("Expected start to fail without encoders")
	}
	if got := events.types(); len(got) != 0 {
		t.Errorf("Expected no events, got %v", got)
	}
	if s.startCount() != 0 {
		t.Errorf("Sink should not be started, got %d starts", s.startCount())
	}
	if strong, _ := out.Handle().Counts(); strong != 0 {
		t.Errorf("Start reference leaked: strong count %d", strong)
	}

	out.Release()
	if !out.Handle().Destroyed() {
		t.Error("Expected output to be destroyed after the creator released it")
	}
	if !s.closed {
		t.Error("Expected sink to be closed on destroy")
	}
}

func TestStartEmitsStartingThenStart(t *testing.T) {
	f := newFixture(t, encodedVideo)

	if !f.out.Start() {
		t.Fatal("Start failed")
	}
	want := []models.EventType{models.EventStarting, models.EventActivate, models.EventStart}
	if got := f.log.types(); !equalTypes(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if !f.out.Active() || f.out.State() != models.OutputStateActive {
		t.Errorf("Expected active output, state %s", f.out.State())
	}
	if !f.out.Start() {
		t.Error("Starting a started output should succeed")
	}
	if f.sink.startCount() != 1 {
		t.Errorf("Expected 1 sink start, got %d", f.sink.startCount())
	}
	if strong, _ := f.out.Handle().Counts(); strong != 1 {
		t.Errorf("Expected the running output to hold one extra reference, strong count %d", strong)
	}
}

func TestSinkStartFailureReportsError(t *testing.T) {
	f := newFixture(t, encodedVideo)
	f.sink.failNext = 1

	if f.out.Start() {
		t.Fatal("Expected start to fail")
	}
	stops := f.log.of(models.EventStop)
	if len(stops) != 1 || stops[0].Code != models.StopError {
		t.Errorf("Expected one stop(error), got %v", f.log.all())
	}
	if strong, _ := f.out.Handle().Counts(); strong != 0 {
		t.Errorf("Start reference leaked: strong count %d", strong)
	}
}

func TestDirectPathDeliversInOrder(t *testing.T) {
	f := newFixture(t, encodedVideo)
	f.out.Start()

	for i := int64(0); i < 5; i++ {
		f.pushVideo(i, 0)
	}

	got := f.sink.snapshot()
	if len(got) != 5 {
		t.Fatalf("Expected 5 packets, got %d", len(got))
	}
	for i, p := range got {
		if p.DTS != int64(i) {
			t.Errorf("Packet %d: expected dts %d, got %d", i, i, p.DTS)
		}
	}
	if f.out.TotalFrames() != 5 {
		t.Errorf("Expected 5 frames, got %d", f.out.TotalFrames())
	}
	if f.out.TotalBytes() != 10 {
		t.Errorf("Expected 10 bytes, got %d", f.out.TotalBytes())
	}
}

func TestInterleavedPathIsMonotonic(t *testing.T) {
	f := newFixture(t, encodedAV)
	f.out.Start()

	for i := int64(0); i < 20; i++ {
		f.pushVideo(i, 0)
		f.pushAudio(i)
	}

	got := f.sink.snapshot()
	if len(got) == 0 {
		t.Fatal("Expected delivered packets")
	}

	var last int64 = -1
	seen := map[models.TrackType]bool{}
	for _, p := range got {
		if p.DTSUsec < last {
			t.Fatalf("Delivery went backwards: %d after %d", p.DTSUsec, last)
		}
		last = p.DTSUsec

		if !seen[p.Type] {
			seen[p.Type] = true
			if p.DTS != 0 {
				t.Errorf("First %s packet should start at 0, got %d", p.Type, p.DTS)
			}
		}
	}
	if !seen[models.TrackVideo] || !seen[models.TrackAudio] {
		t.Errorf("Expected both tracks, got %v", seen)
	}
}

func TestPairingHoldsAudioUntilVideo(t *testing.T) {
	f := newFixture(t, encodedAV)
	f.out.Start()

	if f.aenc.Paired() != f.venc || !f.aenc.WaitingForVideo() {
		t.Fatal("Expected the audio encoder to be paired and waiting for video")
	}

	// audio ahead of the first video frame is held back by the encoder
	for i := int64(0); i < 3; i++ {
		f.pushAudio(i)
	}
	for i := int64(3); i < 10; i++ {
		f.pushVideo(i, 0)
		f.pushAudio(i)
	}

	got := f.sink.snapshot()
	if len(got) == 0 {
		t.Fatal("Expected delivered packets")
	}
	if got[0].Type != models.TrackVideo {
		t.Errorf("Expected video zero point first, got %s", got[0].Type)
	}
	for _, p := range got {
		if p.Type == models.TrackAudio && p.DTSUsec < 0 {
			t.Errorf("Audio packet before the video zero point: %d", p.DTSUsec)
		}
	}
	if f.out.interleaver.Pruned() != 0 {
		t.Errorf("Paired encoders should need no pruning, pruned %d", f.out.interleaver.Pruned())
	}

	f.out.ForceStop()
	if f.aenc.Paired() != nil {
		t.Error("Expected pairing to be cleared once the encoders stopped")
	}
}

func TestNoPairingForActiveEncoders(t *testing.T) {
	f := newFixture(t, encodedAV)
	f.aenc.Start("someone else", func(*models.Packet) {})
	defer f.aenc.Stop("someone else")

	f.out.Start()
	if f.aenc.Paired() != nil {
		t.Error("An already active encoder must not be paired")
	}
}

func TestSentTrackedFrame(t *testing.T) {
	f := newFixture(t, encodedVideo)
	f.out.Start()

	f.pushVideo(0, 0)
	f.pushVideo(1, 42)

	tracked := f.log.of(models.EventSentTrackedFrame)
	if len(tracked) != 1 {
		t.Fatalf("Expected one sent_tracked_frame, got %d", len(tracked))
	}
	ev := tracked[0]
	if ev.TrackedID != 42 || ev.FrameNumber != 2 || ev.PTS != 1 || ev.TimebaseDen != 30 {
		t.Errorf("Unexpected event %+v", ev)
	}
}

func TestRawOutput(t *testing.T) {
	f := newFixture(t, rawAV)
	if err := f.out.SetMixer(1); err != nil {
		t.Fatalf("SetMixer: %v", err)
	}

	if !f.out.Start() {
		t.Fatal("Start failed")
	}
	if f.video.Connected() != 1 || f.audio.Connected(1) != 1 {
		t.Fatal("Expected raw pipelines to be connected")
	}

	f.video.Push(&models.VideoFrame{})
	f.audio.Push(1, &models.AudioFrame{Frames: 1024})
	f.audio.Push(0, &models.AudioFrame{Frames: 1024})

	if f.sink.rawVideo != 1 || f.sink.rawAudio[1] != 1 || f.sink.rawAudio[0] != 0 {
		t.Errorf("Unexpected raw deliveries: video %d audio %v", f.sink.rawVideo, f.sink.rawAudio)
	}

	f.out.Stop()
	if f.video.Connected() != 0 || f.audio.Connected(1) != 0 {
		t.Error("Expected raw pipelines to be disconnected after stop")
	}
}

func TestSettersRejectInvalidArguments(t *testing.T) {
	f := newFixture(t, encodedAV)

	if err := f.out.SetVideoEncoder(nil); !errors.Is(err, ErrInvalidEncoder) {
		t.Errorf("nil video encoder: got %v", err)
	}
	if err := f.out.SetVideoEncoder(f.aenc); !errors.Is(err, ErrInvalidEncoder) {
		t.Errorf("audio as video encoder: got %v", err)
	}
	if err := f.out.SetAudioEncoder(f.aenc, 1); !errors.Is(err, ErrTrackOutOfRange) {
		t.Errorf("track 1 on a single-track sink: got %v", err)
	}
	if err := f.out.SetAudioEncoder(f.aenc, models.MaxAudioMixes); !errors.Is(err, ErrTrackOutOfRange) {
		t.Errorf("track past the last mix: got %v", err)
	}
	if err := f.out.SetService(nil); !errors.Is(err, ErrNoService) {
		t.Errorf("nil service: got %v", err)
	}
	if err := f.out.SetReconnectSettings(-1, 2); !errors.Is(err, ErrInvalidSetting) {
		t.Errorf("negative retries: got %v", err)
	}
	if f.out.AudioEncoder(0) != f.aenc {
		t.Error("Invalid calls must not change bindings")
	}

	f.out.Start()
	other := encoder.New(models.TrackVideo, "other", 1, 30, nil)
	if err := f.out.SetVideoEncoder(other); !errors.Is(err, ErrOutputActive) {
		t.Errorf("rebinding while active: got %v", err)
	}
	if f.out.VideoEncoder() != f.venc {
		t.Error("Bindings must stay frozen while active")
	}
}

func TestSetDelayRequiresEncodedSink(t *testing.T) {
	f := newFixture(t, rawAV)
	if err := f.out.SetDelay(5, 0); !errors.Is(err, ErrNotEncoded) {
		t.Errorf("Expected ErrNotEncoded, got %v", err)
	}
}

func TestEncoderBindingTable(t *testing.T) {
	log := logging.Discard()
	venc := encoder.New(models.TrackVideo, "video", 1, 30, log)
	out, err := New(Config{Name: "bound", Sink: newFakeSink(encodedVideo), Logger: log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := out.SetVideoEncoder(venc); err != nil {
		t.Fatalf("SetVideoEncoder: %v", err)
	}

	outs := venc.Outputs()
	if len(outs) != 1 || outs[0] != out {
		t.Fatalf("Expected output bound to video encoder, got %v", outs)
	}

	out.Release()
	if n := len(venc.Outputs()); n != 0 {
		t.Errorf("Expected destroy to unbind the encoder, %d outputs left", n)
	}
}

func TestServiceBindsToOneOutput(t *testing.T) {
	a := newFixture(t, encodedVideo|models.FlagService)
	b := newFixture(t, encodedVideo|models.FlagService)
	svc := service.New(service.Config{Name: "live", URL: "rtmp://localhost/live", Key: "k"})

	if err := a.out.SetService(svc); err != nil {
		t.Fatalf("SetService: %v", err)
	}
	if err := b.out.SetService(svc); err != nil {
		t.Fatalf("SetService: %v", err)
	}
	if a.out.Service() != nil || b.out.Service() != svc || svc.Output() != b.out {
		t.Error("Expected the service to move to the second output")
	}

	if !b.out.Start() {
		t.Fatal("Start failed")
	}
	if !svc.Active() {
		t.Error("Expected the service to be active while capturing")
	}
	b.out.Stop()
	if svc.Active() {
		t.Error("Expected the service to be idle after stop")
	}
}

func TestStartFailsOnInvalidService(t *testing.T) {
	f := newFixture(t, encodedVideo|models.FlagService)
	svc := service.New(service.Config{Name: "broken", URL: "http://example.com"})
	if err := f.out.SetService(svc); err != nil {
		t.Fatalf("SetService: %v", err)
	}

	if f.out.Start() {
		t.Fatal("Expected start to fail on an invalid service url")
	}
}

func TestNumAudioMixes(t *testing.T) {
	log := logging.Discard()
	out, err := New(Config{Name: "multi", Sink: newFakeSink(encodedAV | models.FlagMultiTrack), Logger: log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer out.Release()

	for _, idx := range []int{0, 1, 3} {
		enc := encoder.New(models.TrackAudio, "a", 1, 48000, log)
		if err := out.SetAudioEncoder(enc, idx); err != nil {
			t.Fatalf("SetAudioEncoder(%d): %v", idx, err)
		}
	}
	if n := out.numAudioMixes(); n != 2 {
		t.Errorf("Expected 2 contiguous tracks, got %d", n)
	}

	if err := out.SetService(service.New(service.Config{Name: "single", URL: "rtmp://h/app"})); err != nil {
		t.Fatalf("SetService: %v", err)
	}
	if n := out.numAudioMixes(); n != 1 {
		t.Errorf("Expected 1 track for a single-track service, got %d", n)
	}
}

func TestUnboundAudioEncoderPanics(t *testing.T) {
	f := newFixture(t, encodedAV)
	stray := encoder.New(models.TrackAudio, "stray", 1, 48000, nil)

	defer func() {
		if recover() == nil {
			t.Error("Expected a panic for a packet from an unbound audio encoder")
		}
	}()
	f.out.preparePacket(&models.Packet{Type: models.TrackAudio, EncoderID: stray.ID()})
}
