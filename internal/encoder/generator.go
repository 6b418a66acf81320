package encoder

import (
	"bytes"
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"rapidoutput/internal/media"
	"rapidoutput/internal/muxer"
	"rapidoutput/pkg/models"
)

// Synthetic H.264 baseline 3.0 parameter sets and an AAC-LC 48 kHz stereo
// AudioSpecificConfig
var (
	syntheticSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x02, 0x80, 0xBF, 0xE5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0x03, 0x00, 0xF0, 0x3C, 0x58, 0xBA, 0x80}
	syntheticPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	syntheticASC = []byte{0x11, 0x90}
)

// GeneratorConfig configures the synthetic capture pipeline
type GeneratorConfig struct {
	FPS              int
	SampleRate       int
	SamplesPerPacket int
	KeyframeInterval int // frames between IDR frames
	VideoPayload     int // bytes per video frame
	AudioPayload     int // bytes per audio packet
	Mix              int
}

// DefaultGeneratorConfig returns 30 fps video and 48 kHz AAC-sized audio
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		FPS:              30,
		SampleRate:       48000,
		SamplesPerPacket: 1024,
		KeyframeInterval: 60,
		VideoPayload:     4096,
		AudioPayload:     256,
	}
}

// Generator drives the raw pipelines on real-time tickers and encodes what
// they produce into synthetic packets
type Generator struct {
	cfg GeneratorConfig

	video *media.Video
	audio *media.Audio
	venc  *Encoder
	aenc  *Encoder

	frames int64
	blocks int64

	log logrus.FieldLogger
}

// NewVideoEncoder creates a video encoder matching cfg
func NewVideoEncoder(name string, cfg GeneratorConfig, log logrus.FieldLogger) *Encoder {
	e := New(models.TrackVideo, name, 1, int32(cfg.FPS), log)
	header := append(append([]byte{}, muxer.StartCode4...), syntheticSPS...)
	header = append(append(header, muxer.StartCode4...), syntheticPPS...)
	e.SetExtraData(header)
	return e
}

// NewAudioEncoder creates an audio encoder matching cfg
func NewAudioEncoder(name string, cfg GeneratorConfig, log logrus.FieldLogger) *Encoder {
	e := New(models.TrackAudio, name, 1, int32(cfg.SampleRate), log)
	e.SetExtraData(syntheticASC)
	return e
}

// NewGenerator creates a generator feeding venc from video and aenc from
// audio
func NewGenerator(cfg GeneratorConfig, video *media.Video, audio *media.Audio, venc, aenc *Encoder, log logrus.FieldLogger) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{
		cfg:   cfg,
		video: video,
		audio: audio,
		venc:  venc,
		aenc:  aenc,
		log:   log.WithField("component", "generator"),
	}
}

// Run produces frames until ctx is done
func (g *Generator) Run(ctx context.Context) error {
	g.video.Connect(g, g.encodeVideo)
	g.audio.Connect(g.cfg.Mix, g, g.encodeAudio)
	defer g.video.Disconnect(g)
	defer g.audio.Disconnect(g.cfg.Mix, g)

	width, height := g.video.Size()
	frameInterval := time.Second / time.Duration(g.cfg.FPS)
	blockInterval := time.Duration(g.cfg.SamplesPerPacket) * time.Second / time.Duration(g.cfg.SampleRate)

	vt := time.NewTicker(frameInterval)
	defer vt.Stop()
	at := time.NewTicker(blockInterval)
	defer at.Stop()

	origin := time.Now()
	g.log.Infof("Generating %dx%d@%d video and %d Hz audio", width, height, g.cfg.FPS, g.cfg.SampleRate)

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-vt.C:
			g.video.Push(&models.VideoFrame{
				Timestamp: uint64(now.Sub(origin)),
				Width:     width,
				Height:    height,
			})
		case now := <-at.C:
			g.audio.Push(g.cfg.Mix, &models.AudioFrame{
				Timestamp: uint64(now.Sub(origin)),
				Frames:    g.cfg.SamplesPerPacket,
			})
		}
	}
}

func (g *Generator) encodeVideo(frame *models.VideoFrame) {
	idx := g.frames
	g.frames++

	keyframe := g.cfg.KeyframeInterval <= 1 || idx%int64(g.cfg.KeyframeInterval) == 0

	nalHeader := byte(0x41)
	if keyframe {
		nalHeader = 0x65
	}

	data := make([]byte, 0, len(muxer.StartCode4)+1+g.cfg.VideoPayload)
	data = append(data, muxer.StartCode4...)
	data = append(data, nalHeader)
	data = append(data, bytes.Repeat([]byte{0x5A}, g.cfg.VideoPayload)...)

	g.venc.Push(&models.Packet{
		DTS:       idx,
		PTS:       idx,
		Keyframe:  keyframe,
		TrackedID: frame.TrackedID,
		Data:      data,
	})
}

func (g *Generator) encodeAudio(_ int, frame *models.AudioFrame) {
	ts := g.blocks * int64(frame.Frames)
	g.blocks++

	g.aenc.Push(&models.Packet{
		DTS:  ts,
		PTS:  ts,
		Data: bytes.Repeat([]byte{0x21}, g.cfg.AudioPayload),
	})
}
