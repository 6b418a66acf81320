package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"rapidoutput/internal/metrics"
	"rapidoutput/internal/muxer"
	"rapidoutput/internal/storage"
	"rapidoutput/pkg/models"
)

const (
	DefaultSegmentDuration = 4 * time.Second
	DefaultRecordQueue     = 1024
	defaultWriteTimeout    = 10 * time.Second
)

// RecordConfig configures a RecordSink
type RecordConfig struct {
	Storage         storage.Storage
	Prefix          string        // directory of the recording within the storage
	SegmentDuration time.Duration // segments are cut at the first keyframe past this
	MaxSegments     int           // sliding window size, 0 keeps every segment
	QueueSize       int
	WriteTimeout    time.Duration
	Metrics         *metrics.Metrics
	Logger          logrus.FieldLogger
}

// RecordSink records the encoded audio/video of an output as a sliding
// window of FLV segments plus an index.json describing the window
type RecordSink struct {
	cfg RecordConfig
	log logrus.FieldLogger

	mu      sync.Mutex
	host    Host
	running bool
	queue   chan *models.Packet
	stopReq chan bool // true drains the queue first
	done    chan struct{}

	bytes   atomic.Uint64
	dropped atomic.Int64
	closed  atomic.Bool
	dropLog rate.Sometimes

	// writer state
	tagger   *tagger
	seg      []byte
	segStart uint32
	segLast  uint32
	segTags  int
	seq      uint64
	index    *models.SegmentIndex
}

// NewRecordSink creates a record sink writing under cfg.Prefix
func NewRecordSink(cfg RecordConfig) (*RecordSink, error) {
	if cfg.Storage == nil {
		return nil, errors.New("record sink requires a storage")
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = DefaultSegmentDuration
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultRecordQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &RecordSink{
		cfg:     cfg,
		log:     cfg.Logger.WithFields(logrus.Fields{"sink": "record", "prefix": cfg.Prefix}),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}, nil
}

func (s *RecordSink) Name() string { return "record" }

func (s *RecordSink) Flags() models.OutputFlags {
	return models.FlagAV | models.FlagEncoded
}

// Start initializes the encoders, starts the writer and begins capture
func (s *RecordSink) Start(host Host) bool {
	if s.closed.Load() {
		return false
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("Start called on a running recording")
		return false
	}
	s.mu.Unlock()

	if !host.InitializeEncoders(0) {
		return false
	}
	t, err := newTagger(host, s.Flags())
	if err != nil {
		s.log.WithError(err).Error("Cannot build FLV headers")
		return false
	}

	s.mu.Lock()
	s.host = host
	s.tagger = t
	s.seg = nil
	s.segTags = 0
	if s.index == nil {
		s.index = &models.SegmentIndex{OutputName: host.Name(), MaxSegments: s.cfg.MaxSegments}
	}
	s.queue = make(chan *models.Packet, s.cfg.QueueSize)
	s.stopReq = make(chan bool, 1)
	s.done = make(chan struct{})
	s.running = true
	go s.writeLoop(s.queue, s.stopReq, s.done)
	s.mu.Unlock()

	if !host.BeginDataCapture(0) {
		s.Stop(0)
		return false
	}

	s.log.Infof("Recording '%s'", host.Name())
	return true
}

// Stop ends the recording. With a nonzero ts the packets already queued are
// written first.
func (s *RecordSink) Stop(ts uint64) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopReq, done := s.stopReq, s.done
	s.mu.Unlock()

	stopReq <- ts != 0
	<-done
}

// EncodedPacket queues p for the writer, dropping it when the queue is full
func (s *RecordSink) EncodedPacket(p *models.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	select {
	case s.queue <- p:
	default:
		n := s.dropped.Add(1)
		s.cfg.Metrics.RecordDropped(s.host.Name(), "record_queue_full")
		s.dropLog.Do(func() {
			s.log.Warnf("Recording queue full, %d packets dropped", n)
		})
	}
}

func (s *RecordSink) RawVideo(*models.VideoFrame) {}

func (s *RecordSink) RawAudio(int, *models.AudioFrame) {}

func (s *RecordSink) TotalBytes() uint64 { return s.bytes.Load() }

func (s *RecordSink) DroppedFrames() int { return int(s.dropped.Load()) }

// Segments returns a copy of the current segment window
func (s *RecordSink) Segments() []models.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	out := make([]models.Segment, len(s.index.Segments))
	for i, seg := range s.index.Segments {
		out[i] = *seg
	}
	return out
}

// Close stops a running recording. It is safe to call more than once.
func (s *RecordSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.Stop(0)
	return nil
}

func (s *RecordSink) writeLoop(queue chan *models.Packet, stopReq chan bool, done chan struct{}) {
	defer close(done)

	for {
		select {
		case p := <-queue:
			if err := s.write(p); err != nil {
				s.fail(err)
				return
			}
		case drain := <-stopReq:
			for drain {
				select {
				case p := <-queue:
					if err := s.write(p); err != nil {
						s.log.WithError(err).Error("Write failed while draining")
						drain = false
					}
				default:
					drain = false
				}
			}
			if err := s.flush(s.segLast); err != nil {
				s.log.WithError(err).Error("Failed to write final segment")
			}
			return
		}
	}
}

// fail ends the session from the writer side and reports it to the host
func (s *RecordSink) fail(err error) {
	code := models.StopError
	if errors.Is(err, syscall.ENOSPC) {
		code = models.StopNoSpace
	}
	s.log.WithError(err).Error("Recording failed")

	s.mu.Lock()
	s.running = false
	host := s.host
	s.mu.Unlock()

	go host.SignalStop(code)
}

func (s *RecordSink) write(p *models.Packet) error {
	tag, ok := s.tagger.tag(p)
	if !ok {
		return nil
	}

	// Cut at a keyframe, or at any tag for audio-only recordings
	cut := tag.Keyframe || (!s.tagger.hasVideo() && tag.Type == muxer.TagTypeAudio)
	if s.seg != nil && cut && time.Duration(tag.TimestampMs-s.segStart)*time.Millisecond >= s.cfg.SegmentDuration {
		if err := s.flush(tag.TimestampMs); err != nil {
			return err
		}
	}

	if s.seg == nil {
		s.seg = muxer.FileHeader(s.tagger.hasVideo(), s.tagger.hasAudio())
		for _, h := range s.tagger.sequenceHeaders() {
			s.seg = muxer.AppendTag(s.seg, h.Type, tag.TimestampMs, h.Body)
		}
		s.segStart = tag.TimestampMs
		s.segTags = 0
	}

	before := len(s.seg)
	s.seg = muxer.AppendTag(s.seg, tag.Type, tag.TimestampMs, tag.Body)
	s.bytes.Add(uint64(len(s.seg) - before))
	s.segLast = tag.TimestampMs
	s.segTags++
	return nil
}

// flush writes the open segment, slides the window and rewrites the index
func (s *RecordSink) flush(endMs uint32) error {
	if s.seg == nil || s.segTags == 0 {
		s.seg = nil
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	seg := &models.Segment{
		OutputName:  s.index.OutputName,
		SequenceNum: s.seq,
		Duration:    float64(endMs-s.segStart) / 1000,
		Packets:     s.segTags,
		FilePath:    path.Join(s.cfg.Prefix, fmt.Sprintf("segment_%d.flv", s.seq)),
		FileSize:    int64(len(s.seg)),
		CreatedAt:   time.Now(),
	}
	if err := s.cfg.Storage.Write(ctx, seg.FilePath, s.seg); err != nil {
		return fmt.Errorf("write segment %d: %w", seg.SequenceNum, err)
	}
	s.seq++
	s.seg = nil
	s.cfg.Metrics.RecordSegment(seg.Duration, seg.FileSize)

	s.mu.Lock()
	evicted := s.index.AddSegment(seg)
	indexJSON, err := json.MarshalIndent(s.index, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if evicted != nil {
		if err := s.cfg.Storage.Delete(ctx, evicted.FilePath); err != nil {
			s.log.WithError(err).Warnf("Failed to delete segment %d", evicted.SequenceNum)
		} else {
			s.cfg.Metrics.RecordSegmentDeleted()
		}
	}
	if err := s.cfg.Storage.Write(ctx, path.Join(s.cfg.Prefix, "index.json"), indexJSON); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"segment":  seg.SequenceNum,
		"duration": seg.Duration,
		"bytes":    seg.FileSize,
	}).Debug("Segment written")
	return nil
}
