package sink

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
	"golang.org/x/time/rate"

	"rapidoutput/internal/metrics"
	"rapidoutput/internal/muxer"
	"rapidoutput/pkg/models"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultSendQueue   = 2048

	defaultRTMPPort = "1935"
	rtmpChunkSize   = 4096

	audioChunkStreamID = 4
	videoChunkStreamID = 6
)

// RTMPConfig configures an RTMPSink
type RTMPConfig struct {
	DialTimeout time.Duration
	QueueSize   int
	Metrics     *metrics.Metrics
	Logger      logrus.FieldLogger
}

// RTMPSink publishes the encoded audio/video of an output to the RTMP
// server of its service. Connecting happens in the background; the sink
// begins capture once the stream is published.
type RTMPSink struct {
	cfg RTMPConfig
	log logrus.FieldLogger

	mu      sync.Mutex
	host    Host
	running bool
	live    bool // published and accepting packets
	queue   chan *models.Packet
	skipGOP bool // video dropped, shed non-key video until the next keyframe
	stopReq chan bool
	done    chan struct{}

	bytes   atomic.Uint64
	dropped atomic.Int64
	closed  atomic.Bool
	dropLog rate.Sometimes
}

// NewRTMPSink creates an RTMP sink
func NewRTMPSink(cfg RTMPConfig) *RTMPSink {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSendQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &RTMPSink{
		cfg:     cfg,
		log:     cfg.Logger.WithField("sink", "rtmp"),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

func (s *RTMPSink) Name() string { return "rtmp" }

func (s *RTMPSink) Flags() models.OutputFlags {
	return models.FlagAV | models.FlagEncoded | models.FlagService
}

// target splits a service URL into the dial address, the application name
// and the tcUrl sent with connect
type target struct {
	addr  string
	app   string
	tcURL string
	key   string
}

func parseTarget(rawURL, key string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, err
	}
	if u.Scheme != "rtmp" {
		return target{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultRTMPPort)
	}
	return target{
		addr:  host,
		app:   strings.Trim(u.Path, "/"),
		tcURL: rawURL,
		key:   key,
	}, nil
}

// Start validates the destination and connects in the background
func (s *RTMPSink) Start(host Host) bool {
	if s.closed.Load() {
		return false
	}

	svc := host.Service()
	if svc == nil {
		return false
	}
	if !host.InitializeEncoders(0) {
		return false
	}

	dst, err := parseTarget(svc.URL(), svc.Key())
	if err != nil {
		s.log.WithError(err).Warnf("Cannot publish to '%s'", svc.URL())
		return false
	}
	t, err := newTagger(host, s.Flags())
	if err != nil {
		s.log.WithError(err).Error("Cannot build FLV headers")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("Start called on a running stream")
		return false
	}
	s.host = host
	s.running = true
	s.live = false
	s.skipGOP = false
	s.queue = make(chan *models.Packet, s.cfg.QueueSize)
	s.stopReq = make(chan bool, 1)
	s.done = make(chan struct{})
	go s.run(host, dst, t, s.queue, s.stopReq, s.done)

	return true
}

// Stop ends the session. With a nonzero ts the queued packets are sent
// before the stream is closed.
func (s *RTMPSink) Stop(ts uint64) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.live = false
	stopReq, done := s.stopReq, s.done
	s.mu.Unlock()

	stopReq <- ts != 0
	<-done
}

// EncodedPacket queues p for the send loop. Once the queue is three quarters
// full low priority packets are shed; packets that do not fit at all are
// dropped. After any video drop the rest of the GOP is shed too, since it
// cannot be decoded without the lost frame.
func (s *RTMPSink) EncodedPacket(p *models.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}

	video := p.Type == models.TrackVideo
	if video && s.skipGOP {
		if !p.Keyframe {
			s.drop(p, "gop_incomplete")
			return
		}
		s.skipGOP = false
	}

	if p.Priority <= models.PriorityLow && len(s.queue)*4 >= cap(s.queue)*3 {
		s.drop(p, "congestion")
		return
	}

	select {
	case s.queue <- p:
	default:
		s.drop(p, "send_queue_full")
	}
}

// drop discards p. Callers hold s.mu.
func (s *RTMPSink) drop(p *models.Packet, reason string) {
	if p.Type == models.TrackVideo {
		s.skipGOP = true
	}
	n := s.dropped.Add(1)
	s.cfg.Metrics.RecordDropped(s.host.Name(), reason)
	s.dropLog.Do(func() {
		s.log.Warnf("Send queue congested, %d packets dropped", n)
	})
}

func (s *RTMPSink) RawVideo(*models.VideoFrame) {}

func (s *RTMPSink) RawAudio(int, *models.AudioFrame) {}

func (s *RTMPSink) TotalBytes() uint64 { return s.bytes.Load() }

func (s *RTMPSink) DroppedFrames() int { return int(s.dropped.Load()) }

// Close stops a running session. It is safe to call more than once.
func (s *RTMPSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.Stop(0)
	return nil
}

// publisher is one published RTMP stream
type publisher struct {
	conn   *rtmp.ClientConn
	stream *rtmp.Stream
}

func (p *publisher) close() {
	if p.stream != nil {
		p.stream.Close()
	}
	p.conn.Close()
}

func (s *RTMPSink) connect(dst target) (*publisher, error) {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := rtmp.DialWithDialer(dialer, "rtmp", dst.addr, &rtmp.ConnConfig{
		Logger: s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", dst.addr, err)
	}
	p := &publisher{conn: conn}

	err = conn.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      dst.app,
			Type:     "nonprivate",
			FlashVer: "FMLE/3.0 (compatible; rapidoutput)",
			TCURL:    dst.tcURL,
		},
	})
	if err != nil {
		p.close()
		return nil, fmt.Errorf("connect %s: %w", dst.app, err)
	}

	p.stream, err = conn.CreateStream(nil, rtmpChunkSize)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	err = p.stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: dst.key,
		PublishingType: "live",
	})
	if err != nil {
		p.close()
		return nil, fmt.Errorf("publish %s: %w", dst.key, err)
	}
	return p, nil
}

func (p *publisher) send(tag flvTag) error {
	payload := bytes.NewReader(tag.Body)
	if tag.Type == muxer.TagTypeVideo {
		return p.stream.Write(videoChunkStreamID, tag.TimestampMs, &rtmpmsg.VideoMessage{Payload: payload})
	}
	return p.stream.Write(audioChunkStreamID, tag.TimestampMs, &rtmpmsg.AudioMessage{Payload: payload})
}

// run connects, begins capture and sends queued packets until stopped
func (s *RTMPSink) run(host Host, dst target, t *tagger, queue chan *models.Packet, stopReq chan bool, done chan struct{}) {
	defer close(done)

	log := s.log.WithFields(logrus.Fields{"output": host.Name(), "addr": dst.addr, "app": dst.app})
	log.Info("Connecting")

	pub, err := s.connect(dst)
	if err != nil {
		s.cfg.Metrics.RecordRTMPError()
		if s.end() {
			log.WithError(err).Warn("Connection failed")
			go host.SignalStop(models.StopConnectFailed)
		}
		return
	}
	s.cfg.Metrics.RecordRTMPConnection()
	defer func() {
		pub.close()
		s.cfg.Metrics.RecordRTMPDisconnect()
	}()

	for _, h := range t.sequenceHeaders() {
		if err := pub.send(h); err != nil {
			if s.end() {
				log.WithError(err).Warn("Failed to send sequence headers")
				go host.SignalStop(models.StopDisconnected)
			}
			return
		}
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.live = true
	s.mu.Unlock()

	if !host.BeginDataCapture(0) {
		if s.end() {
			go host.SignalStop(models.StopError)
		}
		return
	}
	log.Info("Publishing")

	send := func(p *models.Packet) error {
		tag, ok := t.tag(p)
		if !ok {
			return nil
		}
		if err := pub.send(tag); err != nil {
			return err
		}
		s.bytes.Add(uint64(len(tag.Body)))
		s.cfg.Metrics.RecordRTMPBytes("sent", len(tag.Body))
		return nil
	}

	for {
		select {
		case p := <-queue:
			if err := send(p); err != nil {
				if s.end() {
					log.WithError(err).Warn("Disconnected")
					go host.SignalStop(models.StopDisconnected)
				}
				return
			}
		case drain := <-stopReq:
			for drain {
				select {
				case p := <-queue:
					if err := send(p); err != nil {
						log.WithError(err).Warn("Send failed while draining")
						drain = false
					}
				default:
					drain = false
				}
			}
			log.Info("Stream closed")
			return
		}
	}
}

// end marks the session over from the send loop. It reports false when
// Stop already ended it.
func (s *RTMPSink) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	s.live = false
	return true
}
