// Package rtmp runs a loopback RTMP ingest server. It accepts published
// streams and hands the received audio and video back as packets, which
// makes it a local monitor target for RTMP outputs.
package rtmp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"rapidoutput/internal/metrics"
	"rapidoutput/internal/muxer"
	"rapidoutput/pkg/models"
)

// ErrStreamLive is returned to a publisher whose key is already live
var ErrStreamLive = errors.New("stream is already live")

// PacketFunc receives the packets of a published stream. Video is Annex-B
// with parameter sets ahead of keyframes; timestamps are in milliseconds.
type PacketFunc func(key string, p *models.Packet)

// Config configures the ingest server
type Config struct {
	OnPacket PacketFunc
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
}

// Server represents the RTMP ingest server
type Server struct {
	onPacket PacketFunc
	m        *metrics.Metrics
	log      logrus.FieldLogger
	server   *rtmp.Server

	mu      sync.RWMutex
	streams map[string]*models.IngestStream
}

// New creates a new RTMP ingest server
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		onPacket: cfg.OnPacket,
		m:        cfg.Metrics,
		log:      log.WithField("component", "rtmp-ingest"),
		streams:  make(map[string]*models.IngestStream),
	}
	s.server = rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: s.onConnect,
	})
	return s
}

// Serve accepts connections on l until Close
func (s *Server) Serve(l net.Listener) error {
	s.log.Infof("RTMP ingest listening on %s", l.Addr())
	return s.server.Serve(l)
}

// Close shuts the server down
func (s *Server) Close() error {
	return s.server.Close()
}

// Streams returns a snapshot of every stream seen, sorted by key
func (s *Server) Streams() []models.IngestStream {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.IngestStream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stream returns a snapshot of one stream
func (s *Server) Stream(key string) (models.IngestStream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[key]
	if !ok {
		return models.IngestStream{}, false
	}
	return *st, true
}

func (s *Server) publish(key, app, remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[key]; ok && st.Live {
		return fmt.Errorf("%s: %w", key, ErrStreamLive)
	}
	s.streams[key] = &models.IngestStream{
		Key:        key,
		App:        app,
		RemoteAddr: remote,
		Live:       true,
		StartedAt:  time.Now(),
	}
	return nil
}

func (s *Server) update(key string, fn func(st *models.IngestStream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[key]; ok {
		fn(st)
	}
}

func (s *Server) onConnect(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("New RTMP connection")

	handler := &connHandler{
		server: s,
		conn:   conn,
		log:    log,
	}

	return conn, &rtmp.ConnConfig{
		Handler: handler,
		ControlState: rtmp.StreamControlStateConfig{
			DefaultBandwidthWindowSize: 6 * 1024 * 1024,
		},
		Logger: log,
	}
}

// connHandler handles the events of one RTMP connection
type connHandler struct {
	rtmp.DefaultHandler

	server *Server
	conn   net.Conn
	log    logrus.FieldLogger

	mu  sync.Mutex
	app string
	key string
	sps [][]byte
	pps [][]byte
}

func (h *connHandler) OnConnect(timestamp uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	h.mu.Lock()
	h.app = cmd.Command.App
	h.mu.Unlock()

	h.log.Debugf("Connect: app=%s, tcUrl=%s", cmd.Command.App, cmd.Command.TCURL)
	return nil
}

func (h *connHandler) OnPublish(ctx *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	key := cmd.PublishingName
	if key == "" {
		return errors.New("empty publishing name")
	}

	h.mu.Lock()
	app := h.app
	h.mu.Unlock()

	if err := h.server.publish(key, app, h.conn.RemoteAddr().String()); err != nil {
		h.log.WithError(err).Warn("Publish rejected")
		return err
	}

	h.mu.Lock()
	h.key = key
	h.mu.Unlock()

	h.log.Infof("Stream %s is now live", key)
	return nil
}

func (h *connHandler) streamKey() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key
}

func (h *connHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	key := h.streamKey()
	if key == "" {
		return nil
	}

	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	h.server.m.RecordRTMPBytes("received", len(data))

	isSeq, raw, err := muxer.ParseFLVAudioPacket(data)
	if err != nil {
		h.log.WithError(err).Debug("Skipping audio packet")
		return nil
	}
	if isSeq {
		h.server.update(key, func(st *models.IngestStream) { st.HasAACConfig = true })
		return nil
	}

	h.server.update(key, func(st *models.IngestStream) {
		st.AudioPackets++
		st.Bytes += uint64(len(data))
	})
	h.deliver(key, &models.Packet{
		Type:        models.TrackAudio,
		DTS:         int64(timestamp),
		PTS:         int64(timestamp),
		TimebaseNum: 1,
		TimebaseDen: 1000,
		DTSUsec:     int64(timestamp) * 1000,
		Data:        raw,
	})
	return nil
}

func (h *connHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	key := h.streamKey()
	if key == "" {
		return nil
	}

	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	h.server.m.RecordRTMPBytes("received", len(data))

	isSeq, isKey, avcData, err := muxer.ParseFLVVideoPacket(data)
	if err != nil {
		h.log.WithError(err).Debug("Skipping video packet")
		return nil
	}

	if isSeq {
		rec, err := muxer.ParseAVCDecoderConfigurationRecord(avcData)
		if err != nil {
			h.log.WithError(err).Warn("Failed to parse AVCDecoderConfigurationRecord")
			return nil
		}
		h.mu.Lock()
		h.sps, h.pps = rec.SPS, rec.PPS
		h.mu.Unlock()
		h.server.update(key, func(st *models.IngestStream) { st.HasAVCConfig = true })
		return nil
	}

	annexB, err := muxer.ConvertAVCCToAnnexB(avcData)
	if err != nil {
		h.log.WithError(err).Debug("Skipping video packet")
		return nil
	}
	if isKey {
		h.mu.Lock()
		sps, pps := h.sps, h.pps
		h.mu.Unlock()
		if len(sps) > 0 && len(pps) > 0 {
			annexB = muxer.PrependSPSPPSAnnexB(annexB, sps, pps)
		}
	}

	h.server.update(key, func(st *models.IngestStream) {
		st.VideoPackets++
		st.Bytes += uint64(len(data))
		if isKey {
			st.Keyframes++
		}
	})

	cts := int64(muxer.CompositionTime(data))
	h.deliver(key, &models.Packet{
		Type:        models.TrackVideo,
		DTS:         int64(timestamp),
		PTS:         int64(timestamp) + cts,
		TimebaseNum: 1,
		TimebaseDen: 1000,
		DTSUsec:     int64(timestamp) * 1000,
		Keyframe:    isKey,
		Data:        annexB,
	})
	return nil
}

func (h *connHandler) deliver(key string, p *models.Packet) {
	if h.server.onPacket != nil {
		h.server.onPacket(key, p)
	}
}

func (h *connHandler) OnClose() {
	key := h.streamKey()
	if key == "" {
		return
	}
	h.server.update(key, func(st *models.IngestStream) { st.Live = false })
	h.log.Infof("Stream %s ended", key)
}
