package httpServer

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rapidoutput/internal/events"
	"rapidoutput/internal/metrics"
	"rapidoutput/internal/output"
	"rapidoutput/internal/registry"
	"rapidoutput/internal/rtmp"
	"rapidoutput/internal/sink"
	"rapidoutput/internal/storage"
	"rapidoutput/pkg/models"
)

// Server wraps the HTTP server with dependencies
type Server struct {
	router   *gin.Engine
	registry *registry.Registry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	ingest   *rtmp.Server    // optional loopback ingest
	storage  storage.Storage // optional recording storage
	events   *events.Bus     // optional event stream source
	log      logrus.FieldLogger

	keepAlive time.Duration // interval of stats messages on the event stream

	stopTimeoutMs uint64 // used when a stop request has no body
}

// Option customizes a Server
type Option func(*Server)

// WithIngest exposes the streams of a loopback ingest server
func WithIngest(in *rtmp.Server) Option {
	return func(s *Server) { s.ingest = in }
}

// WithStorage serves recorded segments from st
func WithStorage(st storage.Storage) Option {
	return func(s *Server) { s.storage = st }
}

// WithStopTimeout sets the stop deadline used when a stop request carries
// no body
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) { s.stopTimeoutMs = uint64(d.Milliseconds()) }
}

// WithEvents streams the events of bus on /api/v1/events
func WithEvents(bus *events.Bus) Option {
	return func(s *Server) { s.events = bus }
}

// WithLogger sets the request logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a new HTTP server. gatherer backs /metrics and may be nil.
func New(reg *registry.Registry, m *metrics.Metrics, gatherer prometheus.Gatherer, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		metrics:   m,
		gatherer:  gatherer,
		log:       logrus.StandardLogger(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/v1/outputs", s.handleListOutputs)
		api.GET("/v1/outputs/:name", s.handleGetOutput)
		api.GET("/v1/outputs/:name/segments", s.handleSegments)
		api.POST("/v1/outputs/:name/start", s.handleStart)
		api.POST("/v1/outputs/:name/stop", s.handleStop)
		api.POST("/v1/outputs/:name/force-stop", s.handleForceStop)
		api.PUT("/v1/outputs/:name/delay", s.handleDelay)
		api.PUT("/v1/outputs/:name/reconnect", s.handleReconnect)
		api.GET("/v1/ingest", s.handleIngest)
		api.GET("/v1/events", s.handleEvents)
	}

	router.GET("/recordings/*path", s.handleRecording)

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.router = router
}

// Handler returns the router for use with an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// observe logs each request and records its latency
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), elapsed.Seconds())

		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": elapsed,
		}).Debug("HTTP request")
	}
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

// eventBuffer is the per-client backlog; a slower client loses events
const eventBuffer = 64

// handleEvents streams output events as server-sent events, optionally
// limited to one output with ?output=name. A periodic stats message reports
// how many events slow clients have lost.
func (s *Server) handleEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream not enabled"})
		return
	}

	ch, cleanup := s.events.SubscribeChan(eventBuffer)
	defer cleanup()

	only := c.Query("output")
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if only == "" || ev.Output == only {
				c.SSEvent(string(ev.Type), ev)
			}
			return true
		case <-ticker.C:
			c.SSEvent("stats", gin.H{"dropped": s.events.Dropped()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleListOutputs(c *gin.Context) {
	infos := s.registry.List()
	c.JSON(http.StatusOK, models.OutputListResponse{
		Outputs: infos,
		Total:   len(infos),
	})
}

// withOutput resolves the :name parameter to a strong reference and
// releases it after fn
func (s *Server) withOutput(c *gin.Context, fn func(out *output.Output)) {
	out, err := s.registry.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "output not found"})
		return
	}
	defer out.Release()
	fn(out)
}

func (s *Server) handleGetOutput(c *gin.Context) {
	s.withOutput(c, func(out *output.Output) {
		c.JSON(http.StatusOK, out.Info())
	})
}

func (s *Server) handleSegments(c *gin.Context) {
	s.withOutput(c, func(out *output.Output) {
		rec, ok := out.Sink().(*sink.RecordSink)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "output does not record"})
			return
		}
		segments := rec.Segments()
		c.JSON(http.StatusOK, gin.H{
			"segments": segments,
			"total":    len(segments),
		})
	})
}

func (s *Server) handleStart(c *gin.Context) {
	s.withOutput(c, func(out *output.Output) {
		if !out.Start() {
			c.JSON(http.StatusConflict, gin.H{"error": "failed to start output"})
			return
		}
		c.JSON(http.StatusOK, out.Info())
	})
}

func (s *Server) handleStop(c *gin.Context) {
	req := models.StopRequest{TimeoutMs: s.stopTimeoutMs}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s.withOutput(c, func(out *output.Output) {
		if !out.StopWithTimeout(req.TimeoutMs) {
			c.JSON(http.StatusConflict, gin.H{"error": "output is not running"})
			return
		}
		// the stop completes once the stop frame is delivered
		c.JSON(http.StatusAccepted, out.Info())
	})
}

func (s *Server) handleForceStop(c *gin.Context) {
	s.withOutput(c, func(out *output.Output) {
		out.ForceStop()
		c.JSON(http.StatusOK, out.Info())
	})
}

func (s *Server) handleDelay(c *gin.Context) {
	var req models.DelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var flags models.DelayFlags
	if req.Preserve {
		flags |= models.DelayPreserve
	}

	s.withOutput(c, func(out *output.Output) {
		if err := out.SetDelay(req.DelaySec, flags); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, output.ErrNotEncoded) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out.Info())
	})
}

func (s *Server) handleReconnect(c *gin.Context) {
	var req models.ReconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.withOutput(c, func(out *output.Output) {
		if err := out.SetReconnectSettings(req.MaxRetries, req.RetrySec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		maxRetries, retrySec := out.ReconnectSettings()
		c.JSON(http.StatusOK, models.ReconnectRequest{
			RetrySec:   retrySec,
			MaxRetries: maxRetries,
		})
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.ingest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ingest is disabled"})
		return
	}

	streams := s.ingest.Streams()
	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"total":   len(streams),
	})
}

func (s *Server) handleRecording(c *gin.Context) {
	if s.storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording is disabled"})
		return
	}

	p := strings.TrimPrefix(path.Clean("/"+c.Param("path")), "/")
	if p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
		return
	}

	data, err := s.storage.Read(c.Request.Context(), p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
			return
		}
		s.log.WithError(err).Warnf("Failed to read recording %s", p)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read recording"})
		return
	}

	c.Header("Cache-Control", storage.CacheControl(p))
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, storage.ContentType(p), data)
}
