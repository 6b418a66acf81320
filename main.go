package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rapidoutput/config"
	"rapidoutput/httpServer"
	"rapidoutput/internal/encoder"
	"rapidoutput/internal/events"
	"rapidoutput/internal/logging"
	"rapidoutput/internal/media"
	"rapidoutput/internal/metrics"
	"rapidoutput/internal/output"
	"rapidoutput/internal/registry"
	"rapidoutput/internal/rtmp"
	"rapidoutput/internal/service"
	"rapidoutput/internal/sink"
	"rapidoutput/internal/storage"
	"rapidoutput/pkg/models"
)

const (
	videoWidth    = 1280
	videoHeight   = 720
	audioChannels = 2
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatalf("Engine failed: %v", err)
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Starting RapidOutput engine...")
	log.Infof("HTTP Server: %s", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// Initialize storage
	store, err := newStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	// Capture pipeline
	video := media.NewVideo(videoWidth, videoHeight)
	audio := media.NewAudio(cfg.GeneratorSampleRate, audioChannels)
	gcfg := encoder.DefaultGeneratorConfig()
	gcfg.FPS = cfg.GeneratorFPS
	gcfg.SampleRate = cfg.GeneratorSampleRate
	venc := encoder.NewVideoEncoder("video", gcfg, log)
	aenc := encoder.NewAudioEncoder("audio", gcfg, log)
	gen := encoder.NewGenerator(gcfg, video, audio, venc, aenc, log)

	bus := events.New()
	unsubscribe := bus.Subscribe(func(ev models.Event) {
		log.WithFields(logrus.Fields{"output": ev.Output, "event": ev.Type}).Debug("Output event")
	})
	defer unsubscribe()

	reg := registry.New(log)
	newOutput := func(name string, s sink.Sink) (*output.Output, error) {
		out, err := reg.Create(output.Config{
			Name:    name,
			Sink:    s,
			Video:   video,
			Audio:   audio,
			Events:  bus,
			Metrics: m,
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		if err := configureOutput(out, cfg, venc, aenc); err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		return out, nil
	}

	if cfg.RecordEnabled {
		rec, err := sink.NewRecordSink(sink.RecordConfig{
			Storage:         store,
			Prefix:          "record",
			SegmentDuration: cfg.SegmentDuration,
			MaxSegments:     cfg.MaxSegments,
			Metrics:         m,
			Logger:          log,
		})
		if err != nil {
			return err
		}
		if _, err := newOutput("record", rec); err != nil {
			return err
		}
	}

	var (
		ingest         *rtmp.Server
		ingestListener net.Listener
	)
	if cfg.RTMPIngestAddr != "" {
		ingest = rtmp.New(rtmp.Config{
			Metrics: m,
			Logger:  log,
		})
		// listen before outputs start so a loopback publish finds it
		ingestListener, err = net.Listen("tcp", cfg.RTMPIngestAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.RTMPIngestAddr, err)
		}
	}

	if cfg.RTMPURL != "" {
		out, err := newOutput("rtmp", sink.NewRTMPSink(sink.RTMPConfig{Metrics: m, Logger: log}))
		if err != nil {
			return err
		}
		svc := service.New(service.Config{Name: "rtmp", URL: cfg.RTMPURL, Key: cfg.RTMPKey})
		if err := out.SetService(svc); err != nil {
			return fmt.Errorf("output rtmp: %w", err)
		}
	}

	// Initialize HTTP server
	api := httpServer.New(reg, m, promReg,
		httpServer.WithIngest(ingest),
		httpServer.WithStorage(store),
		httpServer.WithEvents(bus),
		httpServer.WithStopTimeout(cfg.StopTimeout),
		httpServer.WithLogger(log),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gen.Run(gctx)
	})

	g.Go(func() error {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if ingest != nil {
		g.Go(func() error {
			err := ingest.Serve(ingestListener)
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("RTMP ingest failed: %w", err)
		})
	}

	for _, name := range reg.Names() {
		out, err := reg.Get(name)
		if err != nil {
			continue
		}
		if !out.Start() {
			log.Warnf("Output '%s' failed to start", name)
		}
		out.Release()
	}

	log.Info("RapidOutput engine started successfully")

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var result *multierror.Error
		if err := srv.Shutdown(sctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("HTTP shutdown: %w", err))
		}
		if err := reg.Shutdown(sctx); err != nil {
			result = multierror.Append(result, err)
		}
		if ingest != nil {
			if err := ingest.Close(); err != nil {
				log.WithError(err).Debug("RTMP ingest close")
			}
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func newStorage(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (storage.Storage, error) {
	if cfg.StorageType == "gcs" {
		gcs, err := storage.NewGCSStorage(ctx, cfg.GCSBucket, cfg.GCSBaseDir, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS storage: %w", err)
		}
		log.Infof("Storage initialized: GCS bucket=%s, baseDir=%s", cfg.GCSBucket, cfg.GCSBaseDir)
		return gcs, nil
	}

	local, err := storage.NewLocalStorage(cfg.StorageDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}
	log.Infof("Storage initialized: Local directory=%s", cfg.StorageDir)
	return local, nil
}

// configureOutput binds the encoders and applies the configured delay and
// reconnect settings
func configureOutput(out *output.Output, cfg *config.Config, venc, aenc *encoder.Encoder) error {
	if err := out.SetVideoEncoder(venc); err != nil {
		return err
	}
	if err := out.SetAudioEncoder(aenc, 0); err != nil {
		return err
	}
	if err := out.SetReconnectSettings(cfg.ReconnectMaxRetries, cfg.ReconnectRetrySec); err != nil {
		return err
	}
	if cfg.DelaySec > 0 {
		var flags models.DelayFlags
		if cfg.DelayPreserve {
			flags |= models.DelayPreserve
		}
		if err := out.SetDelay(cfg.DelaySec, flags); err != nil {
			return err
		}
	}
	return nil
}
