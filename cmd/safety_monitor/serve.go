package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/ppe-safety-monitor/internal/alert"
	"github.com/dj-oyu/ppe-safety-monitor/internal/capture"
	"github.com/dj-oyu/ppe-safety-monitor/internal/detector"
	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/recorder"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
	"github.com/dj-oyu/ppe-safety-monitor/internal/webmonitor"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	HTTPAddr       string        `validate:"required,hostname_port"`
	DatabaseURL    string        `validate:"omitempty,url"`
	YOLOEndpoint   string        `validate:"required,url"`
	DetectTimeout  time.Duration `validate:"gt=0"`
	CameraDevice   int           `validate:"gte=0"`
	FFmpegPath     string        `validate:"required"`
	FPS            int           `validate:"gte=0,lte=120"`
	Workshop       string        `validate:"required,max=255"`
	Threshold      float64       `validate:"gte=0,lt=1"`
	RecordingsDir  string        `validate:"required"`
	StatusInterval time.Duration `validate:"gt=0"`
	AlertBell      bool
}

func defaultServeOptions() serveOptions {
	web := webmonitor.DefaultConfig()
	det := detector.DefaultConfig()
	stream := capture.DefaultStreamConfig()
	return serveOptions{
		HTTPAddr:       web.Addr,
		YOLOEndpoint:   det.Endpoint,
		DetectTimeout:  det.Timeout,
		CameraDevice:   stream.DeviceIndex,
		FFmpegPath:     stream.FFmpegPath,
		FPS:            stream.FPS,
		Workshop:       store.DefaultWorkshop,
		Threshold:      violation.DefaultThreshold,
		RecordingsDir:  web.RecordingOutputPath,
		StatusInterval: web.StatusInterval,
	}
}

func (o serveOptions) validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func newServeCommand() *cobra.Command {
	opts := defaultServeOptions()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard and detection pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.HTTPAddr, "http-addr", opts.HTTPAddr, "HTTP listen address")
	f.StringVar(&opts.DatabaseURL, "database-url", opts.DatabaseURL, "PostgreSQL URL (empty keeps violations in memory)")
	f.StringVar(&opts.YOLOEndpoint, "yolo-endpoint", opts.YOLOEndpoint, "Base URL of the YOLO inference service")
	f.DurationVar(&opts.DetectTimeout, "detect-timeout", opts.DetectTimeout, "Timeout of one detection request")
	f.IntVar(&opts.CameraDevice, "camera-device", opts.CameraDevice, "Default camera index (/dev/videoN)")
	f.StringVar(&opts.FFmpegPath, "ffmpeg", opts.FFmpegPath, "ffmpeg binary")
	f.IntVar(&opts.FPS, "fps", opts.FPS, "Camera capture frame rate (0 keeps the device default); video files are decoded in full")
	f.StringVar(&opts.Workshop, "workshop", opts.Workshop, "Workshop name stamped on every violation")
	f.Float64Var(&opts.Threshold, "threshold", opts.Threshold, "Confidence a detection must exceed to count as a violation")
	f.StringVar(&opts.RecordingsDir, "recordings", opts.RecordingsDir, "Directory for MJPEG recordings")
	f.DurationVar(&opts.StatusInterval, "status-interval", opts.StatusInterval, "Interval of status stream events")
	f.BoolVar(&opts.AlertBell, "alert-bell", opts.AlertBell, "Ring the terminal bell on every violation")
	return cmd
}

// violationStore is satisfied by store.DB and store.Memory.
type violationStore interface {
	violation.Recorder
	webmonitor.LogStore
}

func openStore(ctx context.Context, databaseURL string) (violationStore, func(), error) {
	if databaseURL == "" {
		logger.Warn("Main", "No database configured, violations are kept in memory")
		return store.NewMemory(), func() {}, nil
	}

	db, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, opts.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	alerts := alert.NewBroadcaster()
	var toneOpts []alert.Option
	if opts.AlertBell {
		toneOpts = append(toneOpts, alert.WithBell(os.Stderr))
	}

	classifier := violation.DefaultClassifier()
	classifier.Threshold = opts.Threshold

	proc := violation.NewProcessor(violation.Config{
		Workshop:   opts.Workshop,
		Classifier: classifier,
	}, st, alert.NewToneSink(alerts, toneOpts...))

	det := detector.NewHTTPDetector(detector.Config{
		Endpoint: opts.YOLOEndpoint,
		Timeout:  opts.DetectTimeout,
	})

	frames := webmonitor.NewFrameBroadcaster()
	monitor := webmonitor.NewMonitor(classifier)
	detections := webmonitor.NewDetectionBroadcaster(classifier)
	rec := recorder.NewRecorder(opts.RecordingsDir)

	runner := pipeline.NewRunner(det, proc,
		pipeline.WithFrameSink(frames),
		pipeline.WithRecorder(rec),
		pipeline.WithObserver(monitor),
		pipeline.WithObserver(detections),
		pipeline.WithMetrics(m),
	)

	streamCfg := capture.DefaultStreamConfig()
	streamCfg.FFmpegPath = opts.FFmpegPath
	streamCfg.FPS = opts.FPS
	streamCfg.DeviceIndex = opts.CameraDevice
	controller := pipeline.NewController(runner, capture.NewFFmpegOpener(streamCfg), m)

	webCfg := webmonitor.DefaultConfig()
	webCfg.Addr = opts.HTTPAddr
	webCfg.RecordingOutputPath = opts.RecordingsDir
	webCfg.StatusInterval = opts.StatusInterval

	srv, err := webmonitor.NewServer(webCfg, webmonitor.Deps{
		Store:        st,
		Controller:   controller,
		Recorder:     rec,
		Metrics:      m,
		Monitor:      monitor,
		Frames:       frames,
		Detections:   detections,
		Alerts:       alerts,
		BaseContext:  ctx,
		CameraDevice: opts.CameraDevice,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              opts.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Main", "Safety monitor listening on %s (workshop=%s, detector=%s)",
			opts.HTTPAddr, opts.Workshop, opts.YOLOEndpoint)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Main", "Shutting down")

		if err := controller.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			logger.Warn("Main", "Stop detection: %v", err)
		}
		if err := rec.Close(); err != nil {
			logger.Warn("Main", "Stop recording: %v", err)
		}
		// Close ends the streaming responses so Shutdown can drain.
		srv.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
