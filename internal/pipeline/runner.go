// Package pipeline runs detection over a frame source and controls the
// lifetime of detection runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/internal/annotate"
	"github.com/dj-oyu/ppe-safety-monitor/internal/capture"
	"github.com/dj-oyu/ppe-safety-monitor/internal/detector"
	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
	"github.com/dj-oyu/ppe-safety-monitor/internal/violation"
	"github.com/dj-oyu/ppe-safety-monitor/pkg/types"
)

// FrameProcessor turns detections into recorded violations and an annotated frame.
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, frame *types.Frame, dets []detector.Detection) (violation.Result, error)
}

// FrameSink receives annotated JPEG frames for live display.
type FrameSink interface {
	Publish(jpeg []byte)
}

// FrameRecorder receives annotated JPEG frames while a recording is active.
type FrameRecorder interface {
	IsRecording() bool
	SendFrame(jpeg []byte) bool
}

// FrameReport summarizes one processed frame.
type FrameReport struct {
	Number     uint64
	Timestamp  time.Time
	Width      int
	Height     int
	Detections []detector.Detection
	Violations []store.Violation
}

// Observer is told about every processed frame.
type Observer interface {
	ObserveFrame(rep FrameReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rep FrameReport)

// ObserveFrame calls f.
func (f ObserverFunc) ObserveFrame(rep FrameReport) { f(rep) }

// Runner drives frames from a source through detection and violation processing.
type Runner struct {
	detector  detector.Detector
	processor FrameProcessor
	sink      FrameSink
	recorder  FrameRecorder
	observers []Observer
	metrics   *metrics.Metrics
	quality   int
}

// Option configures a Runner.
type Option func(*Runner)

// WithFrameSink publishes annotated frames to s.
func WithFrameSink(s FrameSink) Option { return func(r *Runner) { r.sink = s } }

// WithRecorder forwards annotated frames to rec.
func WithRecorder(rec FrameRecorder) Option { return func(r *Runner) { r.recorder = rec } }

// WithObserver adds an observer called after every frame.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithMetrics counts frames, detections and errors in m.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithJPEGQuality sets the quality of published frames.
func WithJPEGQuality(q int) Option { return func(r *Runner) { r.quality = q } }

// NewRunner creates a runner.
func NewRunner(det detector.Detector, proc FrameProcessor, opts ...Option) *Runner {
	r := &Runner{
		detector:  det,
		processor: proc,
		quality:   80,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Run processes frames until the source ends, an error occurs or ctx is
// done. The end of the source is not an error. extra observers only see
// this run.
func (r *Runner) Run(ctx context.Context, src capture.Source, extra ...Observer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info("Pipeline", "Frame source ended")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.metrics.ReadErrors.Add(1)
			return fmt.Errorf("read frame: %w", err)
		}
		r.metrics.FramesRead.Add(1)

		if err := r.processFrame(ctx, frame, extra); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (r *Runner) processFrame(ctx context.Context, frame *types.Frame, extra []Observer) error {
	start := time.Now()

	dets, err := r.detector.Detect(ctx, frame.Image)
	r.metrics.ObserveDetect(time.Since(start))
	if err != nil {
		r.metrics.DetectErrors.Add(1)
		return fmt.Errorf("detect frame %d: %w", frame.Number, err)
	}
	r.metrics.Detections.Add(uint64(len(dets)))

	res, err := r.processor.ProcessFrame(ctx, frame, dets)
	for _, rec := range res.Records {
		r.metrics.ObserveViolation(rec.Class)
	}
	if err != nil {
		r.metrics.ProcessErrors.Add(1)
		// records inserted before the failure still count
		if len(res.Records) > 0 {
			r.notify(frame, dets, res.Records, extra)
		}
		return fmt.Errorf("process frame %d: %w", frame.Number, err)
	}
	r.metrics.Alerts.Add(uint64(len(res.Records)))
	r.metrics.FramesProcessed.Add(1)
	r.metrics.UpdateProcessLatency(time.Since(start))

	if r.sink != nil || r.recorder != nil {
		jpg, err := annotate.EncodeJPEG(res.Annotated, r.quality)
		if err != nil {
			r.metrics.ProcessErrors.Add(1)
			return fmt.Errorf("encode frame %d: %w", frame.Number, err)
		}
		if r.sink != nil {
			r.sink.Publish(jpg)
			r.metrics.StreamFramesSent.Add(1)
		}
		if r.recorder != nil && r.recorder.IsRecording() {
			if r.recorder.SendFrame(jpg) {
				r.metrics.RecorderFramesSent.Add(1)
			} else {
				r.metrics.RecorderFramesDropped.Add(1)
			}
		}
	}

	r.notify(frame, dets, res.Records, extra)

	r.metrics.UpdateFrameLatency(frame.Timestamp)
	return nil
}

func (r *Runner) notify(frame *types.Frame, dets []detector.Detection, records []store.Violation, extra []Observer) {
	rep := FrameReport{
		Number:     frame.Number,
		Timestamp:  frame.Timestamp,
		Width:      frame.Width,
		Height:     frame.Height,
		Detections: dets,
		Violations: records,
	}
	for _, o := range r.observers {
		o.ObserveFrame(rep)
	}
	for _, o := range extra {
		o.ObserveFrame(rep)
	}
}
