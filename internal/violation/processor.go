package violation

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/dj-oyu/ppe-safety-monitor/internal/alert"
	"github.com/dj-oyu/ppe-safety-monitor/internal/annotate"
	"github.com/dj-oyu/ppe-safety-monitor/internal/detector"
	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
	"github.com/dj-oyu/ppe-safety-monitor/pkg/types"
)

// Recorder appends violation records.
type Recorder interface {
	Insert(ctx context.Context, v store.NewViolation) (store.Violation, error)
}

// Config configures a Processor.
type Config struct {
	Workshop    string
	JPEGQuality int // quality of the stored snapshot
	Classifier  Classifier
	Now         func() time.Time
}

// DefaultConfig returns the settings of the stock deployment.
func DefaultConfig() Config {
	return Config{
		Workshop:    store.DefaultWorkshop,
		JPEGQuality: 95,
		Classifier:  DefaultClassifier(),
		Now:         time.Now,
	}
}

// Result is the outcome of processing one frame.
type Result struct {
	Annotated *image.RGBA          // frame copy with violation overlays
	Records   []store.Violation    // records inserted, in detection order
	Qualified []detector.Detection // detections that were violations
}

// Processor records violations found in a frame, alerts on each, and
// draws them onto a presentation copy of the frame.
type Processor struct {
	cfg    Config
	store  Recorder
	alerts alert.Sink
}

// NewProcessor creates a processor writing to rec and alerting through sink.
func NewProcessor(cfg Config, rec Recorder, sink alert.Sink) *Processor {
	def := DefaultConfig()
	if cfg.Workshop == "" {
		cfg.Workshop = def.Workshop
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.Classifier.Classes == nil {
		cfg.Classifier = def.Classifier
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Processor{cfg: cfg, store: rec, alerts: sink}
}

// Workshop returns the tag stamped on every record.
func (p *Processor) Workshop() string {
	return p.cfg.Workshop
}

// ProcessFrame handles the detections of one frame. For each violation, in
// order, the record is inserted and the alert is delivered before the box is
// drawn. All records of a frame share one snapshot of the unannotated frame.
// The first store or alert error aborts the frame; Records still lists
// every record inserted before it.
func (p *Processor) ProcessFrame(ctx context.Context, frame *types.Frame, dets []detector.Detection) (Result, error) {
	res := Result{Annotated: annotate.Clone(frame.Image)}

	var snapshot []byte
	for _, d := range p.cfg.Classifier.Filter(dets) {
		if snapshot == nil {
			jpg, err := annotate.EncodeJPEG(frame.Image, p.cfg.JPEGQuality)
			if err != nil {
				return res, fmt.Errorf("encode snapshot of frame %d: %w", frame.Number, err)
			}
			snapshot = jpg
		}

		rec, err := p.store.Insert(ctx, store.NewViolation{
			OccurredAt: p.cfg.Now(),
			Class:      d.Class,
			Image:      snapshot,
			Workshop:   p.cfg.Workshop,
		})
		if err != nil {
			return res, fmt.Errorf("record %s violation: %w", d.Class, err)
		}
		logger.Info("Violation", "Recorded #%d %s (%.2f) on frame %d", rec.UID, rec.Class, d.Confidence, frame.Number)
		res.Records = append(res.Records, rec)

		if p.alerts != nil {
			err := p.alerts.Alert(ctx, alert.Event{
				UID:        rec.UID,
				Class:      rec.Class,
				Confidence: d.Confidence,
				Workshop:   rec.Workshop,
				OccurredAt: rec.OccurredAt,
			})
			if err != nil {
				return res, fmt.Errorf("alert for violation #%d: %w", rec.UID, err)
			}
		}

		annotate.DrawDetection(res.Annotated, d.Box, d.Class, annotate.ViolationColor)

		res.Qualified = append(res.Qualified, d)
	}
	return res, nil
}
